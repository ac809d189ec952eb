package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrInvalidCursor = errors.New("invalid cursor")
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Cursor marks the last item of a page in (created_at, id) order.
type Cursor struct {
	ID        string    `json:"id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Encode encodes cursor to base64 string
func (c *Cursor) Encode() string {
	if c == nil {
		return ""
	}
	data, _ := json.Marshal(c)
	return base64.URLEncoding.EncodeToString(data)
}

// DecodeCursor decodes base64 string to Cursor
func DecodeCursor(encoded string) (*Cursor, error) {
	if encoded == "" {
		return nil, nil
	}

	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	var cursor Cursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, ErrInvalidCursor
	}
	if cursor.ID == "" || cursor.CreatedAt.IsZero() {
		return nil, ErrInvalidCursor
	}

	return &cursor, nil
}

// Request is a cursor page request. Pages are ordered newest first.
type Request struct {
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// Page is one page of items.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
	Total      int64  `json:"total,omitempty"`
}

// NewRequest creates a new request with defaults
func NewRequest(cursor string, limit int) *Request {
	return &Request{Cursor: cursor, Limit: limit}
}

// GetLimit returns validated limit
func (r *Request) GetLimit() int {
	if r.Limit <= 0 {
		return DefaultLimit
	}
	if r.Limit > MaxLimit {
		return MaxLimit
	}
	return r.Limit
}

// GetFetchLimit returns limit+1 for checking hasMore
func (r *Request) GetFetchLimit() int {
	return r.GetLimit() + 1
}

// DecodedCursor returns the decoded cursor
func (r *Request) DecodedCursor() (*Cursor, error) {
	return DecodeCursor(r.Cursor)
}

// BuildPage builds a page from up to limit+1 items.
func BuildPage[T any](items []T, limit int, cursorOf func(T) *Cursor) *Page[T] {
	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	page := &Page[T]{
		Items:   items,
		HasMore: hasMore,
	}
	if len(items) > 0 && hasMore {
		page.NextCursor = cursorOf(items[len(items)-1]).Encode()
	}
	return page
}

// SQLCursorCondition returns a keyset condition for newest-first pages.
// Placeholders start at argPos.
func SQLCursorCondition(createdCol, idCol string, argPos int) string {
	return fmt.Sprintf("(%s, %s) < ($%d, $%d)", createdCol, idCol, argPos, argPos+1)
}

// After reports whether (createdAt, id) sorts after c in newest-first order.
// A nil cursor matches everything.
func (c *Cursor) After(createdAt time.Time, id string) bool {
	if c == nil {
		return true
	}
	if !createdAt.Equal(c.CreatedAt) {
		return createdAt.Before(c.CreatedAt)
	}
	return id < c.ID
}
