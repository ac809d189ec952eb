package pagination

import (
	"testing"
	"time"
)

func TestCursor_Encode(t *testing.T) {
	tests := []struct {
		name   string
		cursor *Cursor
		want   bool // true if should have output
	}{
		{
			name:   "nil cursor",
			cursor: nil,
			want:   false,
		},
		{
			name:   "cursor with ID and CreatedAt",
			cursor: &Cursor{ID: "abc123", CreatedAt: time.Now()},
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cursor.Encode()
			if tt.want && got == "" {
				t.Error("expected non-empty encoded cursor")
			}
			if !tt.want && got != "" {
				t.Error("expected empty encoded cursor")
			}
		})
	}
}

func TestDecodeCursor(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
		wantErr error
	}{
		{name: "empty string", encoded: ""},
		{name: "invalid base64", encoded: "!!!invalid!!!", wantErr: ErrInvalidCursor},
		{name: "invalid json", encoded: "aW52YWxpZA==", wantErr: ErrInvalidCursor}, // "invalid"
		{name: "missing fields", encoded: (&Cursor{ID: "x"}).Encode(), wantErr: ErrInvalidCursor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeCursor(tt.encoded)
			if err != tt.wantErr {
				t.Errorf("DecodeCursor() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != nil {
				t.Errorf("DecodeCursor() = %v, want nil", got)
			}
		})
	}
}

func TestCursor_RoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	original := &Cursor{ID: "rec-1", CreatedAt: now}

	decoded, err := DecodeCursor(original.Encode())
	if err != nil {
		t.Fatalf("DecodeCursor() error = %v", err)
	}
	if decoded.ID != original.ID || !decoded.CreatedAt.Equal(now) {
		t.Errorf("decoded = %+v, want %+v", decoded, original)
	}
}

func TestRequest_GetLimit(t *testing.T) {
	tests := []struct {
		limit int
		want  int
	}{
		{0, DefaultLimit},
		{-5, DefaultLimit},
		{7, 7},
		{MaxLimit + 1, MaxLimit},
	}
	for _, tt := range tests {
		r := NewRequest("", tt.limit)
		if got := r.GetLimit(); got != tt.want {
			t.Errorf("GetLimit(%d) = %d, want %d", tt.limit, got, tt.want)
		}
		if got := r.GetFetchLimit(); got != tt.want+1 {
			t.Errorf("GetFetchLimit(%d) = %d, want %d", tt.limit, got, tt.want+1)
		}
	}
}

type item struct {
	id string
	at time.Time
}

func TestBuildPage(t *testing.T) {
	now := time.Now()
	items := []item{{"c", now}, {"b", now.Add(-time.Second)}, {"a", now.Add(-2 * time.Second)}}
	cursorOf := func(it item) *Cursor { return &Cursor{ID: it.id, CreatedAt: it.at} }

	page := BuildPage(items, 2, cursorOf)
	if !page.HasMore {
		t.Error("expected HasMore")
	}
	if len(page.Items) != 2 {
		t.Fatalf("len(Items) = %d, want 2", len(page.Items))
	}
	c, err := DecodeCursor(page.NextCursor)
	if err != nil {
		t.Fatalf("DecodeCursor() error = %v", err)
	}
	if c.ID != "b" {
		t.Errorf("next cursor ID = %s, want b", c.ID)
	}

	last := BuildPage(items, 5, cursorOf)
	if last.HasMore || last.NextCursor != "" {
		t.Errorf("last page = %+v", last)
	}
}

func TestCursor_After(t *testing.T) {
	now := time.Now()
	c := &Cursor{ID: "m", CreatedAt: now}

	tests := []struct {
		name string
		at   time.Time
		id   string
		want bool
	}{
		{"older", now.Add(-time.Second), "z", true},
		{"newer", now.Add(time.Second), "a", false},
		{"same time lower id", now, "a", true},
		{"same record", now, "m", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.After(tt.at, tt.id); got != tt.want {
				t.Errorf("After() = %v, want %v", got, tt.want)
			}
		})
	}
	if !(*Cursor)(nil).After(now, "x") {
		t.Error("nil cursor should match everything")
	}
}

func TestSQLCursorCondition(t *testing.T) {
	got := SQLCursorCondition("created_at", "id", 3)
	want := "(created_at, id) < ($3, $4)"
	if got != want {
		t.Errorf("SQLCursorCondition() = %q, want %q", got, want)
	}
}
