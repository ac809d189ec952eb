package biz

import (
	"context"
	"time"

	"mediaguard/internal/pkg/moderator"
	"mediaguard/internal/pkg/pagination"
)

// FingerprintRepo is the fingerprint store plus the listing and index
// maintenance used by operators.
type FingerprintRepo interface {
	moderator.FingerprintStore

	ListRecords(ctx context.Context, ct moderator.ContentType, req *pagination.Request) (*pagination.Page[moderator.Record], error)
	CountRecords(ctx context.Context, ct moderator.ContentType) (int64, error)
	// RebuildIndex repopulates the band pre-filter from stored rows and
	// returns the number of band keys written.
	RebuildIndex(ctx context.Context) (int, error)
}

// EvidenceRepo stores the media that triggered a flagged decision.
type EvidenceRepo interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// DecisionEvent is published after every completed analysis.
type DecisionEvent struct {
	RequestID   string    `json:"request_id"`
	ContentType string    `json:"content_type"`
	SourceURL   string    `json:"source_url"`
	Decision    string    `json:"decision"`
	Reason      string    `json:"reason"`
	Duplicate   bool      `json:"is_duplicate"`
	RecordID    string    `json:"record_id,omitempty"`
	EvidenceKey string    `json:"evidence_key,omitempty"`
	At          time.Time `json:"at"`
}

// DecisionPublisher fans decisions out to downstream consumers.
type DecisionPublisher interface {
	Publish(ctx context.Context, ev *DecisionEvent) error
}
