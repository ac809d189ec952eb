package service

import (
	"time"

	"mediaguard/internal/pkg/moderator"
)

type AnalyseImageRequest struct {
	ImageURL string `json:"image_url"`
}

type AnalyseVideoRequest struct {
	VideoURL string `json:"video_url"`
}

type AnalyseImagesRequest struct {
	ImageURLs []string `json:"image_urls"`
}

// ErrorStatus is the per-item error of a batch response, shaped like the
// error body the HTTP server writes for whole requests.
type ErrorStatus struct {
	Code     int32             `json:"code"`
	Reason   string            `json:"reason"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type BatchResult struct {
	Result *moderator.Result `json:"result,omitempty"`
	Error  *ErrorStatus      `json:"error,omitempty"`
}

type AnalyseImagesResponse struct {
	Results []*BatchResult `json:"results"`
}

type ListRecordsRequest struct {
	ContentType string `json:"content_type"`
	Cursor      string `json:"cursor"`
	Limit       int    `json:"limit"`
}

// RecordEntry is the operator view of a stored record. Fingerprints are
// fixed-width hex in sample-position order.
type RecordEntry struct {
	ID           string         `json:"id"`
	ContentType  string         `json:"content_type"`
	Fingerprints []string       `json:"fingerprints"`
	SourceURL    string         `json:"source_url"`
	Decision     string         `json:"decision"`
	Labels       map[string]any `json:"labels,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

type ListRecordsResponse struct {
	Records    []*RecordEntry `json:"records"`
	NextCursor string         `json:"next_cursor,omitempty"`
	HasMore    bool           `json:"has_more"`
	Total      int64          `json:"total"`
}

type RebuildIndexRequest struct{}

type RebuildIndexResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Keys    int    `json:"keys"`
}
