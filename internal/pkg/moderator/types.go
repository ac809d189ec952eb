package moderator

import (
	"time"

	"mediaguard/internal/pkg/classifier"
	"mediaguard/internal/pkg/hash"
)

// ContentType partitions stored fingerprints.
type ContentType string

const (
	ContentImage ContentType = "image"
	ContentVideo ContentType = "video"
)

// Valid reports whether t is a known content type.
func (t ContentType) Valid() bool {
	return t == ContentImage || t == ContentVideo
}

// VideoPositions is the number of positional fingerprints per video.
const VideoPositions = 5

// ImageRecord is a stored, non-duplicate image analysis.
type ImageRecord struct {
	ID          string
	Fingerprint hash.Fingerprint
	SourceURL   string
	Decision    classifier.Verdict
	Labels      map[string]any
	CreatedAt   time.Time
}

// VideoRecord is a stored, non-duplicate video analysis. Fingerprints are in
// sample-position order.
type VideoRecord struct {
	ID           string
	Fingerprints [VideoPositions]hash.Fingerprint
	SourceURL    string
	Decision     classifier.Verdict
	Labels       map[string]any
	CreatedAt    time.Time
}

// Record is the content-type independent view of a stored record.
type Record struct {
	ID           string
	ContentType  ContentType
	Fingerprints []hash.Fingerprint
	SourceURL    string
	Decision     classifier.Verdict
	Labels       map[string]any
	CreatedAt    time.Time
}

// Record returns the generic view of r.
func (r *ImageRecord) Record() Record {
	return Record{
		ID:           r.ID,
		ContentType:  ContentImage,
		Fingerprints: []hash.Fingerprint{r.Fingerprint},
		SourceURL:    r.SourceURL,
		Decision:     r.Decision,
		Labels:       r.Labels,
		CreatedAt:    r.CreatedAt,
	}
}

// Record returns the generic view of r.
func (r *VideoRecord) Record() Record {
	return Record{
		ID:           r.ID,
		ContentType:  ContentVideo,
		Fingerprints: r.Fingerprints[:],
		SourceURL:    r.SourceURL,
		Decision:     r.Decision,
		Labels:       r.Labels,
		CreatedAt:    r.CreatedAt,
	}
}

// SimilarityMatch is a stored record found near a query.
type SimilarityMatch struct {
	Record   Record
	Distance int
	// MatchedFields counts the fingerprints within threshold.
	MatchedFields int
}

// SimilarItem is the response view of a match.
type SimilarItem struct {
	RecordID string         `json:"record_id"`
	URL      string         `json:"url"`
	Distance int            `json:"distance"`
	Matched  int            `json:"matched_fields"`
	Decision string         `json:"decision"`
	Labels   map[string]any `json:"labels,omitempty"`
}

// Result is the decision object returned for every analysis.
type Result struct {
	ContentType        ContentType        `json:"content_type"`
	SourceURL          string             `json:"source_url"`
	Duplicate          bool               `json:"is_duplicate"`
	DuplicateUnknown   bool               `json:"duplicate_unknown,omitempty"`
	Decision           classifier.Verdict `json:"decision"`
	Reason             string             `json:"reason"`
	Labels             map[string]any     `json:"review_details,omitempty"`
	SimilarItems       []SimilarItem      `json:"similar_items,omitempty"`
	FramesAnalyzed     *int               `json:"frames_analyzed,omitempty"`
	FlaggedAtTimestamp *float64           `json:"flagged_at_timestamp,omitempty"`
	FetchStatus        int                `json:"fetch_status,omitempty"`
	Error              string             `json:"error,omitempty"`
	RecordID           string             `json:"record_id,omitempty"`
	EvidenceKey        string             `json:"evidence_key,omitempty"`

	// Evidence is the encoded media that triggered a flagged decision.
	Evidence []byte `json:"-"`
}

const (
	ReasonDuplicateImage   = "duplicate_image"
	ReasonProcessingError  = "processing_error"
	ReasonURLAccessFailed  = "url_access_failed"
	ReasonNoFrames         = "no_frames_to_analyze"
	reasonDuplicateVideoPf = "duplicate_video_"
)

func processingError(ct ContentType, url string, err error) *Result {
	return &Result{
		ContentType: ct,
		SourceURL:   url,
		Decision:    classifier.Review,
		Reason:      ReasonProcessingError,
		Error:       err.Error(),
	}
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
