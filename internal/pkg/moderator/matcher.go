package moderator

import (
	"context"
	"fmt"

	"mediaguard/internal/pkg/hash"
)

// MatcherConfig holds the similarity thresholds.
type MatcherConfig struct {
	Width hash.Width
	// ImageThreshold is the maximum distance for an image duplicate.
	ImageThreshold int
	// VideoThreshold is the maximum per-position distance for a video.
	VideoThreshold int
	// MinMatches is the number of positions that must match.
	MinMatches int
	Limit      int
}

// DefaultMatcherConfig returns thresholds suited to w. Videos tolerate more
// drift than images because of transcoding.
func DefaultMatcherConfig(w hash.Width) MatcherConfig {
	cfg := MatcherConfig{
		Width:          w,
		ImageThreshold: 5,
		VideoThreshold: 8,
		MinMatches:     3,
		Limit:          10,
	}
	if w == hash.Width16 {
		cfg.ImageThreshold = 2
		cfg.VideoThreshold = 3
	}
	return cfg
}

// Matcher layers threshold policy over a FingerprintStore.
type Matcher struct {
	store FingerprintStore
	cfg   MatcherConfig
}

// NewMatcher creates a Matcher. Negative thresholds fall back to the width
// defaults; thresholds above the width are clamped to it.
func NewMatcher(store FingerprintStore, cfg MatcherConfig) *Matcher {
	if !cfg.Width.Valid() {
		cfg.Width = hash.Width64
	}
	def := DefaultMatcherConfig(cfg.Width)
	if cfg.ImageThreshold < 0 {
		cfg.ImageThreshold = def.ImageThreshold
	}
	if cfg.VideoThreshold < 0 {
		cfg.VideoThreshold = def.VideoThreshold
	}
	cfg.ImageThreshold = clamp(cfg.ImageThreshold, 0, int(cfg.Width))
	cfg.VideoThreshold = clamp(cfg.VideoThreshold, 0, int(cfg.Width))
	if cfg.MinMatches <= 0 {
		cfg.MinMatches = def.MinMatches
	}
	cfg.MinMatches = clamp(cfg.MinMatches, 1, VideoPositions)
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	return &Matcher{store: store, cfg: cfg}
}

// Config returns the normalized configuration.
func (m *Matcher) Config() MatcherConfig {
	return m.cfg
}

func (m *Matcher) checkWidth(fp hash.Fingerprint) error {
	if fp.Width != m.cfg.Width {
		return fmt.Errorf("%w: got %d, deployment uses %d", hash.ErrWidthMismatch, fp.Width, m.cfg.Width)
	}
	return nil
}

// MatchImage returns stored images near fp, closest first.
func (m *Matcher) MatchImage(ctx context.Context, fp hash.Fingerprint) ([]SimilarityMatch, error) {
	if err := m.checkWidth(fp); err != nil {
		return nil, err
	}
	return m.store.FindWithin(ctx, fp, m.cfg.ImageThreshold, ContentImage, m.cfg.Limit)
}

// MatchVideo returns the best stored video for the positional set, or nil.
func (m *Matcher) MatchVideo(ctx context.Context, fps [VideoPositions]hash.Fingerprint) (*SimilarityMatch, error) {
	for _, fp := range fps {
		if err := m.checkWidth(fp); err != nil {
			return nil, err
		}
	}
	return m.store.FindMatchingSet(ctx, fps, m.cfg.VideoThreshold, m.cfg.MinMatches)
}

// Similar converts matches to their response shape.
func Similar(matches ...SimilarityMatch) []SimilarItem {
	out := make([]SimilarItem, 0, len(matches))
	for _, mt := range matches {
		out = append(out, SimilarItem{
			RecordID: mt.Record.ID,
			URL:      mt.Record.SourceURL,
			Distance: mt.Distance,
			Matched:  mt.MatchedFields,
			Decision: string(mt.Record.Decision),
			Labels:   mt.Record.Labels,
		})
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
