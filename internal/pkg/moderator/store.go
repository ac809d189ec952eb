package moderator

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"mediaguard/internal/pkg/hash"
)

// ErrStoreUnavailable indicates the fingerprint store could not be reached.
// Callers degrade to "duplicate status unknown".
var ErrStoreUnavailable = errors.New("moderator: fingerprint store unavailable")

// FingerprintStore persists records and answers bounded-distance queries.
// Implementations must be safe for concurrent use.
type FingerprintStore interface {
	// PutImage appends an image record.
	PutImage(ctx context.Context, r *ImageRecord) error
	// PutVideo appends a video record.
	PutVideo(ctx context.Context, r *VideoRecord) error
	// FindWithin returns records of ct with a fingerprint within threshold
	// of fp, ordered by ascending distance and capped at limit. Video
	// records match on their closest position.
	FindWithin(ctx context.Context, fp hash.Fingerprint, threshold int, ct ContentType, limit int) ([]SimilarityMatch, error)
	// FindMatchingSet returns the best video whose positional fingerprints
	// match at least minMatches positions, or nil.
	FindMatchingSet(ctx context.Context, fps [VideoPositions]hash.Fingerprint, threshold, minMatches int) (*SimilarityMatch, error)
}

// ScoreSet compares a stored positional set against a query. matched counts
// positions within threshold; total sums the distance over all positions.
func ScoreSet(query, stored [VideoPositions]hash.Fingerprint, threshold int) (matched, total int, err error) {
	for i := range query {
		d, err := query[i].Distance(stored[i])
		if err != nil {
			return 0, 0, fmt.Errorf("position %d: %w", i, err)
		}
		total += d
		if d <= threshold {
			matched++
		}
	}
	return matched, total, nil
}

// BetterSetMatch reports whether a should rank ahead of b: more matched
// positions first, then lower summed distance, then older record.
func BetterSetMatch(a, b *SimilarityMatch) bool {
	if b == nil {
		return true
	}
	if a.MatchedFields != b.MatchedFields {
		return a.MatchedFields > b.MatchedFields
	}
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.Record.CreatedAt.Before(b.Record.CreatedAt)
}

// SortMatches orders matches by ascending distance, oldest record first on
// ties.
func SortMatches(m []SimilarityMatch) {
	slices.SortStableFunc(m, func(a, b SimilarityMatch) int {
		if a.Distance != b.Distance {
			return a.Distance - b.Distance
		}
		return a.Record.CreatedAt.Compare(b.Record.CreatedAt)
	})
}
