package data

import (
	"mediaguard/internal/conf"
	"mediaguard/internal/pkg/hash"
	"mediaguard/internal/pkg/moderator"
)

const defaultFindLimit = 10

// withinAccumulator folds per-position hits into one match per record:
// the distance is the closest position and MatchedFields counts positions
// within threshold.
type withinAccumulator struct {
	order []string
	byID  map[string]*moderator.SimilarityMatch
}

func newWithinAccumulator() *withinAccumulator {
	return &withinAccumulator{byID: make(map[string]*moderator.SimilarityMatch)}
}

func (a *withinAccumulator) add(rec moderator.Record, d int) {
	m, ok := a.byID[rec.ID]
	if !ok {
		a.byID[rec.ID] = &moderator.SimilarityMatch{Record: rec, Distance: d, MatchedFields: 1}
		a.order = append(a.order, rec.ID)
		return
	}
	m.MatchedFields++
	if d < m.Distance {
		m.Distance = d
	}
}

func (a *withinAccumulator) matches() []moderator.SimilarityMatch {
	out := make([]moderator.SimilarityMatch, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, *a.byID[id])
	}
	moderator.SortMatches(out)
	return out
}

func capMatches(m []moderator.SimilarityMatch, limit int) []moderator.SimilarityMatch {
	if limit <= 0 {
		limit = defaultFindLimit
	}
	if len(m) > limit {
		return m[:limit]
	}
	return m
}

// fingerprintWidth returns the configured width, 64 when unset. Invalid
// widths are rejected by NewExtractor.
func fingerprintWidth(mc *conf.Moderation) hash.Width {
	if f := mc.GetFingerprint(); f != nil && f.Width != 0 {
		return hash.Width(f.Width)
	}
	return hash.Width64
}
