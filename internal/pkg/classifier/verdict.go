// Package classifier adapts an external content-moderation model into
// per-category verdicts for a single frame.
package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrClassifier indicates a failed classification call.
var ErrClassifier = errors.New("classifier: call failed")

// Verdict is the outcome for one category or for a whole frame.
type Verdict string

const (
	Pass    Verdict = "pass"
	Review  Verdict = "review"
	Flagged Verdict = "flagged"
	// LowThreat is informational and counts as Pass for decisions.
	LowThreat Verdict = "low_threat"
)

// Rank orders verdicts by severity.
func (v Verdict) Rank() int {
	switch v {
	case Flagged:
		return 2
	case Review:
		return 1
	default:
		return 0
	}
}

// ParseVerdict parses a stored verdict.
func ParseVerdict(s string) (Verdict, error) {
	switch v := Verdict(s); v {
	case Pass, Review, Flagged, LowThreat:
		return v, nil
	}
	return "", fmt.Errorf("unknown verdict %q", s)
}

// Category is one of the closed set of moderated content classes.
type Category string

const (
	SexualContent    Category = "sexual_content"
	RecreationalDrug Category = "recreational_drug"
	Gore             Category = "gore"
	Medical          Category = "medical"
)

// Categories is the fixed evaluation order. It also determines which
// category names the decision reason.
var Categories = []Category{SexualContent, RecreationalDrug, Gore, Medical}

// Result is the classification of one frame.
type Result struct {
	Verdicts map[Category]Verdict
	// Scores holds the raw model probabilities that drove the verdicts,
	// keyed "model.field".
	Scores map[string]float64
	// Unknown preserves model outputs outside the closed category set.
	Unknown  map[string]json.RawMessage
	Decision Verdict
	Reason   string
}

// Decide applies flagged > review > pass precedence over Categories. The
// first flagged category wins outright; otherwise the first review category.
func Decide(verdicts map[Category]Verdict) (Verdict, string) {
	var firstReview Category
	for _, c := range Categories {
		switch verdicts[c] {
		case Flagged:
			return Flagged, string(c) + "_flagged"
		case Review:
			if firstReview == "" {
				firstReview = c
			}
		}
	}
	if firstReview != "" {
		return Review, string(firstReview) + "_for_review"
	}
	return Pass, "content_approved"
}

// Labels returns the verdicts as a plain map, with unknown outputs under
// "unknown".
func (r *Result) Labels() map[string]any {
	out := make(map[string]any, len(r.Verdicts)+1)
	for _, c := range Categories {
		if v, ok := r.Verdicts[c]; ok {
			out[string(c)] = string(v)
		}
	}
	if len(r.Unknown) > 0 {
		out["unknown"] = r.Unknown
	}
	return out
}
