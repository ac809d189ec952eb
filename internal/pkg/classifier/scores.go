package classifier

import (
	"encoding/json"
	"fmt"

	"golang.org/x/text/cases"
)

// Thresholds maps model probabilities to verdicts.
type Thresholds struct {
	SexualFlagged float64
	SexualReview  float64
	LowThreat     float64
	DrugFlagged   float64
	DrugReview    float64
	GoreFlagged   float64
	GoreReview    float64
	MedicalReview float64
}

// DefaultThresholds returns the production thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SexualFlagged: 0.85,
		SexualReview:  0.85,
		LowThreat:     0.85,
		DrugFlagged:   0.85,
		DrugReview:    0.5,
		GoreFlagged:   0.85,
		GoreReview:    0.5,
		MedicalReview: 0.85,
	}
}

var (
	explicitClasses   = []string{"sexual_activity", "sexual_display", "erotica", "visibly_undressed"}
	suggestiveClasses = []string{"suggestive", "mildly_suggestive"}

	// Top-level reply fields that are not model outputs.
	envelopeKeys = map[string]bool{"status": true, "request": true, "media": true, "error": true}
	knownModels  = map[string]bool{"nudity": true, "recreational_drug": true, "gore": true, "medical": true}
)

// Evaluator turns raw model replies into a Result. It is safe for
// concurrent use.
type Evaluator struct {
	th Thresholds
}

// NewEvaluator creates a new Evaluator.
func NewEvaluator(th Thresholds) *Evaluator {
	return &Evaluator{th: th}
}

// folder case-folds reply keys. A Caser is stateful, so each evaluation
// gets its own.
type folder struct {
	c cases.Caser
}

func (f folder) keys(m map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		out[f.c.String(k)] = v
	}
	return out
}

type nudityOutput struct {
	classes    map[string]float64
	suggestive map[string]float64
}

// Evaluate parses a JSON model reply. Keys are case-folded before matching.
func (e *Evaluator) Evaluate(raw []byte) (*Result, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("%w: parse reply: %v", ErrClassifier, err)
	}
	fold := folder{c: cases.Fold()}
	top = fold.keys(top)

	res := &Result{
		Verdicts: make(map[Category]Verdict, len(Categories)),
		Scores:   make(map[string]float64),
	}
	for k, v := range top {
		if envelopeKeys[k] || knownModels[k] {
			continue
		}
		if res.Unknown == nil {
			res.Unknown = make(map[string]json.RawMessage)
		}
		res.Unknown[k] = v
	}

	nudity, err := parseNudity(fold, top["nudity"])
	if err != nil {
		return nil, err
	}
	for k, v := range nudity.classes {
		res.Scores["nudity."+k] = v
	}
	for k, v := range nudity.suggestive {
		res.Scores["nudity.suggestive_classes."+k] = v
	}
	res.Verdicts[SexualContent] = e.sexualVerdict(nudity)

	for _, m := range []struct {
		key     string
		cat     Category
		flagged float64
		review  float64
	}{
		{"recreational_drug", RecreationalDrug, e.th.DrugFlagged, e.th.DrugReview},
		{"gore", Gore, e.th.GoreFlagged, e.th.GoreReview},
	} {
		p, err := prob(fold, top[m.key])
		if err != nil {
			return nil, err
		}
		res.Scores[m.key+".prob"] = p
		switch {
		case p > m.flagged:
			res.Verdicts[m.cat] = Flagged
		case p >= m.review:
			res.Verdicts[m.cat] = Review
		default:
			res.Verdicts[m.cat] = Pass
		}
	}

	p, err := prob(fold, top["medical"])
	if err != nil {
		return nil, err
	}
	res.Scores["medical.prob"] = p
	res.Verdicts[Medical] = Pass
	if p > e.th.MedicalReview {
		res.Verdicts[Medical] = Review
	}

	res.Decision, res.Reason = Decide(res.Verdicts)
	return res, nil
}

func (e *Evaluator) sexualVerdict(n nudityOutput) Verdict {
	for _, c := range explicitClasses {
		if n.classes[c] > e.th.SexualFlagged {
			return Flagged
		}
	}
	for _, c := range suggestiveClasses {
		if n.classes[c] > e.th.SexualReview {
			return Review
		}
	}
	if n.suggestive["cleavage"] > e.th.LowThreat {
		return LowThreat
	}
	return Pass
}

func parseNudity(fold folder, raw json.RawMessage) (nudityOutput, error) {
	n := nudityOutput{classes: map[string]float64{}, suggestive: map[string]float64{}}
	if len(raw) == 0 {
		return n, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return n, fmt.Errorf("%w: parse nudity: %v", ErrClassifier, err)
	}
	for k, v := range fold.keys(fields) {
		if k == "suggestive_classes" {
			var sc map[string]json.RawMessage
			if err := json.Unmarshal(v, &sc); err != nil {
				continue
			}
			for sk, sv := range fold.keys(sc) {
				var f float64
				if json.Unmarshal(sv, &f) == nil {
					n.suggestive[sk] = f
				}
			}
			continue
		}
		var f float64
		if json.Unmarshal(v, &f) == nil {
			n.classes[k] = f
		}
	}
	return n, nil
}

func prob(fold folder, raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return 0, fmt.Errorf("%w: parse model output: %v", ErrClassifier, err)
	}
	fields = fold.keys(fields)
	var p float64
	if v, ok := fields["prob"]; ok {
		if err := json.Unmarshal(v, &p); err != nil {
			return 0, fmt.Errorf("%w: parse prob: %v", ErrClassifier, err)
		}
	}
	return p, nil
}
