package mih

import (
	"slices"
	"sync"

	"mediaguard/internal/pkg/hash"
)

// Index is an in-memory multi-index over fingerprints of one width. Slots are
// assigned in insertion order and never reused.
type Index struct {
	mu          sync.RWMutex
	width       hash.Width
	maxBallSize int
	values      []uint64
	tables      [Bands]map[uint16][]int
}

// NewIndex creates an empty index.
func NewIndex(w hash.Width, maxBallSize int) *Index {
	if maxBallSize <= 0 {
		maxBallSize = DefaultMaxBallSize
	}
	x := &Index{width: w, maxBallSize: maxBallSize}
	for i := range x.tables {
		x.tables[i] = make(map[uint16][]int)
	}
	return x
}

// Insert adds fp and returns its slot.
func (x *Index) Insert(fp hash.Fingerprint) (int, error) {
	if fp.Width != x.width {
		return 0, hash.ErrWidthMismatch
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	slot := len(x.values)
	x.values = append(x.values, fp.Value)
	for i, v := range Split(fp) {
		x.tables[i][v] = append(x.tables[i][v], slot)
	}
	return slot, nil
}

// Len returns the number of indexed fingerprints.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.values)
}

// Hit is a slot confirmed within threshold.
type Hit struct {
	Slot     int
	Distance int
}

// Search returns every slot within t of fp, in slot order. Candidates from
// the band tables are verified by exact distance.
func (x *Index) Search(fp hash.Fingerprint, t int) ([]Hit, error) {
	if fp.Width != x.width {
		return nil, hash.ErrWidthMismatch
	}
	plan := NewPlan(fp, t, x.maxBallSize)
	if plan.Empty() {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if plan.Full {
		var hits []Hit
		for slot, v := range x.values {
			if d := distance(v, fp.Value); d <= t {
				hits = append(hits, Hit{Slot: slot, Distance: d})
			}
		}
		return hits, nil
	}

	seen := make(map[int]struct{})
	for i, ball := range plan.Bands {
		for _, v := range ball {
			for _, slot := range x.tables[i][v] {
				seen[slot] = struct{}{}
			}
		}
	}
	hits := make([]Hit, 0, len(seen))
	for slot := range seen {
		if d := distance(x.values[slot], fp.Value); d <= t {
			hits = append(hits, Hit{Slot: slot, Distance: d})
		}
	}
	slices.SortFunc(hits, func(a, b Hit) int { return a.Slot - b.Slot })
	return hits, nil
}
