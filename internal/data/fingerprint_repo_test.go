package data

import (
	"context"
	"math/rand/v2"
	"slices"
	"testing"

	"mediaguard/internal/pkg/hash"
	"mediaguard/internal/pkg/mih"
	"mediaguard/internal/pkg/moderator"
)

// The band arguments bound into the candidate query must keep every stored
// fingerprint within the threshold reachable through at least one band.
func TestPlanArgs_CoverStoredWithinThreshold(t *testing.T) {
	ctx := context.Background()
	r := rand.New(rand.NewPCG(7, 11))
	query := fp64(r.Uint64())

	var stored []hash.Fingerprint
	for n := 0; n <= 16; n++ {
		for k := 0; k < 3; k++ {
			stored = append(stored, fp64(flip(r, query.Value, n, 64)))
		}
	}
	for k := 0; k < 20; k++ {
		stored = append(stored, fp64(r.Uint64()))
	}

	b := newTestBandFilter(newBitCache())
	scan := func(yield func(BandRow) error) error {
		for _, fp := range stored {
			if err := yield(BandRow{ContentType: moderator.ContentImage, Position: 0, Bands: mih.Split(fp)}); err != nil {
				return err
			}
		}
		return nil
	}
	if _, err := b.Rebuild(ctx, scan); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	tests := []struct {
		threshold int
		full      bool
	}{
		{threshold: 0},
		{threshold: 3},
		{threshold: 5},
		{threshold: 8},
		{threshold: 12},
		{threshold: 15},
		{threshold: 20, full: true},
	}
	for _, tt := range tests {
		plan := mih.NewPlan(query, tt.threshold, 0)
		pruned := b.Prune(ctx, moderator.ContentImage, 0, plan)
		if pruned.Full != tt.full {
			t.Errorf("T=%d: full = %v; want %v", tt.threshold, pruned.Full, tt.full)
		}
		if pruned.Full {
			continue
		}
		if plan.Radius > 0 && pruned.Size() >= plan.Size() {
			t.Errorf("T=%d: nothing pruned from %d values", tt.threshold, plan.Size())
		}
		args := planArgs(pruned)
		for _, fp := range stored {
			d, _ := query.Distance(fp)
			if d > tt.threshold {
				continue
			}
			reachable := false
			for band, v := range mih.Split(fp) {
				if slices.Contains(args[band], int32(v)) {
					reachable = true
					break
				}
			}
			if !reachable {
				t.Errorf("T=%d: stored %s at distance %d not reachable from any band", tt.threshold, fp, d)
			}
		}
	}
}

func TestPlanArgs_KeepsBandOrder(t *testing.T) {
	p := mih.Plan{Bands: [mih.Bands][]uint16{{1, 2}, {}, {0xFFFF}, {7}}}
	args := planArgs(p)
	want := [mih.Bands][]int32{{1, 2}, {}, {0xFFFF}, {7}}
	for i := range want {
		if !slices.Equal(args[i], want[i]) {
			t.Errorf("band %d = %v; want %v", i, args[i], want[i])
		}
	}
}
