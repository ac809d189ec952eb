package data

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"mediaguard/internal/pkg/classifier"
	"mediaguard/internal/pkg/hash"
	"mediaguard/internal/pkg/moderator"
	"mediaguard/internal/pkg/pagination"
)

func fp64(v uint64) hash.Fingerprint { return hash.Fingerprint{Value: v, Width: hash.Width64} }

// flip returns v with n distinct random bits inverted.
func flip(r *rand.Rand, v uint64, n, width int) uint64 {
	for _, i := range r.Perm(width)[:n] {
		v ^= 1 << uint(i)
	}
	return v
}

func TestMemoryRepo_FindWithinHasNoFalseNegatives(t *testing.T) {
	ctx := context.Background()
	r := rand.New(rand.NewPCG(7, 11))
	repo := NewMemoryRepo(hash.Width64, 0)

	base := r.Uint64()
	var stored []*moderator.ImageRecord
	for i := 0; i < 400; i++ {
		v := r.Uint64()
		if i%4 == 0 {
			v = flip(r, base, r.IntN(16), 64)
		}
		rec := &moderator.ImageRecord{
			ID:          fmt.Sprintf("img-%03d", i),
			Fingerprint: fp64(v),
			Decision:    classifier.Pass,
			CreatedAt:   time.Unix(int64(i), 0),
		}
		if err := repo.PutImage(ctx, rec); err != nil {
			t.Fatalf("PutImage: %v", err)
		}
		stored = append(stored, rec)
	}

	for _, threshold := range []int{0, 3, 5, 8, 12, 20} {
		t.Run(fmt.Sprintf("T=%d", threshold), func(t *testing.T) {
			query := fp64(flip(r, base, 2, 64))
			var want []string
			for _, rec := range stored {
				if bits.OnesCount64(rec.Fingerprint.Value^query.Value) <= threshold {
					want = append(want, rec.ID)
				}
			}

			got, err := repo.FindWithin(ctx, query, threshold, moderator.ContentImage, len(stored))
			if err != nil {
				t.Fatalf("FindWithin: %v", err)
			}
			var ids []string
			for i, m := range got {
				ids = append(ids, m.Record.ID)
				if m.Distance > threshold {
					t.Errorf("%s at distance %d exceeds threshold", m.Record.ID, m.Distance)
				}
				if i > 0 && got[i-1].Distance > m.Distance {
					t.Error("matches not ordered by distance")
				}
			}
			slices.Sort(ids)
			if !slices.Equal(ids, want) {
				t.Errorf("FindWithin returned %d records, brute force %d", len(ids), len(want))
			}
		})
	}
}

func TestMemoryRepo_FindWithinLimitAndTypes(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo(hash.Width64, 0)
	for i := 0; i < 15; i++ {
		rec := &moderator.ImageRecord{ID: fmt.Sprintf("i%02d", i), Fingerprint: fp64(uint64(1) << uint(i%3)), CreatedAt: time.Unix(int64(i), 0)}
		if err := repo.PutImage(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	video := &moderator.VideoRecord{ID: "v1", Fingerprints: [5]hash.Fingerprint{fp64(0xFF), fp64(0), fp64(0xF), fp64(0xFF), fp64(0xFF)}}
	if err := repo.PutVideo(ctx, video); err != nil {
		t.Fatal(err)
	}

	got, err := repo.FindWithin(ctx, fp64(0), 5, moderator.ContentImage, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != defaultFindLimit {
		t.Errorf("len = %d; want default limit %d", len(got), defaultFindLimit)
	}
	for _, m := range got {
		if m.Record.ContentType != moderator.ContentImage {
			t.Errorf("image query returned %s", m.Record.ContentType)
		}
	}

	vm, err := repo.FindWithin(ctx, fp64(0), 4, moderator.ContentVideo, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(vm) != 1 || vm[0].Distance != 0 || vm[0].MatchedFields != 2 {
		t.Errorf("video FindWithin = %+v; want one match at distance 0 with 2 positions", vm)
	}
}

func TestMemoryRepo_FindMatchingSet(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo(hash.Width64, 0)
	far := fp64(^uint64(0))
	near := fp64(0b1)
	zero := fp64(0)

	records := []*moderator.VideoRecord{
		{ID: "two", Fingerprints: [5]hash.Fingerprint{zero, zero, far, far, far}, CreatedAt: time.Unix(1, 0)},
		{ID: "three", Fingerprints: [5]hash.Fingerprint{near, zero, zero, far, far}, CreatedAt: time.Unix(2, 0)},
		{ID: "four", Fingerprints: [5]hash.Fingerprint{near, near, near, near, far}, CreatedAt: time.Unix(3, 0)},
	}
	for _, r := range records {
		if err := repo.PutVideo(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	query := [5]hash.Fingerprint{zero, zero, zero, zero, zero}

	tests := []struct {
		name       string
		threshold  int
		minMatches int
		want       string
	}{
		{"most positions wins", 1, 3, "four"},
		{"five required", 1, 5, ""},
		{"exact only", 0, 3, ""},
		{"exact pair", 0, 2, "three"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.FindMatchingSet(ctx, query, tt.threshold, tt.minMatches)
			if err != nil {
				t.Fatalf("FindMatchingSet: %v", err)
			}
			if tt.want == "" {
				if got != nil {
					t.Errorf("got %s; want no match", got.Record.ID)
				}
				return
			}
			if got == nil || got.Record.ID != tt.want {
				t.Fatalf("got %+v; want %s", got, tt.want)
			}
		})
	}
}

func TestMemoryRepo_TwoPositionsNeverDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo(hash.Width64, 0)
	zero, far := fp64(0), fp64(^uint64(0))
	rec := &moderator.VideoRecord{ID: "v", Fingerprints: [5]hash.Fingerprint{zero, far, zero, far, far}}
	if err := repo.PutVideo(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, err := repo.FindMatchingSet(ctx, [5]hash.Fingerprint{zero, zero, zero, zero, zero}, 8, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("two matching positions reported as duplicate of %s", got.Record.ID)
	}
}

func TestMemoryRepo_WidthMismatch(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo(hash.Width64, 0)
	short := hash.Fingerprint{Value: 1, Width: hash.Width16}

	if err := repo.PutImage(ctx, &moderator.ImageRecord{ID: "x", Fingerprint: short}); !errors.Is(err, hash.ErrWidthMismatch) {
		t.Errorf("PutImage: expected ErrWidthMismatch, got %v", err)
	}
	if _, err := repo.FindWithin(ctx, short, 2, moderator.ContentImage, 10); !errors.Is(err, hash.ErrWidthMismatch) {
		t.Errorf("FindWithin: expected ErrWidthMismatch, got %v", err)
	}
}

func TestMemoryRepo_ListRecords(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo(hash.Width64, 0)
	for i := 0; i < 7; i++ {
		rec := &moderator.ImageRecord{ID: fmt.Sprintf("r%d", i), Fingerprint: fp64(uint64(i)), CreatedAt: time.Unix(int64(100+i), 0)}
		if err := repo.PutImage(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	var seen []string
	cursor := ""
	for pages := 0; pages < 10; pages++ {
		page, err := repo.ListRecords(ctx, moderator.ContentImage, pagination.NewRequest(cursor, 3))
		if err != nil {
			t.Fatalf("ListRecords: %v", err)
		}
		for _, r := range page.Items {
			seen = append(seen, r.ID)
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}
	want := []string{"r6", "r5", "r4", "r3", "r2", "r1", "r0"}
	if !slices.Equal(seen, want) {
		t.Errorf("pages = %v; want %v", seen, want)
	}

	n, err := repo.CountRecords(ctx, moderator.ContentImage)
	if err != nil || n != 7 {
		t.Errorf("CountRecords = %d, %v", n, err)
	}
	if _, err := repo.ListRecords(ctx, moderator.ContentImage, pagination.NewRequest("bogus", 3)); !errors.Is(err, pagination.ErrInvalidCursor) {
		t.Errorf("expected ErrInvalidCursor, got %v", err)
	}
}

func TestBestSet(t *testing.T) {
	zero, one, far := fp64(0), fp64(1), fp64(^uint64(0))
	query := [5]hash.Fingerprint{zero, zero, zero, zero, zero}
	records := map[string]moderator.Record{
		"a": {ID: "a", CreatedAt: time.Unix(2, 0)},
		"b": {ID: "b", CreatedAt: time.Unix(1, 0)},
		"c": {ID: "c"},
	}
	sets := map[string][]hash.Fingerprint{
		"a": {zero, zero, zero, far, far},
		"b": {zero, zero, one, far, far},
		"c": {zero, zero}, // incomplete rows are ignored
	}

	got, err := bestSet(query, []string{"a", "b", "c"}, records, sets, 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Record.ID != "a" {
		t.Fatalf("got %+v; want a (lower summed distance)", got)
	}
	if got.MatchedFields != 3 || got.Distance != 128 {
		t.Errorf("matched=%d distance=%d", got.MatchedFields, got.Distance)
	}
}
