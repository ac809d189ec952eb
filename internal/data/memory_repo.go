package data

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"mediaguard/internal/pkg/hash"
	"mediaguard/internal/pkg/mih"
	"mediaguard/internal/pkg/moderator"
	"mediaguard/internal/pkg/pagination"
)

type indexKey struct {
	ct  moderator.ContentType
	pos int
}

// MemoryRepo keeps records in process, indexed by one multi-index per
// (content type, position). It is used for tests and single-node setups.
type MemoryRepo struct {
	mu      sync.RWMutex
	width   hash.Width
	maxBall int
	records []moderator.Record
	indexes map[indexKey]*mih.Index
	// owners maps an index slot to its position in records.
	owners map[indexKey][]int
}

// NewMemoryRepo creates an empty in-memory store.
func NewMemoryRepo(w hash.Width, maxBallSize int) *MemoryRepo {
	return &MemoryRepo{
		width:   w,
		maxBall: maxBallSize,
		indexes: make(map[indexKey]*mih.Index),
		owners:  make(map[indexKey][]int),
	}
}

func (m *MemoryRepo) checkWidth(fps ...hash.Fingerprint) error {
	for _, fp := range fps {
		if fp.Width != m.width {
			return fmt.Errorf("%w: store is %d bits, got %d", hash.ErrWidthMismatch, m.width, fp.Width)
		}
	}
	return nil
}

func (m *MemoryRepo) PutImage(_ context.Context, r *moderator.ImageRecord) error {
	return m.put(r.Record())
}

func (m *MemoryRepo) PutVideo(_ context.Context, r *moderator.VideoRecord) error {
	return m.put(r.Record())
}

func (m *MemoryRepo) put(rec moderator.Record) error {
	if err := m.checkWidth(rec.Fingerprints...); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Fingerprints = slices.Clone(rec.Fingerprints)

	m.mu.Lock()
	defer m.mu.Unlock()
	at := len(m.records)
	m.records = append(m.records, rec)
	for pos, fp := range rec.Fingerprints {
		key := indexKey{rec.ContentType, pos}
		idx, ok := m.indexes[key]
		if !ok {
			idx = mih.NewIndex(m.width, m.maxBall)
			m.indexes[key] = idx
		}
		if _, err := idx.Insert(fp); err != nil {
			return err
		}
		m.owners[key] = append(m.owners[key], at)
	}
	return nil
}

func (m *MemoryRepo) search(key indexKey, fp hash.Fingerprint, t int) ([]mih.Hit, error) {
	idx, ok := m.indexes[key]
	if !ok {
		return nil, nil
	}
	return idx.Search(fp, t)
}

func (m *MemoryRepo) FindWithin(_ context.Context, fp hash.Fingerprint, threshold int, ct moderator.ContentType, limit int) ([]moderator.SimilarityMatch, error) {
	if err := m.checkWidth(fp); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	acc := newWithinAccumulator()
	for pos := 0; pos < positionsOf(ct); pos++ {
		key := indexKey{ct, pos}
		hits, err := m.search(key, fp, threshold)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			acc.add(m.records[m.owners[key][h.Slot]], h.Distance)
		}
	}
	return capMatches(acc.matches(), limit), nil
}

func (m *MemoryRepo) FindMatchingSet(_ context.Context, fps [moderator.VideoPositions]hash.Fingerprint, threshold, minMatches int) (*moderator.SimilarityMatch, error) {
	if err := m.checkWidth(fps[:]...); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make(map[int]int)
	for pos, fp := range fps {
		key := indexKey{moderator.ContentVideo, pos}
		found, err := m.search(key, fp, threshold)
		if err != nil {
			return nil, err
		}
		for _, h := range found {
			hits[m.owners[key][h.Slot]]++
		}
	}

	var best *moderator.SimilarityMatch
	for at, n := range hits {
		if n < minMatches {
			continue
		}
		rec := m.records[at]
		var stored [moderator.VideoPositions]hash.Fingerprint
		copy(stored[:], rec.Fingerprints)
		matched, total, err := moderator.ScoreSet(fps, stored, threshold)
		if err != nil {
			return nil, err
		}
		cand := &moderator.SimilarityMatch{Record: rec, Distance: total, MatchedFields: matched}
		if moderator.BetterSetMatch(cand, best) {
			best = cand
		}
	}
	return best, nil
}

func (m *MemoryRepo) ListRecords(_ context.Context, ct moderator.ContentType, req *pagination.Request) (*pagination.Page[moderator.Record], error) {
	cursor, err := req.DecodedCursor()
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	var recs []moderator.Record
	for _, r := range m.records {
		if r.ContentType == ct && cursor.After(r.CreatedAt, r.ID) {
			recs = append(recs, r)
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(recs, func(a, b moderator.Record) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
	if n := req.GetFetchLimit(); len(recs) > n {
		recs = recs[:n]
	}
	return pagination.BuildPage(recs, req.GetLimit(), recordCursor), nil
}

func (m *MemoryRepo) CountRecords(_ context.Context, ct moderator.ContentType) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, r := range m.records {
		if r.ContentType == ct {
			n++
		}
	}
	return n, nil
}

// RebuildIndex is a no-op; the in-memory index is always complete.
func (m *MemoryRepo) RebuildIndex(context.Context) (int, error) {
	return 0, nil
}
