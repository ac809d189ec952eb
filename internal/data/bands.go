package data

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"mediaguard/internal/conf"
	"mediaguard/internal/observability"
	"mediaguard/internal/pkg/bloom"
	"mediaguard/internal/pkg/hash"
	"mediaguard/internal/pkg/mih"
	"mediaguard/internal/pkg/moderator"
	pkgredis "mediaguard/internal/pkg/redis"

	"github.com/go-kratos/kratos/v2/log"
)

const (
	defaultBloomKey    = "mediaguard:bands"
	defaultBloomBits   = 1 << 27 // 16 MiB
	defaultBloomHashes = 5
	rebuildBatch       = 1024
)

// errRebuildRaced means a concurrent insert failed to reach the filter while a
// rebuild was running, so the rebuild cannot vouch for every stored key.
var errRebuildRaced = errors.New("band filter: concurrent insert failed during rebuild")

// BandFilter is the optional Bloom stage of the band pre-filter. It only
// removes ball values that no stored fingerprint carries, and does nothing
// at all unless the filter has been fully populated.
type BandFilter struct {
	filter   *bloom.Filter
	log      *log.Helper
	failures atomic.Int64
}

// NewBandFilter creates the Bloom stage. A nil cache or disabled config
// yields a pass-through filter.
func NewBandFilter(cache pkgredis.Cache, c *conf.Data, logger log.Logger) *BandFilter {
	b := &BandFilter{log: log.NewHelper(log.With(logger, "module", "data/bands"))}
	if cache == nil || c.Bloom == nil || !c.Bloom.Enabled {
		return b
	}
	key, bits, k := defaultBloomKey, uint(defaultBloomBits), uint(defaultBloomHashes)
	if c.Bloom.Key != "" {
		key = c.Bloom.Key
	}
	if c.Bloom.Bits > 0 {
		bits = c.Bloom.Bits
	}
	if c.Bloom.Hashes > 0 {
		k = c.Bloom.Hashes
	}
	b.filter = bloom.NewBloomFilter(cache, key, bits, k)
	return b
}

// Enabled reports whether a Bloom filter is configured.
func (b *BandFilter) Enabled() bool {
	return b != nil && b.filter != nil
}

// Ready reports whether the filter can currently be used for pruning.
func (b *BandFilter) Ready(ctx context.Context) bool {
	if !b.Enabled() {
		return false
	}
	ok, err := b.filter.Ready(ctx)
	return err == nil && ok
}

func bandKey(ct moderator.ContentType, pos, band int, v uint16) []byte {
	buf := make([]byte, 0, 24)
	buf = append(buf, string(ct)...)
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, int64(pos), 10)
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, int64(band), 10)
	buf = append(buf, ':')
	return strconv.AppendUint(buf, uint64(v), 10)
}

// Prune drops ball values the filter proves absent. On any filter problem
// the plan is returned unchanged.
func (b *BandFilter) Prune(ctx context.Context, ct moderator.ContentType, pos int, plan mih.Plan) mih.Plan {
	if !b.Enabled() || plan.Full || plan.Empty() || plan.Size() == 0 {
		return plan
	}
	keys := make([][]byte, 0, plan.Size())
	for band, vals := range plan.Bands {
		for _, v := range vals {
			keys = append(keys, bandKey(ct, pos, band, v))
		}
	}
	present, err := b.filter.ExistsMany(ctx, keys)
	if err != nil || len(present) != len(keys) {
		if err != nil && !errors.Is(err, bloom.ErrNotReady) {
			b.log.Warnf("bloom lookup failed, not pruning: %v", err)
		}
		observability.BloomPruned.WithLabelValues("skipped").Inc()
		return plan
	}

	out := mih.Plan{Radius: plan.Radius}
	i, dropped := 0, 0
	for band, vals := range plan.Bands {
		for _, v := range vals {
			if present[i] {
				out.Bands[band] = append(out.Bands[band], v)
			} else {
				dropped++
			}
			i++
		}
	}
	observability.BloomPruned.WithLabelValues("dropped").Add(float64(dropped))
	return out
}

// Add records the bands of a stored fingerprint. A failure leaves the filter
// unready until the next rebuild.
func (b *BandFilter) Add(ctx context.Context, ct moderator.ContentType, fps []hash.Fingerprint) {
	if !b.Enabled() {
		return
	}
	keys := make([][]byte, 0, len(fps)*mih.Bands)
	for pos, fp := range fps {
		for band, v := range mih.Split(fp) {
			keys = append(keys, bandKey(ct, pos, band, v))
		}
	}
	if err := b.filter.AddMany(ctx, keys); err != nil {
		b.failures.Add(1)
		b.log.Warnf("bloom add failed, pruning disabled until rebuild: %v", err)
	}
}

// BandRow is one stored fingerprint's band values.
type BandRow struct {
	ContentType moderator.ContentType
	Position    int
	Bands       [mih.Bands]uint16
}

// Rebuild adds every row yielded by scan and then marks the filter ready.
// Adding is idempotent, so rows inserted while the scan runs are covered by
// their own Add.
func (b *BandFilter) Rebuild(ctx context.Context, scan func(yield func(BandRow) error) error) (int, error) {
	if !b.Enabled() {
		return 0, nil
	}
	start := b.failures.Load()
	batch := make([][]byte, 0, rebuildBatch)
	n := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := b.filter.AddMany(ctx, batch); err != nil {
			return err
		}
		n += len(batch)
		batch = batch[:0]
		return nil
	}

	err := scan(func(r BandRow) error {
		for band, v := range r.Bands {
			batch = append(batch, bandKey(r.ContentType, r.Position, band, v))
		}
		if len(batch) >= rebuildBatch {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return n, fmt.Errorf("rebuild band filter: %w", err)
	}
	if b.failures.Load() != start {
		return n, errRebuildRaced
	}
	if err := b.filter.MarkReady(ctx); err != nil {
		return n, fmt.Errorf("mark band filter ready: %w", err)
	}
	return n, nil
}
