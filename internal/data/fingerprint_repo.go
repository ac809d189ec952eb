package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mediaguard/internal/biz"
	"mediaguard/internal/conf"
	"mediaguard/internal/observability"
	"mediaguard/internal/pkg/classifier"
	"mediaguard/internal/pkg/hash"
	"mediaguard/internal/pkg/mih"
	"mediaguard/internal/pkg/moderator"
	"mediaguard/internal/pkg/pagination"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	insertRecordSQL = `
INSERT INTO media_records (id, content_type, source_url, decision, labels, width, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	insertFingerprintSQL = `
INSERT INTO media_fingerprints (record_id, content_type, position, value, band_0, band_1, band_2, band_3)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	selectCandidatesSQL = `
SELECT f.record_id::text, f.value, r.width, r.source_url, r.decision, r.labels, r.created_at
FROM media_fingerprints f
JOIN media_records r ON r.id = f.record_id
WHERE f.content_type = $1 AND f.position = $2`

	bandConditionSQL = `
  AND (f.band_0 = ANY($3) OR f.band_1 = ANY($4) OR f.band_2 = ANY($5) OR f.band_3 = ANY($6))`

	selectFingerprintsSQL = `
SELECT f.record_id::text, f.position, f.value, r.width
FROM media_fingerprints f
JOIN media_records r ON r.id = f.record_id
WHERE f.record_id = ANY($1::uuid[])
ORDER BY f.record_id, f.position`

	selectRecordsSQL = `
SELECT id::text, content_type, source_url, decision, labels, created_at
FROM media_records
WHERE content_type = $1`

	countRecordsSQL = `SELECT count(*) FROM media_records WHERE content_type = $1`

	scanBandsSQL = `
SELECT content_type, position, band_0, band_1, band_2, band_3
FROM media_fingerprints`
)

// NewFingerprintRepo creates the store selected by data.store.
func NewFingerprintRepo(d *Data, c *conf.Data, mc *conf.Moderation, bands *BandFilter, logger log.Logger) (biz.FingerprintRepo, func(), error) {
	width := fingerprintWidth(mc)
	maxBall := 0
	if f := mc.GetFingerprint(); f != nil {
		maxBall = f.MaxBallSize
	}
	if c.Store == StoreMemory || d.Pool == nil {
		return NewMemoryRepo(width, maxBall), func() {}, nil
	}

	repo := &fingerprintRepo{
		pool:    d.Pool,
		width:   width,
		maxBall: maxBall,
		bands:   bands,
		log:     log.NewHelper(log.With(logger, "module", "data/fingerprint")),
	}

	ctx, cancel := context.WithCancel(context.Background())
	if bands.Enabled() && !bands.Ready(ctx) {
		go func() {
			if _, err := repo.RebuildIndex(ctx); err != nil && ctx.Err() == nil {
				repo.log.Warnf("initial band filter rebuild: %v", err)
			}
		}()
	}
	return repo, cancel, nil
}

// NewModeratorStore exposes the repo to the moderators.
func NewModeratorStore(r biz.FingerprintRepo) moderator.FingerprintStore {
	return r
}

type fingerprintRepo struct {
	pool    *pgxpool.Pool
	width   hash.Width
	maxBall int
	bands   *BandFilter
	log     *log.Helper
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", moderator.ErrStoreUnavailable, op, err)
}

func (r *fingerprintRepo) checkWidth(fps ...hash.Fingerprint) error {
	for _, fp := range fps {
		if fp.Width != r.width {
			return fmt.Errorf("%w: store is %d bits, got %d", hash.ErrWidthMismatch, r.width, fp.Width)
		}
	}
	return nil
}

func (r *fingerprintRepo) PutImage(ctx context.Context, rec *moderator.ImageRecord) error {
	return r.put(ctx, rec.Record())
}

func (r *fingerprintRepo) PutVideo(ctx context.Context, rec *moderator.VideoRecord) error {
	return r.put(ctx, rec.Record())
}

func (r *fingerprintRepo) put(ctx context.Context, rec moderator.Record) error {
	if err := r.checkWidth(rec.Fingerprints...); err != nil {
		return err
	}
	labels, err := json.Marshal(rec.Labels)
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return unavailable("begin", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, insertRecordSQL,
		rec.ID, string(rec.ContentType), rec.SourceURL, string(rec.Decision), string(labels), int16(r.width), rec.CreatedAt,
	); err != nil {
		return unavailable("insert record", err)
	}
	for pos, fp := range rec.Fingerprints {
		b := mih.Split(fp)
		if _, err := tx.Exec(ctx, insertFingerprintSQL,
			rec.ID, string(rec.ContentType), int16(pos), int64(fp.Value),
			int32(b[0]), int32(b[1]), int32(b[2]), int32(b[3]),
		); err != nil {
			return unavailable("insert fingerprint", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return unavailable("commit", err)
	}

	r.bands.Add(ctx, rec.ContentType, rec.Fingerprints)
	return nil
}

// candidate is one fingerprint row admitted by the pre-filter.
type candidate struct {
	record moderator.Record
	fp     hash.Fingerprint
}

// candidates runs the band pre-filter for one position. It never drops a row
// within t of fp; false positives are removed by the caller.
func (r *fingerprintRepo) candidates(ctx context.Context, ct moderator.ContentType, pos int, fp hash.Fingerprint, t int) ([]candidate, error) {
	plan := mih.NewPlan(fp, t, r.maxBall)
	if plan.Empty() {
		return nil, nil
	}
	plan = r.bands.Prune(ctx, ct, pos, plan)

	query := selectCandidatesSQL
	args := []any{string(ct), int16(pos)}
	if !plan.Full {
		if plan.Size() == 0 {
			return nil, nil
		}
		bandArgs := planArgs(plan)
		query += bandConditionSQL
		args = append(args, bandArgs[0], bandArgs[1], bandArgs[2], bandArgs[3])
	}

	start := time.Now()
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query candidates", err)
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		var (
			c        candidate
			value    int64
			width    int16
			decision string
			labels   []byte
		)
		if err := rows.Scan(&c.record.ID, &value, &width, &c.record.SourceURL, &decision, &labels, &c.record.CreatedAt); err != nil {
			return nil, unavailable("scan candidate", err)
		}
		c.record.ContentType = ct
		c.record.Decision = classifier.Verdict(decision)
		c.record.Labels = decodeLabels(labels)
		c.fp = hash.Fingerprint{Value: uint64(value), Width: hash.Width(width)}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("read candidates", err)
	}
	observability.StoreQueryDuration.WithLabelValues("candidates").Observe(time.Since(start).Seconds())
	observability.PrefilterCandidates.WithLabelValues(string(ct)).Observe(float64(len(out)))
	return out, nil
}

func planArgs(p mih.Plan) [mih.Bands][]int32 {
	var out [mih.Bands][]int32
	for i, vals := range p.Bands {
		out[i] = make([]int32, len(vals))
		for j, v := range vals {
			out[i][j] = int32(v)
		}
	}
	return out
}

func positionsOf(ct moderator.ContentType) int {
	if ct == moderator.ContentVideo {
		return moderator.VideoPositions
	}
	return 1
}

func (r *fingerprintRepo) FindWithin(ctx context.Context, fp hash.Fingerprint, threshold int, ct moderator.ContentType, limit int) ([]moderator.SimilarityMatch, error) {
	if err := r.checkWidth(fp); err != nil {
		return nil, err
	}
	acc := newWithinAccumulator()
	for pos := 0; pos < positionsOf(ct); pos++ {
		cands, err := r.candidates(ctx, ct, pos, fp, threshold)
		if err != nil {
			return nil, err
		}
		for _, c := range cands {
			d, err := fp.Distance(c.fp)
			if err != nil {
				return nil, err
			}
			if d <= threshold {
				acc.add(c.record, d)
			}
		}
	}

	matches := acc.matches()
	if ct == moderator.ContentVideo && len(matches) > 0 {
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.Record.ID
		}
		sets, err := r.loadFingerprints(ctx, ids)
		if err != nil {
			return nil, err
		}
		for i := range matches {
			matches[i].Record.Fingerprints = sets[matches[i].Record.ID]
		}
	}
	return capMatches(matches, limit), nil
}

func (r *fingerprintRepo) FindMatchingSet(ctx context.Context, fps [moderator.VideoPositions]hash.Fingerprint, threshold, minMatches int) (*moderator.SimilarityMatch, error) {
	if err := r.checkWidth(fps[:]...); err != nil {
		return nil, err
	}
	// Any record with minMatches positions within threshold shows up in the
	// candidates of each of those positions.
	hits := make(map[string]int)
	records := make(map[string]moderator.Record)
	for pos, fp := range fps {
		cands, err := r.candidates(ctx, moderator.ContentVideo, pos, fp, threshold)
		if err != nil {
			return nil, err
		}
		for _, c := range cands {
			d, err := fp.Distance(c.fp)
			if err != nil {
				return nil, err
			}
			if d <= threshold {
				hits[c.record.ID]++
				records[c.record.ID] = c.record
			}
		}
	}

	var ids []string
	for id, n := range hits {
		if n >= minMatches {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sets, err := r.loadFingerprints(ctx, ids)
	if err != nil {
		return nil, err
	}
	return bestSet(fps, ids, records, sets, threshold, minMatches)
}

// bestSet scores complete positional sets and returns the best qualifying one.
func bestSet(
	fps [moderator.VideoPositions]hash.Fingerprint,
	ids []string,
	records map[string]moderator.Record,
	sets map[string][]hash.Fingerprint,
	threshold, minMatches int,
) (*moderator.SimilarityMatch, error) {
	var best *moderator.SimilarityMatch
	for _, id := range ids {
		set := sets[id]
		if len(set) != moderator.VideoPositions {
			continue
		}
		var stored [moderator.VideoPositions]hash.Fingerprint
		copy(stored[:], set)
		matched, total, err := moderator.ScoreSet(fps, stored, threshold)
		if err != nil {
			return nil, err
		}
		if matched < minMatches {
			continue
		}
		rec := records[id]
		rec.Fingerprints = set
		cand := &moderator.SimilarityMatch{Record: rec, Distance: total, MatchedFields: matched}
		if moderator.BetterSetMatch(cand, best) {
			best = cand
		}
	}
	return best, nil
}

func (r *fingerprintRepo) loadFingerprints(ctx context.Context, ids []string) (map[string][]hash.Fingerprint, error) {
	start := time.Now()
	rows, err := r.pool.Query(ctx, selectFingerprintsSQL, ids)
	if err != nil {
		return nil, unavailable("query fingerprints", err)
	}
	defer rows.Close()

	out := make(map[string][]hash.Fingerprint, len(ids))
	for rows.Next() {
		var (
			id    string
			pos   int16
			value int64
			width int16
		)
		if err := rows.Scan(&id, &pos, &value, &width); err != nil {
			return nil, unavailable("scan fingerprint", err)
		}
		out[id] = append(out[id], hash.Fingerprint{Value: uint64(value), Width: hash.Width(width)})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("read fingerprints", err)
	}
	observability.StoreQueryDuration.WithLabelValues("fingerprints").Observe(time.Since(start).Seconds())
	return out, nil
}

func (r *fingerprintRepo) ListRecords(ctx context.Context, ct moderator.ContentType, req *pagination.Request) (*pagination.Page[moderator.Record], error) {
	cursor, err := req.DecodedCursor()
	if err != nil {
		return nil, err
	}
	query := selectRecordsSQL
	args := []any{string(ct)}
	if cursor != nil {
		query += " AND " + pagination.SQLCursorCondition("created_at", "id", 2)
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT %d", req.GetFetchLimit())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable("list records", err)
	}
	defer rows.Close()

	var recs []moderator.Record
	for rows.Next() {
		var (
			rec      moderator.Record
			ctype    string
			decision string
			labels   []byte
		)
		if err := rows.Scan(&rec.ID, &ctype, &rec.SourceURL, &decision, &labels, &rec.CreatedAt); err != nil {
			return nil, unavailable("scan record", err)
		}
		rec.ContentType = moderator.ContentType(ctype)
		rec.Decision = classifier.Verdict(decision)
		rec.Labels = decodeLabels(labels)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("read records", err)
	}

	if len(recs) > 0 {
		ids := make([]string, len(recs))
		for i, rec := range recs {
			ids[i] = rec.ID
		}
		sets, err := r.loadFingerprints(ctx, ids)
		if err != nil {
			return nil, err
		}
		for i := range recs {
			recs[i].Fingerprints = sets[recs[i].ID]
		}
	}
	return pagination.BuildPage(recs, req.GetLimit(), recordCursor), nil
}

func recordCursor(r moderator.Record) *pagination.Cursor {
	return &pagination.Cursor{ID: r.ID, CreatedAt: r.CreatedAt}
}

func (r *fingerprintRepo) CountRecords(ctx context.Context, ct moderator.ContentType) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, countRecordsSQL, string(ct)).Scan(&n); err != nil {
		return 0, unavailable("count records", err)
	}
	return n, nil
}

// ScanBandKeys streams the band values of every stored fingerprint.
func (r *fingerprintRepo) ScanBandKeys(ctx context.Context, yield func(BandRow) error) error {
	rows, err := r.pool.Query(ctx, scanBandsSQL)
	if err != nil {
		return unavailable("scan bands", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ct     string
			pos    int16
			b0, b1 int32
			b2, b3 int32
		)
		if err := rows.Scan(&ct, &pos, &b0, &b1, &b2, &b3); err != nil {
			return unavailable("scan band row", err)
		}
		row := BandRow{
			ContentType: moderator.ContentType(ct),
			Position:    int(pos),
			Bands:       [mih.Bands]uint16{uint16(b0), uint16(b1), uint16(b2), uint16(b3)},
		}
		if err := yield(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return unavailable("read band rows", err)
	}
	return nil
}

func (r *fingerprintRepo) RebuildIndex(ctx context.Context) (int, error) {
	if !r.bands.Enabled() {
		return 0, nil
	}
	return r.bands.Rebuild(ctx, func(yield func(BandRow) error) error {
		return r.ScanBandKeys(ctx, yield)
	})
}

func decodeLabels(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"raw": string(raw)}
	}
	return m
}
