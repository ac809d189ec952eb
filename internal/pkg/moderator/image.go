package moderator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"mediaguard/internal/pkg/classifier"
	"mediaguard/internal/pkg/hash"
	"mediaguard/internal/pkg/media"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// Fetcher retrieves image bytes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Classifier classifies a single decoded frame.
type Classifier interface {
	Classify(ctx context.Context, img image.Image) (*classifier.Result, error)
}

// ImageModeratorConfig holds configuration for image moderation.
type ImageModeratorConfig struct {
	Workers  int  // Number of workers for batch processing
	MaxBatch int  // Largest accepted batch
	Persist  bool // Store non-duplicate records
}

// DefaultImageModeratorConfig returns default configuration.
func DefaultImageModeratorConfig() ImageModeratorConfig {
	return ImageModeratorConfig{
		Workers:  5,
		MaxBatch: 10,
		Persist:  true,
	}
}

// ErrBatchSize indicates an empty or oversized batch.
var ErrBatchSize = errors.New("moderator: invalid batch size")

// ImageModerator implements the duplicate-aware image path:
// fingerprint, match, and only classify content not seen before.
type ImageModerator struct {
	config     ImageModeratorConfig
	fetcher    Fetcher
	extractor  *hash.Extractor
	classifier Classifier
	matcher    *Matcher
	store      FingerprintStore
	log        *log.Helper
	now        func() time.Time
}

// NewImageModerator creates a new ImageModerator.
func NewImageModerator(
	config ImageModeratorConfig,
	fetcher Fetcher,
	extractor *hash.Extractor,
	cls Classifier,
	matcher *Matcher,
	store FingerprintStore,
	logger log.Logger,
) *ImageModerator {
	def := DefaultImageModeratorConfig()
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if config.MaxBatch <= 0 {
		config.MaxBatch = def.MaxBatch
	}
	return &ImageModerator{
		config:     config,
		fetcher:    fetcher,
		extractor:  extractor,
		classifier: cls,
		matcher:    matcher,
		store:      store,
		log:        log.NewHelper(log.With(logger, "module", "moderator/image")),
		now:        time.Now,
	}
}

// ModerateImageURL analyses one image.
//  1. Fetch and fingerprint
//  2. Look for a near-duplicate; on a hit echo its decision
//  3. Otherwise classify once and persist the new record
//
// A FetchError is returned together with a review decision. Decode and
// classifier failures are reported in the result only.
func (m *ImageModerator) ModerateImageURL(ctx context.Context, url string) (*Result, error) {
	data, err := m.fetcher.Fetch(ctx, url)
	if err != nil {
		res := &Result{
			ContentType: ContentImage,
			SourceURL:   url,
			Decision:    classifier.Review,
			Reason:      ReasonURLAccessFailed,
			Error:       err.Error(),
		}
		var fe *media.FetchError
		if errors.As(err, &fe) {
			res.FetchStatus = fe.StatusCode
		}
		return res, err
	}
	return m.ModerateImageBytes(ctx, url, data)
}

// ModerateImageBytes runs the image path on already-fetched bytes.
func (m *ImageModerator) ModerateImageBytes(ctx context.Context, url string, data []byte) (*Result, error) {
	fp, img, err := m.extractor.ExtractBytes(data)
	if err != nil {
		m.log.Warnf("decode image %s: %v", url, err)
		return processingError(ContentImage, url, err), nil
	}
	m.log.Debugf("image fingerprint %s for %s", fp, url)

	res := &Result{ContentType: ContentImage, SourceURL: url}

	matches, err := m.matcher.MatchImage(ctx, fp)
	switch {
	case errors.Is(err, hash.ErrWidthMismatch):
		return nil, err
	case err != nil:
		m.log.Warnf("duplicate check for %s degraded: %v", url, err)
		res.DuplicateUnknown = true
	case len(matches) > 0:
		best := matches[0]
		m.log.Infof("duplicate image %s matches record %s at distance %d", url, best.Record.ID, best.Distance)
		res.Duplicate = true
		res.Decision = best.Record.Decision
		res.Reason = ReasonDuplicateImage
		res.Labels = best.Record.Labels
		res.SimilarItems = Similar(matches...)
		return res, nil
	}

	cr, err := m.classifier.Classify(ctx, img)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.log.Warnf("classify image %s: %v", url, err)
		out := processingError(ContentImage, url, err)
		out.DuplicateUnknown = res.DuplicateUnknown
		return out, nil
	}
	res.Decision = cr.Decision
	res.Reason = cr.Reason
	res.Labels = cr.Labels()
	if cr.Decision == classifier.Flagged {
		res.Evidence = data
	}

	if m.config.Persist {
		rec := &ImageRecord{
			ID:          uuid.NewString(),
			Fingerprint: fp,
			SourceURL:   url,
			Decision:    cr.Decision,
			Labels:      res.Labels,
			CreatedAt:   m.now().UTC(),
		}
		if err := m.store.PutImage(ctx, rec); err != nil {
			m.log.Warnf("persist image record for %s: %v", url, err)
		} else {
			res.RecordID = rec.ID
		}
	}
	return res, nil
}

// BatchItem is one entry of a batch result.
type BatchItem struct {
	Result *Result
	Err    error
}

// ModerateImageURLs analyses urls with bounded concurrency. Results keep the
// input order; a failed item does not stop the others.
func (m *ImageModerator) ModerateImageURLs(ctx context.Context, urls []string) ([]BatchItem, error) {
	if len(urls) == 0 || len(urls) > m.config.MaxBatch {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrBatchSize, len(urls), m.config.MaxBatch)
	}
	workerCount := m.config.Workers
	if workerCount > len(urls) {
		workerCount = len(urls)
	}
	type job struct {
		index int
		url   string
	}
	jobs := make(chan job)
	results := make([]BatchItem, len(urls))
	var wg sync.WaitGroup
	worker := func() {
		defer wg.Done()
		for j := range jobs {
			if err := ctx.Err(); err != nil {
				results[j.index] = BatchItem{Err: err}
				continue
			}
			res, err := m.ModerateImageURL(ctx, j.url)
			results[j.index] = BatchItem{Result: res, Err: err}
		}
	}
	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go worker()
	}
	for i, url := range urls {
		jobs <- job{index: i, url: url}
	}
	close(jobs)
	wg.Wait()
	return results, nil
}
