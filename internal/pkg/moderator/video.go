package moderator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mediaguard/internal/pkg/classifier"
	"mediaguard/internal/pkg/hash"
	"mediaguard/internal/pkg/media"
	"mediaguard/internal/pkg/video"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// VideoOpener makes a video URL available as a frame source. The returned
// release func frees any local copy.
type VideoOpener interface {
	Open(ctx context.Context, url string) (video.Source, func(), error)
}

// DownloadOpener downloads videos to a temporary file and decodes them with
// ffmpeg.
type DownloadOpener struct {
	Fetcher *media.Fetcher
	FFmpeg  *video.FFmpeg
}

// Open implements VideoOpener.
func (o *DownloadOpener) Open(ctx context.Context, url string) (video.Source, func(), error) {
	path, cleanup, err := o.Fetcher.Download(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	return o.FFmpeg.Open(path), cleanup, nil
}

// VideoModeratorConfig holds configuration for video moderation.
type VideoModeratorConfig struct {
	Workers       int           // Concurrent classification calls
	FrameInterval time.Duration // Dense sampling period
	Persist       bool
}

// DefaultVideoModeratorConfig returns default configuration.
func DefaultVideoModeratorConfig() VideoModeratorConfig {
	return VideoModeratorConfig{
		Workers:       5,
		FrameInterval: video.DefaultInterval,
		Persist:       true,
	}
}

// VideoModerator runs the concurrent, early-terminating video path.
type VideoModerator struct {
	config     VideoModeratorConfig
	opener     VideoOpener
	extractor  *hash.Extractor
	classifier Classifier
	matcher    *Matcher
	store      FingerprintStore
	log        *log.Helper
	now        func() time.Time

	onState func(url string, s State)
	onFrame FrameObserver
}

// VideoOption customizes a VideoModerator.
type VideoOption func(*VideoModerator)

// WithStateObserver registers a callback for every state transition.
func WithStateObserver(fn func(url string, s State)) VideoOption {
	return func(m *VideoModerator) { m.onState = fn }
}

// WithFrameObserver registers a callback for every committed frame result.
func WithFrameObserver(fn FrameObserver) VideoOption {
	return func(m *VideoModerator) { m.onFrame = fn }
}

// NewVideoModerator creates a new VideoModerator.
func NewVideoModerator(
	config VideoModeratorConfig,
	opener VideoOpener,
	extractor *hash.Extractor,
	cls Classifier,
	matcher *Matcher,
	store FingerprintStore,
	logger log.Logger,
	opts ...VideoOption,
) *VideoModerator {
	def := DefaultVideoModeratorConfig()
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if config.FrameInterval <= 0 {
		config.FrameInterval = def.FrameInterval
	}
	m := &VideoModerator{
		config:     config,
		opener:     opener,
		extractor:  extractor,
		classifier: cls,
		matcher:    matcher,
		store:      store,
		log:        log.NewHelper(log.With(logger, "module", "moderator/video")),
		now:        time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *VideoModerator) enter(url string, s State) {
	m.log.Debugf("video %s: %s", url, s)
	if m.onState != nil {
		m.onState(url, s)
	}
}

// fingerprintOutcome is the result of the positional pass.
type fingerprintOutcome struct {
	fps   [VideoPositions]hash.Fingerprint
	match *SimilarityMatch
	// storeErr is set when the duplicate check could not run.
	storeErr error
}

// ModerateVideoURL analyses one video.
//
// Sampling fixes the five fingerprint positions and opens the dense stream.
// Classification and fingerprinting then run concurrently; a qualifying
// duplicate cancels classification since its decision wins anyway. Any
// decode or stream failure yields a review decision and nothing is stored.
func (m *VideoModerator) ModerateVideoURL(ctx context.Context, url string) (*Result, error) {
	m.enter(url, StateSampling)

	src, release, err := m.opener.Open(ctx, url)
	if err != nil {
		var fe *media.FetchError
		if errors.As(err, &fe) {
			return &Result{
				ContentType: ContentVideo,
				SourceURL:   url,
				Decision:    classifier.Review,
				Reason:      ReasonURLAccessFailed,
				FetchStatus: fe.StatusCode,
				Error:       err.Error(),
			}, err
		}
		m.log.Warnf("open video %s: %v", url, err)
		return m.done(url, processingError(ContentVideo, url, err)), nil
	}
	defer release()

	sampler := video.NewSampler(src, m.config.FrameInterval)
	positions, err := sampler.Positions(ctx)
	if err != nil {
		m.log.Warnf("probe video %s: %v", url, err)
		return m.done(url, processingError(ContentVideo, url, err)), nil
	}
	stream, err := sampler.Dense(ctx)
	if err != nil {
		m.log.Warnf("open dense stream for %s: %v", url, err)
		return m.done(url, processingError(ContentVideo, url, err)), nil
	}
	defer stream.Close()

	m.enter(url, StateClassifying)

	clsCtx, cancelCls := context.WithCancel(ctx)
	defer cancelCls()

	var (
		cls classification
		fpr fingerprintOutcome
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cls = classifyFrames(clsCtx, stream, m.classifier, m.config.Workers, m.onFrame)
		return nil
	})
	g.Go(func() error {
		out, err := m.fingerprint(gctx, sampler, positions)
		if err != nil {
			cancelCls()
			return err
		}
		if out.match != nil {
			cancelCls()
		}
		fpr = out
		return nil
	})
	fpErr := g.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	m.enter(url, cls.state)
	m.enter(url, StateFingerprinting)

	if fpErr != nil {
		if errors.Is(fpErr, hash.ErrWidthMismatch) {
			return nil, fpErr
		}
		m.log.Warnf("fingerprint video %s: %v", url, fpErr)
		return m.done(url, processingError(ContentVideo, url, fpErr)), nil
	}

	if fpr.match != nil {
		best := fpr.match
		m.log.Infof("duplicate video %s matches record %s (%d/%d positions, distance %d)",
			url, best.Record.ID, best.MatchedFields, VideoPositions, best.Distance)
		return m.done(url, &Result{
			ContentType:  ContentVideo,
			SourceURL:    url,
			Duplicate:    true,
			Decision:     best.Record.Decision,
			Reason:       reasonDuplicateVideoPf + string(best.Record.Decision),
			Labels:       best.Record.Labels,
			SimilarItems: Similar(*best),
		}), nil
	}

	if cls.err != nil {
		m.log.Warnf("classify video %s: %v", url, cls.err)
		res := processingError(ContentVideo, url, cls.err)
		res.DuplicateUnknown = fpr.storeErr != nil
		if cls.analyzed > 0 {
			res.FramesAnalyzed = intPtr(cls.analyzed)
		}
		return m.done(url, res), nil
	}

	res := &Result{
		ContentType:        ContentVideo,
		SourceURL:          url,
		DuplicateUnknown:   fpr.storeErr != nil,
		Decision:           cls.decision,
		Reason:             cls.reason,
		Labels:             cls.labels,
		FlaggedAtTimestamp: cls.timestamp,
		Evidence:           cls.evidence,
	}
	if cls.reason != ReasonNoFrames {
		res.FramesAnalyzed = intPtr(cls.analyzed)
	}

	if m.config.Persist {
		rec := &VideoRecord{
			ID:           uuid.NewString(),
			Fingerprints: fpr.fps,
			SourceURL:    url,
			Decision:     cls.decision,
			Labels:       cls.labels,
			CreatedAt:    m.now().UTC(),
		}
		if err := m.store.PutVideo(ctx, rec); err != nil {
			m.log.Warnf("persist video record for %s: %v", url, err)
		} else {
			res.RecordID = rec.ID
		}
	}
	return m.done(url, res), nil
}

func (m *VideoModerator) done(url string, res *Result) *Result {
	m.enter(url, StateDone)
	return res
}

// fingerprint decodes the positional frames and checks them against the
// store. Store failures are reported in the outcome, not as an error.
func (m *VideoModerator) fingerprint(ctx context.Context, sampler *video.Sampler, positions [VideoPositions]float64) (fingerprintOutcome, error) {
	var out fingerprintOutcome
	imgs, err := sampler.FramesAt(ctx, positions)
	if err != nil {
		return out, err
	}
	for i, img := range imgs {
		fp, err := m.extractor.Extract(img)
		if err != nil {
			return out, fmt.Errorf("position %d: %w", i, err)
		}
		out.fps[i] = fp
	}

	match, err := m.matcher.MatchVideo(ctx, out.fps)
	switch {
	case errors.Is(err, hash.ErrWidthMismatch):
		return out, err
	case err != nil:
		m.log.Warnf("video duplicate check degraded: %v", err)
		out.storeErr = err
	default:
		out.match = match
	}
	return out, nil
}
