package data

import (
	"context"
	"image"
	"time"

	"mediaguard/internal/conf"
	"mediaguard/internal/observability"
	"mediaguard/internal/pkg/classifier"
	"mediaguard/internal/pkg/hash"
	"mediaguard/internal/pkg/media"
	"mediaguard/internal/pkg/moderator"
	"mediaguard/internal/pkg/video"

	"github.com/go-kratos/kratos/v2/log"
)

const (
	ClassifierHTTP = "http"
	ClassifierGRPC = "grpc"
)

// NewExtractor creates the fingerprint extractor for the configured width.
func NewExtractor(mc *conf.Moderation) (*hash.Extractor, error) {
	return hash.NewExtractor(fingerprintWidth(mc))
}

// NewMatcher creates the matcher. Unset thresholds use the width defaults.
func NewMatcher(store moderator.FingerprintStore, mc *conf.Moderation) *moderator.Matcher {
	cfg := moderator.DefaultMatcherConfig(fingerprintWidth(mc))
	if m := mc.GetMatching(); m != nil {
		if m.ImageThreshold != nil {
			cfg.ImageThreshold = *m.ImageThreshold
		}
		if m.VideoThreshold != nil {
			cfg.VideoThreshold = *m.VideoThreshold
		}
		if m.MinMatches > 0 {
			cfg.MinMatches = m.MinMatches
		}
		if m.Limit > 0 {
			cfg.Limit = m.Limit
		}
	}
	return moderator.NewMatcher(store, cfg)
}

// NewFetcher creates the media fetcher.
func NewFetcher(mc *conf.Moderation) *media.Fetcher {
	cfg := media.DefaultConfig()
	if f := mc.GetFetch(); f != nil {
		if f.Timeout != nil {
			cfg.Timeout = f.Timeout.AsDuration()
		}
		if f.MaxImageBytes > 0 {
			cfg.MaxImageBytes = f.MaxImageBytes
		}
		if f.MaxVideoBytes > 0 {
			cfg.MaxVideoBytes = f.MaxVideoBytes
		}
		if f.UserAgent != "" {
			cfg.UserAgent = f.UserAgent
		}
		if f.TempDir != "" {
			cfg.TempDir = f.TempDir
		}
	}
	return media.NewFetcher(cfg)
}

// NewFFmpeg creates the ffmpeg frame source factory.
func NewFFmpeg(mc *conf.Moderation, logger log.Logger) *video.FFmpeg {
	cfg := video.DefaultFFmpegConfig()
	if v := mc.GetVideo(); v != nil {
		if v.FFmpegPath != "" {
			cfg.FFmpegPath = v.FFmpegPath
		}
		if v.FFprobePath != "" {
			cfg.FFprobePath = v.FFprobePath
		}
		if v.ScaleWidth > 0 {
			cfg.ScaleWidth = v.ScaleWidth
		}
		if v.Quality > 0 {
			cfg.Quality = v.Quality
		}
	}
	return video.NewFFmpeg(cfg, logger)
}

// NewVideoOpener downloads videos before decoding them.
func NewVideoOpener(f *media.Fetcher, ff *video.FFmpeg) moderator.VideoOpener {
	return &moderator.DownloadOpener{Fetcher: f, FFmpeg: ff}
}

// instrumentedClassifier records call outcomes and latency.
type instrumentedClassifier struct {
	next moderator.Classifier
}

func (c instrumentedClassifier) Classify(ctx context.Context, img image.Image) (*classifier.Result, error) {
	start := time.Now()
	res, err := c.next.Classify(ctx, img)
	observability.ClassifierDuration.Observe(time.Since(start).Seconds())
	outcome := "ok"
	switch {
	case err != nil && ctx.Err() != nil:
		outcome = "cancelled"
	case err != nil:
		outcome = "error"
	}
	observability.ClassifierCalls.WithLabelValues(outcome).Inc()
	return res, err
}

func thresholdsFrom(t *conf.Classifier_Threshold) classifier.Thresholds {
	def := classifier.DefaultThresholds()
	if t == nil {
		return def
	}
	pick := func(v, d float64) float64 {
		if v > 0 {
			return v
		}
		return d
	}
	return classifier.Thresholds{
		SexualFlagged: pick(t.SexualFlagged, def.SexualFlagged),
		SexualReview:  pick(t.SexualReview, def.SexualReview),
		LowThreat:     pick(t.LowThreat, def.LowThreat),
		DrugFlagged:   pick(t.DrugFlagged, def.DrugFlagged),
		DrugReview:    pick(t.DrugReview, def.DrugReview),
		GoreFlagged:   pick(t.GoreFlagged, def.GoreFlagged),
		GoreReview:    pick(t.GoreReview, def.GoreReview),
		MedicalReview: pick(t.MedicalReview, def.MedicalReview),
	}
}

// NewClassifier creates the frame classifier selected by classifier.kind.
func NewClassifier(mc *conf.Moderation, logger log.Logger) (moderator.Classifier, func(), error) {
	helper := log.NewHelper(log.With(logger, "module", "data/classifier"))
	cc := mc.GetClassifier()
	if cc == nil {
		cc = &conf.Moderation_Classifier{}
	}

	if cc.Kind == ClassifierGRPC {
		cfg := classifier.DefaultGRPCConfig()
		if cc.GRPCAddr != "" {
			cfg.Address = cc.GRPCAddr
		}
		if cc.Models != "" {
			cfg.Models = cc.Models
		}
		if cc.Timeout != nil {
			cfg.Timeout = cc.Timeout.AsDuration()
		}
		if cc.MaxSide > 0 {
			cfg.MaxSide = cc.MaxSide
		}
		if cc.Quality > 0 {
			cfg.Quality = cc.Quality
		}
		cfg.Thresholds = thresholdsFrom(cc.Thresholds)

		conn, err := classifier.Dial(cfg)
		if err != nil {
			return nil, nil, err
		}
		client := classifier.NewGRPCClient(conn, cfg)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx); err != nil {
			helper.Warnf("classifier at %s not serving yet: %v", cfg.Address, err)
		}
		helper.Infof("classifier gRPC client targeting %s", cfg.Address)

		cleanup := func() {
			helper.Info("closing classifier gRPC connection")
			client.Close()
		}
		return instrumentedClassifier{next: client}, cleanup, nil
	}

	cfg := classifier.DefaultConfig()
	if cc.BaseURL != "" {
		cfg.BaseURL = cc.BaseURL
	}
	cfg.APIUser = cc.APIUser
	cfg.APISecret = cc.APISecret
	if cc.Models != "" {
		cfg.Models = cc.Models
	}
	if cc.Timeout != nil {
		cfg.Timeout = cc.Timeout.AsDuration()
	}
	if cc.MaxSide > 0 {
		cfg.MaxSide = cc.MaxSide
	}
	if cc.Quality > 0 {
		cfg.Quality = cc.Quality
	}
	cfg.Thresholds = thresholdsFrom(cc.Thresholds)
	helper.Infof("classifier HTTP client targeting %s", cfg.BaseURL)
	return instrumentedClassifier{next: classifier.NewClient(cfg)}, func() {}, nil
}

func persist(mc *conf.Moderation) bool {
	return mc == nil || mc.Persist == nil || *mc.Persist
}

// NewImageModerator creates the image moderator.
func NewImageModerator(
	mc *conf.Moderation,
	fetcher *media.Fetcher,
	extractor *hash.Extractor,
	cls moderator.Classifier,
	matcher *moderator.Matcher,
	store moderator.FingerprintStore,
	logger log.Logger,
) *moderator.ImageModerator {
	config := moderator.DefaultImageModeratorConfig()
	if ic := mc.GetImage(); ic != nil {
		if ic.Workers > 0 {
			config.Workers = ic.Workers
		}
		if ic.MaxBatch > 0 {
			config.MaxBatch = ic.MaxBatch
		}
	}
	config.Persist = persist(mc)
	return moderator.NewImageModerator(config, fetcher, extractor, cls, matcher, store, logger)
}

// NewVideoModerator creates the video moderator with metric observers.
func NewVideoModerator(
	mc *conf.Moderation,
	opener moderator.VideoOpener,
	extractor *hash.Extractor,
	cls moderator.Classifier,
	matcher *moderator.Matcher,
	store moderator.FingerprintStore,
	logger log.Logger,
) *moderator.VideoModerator {
	config := moderator.DefaultVideoModeratorConfig()
	if vc := mc.GetVideo(); vc != nil {
		if vc.Workers > 0 {
			config.Workers = vc.Workers
		}
		if vc.FrameInterval != nil {
			config.FrameInterval = vc.FrameInterval.AsDuration()
		}
	}
	config.Persist = persist(mc)
	return moderator.NewVideoModerator(config, opener, extractor, cls, matcher, store, logger,
		moderator.WithFrameObserver(func(video.Frame, *classifier.Result, error) {
			observability.FramesClassified.Inc()
		}),
		moderator.WithStateObserver(func(_ string, s moderator.State) {
			if s == moderator.StateEarlyFlagged {
				observability.EarlyTerminations.Inc()
			}
		}),
	)
}
