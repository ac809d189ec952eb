package biz

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"mediaguard/internal/conf"
	"mediaguard/internal/observability"
	"mediaguard/internal/pkg/classifier"
	"mediaguard/internal/pkg/media"
	"mediaguard/internal/pkg/moderator"
	"mediaguard/internal/pkg/pagination"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrInvalidRequest is returned for requests that fail basic validation.
	ErrInvalidRequest = errors.BadRequest("INVALID_REQUEST", "invalid request")
	// ErrFetchFailed is returned when the media URL cannot be fetched. The
	// original status is carried in the fetch_status metadata.
	ErrFetchFailed = errors.BadRequest("FETCH_ERROR", "media could not be fetched")
)

// BatchEntry is one item of a batch image analysis.
type BatchEntry struct {
	Result *moderator.Result
	Err    error
}

// ModerationUsecase runs analyses and handles what happens around them:
// request ids, evidence, events and metrics.
type ModerationUsecase struct {
	images     *moderator.ImageModerator
	videos     *moderator.VideoModerator
	records    FingerprintRepo
	evidence   EvidenceRepo
	events     DecisionPublisher
	videoSlots *semaphore.Weighted
	log        *log.Helper
	now        func() time.Time
}

// NewModerationUsecase creates a new ModerationUsecase.
func NewModerationUsecase(
	images *moderator.ImageModerator,
	videos *moderator.VideoModerator,
	records FingerprintRepo,
	evidence EvidenceRepo,
	events DecisionPublisher,
	mc *conf.Moderation,
	logger log.Logger,
) *ModerationUsecase {
	slots := int64(4)
	if v := mc.GetVideo(); v != nil && v.MaxConcurrent > 0 {
		slots = v.MaxConcurrent
	}
	return &ModerationUsecase{
		images:     images,
		videos:     videos,
		records:    records,
		evidence:   evidence,
		events:     events,
		videoSlots: semaphore.NewWeighted(slots),
		log:        log.NewHelper(log.With(logger, "module", "biz/moderation")),
		now:        time.Now,
	}
}

// AnalyseImage moderates one image URL.
func (uc *ModerationUsecase) AnalyseImage(ctx context.Context, url string) (*moderator.Result, error) {
	if url == "" {
		return nil, ErrInvalidRequest.WithCause(fmt.Errorf("image_url is required"))
	}
	requestID := uuid.NewString()
	uc.log.Debugf("AnalyseImage: requestID=%s url=%s", requestID, url)

	res, err := uc.images.ModerateImageURL(ctx, url)
	if err != nil {
		return res, uc.mapError(err)
	}
	uc.finish(ctx, requestID, res)
	return res, nil
}

// AnalyseVideo moderates one video URL. At most video.max_concurrent videos
// are analysed at once; further calls wait for a slot.
func (uc *ModerationUsecase) AnalyseVideo(ctx context.Context, url string) (*moderator.Result, error) {
	if url == "" {
		return nil, ErrInvalidRequest.WithCause(fmt.Errorf("video_url is required"))
	}
	if err := uc.videoSlots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer uc.videoSlots.Release(1)
	observability.ActiveVideos.Inc()
	defer observability.ActiveVideos.Dec()

	requestID := uuid.NewString()
	uc.log.Debugf("AnalyseVideo: requestID=%s url=%s", requestID, url)

	res, err := uc.videos.ModerateVideoURL(ctx, url)
	if err != nil {
		return res, uc.mapError(err)
	}
	uc.finish(ctx, requestID, res)
	return res, nil
}

// AnalyseImages moderates a batch of image URLs. Entries keep input order;
// a failed item does not stop the others.
func (uc *ModerationUsecase) AnalyseImages(ctx context.Context, urls []string) ([]BatchEntry, error) {
	if len(urls) == 0 {
		return nil, ErrInvalidRequest.WithCause(fmt.Errorf("image_urls is required"))
	}
	items, err := uc.images.ModerateImageURLs(ctx, urls)
	if err != nil {
		if stderrors.Is(err, moderator.ErrBatchSize) {
			return nil, ErrInvalidRequest.WithCause(err)
		}
		return nil, err
	}

	requestID := uuid.NewString()
	out := make([]BatchEntry, len(items))
	for i, it := range items {
		out[i] = BatchEntry{Result: it.Result}
		if it.Err != nil {
			out[i].Err = uc.mapError(it.Err)
			continue
		}
		uc.finish(ctx, fmt.Sprintf("%s/%d", requestID, i), it.Result)
	}
	return out, nil
}

// ListRecords pages through stored records of one content type.
func (uc *ModerationUsecase) ListRecords(ctx context.Context, contentType, cursor string, limit int) (*pagination.Page[moderator.Record], error) {
	ct := moderator.ContentType(contentType)
	if !ct.Valid() {
		return nil, ErrInvalidRequest.WithCause(fmt.Errorf("unknown content_type %q", contentType))
	}
	req := pagination.NewRequest(cursor, limit)
	page, err := uc.records.ListRecords(ctx, ct, req)
	if err != nil {
		if stderrors.Is(err, pagination.ErrInvalidCursor) {
			return nil, ErrInvalidRequest.WithCause(err)
		}
		return nil, err
	}
	total, err := uc.records.CountRecords(ctx, ct)
	if err != nil {
		uc.log.Warnf("count %s records: %v", ct, err)
	} else {
		page.Total = total
	}
	return page, nil
}

// RebuildIndex repopulates the band pre-filter.
func (uc *ModerationUsecase) RebuildIndex(ctx context.Context) (int, error) {
	uc.log.Info("Rebuilding band pre-filter from store")
	n, err := uc.records.RebuildIndex(ctx)
	if err != nil {
		return 0, err
	}
	uc.log.Infof("Rebuilt band pre-filter with %d keys", n)
	return n, nil
}

// finish stores evidence, records metrics and publishes the decision. None
// of these can change the decision; failures are logged.
func (uc *ModerationUsecase) finish(ctx context.Context, requestID string, res *moderator.Result) {
	if res.Decision == classifier.Flagged && len(res.Evidence) > 0 && !res.Duplicate {
		key := evidenceKey(res, requestID, uc.now())
		if err := uc.evidence.Put(ctx, key, res.Evidence, evidenceMime(res)); err != nil {
			uc.log.Warnf("store evidence for %s: %v", res.SourceURL, err)
		} else {
			res.EvidenceKey = key
		}
	}

	observability.Decisions.WithLabelValues(
		string(res.ContentType), string(res.Decision), strconv.FormatBool(res.Duplicate),
	).Inc()

	ev := &DecisionEvent{
		RequestID:   requestID,
		ContentType: string(res.ContentType),
		SourceURL:   res.SourceURL,
		Decision:    string(res.Decision),
		Reason:      res.Reason,
		Duplicate:   res.Duplicate,
		RecordID:    res.RecordID,
		EvidenceKey: res.EvidenceKey,
		At:          uc.now().UTC(),
	}
	if err := uc.events.Publish(ctx, ev); err != nil {
		uc.log.Warnf("publish decision for %s: %v", res.SourceURL, err)
	}
}

func (uc *ModerationUsecase) mapError(err error) error {
	var fe *media.FetchError
	if stderrors.As(err, &fe) {
		md := map[string]string{"url": fe.URL}
		if fe.StatusCode > 0 {
			md["fetch_status"] = strconv.Itoa(fe.StatusCode)
		}
		return ErrFetchFailed.WithCause(err).WithMetadata(md)
	}
	if stderrors.Is(err, media.ErrTooLarge) {
		return ErrFetchFailed.WithCause(err)
	}
	return err
}

func evidenceKey(res *moderator.Result, requestID string, at time.Time) string {
	ext := "bin"
	switch evidenceMime(res) {
	case "image/jpeg":
		ext = "jpg"
	case "image/png":
		ext = "png"
	case "image/gif":
		ext = "gif"
	case "image/webp":
		ext = "webp"
	}
	return fmt.Sprintf("%s/%s/%s.%s", res.ContentType, at.UTC().Format("2006/01/02"), requestID, ext)
}

func evidenceMime(res *moderator.Result) string {
	if res.ContentType == moderator.ContentVideo {
		return "image/jpeg"
	}
	return http.DetectContentType(res.Evidence)
}
