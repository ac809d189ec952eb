package biz_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"mediaguard/internal/biz"
	"mediaguard/internal/conf"
	"mediaguard/internal/data"
	"mediaguard/internal/pkg/classifier"
	"mediaguard/internal/pkg/hash"
	"mediaguard/internal/pkg/media"
	"mediaguard/internal/pkg/moderator"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

type stubClassifier struct {
	verdict classifier.Verdict
}

func (c *stubClassifier) Classify(context.Context, image.Image) (*classifier.Result, error) {
	verdicts := map[classifier.Category]classifier.Verdict{classifier.Gore: c.verdict}
	res := &classifier.Result{Verdicts: verdicts}
	res.Decision, res.Reason = classifier.Decide(verdicts)
	return res, nil
}

type memEvidence struct {
	mu   sync.Mutex
	puts map[string]string
}

func (e *memEvidence) Put(_ context.Context, key string, _ []byte, contentType string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.puts[key] = contentType
	return nil
}

type memEvents struct {
	mu     sync.Mutex
	events []*biz.DecisionEvent
}

func (p *memEvents) Publish(_ context.Context, ev *biz.DecisionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

// noise renders a deterministic grey noise field seeded by seed. Distinct
// seeds give unrelated fingerprints.
func noise(seed int64) []byte {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(rng.Intn(256))})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

var (
	imageA = noise(1)
	imageB = noise(2)
)

type fixture struct {
	uc       *biz.ModerationUsecase
	repo     *data.MemoryRepo
	evidence *memEvidence
	events   *memEvents
	base     string
}

func newFixture(t *testing.T, verdict classifier.Verdict) *fixture {
	t.Helper()
	files := map[string][]byte{
		"/a.png": imageA,
		"/b.png": imageB,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	ext, err := hash.NewExtractor(hash.Width64)
	if err != nil {
		t.Fatal(err)
	}
	repo := data.NewMemoryRepo(hash.Width64, 0)
	matcher := moderator.NewMatcher(repo, moderator.DefaultMatcherConfig(hash.Width64))
	cfg := moderator.DefaultImageModeratorConfig()
	cfg.Persist = true
	images := moderator.NewImageModerator(cfg, media.NewFetcher(media.Config{}), ext, &stubClassifier{verdict: verdict}, matcher, repo, log.DefaultLogger)

	f := &fixture{
		repo:     repo,
		evidence: &memEvidence{puts: map[string]string{}},
		events:   &memEvents{},
		base:     srv.URL,
	}
	f.uc = biz.NewModerationUsecase(images, nil, repo, f.evidence, f.events, &conf.Moderation{}, log.DefaultLogger)
	return f
}

func TestAnalyseImage_FlaggedStoresEvidence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, classifier.Flagged)

	res, err := f.uc.AnalyseImage(ctx, f.base+"/a.png")
	if err != nil {
		t.Fatalf("AnalyseImage: %v", err)
	}
	if res.Decision != classifier.Flagged || res.Duplicate {
		t.Fatalf("decision=%s duplicate=%v", res.Decision, res.Duplicate)
	}
	if !strings.HasPrefix(res.EvidenceKey, "image/") || !strings.HasSuffix(res.EvidenceKey, ".png") {
		t.Errorf("EvidenceKey = %q", res.EvidenceKey)
	}
	if ct := f.evidence.puts[res.EvidenceKey]; ct != "image/png" {
		t.Errorf("evidence content type = %q", ct)
	}

	dup, err := f.uc.AnalyseImage(ctx, f.base+"/a.png")
	if err != nil {
		t.Fatal(err)
	}
	if !dup.Duplicate || dup.Decision != classifier.Flagged || dup.Reason != moderator.ReasonDuplicateImage {
		t.Errorf("second call = %+v", dup)
	}
	if dup.EvidenceKey != "" {
		t.Error("duplicates must not store evidence again")
	}
	if len(f.evidence.puts) != 1 {
		t.Errorf("evidence puts = %d", len(f.evidence.puts))
	}

	if len(f.events.events) != 2 {
		t.Fatalf("events = %d; want 2", len(f.events.events))
	}
	if ev := f.events.events[1]; !ev.Duplicate || ev.ContentType != "image" || ev.RequestID == "" {
		t.Errorf("duplicate event = %+v", ev)
	}
}

func TestAnalyseImage_PassStoresNoEvidence(t *testing.T) {
	f := newFixture(t, classifier.Pass)
	res, err := f.uc.AnalyseImage(context.Background(), f.base+"/b.png")
	if err != nil {
		t.Fatal(err)
	}
	if res.Decision != classifier.Pass || res.EvidenceKey != "" || res.RecordID == "" {
		t.Errorf("result = %+v", res)
	}
	if len(f.evidence.puts) != 0 {
		t.Error("evidence stored for a passing image")
	}
}

func TestAnalyseImage_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, classifier.Pass)

	if _, err := f.uc.AnalyseImage(ctx, ""); errors.Reason(err) != "INVALID_REQUEST" {
		t.Errorf("empty url: reason = %q", errors.Reason(err))
	}

	res, err := f.uc.AnalyseImage(ctx, f.base+"/missing.png")
	if errors.Reason(err) != "FETCH_ERROR" {
		t.Fatalf("missing url: reason = %q (%v)", errors.Reason(err), err)
	}
	if got := errors.FromError(err).Metadata["fetch_status"]; got != "404" {
		t.Errorf("fetch_status metadata = %q", got)
	}
	if res == nil || res.FetchStatus != http.StatusNotFound || res.Decision != classifier.Review {
		t.Errorf("result = %+v", res)
	}
	if n, _ := f.repo.CountRecords(ctx, moderator.ContentImage); n != 0 {
		t.Errorf("fetch failure stored %d records", n)
	}
	if len(f.events.events) != 0 {
		t.Error("fetch failure published an event")
	}
}

func TestFixturesAreDistinct(t *testing.T) {
	ext, err := hash.NewExtractor(hash.Width64)
	if err != nil {
		t.Fatal(err)
	}
	a, _, err := ext.ExtractBytes(imageA)
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := ext.ExtractBytes(imageB)
	if err != nil {
		t.Fatal(err)
	}
	d, err := a.Distance(b)
	if err != nil {
		t.Fatal(err)
	}
	if threshold := moderator.DefaultMatcherConfig(hash.Width64).ImageThreshold; d <= threshold {
		t.Fatalf("fixture distance = %d; want above image threshold %d", d, threshold)
	}
}

func TestAnalyseImages_KeepsOrder(t *testing.T) {
	f := newFixture(t, classifier.Review)
	urls := []string{f.base + "/a.png", f.base + "/missing.png", f.base + "/b.png"}

	entries, err := f.uc.AnalyseImages(context.Background(), urls)
	if err != nil {
		t.Fatalf("AnalyseImages: %v", err)
	}
	if len(entries) != len(urls) {
		t.Fatalf("entries = %d", len(entries))
	}
	for i, e := range entries {
		if e.Result == nil || e.Result.SourceURL != urls[i] {
			t.Errorf("entry %d out of order: %+v", i, e.Result)
		}
	}
	if errors.Reason(entries[1].Err) != "FETCH_ERROR" {
		t.Errorf("entry 1 err = %v", entries[1].Err)
	}
	if entries[0].Err != nil || entries[2].Err != nil {
		t.Errorf("healthy entries failed: %v, %v", entries[0].Err, entries[2].Err)
	}
	for _, i := range []int{0, 2} {
		if entries[i].Result != nil && entries[i].Result.Duplicate {
			t.Errorf("entry %d reported as duplicate", i)
		}
	}

	if _, err := f.uc.AnalyseImages(context.Background(), nil); errors.Reason(err) != "INVALID_REQUEST" {
		t.Errorf("empty batch: %v", err)
	}
	tooMany := make([]string, 11)
	for i := range tooMany {
		tooMany[i] = urls[0]
	}
	if _, err := f.uc.AnalyseImages(context.Background(), tooMany); errors.Reason(err) != "INVALID_REQUEST" {
		t.Errorf("oversized batch: %v", err)
	}
}

func TestListRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, classifier.Pass)
	for _, p := range []string{"/a.png", "/b.png"} {
		if _, err := f.uc.AnalyseImage(ctx, f.base+p); err != nil {
			t.Fatal(err)
		}
	}

	page, err := f.uc.ListRecords(ctx, "image", "", 1)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(page.Items) != 1 || !page.HasMore || page.Total != 2 {
		t.Errorf("page = %+v", page)
	}

	if _, err := f.uc.ListRecords(ctx, "audio", "", 1); errors.Reason(err) != "INVALID_REQUEST" {
		t.Errorf("unknown content type: %v", err)
	}
	if _, err := f.uc.ListRecords(ctx, "image", "%%%", 1); errors.Reason(err) != "INVALID_REQUEST" {
		t.Errorf("bad cursor: %v", err)
	}
}
