package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mediaguard/internal/biz"
	"mediaguard/internal/conf"
	"mediaguard/internal/data"
	"mediaguard/internal/pkg/hash"
	"mediaguard/internal/service"

	"github.com/go-kratos/kratos/v2/log"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	repo := data.NewMemoryRepo(hash.Width64, 0)
	uc := biz.NewModerationUsecase(nil, nil, repo, nil, nil, &conf.Moderation{}, log.DefaultLogger)
	srv := NewHTTPServer(&conf.Server{}, service.NewModerationService(uc), service.NewAdminService(uc), log.DefaultLogger)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func TestHTTPServer_Routes(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
		wantBody string
	}{
		{"health", http.MethodGet, "/healthz", "", http.StatusOK, "ok"},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK, "go_goroutines"},
		{"missing image url", http.MethodPost, "/v1/analyse/image", `{}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing video url", http.MethodPost, "/v1/analyse/video", `{"video_url":""}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"empty batch", http.MethodPost, "/v1/analyse/images/batch", `{"image_urls":[]}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"records", http.MethodGet, "/v1/records?content_type=video&limit=5", "", http.StatusOK, `"has_more":false`},
		{"records bad type", http.MethodGet, "/v1/records?content_type=audio", "", http.StatusBadRequest, "INVALID_REQUEST"},
		{"rebuild", http.MethodPost, "/v1/index/rebuild", `{}`, http.StatusOK, `"success":true`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, body)
			if err != nil {
				t.Fatal(err)
			}
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			got, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != tt.wantCode {
				t.Errorf("status = %d; want %d (%s)", resp.StatusCode, tt.wantCode, got)
			}
			if !strings.Contains(string(got), tt.wantBody) {
				t.Errorf("body %s does not contain %q", got, tt.wantBody)
			}
		})
	}
}

func TestHTTPServer_ListRecordsShape(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/v1/records")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out service.ListRecordsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Total != 0 || out.HasMore || out.NextCursor != "" {
		t.Errorf("empty store listing = %+v", out)
	}
}
