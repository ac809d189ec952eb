// Package media fetches remote images and videos for analysis.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// FetchError reports a media URL that could not be retrieved. StatusCode is
// zero when no HTTP response was received.
type FetchError struct {
	StatusCode int
	URL        string
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status code %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ErrTooLarge indicates the body exceeded the configured limit.
var ErrTooLarge = errors.New("media: body exceeds size limit")

// Config holds configuration for Fetcher.
type Config struct {
	Timeout       time.Duration
	MaxImageBytes int64
	MaxVideoBytes int64
	UserAgent     string
	TempDir       string
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:       30 * time.Second,
		MaxImageBytes: 20 << 20,
		MaxVideoBytes: 512 << 20,
		UserAgent:     "mediaguard/1.0",
	}
}

// Fetcher retrieves media over HTTP.
type Fetcher struct {
	config     Config
	httpClient *http.Client
}

// NewFetcher creates a new Fetcher.
func NewFetcher(config Config) *Fetcher {
	def := DefaultConfig()
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxImageBytes == 0 {
		config.MaxImageBytes = def.MaxImageBytes
	}
	if config.MaxVideoBytes == 0 {
		config.MaxVideoBytes = def.MaxVideoBytes
	}
	if config.UserAgent == "" {
		config.UserAgent = def.UserAgent
	}
	return &Fetcher{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

func (f *Fetcher) get(ctx context.Context, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, &FetchError{StatusCode: resp.StatusCode, URL: url}
	}
	return resp, nil
}

// Fetch downloads an image body into memory.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := f.get(ctx, http.MethodGet, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxImageBytes+1))
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	if int64(len(data)) > f.config.MaxImageBytes {
		return nil, &FetchError{URL: url, Err: ErrTooLarge}
	}
	return data, nil
}

// Probe checks that url is reachable without downloading the body.
func (f *Fetcher) Probe(ctx context.Context, url string) error {
	resp, err := f.get(ctx, http.MethodHead, url)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// headRefused reports whether a HEAD failure only says the server does not
// answer HEAD. The GET decides reachability then.
func headRefused(err error) bool {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return false
	}
	switch fe.StatusCode {
	case http.StatusForbidden, http.StatusMethodNotAllowed, http.StatusNotImplemented:
		return true
	}
	return false
}

// Download streams url into a temporary file. The returned cleanup removes it.
func (f *Fetcher) Download(ctx context.Context, url string) (string, func(), error) {
	if err := f.Probe(ctx, url); err != nil && !headRefused(err) {
		return "", nil, err
	}

	// Videos can take longer than the default client timeout.
	client := &http.Client{Transport: f.httpClient.Transport}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, &FetchError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	resp, err := client.Do(req)
	if err != nil {
		return "", nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return "", nil, &FetchError{StatusCode: resp.StatusCode, URL: url}
	}

	tmp, err := os.CreateTemp(f.config.TempDir, "mediaguard-*.video")
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() { os.Remove(tmp.Name()) }

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, f.config.MaxVideoBytes+1))
	closeErr := tmp.Close()
	if err != nil {
		cleanup()
		return "", nil, &FetchError{URL: url, Err: err}
	}
	if closeErr != nil {
		cleanup()
		return "", nil, fmt.Errorf("close temp file: %w", closeErr)
	}
	if n > f.config.MaxVideoBytes {
		cleanup()
		return "", nil, &FetchError{URL: url, Err: ErrTooLarge}
	}
	return tmp.Name(), cleanup, nil
}
