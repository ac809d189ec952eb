package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// Config holds configuration for the HTTP classifier.
type Config struct {
	BaseURL   string // e.g. "https://api.sightengine.com"
	APIUser   string
	APISecret string
	Models    string
	Timeout   time.Duration
	// MaxSide bounds the uploaded frame's longest edge.
	MaxSide    int
	Quality    int
	Thresholds Thresholds
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "https://api.sightengine.com",
		Models:     "nudity-2.1,recreational_drug,medical,gore-2.0",
		Timeout:    30 * time.Second,
		MaxSide:    1024,
		Quality:    85,
		Thresholds: DefaultThresholds(),
	}
}

// Client classifies frames through a multipart HTTP API.
type Client struct {
	config     Config
	httpClient *http.Client
	eval       *Evaluator
}

// NewClient creates a new HTTP classifier client.
func NewClient(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Models == "" {
		config.Models = def.Models
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Thresholds == (Thresholds{}) {
		config.Thresholds = def.Thresholds
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		eval: NewEvaluator(config.Thresholds),
	}
}

type apiError struct {
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type apiStatus struct {
	Status string    `json:"status"`
	Error  *apiError `json:"error,omitempty"`
}

// Classify encodes img and classifies it.
func (c *Client) Classify(ctx context.Context, img image.Image) (*Result, error) {
	data, err := EncodeJPEG(img, c.config.MaxSide, c.config.Quality)
	if err != nil {
		return nil, err
	}
	return c.ClassifyBytes(ctx, data)
}

// ClassifyBytes classifies already-encoded image bytes.
func (c *Client) ClassifyBytes(ctx context.Context, imageData []byte) (*Result, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("media", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	for k, v := range map[string]string{
		"models":     c.config.Models,
		"api_user":   c.config.APIUser,
		"api_secret": c.config.APISecret,
	} {
		if err := writer.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/1.0/check.json", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClassifier, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrClassifier, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrClassifier, resp.StatusCode, string(respBody))
	}

	var status apiStatus
	if err := json.Unmarshal(respBody, &status); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrClassifier, err)
	}
	if status.Status != "success" {
		msg := status.Status
		if status.Error != nil {
			msg = status.Error.Message
		}
		return nil, fmt.Errorf("%w: %s", ErrClassifier, msg)
	}

	return c.eval.Evaluate(respBody)
}
