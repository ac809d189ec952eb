package classifier

import (
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ClassifyMethod is the unary method the model server exposes. Request and
// reply are google.protobuf.Struct values; the reply has the same shape as
// the HTTP API's JSON.
const ClassifyMethod = "/mediaguard.classifier.v1.Classifier/Classify"

// GRPCConfig holds configuration for the gRPC classifier.
type GRPCConfig struct {
	Address    string // e.g. "localhost:50051"
	Models     string
	Timeout    time.Duration
	MaxSide    int
	Quality    int
	Thresholds Thresholds
}

// DefaultGRPCConfig returns default gRPC configuration.
func DefaultGRPCConfig() GRPCConfig {
	return GRPCConfig{
		Address:    "localhost:50051",
		Models:     DefaultConfig().Models,
		Timeout:    30 * time.Second,
		MaxSide:    1024,
		Quality:    85,
		Thresholds: DefaultThresholds(),
	}
}

// Dial creates a new gRPC client connection from config.
// Caller is responsible for closing the connection.
func Dial(cfg GRPCConfig, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("classifier: failed to dial %s: %w", cfg.Address, err)
	}
	return conn, nil
}

// GRPCClient classifies frames through a gRPC model server.
type GRPCClient struct {
	config GRPCConfig
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	eval   *Evaluator
}

// NewGRPCClient wraps an established connection.
func NewGRPCClient(conn *grpc.ClientConn, config GRPCConfig) *GRPCClient {
	def := DefaultGRPCConfig()
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Models == "" {
		config.Models = def.Models
	}
	if config.Thresholds == (Thresholds{}) {
		config.Thresholds = def.Thresholds
	}
	return &GRPCClient{
		config: config,
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		eval:   NewEvaluator(config.Thresholds),
	}
}

// Close closes the gRPC connection.
func (c *GRPCClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Classify encodes img and classifies it.
func (c *GRPCClient) Classify(ctx context.Context, img image.Image) (*Result, error) {
	data, err := EncodeJPEG(img, c.config.MaxSide, c.config.Quality)
	if err != nil {
		return nil, err
	}
	return c.ClassifyBytes(ctx, data)
}

// ClassifyBytes classifies already-encoded image bytes.
func (c *GRPCClient) ClassifyBytes(ctx context.Context, imageData []byte) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := structpb.NewStruct(map[string]any{
		"media":  base64.StdEncoding.EncodeToString(imageData),
		"models": c.config.Models,
	})
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, ClassifyMethod, req, resp); err != nil {
		return nil, fmt.Errorf("%w: gRPC Classify: %v", ErrClassifier, err)
	}

	if s := resp.GetFields()["status"].GetStringValue(); s != "" && s != "success" {
		return nil, fmt.Errorf("%w: %s", ErrClassifier, s)
	}
	raw, err := protojson.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal reply: %v", ErrClassifier, err)
	}
	return c.eval.Evaluate(raw)
}

// Ping checks the model server through the standard health service.
func (c *GRPCClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("gRPC health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("classifier not serving: %s", resp.GetStatus())
	}
	return nil
}
