package conf

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bootstrap is the root of configs/config.yaml.
type Bootstrap struct {
	Server     *Server     `json:"server"`
	Data       *Data       `json:"data"`
	Moderation *Moderation `json:"moderation"`
}

type Server struct {
	HTTP *Server_HTTP `json:"http"`
}

type Server_HTTP struct {
	Network string    `json:"network"`
	Addr    string    `json:"addr"`
	Timeout *Duration `json:"timeout"`
}

type Data struct {
	// Store selects the fingerprint store driver: "postgres" or "memory".
	Store    string         `json:"store"`
	Database *Data_Database `json:"database"`
	Redis    *Data_Redis    `json:"redis"`
	Bloom    *Data_Bloom    `json:"bloom"`
	Minio    *Data_Minio    `json:"minio"`
	Nats     *Data_Nats     `json:"nats"`
}

type Data_Database struct {
	Driver     string     `json:"driver"`
	Source     string     `json:"source"`
	Migrations string     `json:"migrations"`
	Pool       *Data_Pool `json:"pool"`
}

type Data_Pool struct {
	MaxOpenConns    int32 `json:"max_open_conns"`
	MinIdleConns    int32 `json:"min_idle_conns"`
	MaxConnLifetime int   `json:"max_conn_lifetime"`  // minutes
	MaxConnIdleTime int   `json:"max_conn_idle_time"` // minutes
}

type Data_Redis struct {
	Network      string    `json:"network"`
	Addr         string    `json:"addr"`
	Password     string    `json:"password"`
	DB           int       `json:"db"`
	ReadTimeout  *Duration `json:"read_timeout"`
	WriteTimeout *Duration `json:"write_timeout"`
}

// Data_Bloom configures the Redis band pre-filter. Disabled when Redis is
// not configured.
type Data_Bloom struct {
	Enabled bool   `json:"enabled"`
	Key     string `json:"key"`
	Bits    uint   `json:"bits"`
	Hashes  uint   `json:"hashes"`
}

type Data_Minio struct {
	Enabled   bool   `json:"enabled"`
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	UseSSL    bool   `json:"use_ssl"`
}

type Data_Nats struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Subject string `json:"subject"`
}

type Moderation struct {
	Fingerprint *Moderation_Fingerprint `json:"fingerprint"`
	Matching    *Moderation_Matching    `json:"matching"`
	Classifier  *Moderation_Classifier  `json:"classifier"`
	Fetch       *Moderation_Fetch       `json:"fetch"`
	Image       *Moderation_Image       `json:"image"`
	Video       *Moderation_Video       `json:"video"`
	// Persist disables record creation when set to false.
	Persist *bool `json:"persist"`
}

func (m *Moderation) GetFingerprint() *Moderation_Fingerprint {
	if m == nil {
		return nil
	}
	return m.Fingerprint
}

func (m *Moderation) GetMatching() *Moderation_Matching {
	if m == nil {
		return nil
	}
	return m.Matching
}

func (m *Moderation) GetClassifier() *Moderation_Classifier {
	if m == nil {
		return nil
	}
	return m.Classifier
}

func (m *Moderation) GetFetch() *Moderation_Fetch {
	if m == nil {
		return nil
	}
	return m.Fetch
}

func (m *Moderation) GetImage() *Moderation_Image {
	if m == nil {
		return nil
	}
	return m.Image
}

func (m *Moderation) GetVideo() *Moderation_Video {
	if m == nil {
		return nil
	}
	return m.Video
}

type Moderation_Fingerprint struct {
	Width       int `json:"width"`
	MaxBallSize int `json:"max_ball_size"`
}

// Moderation_Matching thresholds are pointers because 0 is a valid
// threshold (exact match only).
type Moderation_Matching struct {
	ImageThreshold *int `json:"image_threshold"`
	VideoThreshold *int `json:"video_threshold"`
	MinMatches     int  `json:"min_matches"`
	Limit          int  `json:"limit"`
}

type Moderation_Classifier struct {
	// Kind is "http" or "grpc".
	Kind       string                `json:"kind"`
	BaseURL    string                `json:"base_url"`
	APIUser    string                `json:"api_user"`
	APISecret  string                `json:"api_secret"`
	GRPCAddr   string                `json:"grpc_addr"`
	Models     string                `json:"models"`
	Timeout    *Duration             `json:"timeout"`
	MaxSide    int                   `json:"max_side"`
	Quality    int                   `json:"quality"`
	Thresholds *Classifier_Threshold `json:"thresholds"`
}

type Classifier_Threshold struct {
	SexualFlagged float64 `json:"sexual_flagged"`
	SexualReview  float64 `json:"sexual_review"`
	LowThreat     float64 `json:"low_threat"`
	DrugFlagged   float64 `json:"drug_flagged"`
	DrugReview    float64 `json:"drug_review"`
	GoreFlagged   float64 `json:"gore_flagged"`
	GoreReview    float64 `json:"gore_review"`
	MedicalReview float64 `json:"medical_review"`
}

type Moderation_Fetch struct {
	Timeout       *Duration `json:"timeout"`
	MaxImageBytes int64     `json:"max_image_bytes"`
	MaxVideoBytes int64     `json:"max_video_bytes"`
	UserAgent     string    `json:"user_agent"`
	TempDir       string    `json:"temp_dir"`
}

type Moderation_Image struct {
	Workers  int `json:"workers"`
	MaxBatch int `json:"max_batch"`
}

type Moderation_Video struct {
	Workers       int       `json:"workers"`
	FrameInterval *Duration `json:"frame_interval"`
	// MaxConcurrent caps videos analysed at once across requests.
	MaxConcurrent int64  `json:"max_concurrent"`
	FFmpegPath    string `json:"ffmpeg_path"`
	FFprobePath   string `json:"ffprobe_path"`
	ScaleWidth    int    `json:"scale_width"`
	Quality       int    `json:"quality"`
}

// Duration is a time.Duration read from a string such as "3s" or a number
// of seconds.
type Duration struct {
	d time.Duration
}

// NewDuration wraps d.
func NewDuration(d time.Duration) *Duration {
	return &Duration{d: d}
}

// AsDuration returns the wrapped value. A nil Duration is zero.
func (d *Duration) AsDuration() time.Duration {
	if d == nil {
		return 0
	}
	return d.d
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case string:
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return fmt.Errorf("conf: invalid duration %q: %w", x, err)
		}
		d.d = parsed
	case float64:
		d.d = time.Duration(x * float64(time.Second))
	case nil:
		d.d = 0
	default:
		return fmt.Errorf("conf: invalid duration %s", b)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.d.String())
}
