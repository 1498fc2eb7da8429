package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// StorageBackend selects the storage adapter.
type StorageBackend string

const (
	StorageLocal StorageBackend = "local"
	StorageS3    StorageBackend = "s3"
)

// ImageBackend selects the pixel pipeline implementation.
type ImageBackend string

const (
	BackendStdlib ImageBackend = "stdlib"
	BackendVips   ImageBackend = "vips"
)

// Config is the top-level configuration struct.  All fields have safe defaults
// so callers can start with Default() and override only what they need.
type Config struct {
	// Worker pool controls.
	WorkerCount int // default: runtime.NumCPU()
	QueueSize   int // max queued jobs before backpressure; default: 256
	JobTimeout  time.Duration

	// Retry.
	MaxRetries int
	RetryDelay time.Duration

	// Streaming / memory limits.
	MaxImageBytes int64 // 0 = no limit
	ChunkSize     int   // streaming chunk size in bytes; default 32 KiB

	// Rendering.
	Backend ImageBackend
	Preview PreviewConfig
	// FinalQuality is the JPEG quality used for exports.
	FinalQuality int

	// Sessions.
	Session SessionConfig

	// Storage.
	Storage StorageBackend
	Local   LocalConfig
	S3      S3Config

	// DatabaseURL enables the Postgres asset catalog when set.
	DatabaseURL string

	Server ServerConfig

	// Logging.
	AppEnv   string
	LogLevel string // "debug", "info", "warn", "error"
}

// PreviewConfig bounds the low-latency preview render.
type PreviewConfig struct {
	MaxDimension int
	Quality      int
}

// SessionConfig tunes the per-image edit sessions.
type SessionConfig struct {
	// RunTimeout bounds a single preview run.
	RunTimeout time.Duration
	// IdleTTL is how long an unbound idle session survives before the sweeper
	// drops it.
	IdleTTL time.Duration
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port            string
	PublicBaseURL   string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxUploadBytes  int64
	AllowedOrigins  []string
	RateLimitPerMin int
}

// LocalConfig configures the local filesystem storage adapter.
type LocalConfig struct {
	RootDir     string
	Permissions uint32 // default 0644
}

// S3Config configures the AWS S3 storage adapter.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional custom endpoint (MinIO, etc.)
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		WorkerCount:   0, // resolved at runtime to NumCPU
		QueueSize:     256,
		JobTimeout:    30 * time.Second,
		MaxRetries:    3,
		RetryDelay:    200 * time.Millisecond,
		MaxImageBytes: 32 << 20,
		ChunkSize:     32 * 1024,
		Backend:       BackendStdlib,
		Preview: PreviewConfig{
			MaxDimension: 800,
			Quality:      60,
		},
		FinalQuality: 100,
		Session: SessionConfig{
			RunTimeout: 20 * time.Second,
			IdleTTL:    10 * time.Minute,
		},
		Storage: StorageLocal,
		Local: LocalConfig{
			RootDir:     "uploads",
			Permissions: 0o644,
		},
		Server: ServerConfig{
			Port:            "3000",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxUploadBytes:  16 << 20,
			AllowedOrigins:  []string{"*"},
			RateLimitPerMin: 30,
		},
		AppEnv:   "development",
		LogLevel: "info",
	}
}

// Load reads .env files (when present) and overlays environment variables on
// top of Default().  The result is validated before it is returned.
func Load() (Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	c := Default()
	c.AppEnv = getEnv("APP_ENV", c.AppEnv)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Backend = ImageBackend(strings.ToLower(getEnv("IMAGE_BACKEND", string(c.Backend))))

	c.WorkerCount = getEnvInt("WORKER_COUNT", c.WorkerCount)
	c.QueueSize = getEnvInt("QUEUE_SIZE", c.QueueSize)
	c.JobTimeout = getEnvSeconds("JOB_TIMEOUT_SECONDS", c.JobTimeout)
	c.MaxRetries = getEnvInt("MAX_RETRIES", c.MaxRetries)

	c.Preview.MaxDimension = getEnvInt("PREVIEW_MAX_DIMENSION", c.Preview.MaxDimension)
	c.Preview.Quality = getEnvInt("PREVIEW_QUALITY", c.Preview.Quality)
	c.FinalQuality = getEnvInt("FINAL_QUALITY", c.FinalQuality)

	c.Session.RunTimeout = getEnvSeconds("RUN_TIMEOUT_SECONDS", c.Session.RunTimeout)
	c.Session.IdleTTL = getEnvSeconds("SESSION_IDLE_TTL_SECONDS", c.Session.IdleTTL)

	c.Storage = StorageBackend(strings.ToLower(getEnv("STORAGE_BACKEND", string(c.Storage))))
	c.Local.RootDir = getEnv("STORAGE_ROOT", c.Local.RootDir)
	c.S3 = S3Config{
		Bucket:          os.Getenv("S3_BUCKET"),
		Region:          getEnv("S3_REGION", "us-east-1"),
		Endpoint:        os.Getenv("S3_ENDPOINT"),
		AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		UsePathStyle:    getEnvBool("S3_USE_PATH_STYLE", false),
	}

	c.DatabaseURL = os.Getenv("DATABASE_URL")

	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.PublicBaseURL = strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/")
	c.Server.ReadTimeout = getEnvSeconds("HTTP_READ_TIMEOUT_SECONDS", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvSeconds("HTTP_WRITE_TIMEOUT_SECONDS", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvSeconds("HTTP_IDLE_TIMEOUT_SECONDS", c.Server.IdleTimeout)
	c.Server.MaxUploadBytes = int64(getEnvInt("MAX_UPLOAD_BYTES", int(c.Server.MaxUploadBytes)))
	c.Server.RateLimitPerMin = getEnvInt("RATE_LIMIT_PER_MINUTE", c.Server.RateLimitPerMin)
	if origins := getEnvList("CORS_ALLOWED_ORIGINS"); len(origins) > 0 {
		c.Server.AllowedOrigins = origins
	}

	if c.MaxImageBytes < c.Server.MaxUploadBytes {
		c.MaxImageBytes = c.Server.MaxUploadBytes
	}

	if err := Validate(c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if c.ChunkSize <= 0 {
		return errors.New("config: ChunkSize must be positive")
	}
	if c.Preview.Quality < 1 || c.Preview.Quality > 100 {
		return errors.New("config: Preview.Quality must be between 1 and 100")
	}
	if c.FinalQuality < 1 || c.FinalQuality > 100 {
		return errors.New("config: FinalQuality must be between 1 and 100")
	}
	if c.Preview.MaxDimension <= 0 {
		return errors.New("config: Preview.MaxDimension must be positive")
	}
	switch c.Backend {
	case BackendStdlib, BackendVips:
	default:
		return errors.New("config: IMAGE_BACKEND must be stdlib or vips")
	}
	switch c.Storage {
	case StorageLocal:
		if c.Local.RootDir == "" {
			return errors.New("config: STORAGE_ROOT is required for local storage")
		}
	case StorageS3:
		if c.S3.Bucket == "" {
			return errors.New("config: S3_BUCKET is required for s3 storage")
		}
	default:
		return errors.New("config: STORAGE_BACKEND must be local or s3")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return errors.New("config: MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
