package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable read from the environment.
type Config struct {
	HTTPHost string
	HTTPPort int

	DBPath  string
	ROIPath string

	EnableCapture    bool
	EnableDetection  bool
	DetectorRequired bool

	CaptureBackend string
	CaptureWidth   int
	CaptureHeight  int
	CaptureFPS     int

	Detector       string
	YOLOEndpoint   string
	YOLOGRPCAddr   string
	DNNModel       string
	DNNConfig      string
	DNNLabels      string
	DetectConf     float32
	InferEvery     int
	TargetClassIDs []int
	TargetLabels   []string
	MinAreaRatio   float64

	MissingWindow  int
	WarnThreshold  float64
	AlertThreshold float64
	PresentGrace   int

	EdgeAPIKey  string
	StreamToken string
	JWTSecret   string
	JWTExpiry   time.Duration

	TelegramToken    string
	TelegramAPIBase  string
	TelegramCooldown time.Duration
	TelegramCommands bool

	CORSOrigins []string

	LogLevel  string
	LogFormat string
}

// Load reads .env (if present) and the process environment. Variables already
// set in the environment win over .env entries.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (*Config, error) {
	enableYOLO := getEnvAsBool("ENABLE_YOLO", true)

	cfg := &Config{
		HTTPHost: getEnv("HTTP_HOST", "0.0.0.0"),
		HTTPPort: getEnvAsInt("HTTP_PORT", 8000),

		DBPath:  getEnv("DB_PATH", "kotakwatch.db"),
		ROIPath: getEnv("ROI_PATH", "roi_config.json"),

		EnableCapture:    getEnvAsBool("ENABLE_CAPTURE", true),
		EnableDetection:  enableYOLO,
		DetectorRequired: getEnvAsBool("DETECTOR_REQUIRED", enableYOLO),

		CaptureBackend: strings.ToLower(getEnv("CAPTURE_BACKEND", "ffmpeg")),
		CaptureWidth:   getEnvAsInt("CAPTURE_WIDTH", 640),
		CaptureHeight:  getEnvAsInt("CAPTURE_HEIGHT", 480),
		CaptureFPS:     getEnvAsInt("CAPTURE_FPS", 15),

		Detector:       strings.ToLower(getEnv("DETECTOR", "http")),
		YOLOEndpoint:   strings.TrimRight(getEnv("YOLO_ENDPOINT", "http://localhost:8001"), "/"),
		YOLOGRPCAddr:   getEnv("YOLO_GRPC_ADDR", "localhost:50051"),
		DNNModel:       getEnv("DNN_MODEL", ""),
		DNNConfig:      getEnv("DNN_CONFIG", ""),
		DNNLabels:      getEnv("DNN_LABELS", ""),
		DetectConf:     float32(getEnvAsFloat("YOLO_CONF", 0.50)),
		InferEvery:     getEnvAsInt("INFER_EVERY", 1),
		TargetClassIDs: getEnvAsIntList("TARGET_CLASS_IDS"),
		TargetLabels:   getEnvAsLowerList("TARGET_LABELS"),
		MinAreaRatio:   getEnvAsFloat("MIN_AREA_RATIO", 0),

		MissingWindow:  getEnvAsInt("MISSING_WINDOW", 24),
		WarnThreshold:  getEnvAsFloat("WARN_THRESHOLD", 0.40),
		AlertThreshold: getEnvAsFloat("ALERT_THRESHOLD", 0.70),
		PresentGrace:   getEnvAsInt("PRESENT_GRACE", 10),

		EdgeAPIKey:  strings.TrimSpace(os.Getenv("EDGE_API_KEY")),
		StreamToken: strings.TrimSpace(os.Getenv("STREAM_TOKEN")),
		JWTSecret:   strings.TrimSpace(getEnv("JWT_SECRET", os.Getenv("SECRET_KEY"))),
		JWTExpiry:   getEnvAsDuration("JWT_EXPIRY", 24*time.Hour),

		TelegramToken:    strings.TrimSpace(os.Getenv("TG_TOKEN")),
		TelegramAPIBase:  strings.TrimRight(getEnv("TG_API_BASE", "https://api.telegram.org"), "/"),
		TelegramCooldown: time.Duration(getEnvAsInt("TG_COOLDOWN", 10)) * time.Second,
		TelegramCommands: getEnvAsBool("TG_COMMANDS", false),

		CORSOrigins: parseOrigins(getEnv("CORS_ORIGINS", "*")),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP_PORT %d", c.HTTPPort)
	}
	if c.InferEvery < 1 {
		return fmt.Errorf("INFER_EVERY must be >= 1, got %d", c.InferEvery)
	}
	if c.MissingWindow < 1 {
		return fmt.Errorf("MISSING_WINDOW must be >= 1, got %d", c.MissingWindow)
	}
	if c.PresentGrace < 0 {
		return fmt.Errorf("PRESENT_GRACE cannot be negative")
	}
	if c.WarnThreshold < 0 || c.AlertThreshold > 1 || c.WarnThreshold > c.AlertThreshold {
		return fmt.Errorf("thresholds must satisfy 0 <= WARN_THRESHOLD <= ALERT_THRESHOLD <= 1")
	}
	if c.MinAreaRatio < 0 || c.MinAreaRatio >= 1 {
		return fmt.Errorf("MIN_AREA_RATIO must be in [0,1)")
	}
	if c.TelegramCooldown < 0 {
		return fmt.Errorf("TG_COOLDOWN cannot be negative")
	}
	switch c.CaptureBackend {
	case "ffmpeg", "opencv":
	default:
		return fmt.Errorf("unknown CAPTURE_BACKEND %q", c.CaptureBackend)
	}
	switch c.Detector {
	case "http", "grpc", "dnn", "none":
	default:
		return fmt.Errorf("unknown DETECTOR %q", c.Detector)
	}
	return nil
}

// Addr returns host:port for the HTTP listener.
func (c *Config) Addr() string {
	return c.HTTPHost + ":" + strconv.Itoa(c.HTTPPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// bare seconds, as JWT_EXPIRE_SECONDS used to be
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func getEnvAsIntList(key string) []int {
	var out []int
	for _, part := range strings.Split(os.Getenv(key), ",") {
		part = strings.TrimSpace(part)
		if n, err := strconv.Atoi(part); err == nil && n >= 0 {
			out = append(out, n)
		}
	}
	return out
}

func getEnvAsLowerList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseOrigins(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "*" {
		return []string{"*"}
	}
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
