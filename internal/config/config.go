package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the Echo Note meeting service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Storage configuration
	DataDir    string `envconfig:"DATA_DIR" default:"./data"`       // Legacy JSON documents live here; imported once on startup
	UploadsDir string `envconfig:"UPLOADS_DIR" default:"./uploads"` // Per-user audio payload directories
	DBPath     string `envconfig:"DB_PATH" default:"./data/echonote.db"`

	// Auth configuration
	JWTSecret     string `envconfig:"JWT_SECRET" required:"true"`
	TokenTTLHours int    `envconfig:"TOKEN_TTL_HOURS" default:"24"`

	// ASR sidecar configuration
	ASRBaseURL        string  `envconfig:"ASR_BASE_URL" default:"http://localhost:8100"`
	ASRTimeout        int     `envconfig:"ASR_TIMEOUT" default:"120"`         // seconds
	MinSegmentSeconds float64 `envconfig:"MIN_SEGMENT_SECONDS" default:"1.0"` // Segments shorter than this are skipped for clustering
	MaxSpeakers       int     `envconfig:"MAX_SPEAKERS" default:"4"`          // Upper bound on detected speaker clusters

	// Meeting bot service configuration
	BotAPIKey         string `envconfig:"BOT_API_KEY" default:""`
	BotBaseURL        string `envconfig:"BOT_BASE_URL" default:"https://api.meetingbaas.com"`
	BotName           string `envconfig:"BOT_NAME" default:"Echo Note Bot"`
	BotLaunchTimeout  int    `envconfig:"BOT_LAUNCH_TIMEOUT" default:"30"`   // seconds
	BotStatusTimeout  int    `envconfig:"BOT_STATUS_TIMEOUT" default:"10"`   // seconds
	BotFetchTimeout   int    `envconfig:"BOT_FETCH_TIMEOUT" default:"30"`    // seconds
	WaitingRoomExpiry int    `envconfig:"WAITING_ROOM_EXPIRY" default:"600"` // seconds the bot waits in a waiting room

	// Reconciliation configuration
	PollInterval int `envconfig:"POLL_INTERVAL" default:"30"` // seconds between poll ticks

	// Chat (Ollama) configuration
	OllamaBaseURL string `envconfig:"OLLAMA_BASE_URL" default:"http://localhost:11434"`
	OllamaModel   string `envconfig:"OLLAMA_MODEL" default:"gemma:2b"`
	OllamaTimeout int    `envconfig:"OLLAMA_TIMEOUT" default:"60"` // seconds

	// Resilience configuration
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Validate required fields
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.MaxSpeakers < 1 {
		return nil, fmt.Errorf("MAX_SPEAKERS must be at least 1")
	}
	if cfg.PollInterval < 1 {
		return nil, fmt.Errorf("POLL_INTERVAL must be at least 1 second")
	}

	return &cfg, nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
