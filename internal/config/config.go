package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server      ServerConfig      `toml:"server"`      // HTTP server settings
	Logging     LoggingConfig     `toml:"logging"`     // Application logging settings
	Storage     StorageConfig     `toml:"storage"`     // Record persistence and staging settings
	Blob        BlobConfig        `toml:"blob"`        // Object storage (MinIO/S3) settings
	Transcriber TranscriberConfig `toml:"transcriber"` // Speech-to-text backend settings
	Pipeline    PipelineConfig    `toml:"pipeline"`    // Ingestion pipeline settings
	Archiver    ArchiverConfig    `toml:"archiver"`    // Archival sweeper settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Host             string `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	Port             int    `toml:"port"`                  // HTTP port for the server
	ReadTimeoutSecs  int    `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request
	WriteTimeoutSecs int    `toml:"write_timeout_seconds"` // Maximum duration for writing the response
	IdleTimeoutSecs  int    `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// StorageConfig contains record persistence configuration
type StorageConfig struct {
	SQLitePath  string `toml:"sqlite_path"`  // Path to the SQLite database file
	StagingPath string `toml:"staging_path"` // Directory for the durable submission staging store
}

// BlobConfig contains object storage configuration.
// Credentials may be supplied via MINIO_ACCESS_KEY / MINIO_SECRET_KEY
// environment variables instead of the config file.
type BlobConfig struct {
	Endpoint  string `toml:"endpoint"`   // Object store endpoint (host:port)
	AccessKey string `toml:"access_key"` // Access key (or MINIO_ACCESS_KEY env var)
	SecretKey string `toml:"secret_key"` // Secret key (or MINIO_SECRET_KEY env var)
	Bucket    string `toml:"bucket"`     // Bucket holding audio/transcription pairs
	UseSSL    bool   `toml:"use_ssl"`    // Use HTTPS when talking to the object store
}

// TranscriberConfig contains settings for the speech-to-text backend
type TranscriberConfig struct {
	// Backend selection. Allowed values:
	// - "whisper": self-hosted whisper HTTP service (multipart POST, JSON response)
	// - "openai":  OpenAI Whisper API
	// - "gemini":  Google Gemini with inline audio
	Backend string `toml:"backend"`

	// Whisper backend settings (used when backend = "whisper")
	WhisperURL string `toml:"whisper_url"` // Full URL of the prediction endpoint (e.g., http://nn:8000/predict)

	// OpenAI backend settings (used when backend = "openai")
	OpenAIAPIKey string `toml:"openai_api_key"` // OpenAI API key (or OPENAI_API_KEY env var)
	OpenAIModel  string `toml:"openai_model"`   // Transcription model (default: whisper-1)

	// Gemini backend settings (used when backend = "gemini")
	GeminiAPIKey string `toml:"gemini_api_key"` // Gemini API key (or GEMINI_API_KEY env var)
	GeminiModel  string `toml:"gemini_model"`   // Generation model (default: gemini-2.0-flash)

	// Call bounds, applied to every backend
	TimeoutSeconds        int `toml:"timeout_seconds"`          // Hard bound on a single transcription call (default: 120)
	MaxRetries            int `toml:"max_retries"`              // Transient-failure retries at the adapter boundary (default: 2)
	RetryInitialBackoffMs int `toml:"retry_initial_backoff_ms"` // Initial backoff between retries (default: 500)
}

// PipelineConfig contains ingestion pipeline settings
type PipelineConfig struct {
	MaxAudioBytes     int64 `toml:"max_audio_bytes"`     // Maximum accepted audio payload size (default: 20 MiB, the bot transport limit)
	PendingTTLSeconds int   `toml:"pending_ttl_seconds"` // Lifetime of an unconfirmed submission in the front-end cache (default: 600)
}

// ArchiverConfig contains archival sweeper settings
type ArchiverConfig struct {
	IntervalHours int  `toml:"interval_hours"` // Sweep cadence in hours (default: 3)
	SweepOnStart  bool `toml:"sweep_on_start"` // Run one sweep immediately at startup
}

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	var config Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyEnvOverrides()

	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// applyEnvOverrides lets secrets come from the environment (loaded from .env
// by main) rather than the config file
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		c.Blob.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		c.Blob.SecretKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Transcriber.OpenAIAPIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Transcriber.GeminiAPIKey = v
	}
}

// Validate validates the configuration and fills in defaults
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeoutSecs < 0 || c.Server.WriteTimeoutSecs < 0 || c.Server.IdleTimeoutSecs < 0 {
		return fmt.Errorf("server timeouts must be non-negative")
	}

	// Validate logging config
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}

	// Validate storage config
	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("sqlite_path is required")
	}
	if c.Storage.StagingPath == "" {
		return fmt.Errorf("staging_path is required")
	}

	// Validate blob config
	if c.Blob.Endpoint == "" {
		return fmt.Errorf("blob endpoint is required")
	}
	if c.Blob.Bucket == "" {
		return fmt.Errorf("blob bucket is required")
	}
	if c.Blob.AccessKey == "" || c.Blob.SecretKey == "" {
		return fmt.Errorf("blob credentials are required (config file or MINIO_ACCESS_KEY / MINIO_SECRET_KEY)")
	}

	// Validate transcriber config
	if err := c.validateTranscriber(); err != nil {
		return err
	}

	// Validate pipeline config
	if c.Pipeline.MaxAudioBytes < 0 {
		return fmt.Errorf("max_audio_bytes must be non-negative")
	}
	if c.Pipeline.MaxAudioBytes == 0 {
		c.Pipeline.MaxAudioBytes = 20 << 20
	}
	if c.Pipeline.PendingTTLSeconds < 0 {
		return fmt.Errorf("pending_ttl_seconds must be non-negative")
	}
	if c.Pipeline.PendingTTLSeconds == 0 {
		c.Pipeline.PendingTTLSeconds = 600
	}

	// Validate archiver config
	if c.Archiver.IntervalHours < 0 {
		return fmt.Errorf("archiver interval_hours must be non-negative")
	}
	if c.Archiver.IntervalHours == 0 {
		c.Archiver.IntervalHours = 3
	}

	return nil
}

func (c *Config) validateTranscriber() error {
	if c.Transcriber.Backend == "" {
		c.Transcriber.Backend = "whisper"
	}

	switch c.Transcriber.Backend {
	case "whisper":
		if c.Transcriber.WhisperURL == "" {
			return fmt.Errorf("whisper_url is required when transcriber backend is whisper")
		}
	case "openai":
		if c.Transcriber.OpenAIAPIKey == "" {
			return fmt.Errorf("openai_api_key is required when transcriber backend is openai")
		}
		if c.Transcriber.OpenAIModel == "" {
			c.Transcriber.OpenAIModel = "whisper-1"
		}
	case "gemini":
		if c.Transcriber.GeminiAPIKey == "" {
			return fmt.Errorf("gemini_api_key is required when transcriber backend is gemini")
		}
		if c.Transcriber.GeminiModel == "" {
			c.Transcriber.GeminiModel = "gemini-2.0-flash"
		}
	default:
		return fmt.Errorf("invalid transcriber backend: %s (must be 'whisper', 'openai', or 'gemini')", c.Transcriber.Backend)
	}

	if c.Transcriber.TimeoutSeconds < 0 {
		return fmt.Errorf("transcriber timeout_seconds must be non-negative")
	}
	if c.Transcriber.TimeoutSeconds == 0 {
		c.Transcriber.TimeoutSeconds = 120
	}
	if c.Transcriber.MaxRetries < 0 {
		return fmt.Errorf("transcriber max_retries must be non-negative")
	}
	if c.Transcriber.MaxRetries == 0 {
		c.Transcriber.MaxRetries = 2
	}
	if c.Transcriber.RetryInitialBackoffMs < 0 {
		return fmt.Errorf("transcriber retry_initial_backoff_ms must be non-negative")
	}
	if c.Transcriber.RetryInitialBackoffMs == 0 {
		c.Transcriber.RetryInitialBackoffMs = 500
	}

	return nil
}
