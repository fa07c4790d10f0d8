// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.docuchat/config.yaml)
//  3. Default values
//
// The Gemini API key is the only secret. It is held in memory for the
// lifetime of the process, never written to the config file, and masked
// whenever the configuration is marshaled or printed.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Sentinel errors for configuration validation, checked with errors.Is().
var (
	// ErrMissingAPIKey indicates GEMINI_API_KEY is not set. This is a
	// fatal configuration error raised before any network call.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is empty or malformed.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidMaxFileSize indicates the file size limit is out of range.
	ErrInvalidMaxFileSize = errors.New("invalid max file size")

	// ErrInvalidPollInterval indicates the poll interval is out of range.
	ErrInvalidPollInterval = errors.New("invalid poll interval")

	// ErrInvalidIndexTimeout indicates the indexing deadline is out of range.
	ErrInvalidIndexTimeout = errors.New("invalid index timeout")

	// ErrInvalidMaxRetries indicates a retry bound is negative.
	ErrInvalidMaxRetries = errors.New("invalid max retries")
)

const (
	// DefaultModelName is the model used for grounded chat.
	DefaultModelName = "gemini-2.5-flash"

	// DefaultStoreDisplayName is the display name for the file search store.
	DefaultStoreDisplayName = "docuchat-store"

	// DefaultMaxFileSize is the upload size limit. The File Search API
	// accepts larger files, but indexing latency grows with size and the
	// pipeline polls with a fixed deadline.
	DefaultMaxFileSize int64 = 50 * 1024 * 1024 // 50MB

	// DefaultPollInterval is how often the pipeline polls an import operation.
	DefaultPollInterval = 2500 * time.Millisecond

	// DefaultIndexTimeout bounds how long the pipeline waits for an import
	// operation before reporting a timeout to the user.
	DefaultIndexTimeout = 120 * time.Second

	// DefaultSystemInstruction steers the model toward grounded answers.
	DefaultSystemInstruction = "You are a helpful assistant. Answer questions using the documents " +
		"the user has uploaded. When the documents do not contain the answer, say so instead of guessing."
)

// Config stores application configuration.
// SECURITY: APIKey is masked in MarshalJSON; keep that in sync when
// adding new sensitive fields.
type Config struct {
	// Credential. Read from GEMINI_API_KEY only, never from the config file.
	APIKey string `mapstructure:"api_key" json:"api_key"` // SENSITIVE: masked in MarshalJSON

	// Model and store configuration
	ModelName         string `mapstructure:"model_name" json:"model_name"`
	StoreDisplayName  string `mapstructure:"store_display_name" json:"store_display_name"`
	SystemInstruction string `mapstructure:"system_instruction" json:"system_instruction"`

	// CacheDir holds the cached store identifier between runs.
	// Defaults to ~/.docuchat.
	CacheDir string `mapstructure:"cache_dir" json:"cache_dir"`

	// Ingestion limits
	MaxFileSize  int64         `mapstructure:"max_file_size" json:"max_file_size"`
	PollInterval time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	IndexTimeout time.Duration `mapstructure:"index_timeout" json:"index_timeout"`

	// Retry bounds
	UploadMaxRetries int `mapstructure:"upload_max_retries" json:"upload_max_retries"`
	ChatMaxRetries   int `mapstructure:"chat_max_retries" json:"chat_max_retries"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".docuchat")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v, configDir)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Fail fast, before any network call.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("store_display_name", DefaultStoreDisplayName)
	v.SetDefault("system_instruction", DefaultSystemInstruction)
	v.SetDefault("cache_dir", configDir)
	v.SetDefault("max_file_size", DefaultMaxFileSize)
	v.SetDefault("poll_interval", DefaultPollInterval)
	v.SetDefault("index_timeout", DefaultIndexTimeout)
	v.SetDefault("upload_max_retries", 3)
	v.SetDefault("chat_max_retries", 3)
}

// bindEnvVariables binds environment variables explicitly.
// GEMINI_API_KEY is the only secret; the rest are convenience overrides.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("api_key", "GEMINI_API_KEY")
	mustBind("model_name", "DOCUCHAT_MODEL_NAME")
	mustBind("store_display_name", "DOCUCHAT_STORE_NAME")
	mustBind("cache_dir", "DOCUCHAT_CACHE_DIR")
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("%w: set GEMINI_API_KEY", ErrMissingAPIKey)
	}
	if c.ModelName == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalidModelName)
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxFileSize, c.MaxFileSize)
	}
	if c.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("%w: %v", ErrInvalidPollInterval, c.PollInterval)
	}
	if c.IndexTimeout < c.PollInterval {
		return fmt.Errorf("%w: %v is shorter than the poll interval", ErrInvalidIndexTimeout, c.IndexTimeout)
	}
	if c.UploadMaxRetries < 0 || c.ChatMaxRetries < 0 {
		return fmt.Errorf("%w: retry bounds must be non-negative", ErrInvalidMaxRetries)
	}
	return nil
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Short secrets are
// fully masked; longer ones keep the first and last two characters for
// debug utility. This defends against accidental logging, nothing more.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit API key masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.APIKey = maskSecret(a.APIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of the key.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
