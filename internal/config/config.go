// Package config loads runtime settings. Sources are layered: built-in
// defaults, an optional YAML file, a .env file, then SHRAMBA_* environment
// variables. Command-line flags are applied on top by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
	"gopkg.in/yaml.v3"
)

// Config holds every runtime setting. Fields carry no env defaults: the
// built-in values come from Default so that a YAML file can still override
// them before the environment is applied.
type Config struct {
	DatabasePath string        `yaml:"database" env:"SHRAMBA_DB"`
	Addr         string        `yaml:"addr" env:"SHRAMBA_ADDR"`
	ImageDir     string        `yaml:"image_dir" env:"SHRAMBA_IMAGE_DIR"`
	TokenTTL     time.Duration `yaml:"token_ttl" env:"SHRAMBA_TOKEN_TTL"`

	Log       LogConfig       `yaml:"log"`
	Sessions  SessionConfig   `yaml:"sessions"`
	Images    ImageConfig     `yaml:"images"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Voyage    VoyageConfig    `yaml:"voyage"`
}

type LogConfig struct {
	Path   string `yaml:"path" env:"SHRAMBA_LOG_PATH"`
	Level  string `yaml:"level" env:"SHRAMBA_LOG_LEVEL"`
	Format string `yaml:"format" env:"SHRAMBA_LOG_FORMAT"`
}

type SessionConfig struct {
	StaleAfter    time.Duration `yaml:"stale_after" env:"SHRAMBA_STALE_AFTER"`
	MaxImageBytes int64         `yaml:"max_image_bytes" env:"SHRAMBA_MAX_IMAGE_BYTES"`
}

type ImageConfig struct {
	MaxDimension  int `yaml:"max_dimension" env:"SHRAMBA_IMAGE_MAX_DIMENSION"`
	ThumbnailSize int `yaml:"thumbnail_size" env:"SHRAMBA_THUMBNAIL_SIZE"`
	Quality       int `yaml:"jpeg_quality" env:"SHRAMBA_JPEG_QUALITY"`
}

type AnthropicConfig struct {
	APIKey            string `yaml:"api_key" env:"SHRAMBA_ANTHROPIC_KEY"`
	Model             string `yaml:"model" env:"SHRAMBA_ANTHROPIC_MODEL"`
	RequestsPerMinute int    `yaml:"requests_per_minute" env:"SHRAMBA_ANTHROPIC_RPM"`
}

type VoyageConfig struct {
	APIKey string `yaml:"api_key" env:"SHRAMBA_VOYAGE_KEY"`
	Model  string `yaml:"model" env:"SHRAMBA_VOYAGE_MODEL"`
	// BaseURL overrides the embeddings endpoint.
	BaseURL string `yaml:"base_url" env:"SHRAMBA_VOYAGE_URL"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		DatabasePath: "shramba.sqlite3",
		Addr:         ":8080",
		ImageDir:     "images",
		TokenTTL:     30 * 24 * time.Hour,
		Log:          LogConfig{Level: "info", Format: "text"},
		Sessions:     SessionConfig{StaleAfter: 30 * time.Minute, MaxImageBytes: 10 << 20},
		Images:       ImageConfig{MaxDimension: 1024, ThumbnailSize: 200, Quality: 85},
		Anthropic:    AnthropicConfig{Model: "claude-sonnet-4-20250514", RequestsPerMinute: 30},
		Voyage:       VoyageConfig{Model: "voyage-3-lite"},
	}
}

// Load builds the configuration. path names an optional YAML file; envFiles
// are dotenv files to read, ".env" when none are given. Missing dotenv files
// are ignored, a missing YAML file is an error.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				slog.Debug("no dotenv file, using environment variables", "path", f)
				continue
			}
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	if err := env.Load(cfg, &env.Options{Source: source{lookup: os.LookupEnv}}); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fallbacks are provider-generic variables read when the SHRAMBA_ variant
// is not set.
var fallbacks = map[string]string{
	"SHRAMBA_ANTHROPIC_KEY": "ANTHROPIC_API_KEY",
	"SHRAMBA_VOYAGE_KEY":    "VOYAGE_API_KEY",
}

// source is the env.Source for Load. Empty variables count as unset so they
// never blank out a value from the YAML file.
type source struct {
	lookup func(key string) (string, bool)
}

func (s source) LookupEnv(key string) (string, bool) {
	if v, ok := s.lookup(key); ok && v != "" {
		return v, true
	}
	if alt, ok := fallbacks[key]; ok {
		if v, ok := s.lookup(alt); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("database path is required")
	}
	if c.ImageDir == "" {
		return errors.New("image directory is required")
	}
	if c.Sessions.StaleAfter <= 0 {
		return fmt.Errorf("stale threshold must be positive, got %s", c.Sessions.StaleAfter)
	}
	if c.Sessions.MaxImageBytes <= 0 {
		return fmt.Errorf("max image bytes must be positive, got %d", c.Sessions.MaxImageBytes)
	}
	if c.Images.Quality < 1 || c.Images.Quality > 100 {
		return fmt.Errorf("jpeg quality must be between 1 and 100, got %d", c.Images.Quality)
	}
	if c.Images.MaxDimension <= 0 || c.Images.ThumbnailSize <= 0 {
		return errors.New("image dimensions must be positive")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// SlogLevel parses the configured log level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", l.Level)
	}
	return level, nil
}
