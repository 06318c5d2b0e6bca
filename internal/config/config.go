package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

// Matching controls frame sampling and the match decision.
type Matching struct {
	Threshold     float64 `toml:"match_threshold" env:"MATCH_THRESHOLD"`
	EmbeddingDim  int     `toml:"embedding_dim" env:"EMBEDDING_DIM"`
	SamplingRate  float64 `toml:"sampling_rate" env:"SAMPLING_RATE"`
	ProgressEvery int     `toml:"progress_every" env:"PROGRESS_EVERY"`
	// OnFrameError is "abort" (discard the run on any frame failure) or "skip".
	OnFrameError string `toml:"on_frame_error" env:"ON_FRAME_ERROR"`
	// MaxImageDim downscales frames before detection; 0 keeps the native size.
	MaxImageDim int `toml:"max_image_dim" env:"MAX_IMAGE_DIM"`
}

// Detector selects and configures the face engine.
type Detector struct {
	Backend              string `toml:"backend" env:"BACKEND"`
	Engines              int    `toml:"engines" env:"ENGINES"`
	PythonBin            string `toml:"python_bin" env:"PYTHON_BIN"`
	WorkerScript         string `toml:"worker_script" env:"WORKER_SCRIPT"`
	ModelsDir            string `toml:"models_dir" env:"MODELS_DIR"`
	WorkerTimeoutSeconds int    `toml:"worker_timeout_seconds" env:"WORKER_TIMEOUT_SECONDS"`
}

// Logging contains configuration for diagnostic output.
type Logging struct {
	Level  string `toml:"level" env:"LOG_LEVEL"`
	Format string `toml:"format" env:"LOG_FORMAT"`
}

// Config is the full application configuration.
type Config struct {
	Matching    Matching `toml:"matching"`
	Detector    Detector `toml:"detector"`
	Logging     Logging  `toml:"logging"`
	DatabaseURL string   `toml:"database_url" env:"DATABASE_URL"`
}

// WorkerTimeout returns the per-frame detector timeout.
func (c *Config) WorkerTimeout() time.Duration {
	return time.Duration(c.Detector.WorkerTimeoutSeconds) * time.Second
}

// Load builds the configuration from defaults, an optional TOML file and
// FACESCAN_* environment variables, in that order of precedence.
func Load(path string) (*Config, error) {
	return load(path, nil)
}

func load(path string, environ map[string]string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config file %s does not exist", path)
		}
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := toml.NewDecoder(f).DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

func (c *Config) normalize() {
	c.Matching.OnFrameError = strings.ToLower(strings.TrimSpace(c.Matching.OnFrameError))
	c.Detector.Backend = strings.ToLower(strings.TrimSpace(c.Detector.Backend))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	if c.Detector.Engines < 1 {
		c.Detector.Engines = 1
	}
}
