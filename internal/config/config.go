// Package config loads the mudra YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/detector"
)

// Config represents the complete mudra configuration.
type Config struct {
	DataDir  string           `yaml:"data_dir"` // defaults to ~/.mudra
	Server   ServerConfig     `yaml:"server"`
	Camera   capture.Settings `yaml:"camera"`
	Detector DetectorConfig   `yaml:"detector"`
	Model    ModelConfig      `yaml:"model"`
	Retrain  RetrainConfig    `yaml:"retrain"`
	Log      LogConfig        `yaml:"log"`
	Tray     bool             `yaml:"tray"`
}

// ServerConfig contains HTTP settings.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	StaticDir      string `yaml:"static_dir"`       // empty disables static files
	DBPath         string `yaml:"db_path"`          // defaults to <data_dir>/mudra.db
	DownloadPerMin int    `yaml:"download_per_min"` // model download requests per IP per minute
}

// DetectorConfig selects and tunes the hand landmark detector.
type DetectorConfig struct {
	detector.Config `yaml:",inline"`
	Mock            bool `yaml:"mock"` // use the mock detector instead of MediaPipe
}

// ModelConfig locates the classifier bundle and its labels.
type ModelConfig struct {
	Path         string            `yaml:"path"`  // defaults to <data_dir>/model.json
	Watch        bool              `yaml:"watch"` // reload when the file changes
	Labels       []string          `yaml:"labels"`
	Translations map[string]string `yaml:"translations"`
}

// RetrainConfig describes the training command run by the retrain endpoint.
type RetrainConfig struct {
	Command  []string `yaml:"command"`  // defaults to "<self> train"
	DataDir  string   `yaml:"data_dir"` // defaults to <data_dir>/data
	TimeoutS int      `yaml:"timeout_s"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	File        string `yaml:"file"` // rotated log file; empty logs to stderr only
	MaxSizeMB   int    `yaml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		DataDir: absPath(defaultDataDir()),
		Server: ServerConfig{
			Addr:           ":8080",
			DownloadPerMin: 10,
		},
		Camera:   capture.DefaultSettings(),
		Detector: DetectorConfig{Config: detector.DefaultConfig()},
		Retrain:  RetrainConfig{TimeoutS: 600},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads and parses a YAML configuration file on top of Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.DataDir = absPath(cfg.DataDir)

	return cfg, nil
}

// Validate checks value ranges.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if cfg.Server.DownloadPerMin < 0 {
		errs = append(errs, errors.New("server.download_per_min must not be negative"))
	}
	if cfg.Camera.DeviceID < 0 {
		errs = append(errs, fmt.Errorf("camera.device must not be negative, got %d", cfg.Camera.DeviceID))
	}
	if cfg.Camera.Width <= 0 || cfg.Camera.Height <= 0 {
		errs = append(errs, fmt.Errorf("camera resolution must be positive, got %dx%d", cfg.Camera.Width, cfg.Camera.Height))
	}
	if cfg.Camera.FPS <= 0 || cfg.Camera.FPS > 120 {
		errs = append(errs, fmt.Errorf("camera.fps must be in 1..120, got %d", cfg.Camera.FPS))
	}
	if c := cfg.Detector.MinConfidence; c < 0 || c > 1 {
		errs = append(errs, fmt.Errorf("detector.min_detection_confidence must be in 0..1, got %v", c))
	}
	if c := cfg.Detector.MinTrackingConf; c < 0 || c > 1 {
		errs = append(errs, fmt.Errorf("detector.min_tracking_confidence must be in 0..1, got %v", c))
	}
	if cfg.Detector.MaxHands < 1 {
		errs = append(errs, fmt.Errorf("detector.max_hands must be at least 1, got %d", cfg.Detector.MaxHands))
	}
	if cfg.Retrain.TimeoutS < 0 {
		errs = append(errs, errors.New("retrain.timeout_s must not be negative"))
	}
	seen := make(map[string]bool, len(cfg.Model.Labels))
	for _, l := range cfg.Model.Labels {
		if l == "" {
			errs = append(errs, errors.New("model.labels must not contain empty labels"))
			continue
		}
		if seen[l] {
			errs = append(errs, fmt.Errorf("model.labels contains %q twice", l))
		}
		seen[l] = true
	}

	return errors.Join(errs...)
}

// ModelPath returns the classifier bundle path.
func (c *Config) ModelPath() string {
	return c.resolve(c.Model.Path, "model.json")
}

// DBPath returns the SQLite database path.
func (c *Config) DBPath() string {
	return c.resolve(c.Server.DBPath, "mudra.db")
}

// TrainingDataDir returns the directory holding recorded samples.
func (c *Config) TrainingDataDir() string {
	return c.resolve(c.Retrain.DataDir, "data")
}

// RetrainTimeout returns the training command timeout.
func (c *Config) RetrainTimeout() time.Duration {
	return time.Duration(c.Retrain.TimeoutS) * time.Second
}

// Catalog returns the label catalog, falling back to the stock labels.
func (c *Config) Catalog() classifier.Catalog {
	if len(c.Model.Labels) == 0 {
		translations := c.Model.Translations
		if translations == nil {
			translations = classifier.DefaultTranslations
		}
		return classifier.NewCatalog(classifier.DefaultLabels, translations)
	}
	return classifier.NewCatalog(c.Model.Labels, c.Model.Translations)
}

// resolve returns path, or name under the data directory when path is
// empty. The result is absolute: the retrain command runs inside the data
// directory.
func (c *Config) resolve(path, name string) string {
	if path == "" {
		path = filepath.Join(c.DataDir, name)
	}
	return absPath(path)
}

func absPath(path string) string {
	if path == "" {
		return path
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mudra"
	}
	return filepath.Join(home, ".mudra")
}
