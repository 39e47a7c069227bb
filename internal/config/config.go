// Package config holds the process-wide quicksave settings. Per-project
// settings (endpoint, auto-send, cooldown) live in the state store.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-json"
	"github.com/openmined/quicksave/internal/utils"
	"github.com/spf13/viper"
)

const (
	EnvPrefix            = "QUICKSAVE"
	DefaultCompressor    = "7z"
	DefaultPattern       = "**/*.blend"
	DefaultUploadTimeout = 30 * time.Second
)

var (
	home, _            = os.UserHomeDir()
	DefaultDir         = filepath.Join(home, ".quicksave")
	DefaultConfigPath  = filepath.Join(DefaultDir, "config.json")
	DefaultStatePath   = filepath.Join(DefaultDir, "state.db")
	DefaultLogFilePath = filepath.Join(DefaultDir, "logs", "quicksave.log")
	DefaultLockDir     = filepath.Join(DefaultDir, "locks")
	DefaultScratchDir  = filepath.Join(os.TempDir(), "quicksave")
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	StatePath      string        `json:"state_path" mapstructure:"state_path"`
	ScratchDir     string        `json:"scratch_dir" mapstructure:"scratch_dir"`
	CompressorPath string        `json:"compressor_path" mapstructure:"compressor_path"`
	LogFilePath    string        `json:"log_file_path" mapstructure:"log_file_path"`
	LockDir        string        `json:"lock_dir" mapstructure:"lock_dir"`
	Pattern        string        `json:"pattern" mapstructure:"pattern"`
	UploadTimeout  time.Duration `json:"upload_timeout" mapstructure:"upload_timeout"`
	Path           string        `json:"-" mapstructure:"-"`
}

func Default() *Config {
	return &Config{
		StatePath:      DefaultStatePath,
		ScratchDir:     DefaultScratchDir,
		CompressorPath: DefaultCompressor,
		LogFilePath:    DefaultLogFilePath,
		LockDir:        DefaultLockDir,
		Pattern:        DefaultPattern,
		UploadTimeout:  DefaultUploadTimeout,
	}
}

// SetDefaults registers every key on v so env overrides work without a
// config file.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("state_path", d.StatePath)
	v.SetDefault("scratch_dir", d.ScratchDir)
	v.SetDefault("compressor_path", d.CompressorPath)
	v.SetDefault("log_file_path", d.LogFilePath)
	v.SetDefault("lock_dir", d.LockDir)
	v.SetDefault("pattern", d.Pattern)
	v.SetDefault("upload_timeout", d.UploadTimeout)
}

// Load builds a validated Config from v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the config and resolves its paths to absolute ones.
func (c *Config) Validate() error {
	var err error

	if c.StatePath, err = resolve("state_path", c.StatePath); err != nil {
		return err
	}
	if c.ScratchDir, err = resolve("scratch_dir", c.ScratchDir); err != nil {
		return err
	}
	if c.LogFilePath, err = resolve("log_file_path", c.LogFilePath); err != nil {
		return err
	}
	// an empty lock dir disables cross-process locking
	if c.LockDir != "" {
		if c.LockDir, err = resolve("lock_dir", c.LockDir); err != nil {
			return err
		}
	}

	if c.CompressorPath == "" {
		return fmt.Errorf("%w: `compressor_path` is required", ErrInvalidConfig)
	}
	if c.Pattern == "" || !doublestar.ValidatePattern(c.Pattern) {
		return fmt.Errorf("%w: `pattern` %q is not a valid glob", ErrInvalidConfig, c.Pattern)
	}
	if c.UploadTimeout <= 0 {
		return fmt.Errorf("%w: `upload_timeout` must be positive", ErrInvalidConfig)
	}
	return nil
}

// Save writes the config as JSON.
func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func resolve(key, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: `%s` is required", ErrInvalidConfig, key)
	}
	abs, err := utils.ResolvePath(path)
	if err != nil {
		return "", fmt.Errorf("%w: `%s`: %v", ErrInvalidConfig, key, err)
	}
	return abs, nil
}
