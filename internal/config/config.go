package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/jeanpaul/companionstore/internal/persist"
)

const (
	appName  = "companionstore"
	fileName = appName + ".yaml"
)

type Config struct {
	StorageDirectory           string `yaml:"storage_directory" mapstructure:"storage_directory"`
	EmbeddingDim               int    `yaml:"embedding_dim" mapstructure:"embedding_dim"`
	DefaultTTLSeconds          int    `yaml:"default_ttl_seconds" mapstructure:"default_ttl_seconds"`
	PersistenceIntervalSeconds int    `yaml:"persistence_interval_seconds" mapstructure:"persistence_interval_seconds"`
	// MaxListLength is a soft cap for callers trimming conversation lists.
	// The store does not enforce it.
	MaxListLength  int    `yaml:"max_list_length" mapstructure:"max_list_length"`
	Compression    string `yaml:"compression" mapstructure:"compression"`
	WorkerPoolSize int    `yaml:"worker_pool_size" mapstructure:"worker_pool_size"`
	LogLevel       string `yaml:"log_level" mapstructure:"log_level"`
}

var envVarRe = regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`)

func expandEnv(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "$")
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

func DefaultConfig() *Config {
	return &Config{
		StorageDirectory:           "companion_data",
		EmbeddingDim:               384,
		DefaultTTLSeconds:          0,
		PersistenceIntervalSeconds: 30,
		MaxListLength:              100,
		Compression:                "none",
		WorkerPoolSize:             8,
		LogLevel:                   "info",
	}
}

// Path returns the per-user config file location.
func Path() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName, fileName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", appName, fileName)
}

// Load reads the configuration. An explicit path must exist; otherwise
// companionstore.yaml is searched in the working directory and the user
// config directory, and a missing file means defaults. COMPANIONSTORE_*
// environment variables override both.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	v := viper.New()

	// Defaults registered key by key so AutomaticEnv can see every key.
	v.SetDefault("storage_directory", cfg.StorageDirectory)
	v.SetDefault("embedding_dim", cfg.EmbeddingDim)
	v.SetDefault("default_ttl_seconds", cfg.DefaultTTLSeconds)
	v.SetDefault("persistence_interval_seconds", cfg.PersistenceIntervalSeconds)
	v.SetDefault("max_list_length", cfg.MaxListLength)
	v.SetDefault("compression", cfg.Compression)
	v.SetDefault("worker_pool_size", cfg.WorkerPoolSize)
	v.SetDefault("log_level", cfg.LogLevel)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(appName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Dir(Path()))
	}

	v.SetEnvPrefix(strings.ToUpper(appName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.StorageDirectory = expandEnv(cfg.StorageDirectory)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.StorageDirectory) == "" {
		return fmt.Errorf("config: storage_directory is required")
	}
	if c.EmbeddingDim < 1 {
		return fmt.Errorf("config: embedding_dim must be positive, got %d", c.EmbeddingDim)
	}
	if c.DefaultTTLSeconds < 0 {
		return fmt.Errorf("config: default_ttl_seconds must not be negative, got %d", c.DefaultTTLSeconds)
	}
	if c.PersistenceIntervalSeconds < 0 {
		return fmt.Errorf("config: persistence_interval_seconds must not be negative, got %d", c.PersistenceIntervalSeconds)
	}
	if _, err := persist.CodecByName(c.Compression); err != nil {
		return fmt.Errorf("config: compression %q is invalid (must be none, s2 or zstd)", c.Compression)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: log_level %q is invalid", c.LogLevel)
	}
	if c.MaxListLength < 1 {
		c.MaxListLength = 100
	}
	if c.WorkerPoolSize < 1 {
		c.WorkerPoolSize = 8
	}
	return nil
}

func (c *Config) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

func (c *Config) PersistInterval() time.Duration {
	return time.Duration(c.PersistenceIntervalSeconds) * time.Second
}

// Codec returns the snapshot codec named by Compression.
func (c *Config) Codec() persist.Codec {
	codec, err := persist.CodecByName(c.Compression)
	if err != nil {
		return persist.Plain()
	}
	return codec
}
