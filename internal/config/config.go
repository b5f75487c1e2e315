package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tracestore/internal/kv"
)

// Config mirrors kv.Config plus the process log level.
type Config struct {
	Engine             string        `yaml:"engine"`
	Dir                string        `yaml:"dir,omitempty"`
	InMemory           bool          `yaml:"in_memory"`
	CacheSize          int64         `yaml:"cache_size"`
	MaxStoreSize       int64         `yaml:"max_store_size"`
	MaxKeySize         int           `yaml:"max_key_size"`
	MaxValueSize       int           `yaml:"max_value_size"`
	CompactionInterval time.Duration `yaml:"compaction_interval"`
	SyncWrites         bool          `yaml:"sync_writes"`
	LogLevel           string        `yaml:"log_level"`
}

// Default returns the configuration used when no file is given: an
// in-memory pebble store with the default limits.
func Default() Config {
	d := kv.DefaultConfig()
	return Config{
		Engine:             string(d.Engine),
		InMemory:           d.InMemory,
		CacheSize:          d.CacheSize,
		MaxStoreSize:       d.MaxStoreSize,
		MaxKeySize:         d.MaxKeySize,
		MaxValueSize:       d.MaxValueSize,
		CompactionInterval: d.CompactionInterval,
		LogLevel:           "info",
	}
}

// Load reads and validates the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg, err := Parse(path, data)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates data and decodes it over Default. name is used in error
// positions only.
func Parse(name string, data []byte) (Config, error) {
	if err := validateSchema(name, data); err != nil {
		return Config{}, err
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode: %w", err)
	}

	if err := cfg.StoreConfig().Validate(); err != nil {
		return Config{}, &ValidationError{
			Source: name,
			Issues: []Issue{{Message: err.Error()}},
		}
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return buf.Bytes(), nil
}

// StoreConfig converts to the store's configuration. Metrics stay
// unregistered; callers set kv.Config.Registerer themselves.
func (c Config) StoreConfig() kv.Config {
	return kv.Config{
		Engine:             kv.Engine(c.Engine),
		Dir:                c.Dir,
		InMemory:           c.InMemory,
		CacheSize:          c.CacheSize,
		MaxStoreSize:       c.MaxStoreSize,
		MaxKeySize:         c.MaxKeySize,
		MaxValueSize:       c.MaxValueSize,
		CompactionInterval: c.CompactionInterval,
		SyncWrites:         c.SyncWrites,
	}
}

// Level returns the slog level named by LogLevel, defaulting to Info.
func (c Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
