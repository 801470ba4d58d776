package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"chimeradb/pkg/compression"
	"chimeradb/pkg/types"

	"github.com/goccy/go-yaml"
)

const (
	envDataDir  = "CHIMERADB_DATA_DIR"
	envLogLevel = "CHIMERADB_LOG_LEVEL"
)

// Config is the root of the application configuration.
type Config struct {
	Logger LoggerConfig `yaml:"logger"`
	Server ServerConfig `yaml:"http-server"`
	DB     DBConfig     `yaml:"db"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type ServerConfig struct {
	Port                 int `yaml:"port"`
	ReadHeaderTimeoutSec int `yaml:"read_header_timeout_sec"`
	ShutdownTimeoutSec   int `yaml:"shutdown_timeout_sec"`
}

type DBConfig struct {
	DataDir  string         `yaml:"data_dir"`
	Engines  []types.Kind   `yaml:"engines"`
	Limits   LimitsConfig   `yaml:"limits"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
}

// LimitsConfig bounds externally supplied input. Replay ignores these.
type LimitsConfig struct {
	MaxCollectionNameLen int      `yaml:"max_collection_name_len"`
	MaxKeyLen            int      `yaml:"max_key_len"`
	MaxValueSize         ByteSize `yaml:"max_value_size"`
}

type SnapshotConfig struct {
	// Compression is one of none, gzip, zstd, snappy, lz4.
	Compression string `yaml:"compression"`
	// Retain is how many published snapshots are kept on disk.
	Retain int `yaml:"retain"`
	// EveryNMutations triggers a background snapshot; 0 disables it.
	EveryNMutations int `yaml:"every_n_mutations"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "INFO",
			JSON:  false,
		},
		Server: ServerConfig{
			Port:                 8080,
			ReadHeaderTimeoutSec: 1,
			ShutdownTimeoutSec:   5,
		},
		DB: DBConfig{
			DataDir: "./chimera_data",
			Engines: []types.Kind{types.KindKeyValue, types.KindDocument},
			Limits: LimitsConfig{
				MaxCollectionNameLen: 128,
				MaxKeyLen:            256,
				MaxValueSize:         10 * MiB,
			},
			Snapshot: SnapshotConfig{
				Compression:     "zstd",
				Retain:          2,
				EveryNMutations: 0,
			},
		},
	}
}

// Load reads a YAML config on top of Default. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Info("config file not found, using default config", "path", path)
	case err != nil:
		return cfg, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if dir := os.Getenv(envDataDir); dir != "" {
		c.DB.DataDir = dir
	}
	if lvl := os.Getenv(envLogLevel); lvl != "" {
		c.Logger.Level = lvl
	}
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error

	if _, err := ParseLevel(c.Logger.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("http-server.port out of range: %d", c.Server.Port))
	}
	if c.DB.DataDir == "" {
		errs = append(errs, errors.New("db.data_dir must not be empty"))
	}
	if len(c.DB.Engines) == 0 {
		errs = append(errs, errors.New("db.engines must list at least one engine"))
	}
	for _, k := range c.DB.Engines {
		if _, err := types.ParseKind(string(k)); err != nil {
			errs = append(errs, fmt.Errorf("db.engines: %w", err))
		}
	}
	if c.DB.Limits.MaxCollectionNameLen < 1 {
		errs = append(errs, errors.New("db.limits.max_collection_name_len must be positive"))
	}
	if c.DB.Limits.MaxKeyLen < 1 {
		errs = append(errs, errors.New("db.limits.max_key_len must be positive"))
	}
	if c.DB.Limits.MaxValueSize < 1 {
		errs = append(errs, errors.New("db.limits.max_value_size must be positive"))
	}
	if _, err := compression.ByName(c.DB.Snapshot.Compression); err != nil {
		errs = append(errs, fmt.Errorf("db.snapshot.compression: %w (supported: %s)",
			err, strings.Join(compression.Names(), ", ")))
	}
	if c.DB.Snapshot.Retain < 1 {
		errs = append(errs, errors.New("db.snapshot.retain must be at least 1"))
	}
	if c.DB.Snapshot.EveryNMutations < 0 {
		errs = append(errs, errors.New("db.snapshot.every_n_mutations must not be negative"))
	}

	return errors.Join(errs...)
}

// ParseLevel maps a config level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("logger.level: %w", err)
	}
	return lvl, nil
}

const (
	KiB ByteSize = 1 << 10
	MiB ByteSize = 1 << 20
	GiB ByteSize = 1 << 30
)

// ByteSize is a byte count that accepts either an integer or a string such as
// "10MiB" or "512KB" in YAML.
type ByteSize int

// UnmarshalYAML implements yaml.BytesUnmarshaler.
func (b *ByteSize) UnmarshalYAML(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"'`)
	n, err := ParseSize(s)
	if err != nil {
		return err
	}
	*b = n
	return nil
}

// ParseSize parses sizes like "100MB", "10MiB" or "4096".
func ParseSize(s string) (ByteSize, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, errors.New("empty size string")
	}

	multiplier := ByteSize(1)
	for _, suffix := range []struct {
		text string
		mult ByteSize
	}{
		{"KIB", KiB}, {"MIB", MiB}, {"GIB", GiB},
		{"KB", KiB}, {"MB", MiB}, {"GB", GiB},
		{"B", 1},
	} {
		if strings.HasSuffix(s, suffix.text) {
			multiplier = suffix.mult
			s = strings.TrimSpace(strings.TrimSuffix(s, suffix.text))
			break
		}
	}

	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size format: %q", s)
	}
	return ByteSize(n) * multiplier, nil
}
