package config

import (
	"os"
	"path/filepath"
	"testing"

	"chimeradb/pkg/compression"
	"chimeradb/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10*MiB, cfg.DB.Limits.MaxValueSize)
	assert.Equal(t, 256, cfg.DB.Limits.MaxKeyLen)
	assert.Equal(t, 128, cfg.DB.Limits.MaxCollectionNameLen)
}

func TestLoadMissingFileFallsBackToDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().DB.Limits, cfg.DB.Limits)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chimeradb.yaml")
	body := `
logger:
  level: debug
  json: true
http-server:
  port: 9090
db:
  data_dir: /var/lib/chimera
  engines: [kv]
  limits:
    max_key_len: 64
    max_value_size: 1MiB
  snapshot:
    compression: snappy
    retain: 3
    every_n_mutations: 1000
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.True(t, cfg.Logger.JSON)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/var/lib/chimera", cfg.DB.DataDir)
	assert.Equal(t, []types.Kind{types.KindKeyValue}, cfg.DB.Engines)
	assert.Equal(t, 64, cfg.DB.Limits.MaxKeyLen)
	assert.Equal(t, MiB, cfg.DB.Limits.MaxValueSize)
	// untouched keys keep their defaults
	assert.Equal(t, 128, cfg.DB.Limits.MaxCollectionNameLen)
	assert.Equal(t, "snappy", cfg.DB.Snapshot.Compression)
	assert.Equal(t, 3, cfg.DB.Snapshot.Retain)
	assert.Equal(t, 1000, cfg.DB.Snapshot.EveryNMutations)
}

func TestEnvOverridesDataDir(t *testing.T) {
	t.Setenv(envDataDir, "/tmp/override")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override", cfg.DB.DataDir)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	cfg.DB.Engines = []types.Kind{"sql"}
	cfg.DB.Snapshot.Compression = "brotli"
	cfg.DB.Snapshot.Retain = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
	assert.Contains(t, err.Error(), `unknown engine kind "sql"`)
	assert.Contains(t, err.Error(), "brotli")
	assert.Contains(t, err.Error(), "retain")
}

func TestValidateAcceptsEveryRegisteredCodec(t *testing.T) {
	for _, name := range compression.Names() {
		cfg := Default()
		cfg.DB.Snapshot.Compression = name
		assert.NoError(t, cfg.Validate(), name)
	}

	cfg := Default()
	cfg.DB.Snapshot.Compression = "brotli"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zstd")
}

func TestParseSize(t *testing.T) {
	cases := map[string]ByteSize{
		"4096":   4096,
		"1KB":    KiB,
		"10MiB":  10 * MiB,
		"2 gb":   2 * GiB,
		"512B":   512,
		" 3MB  ": 3 * MiB,
	}
	for in, want := range cases {
		got, err := ParseSize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "MB", "-1", "ten"} {
		_, err := ParseSize(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"debug", "INFO", "warn", "Error"} {
		_, err := ParseLevel(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}
