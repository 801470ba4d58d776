package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"chimeradb/pkg/config"
	"chimeradb/pkg/dberrors"
	"chimeradb/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(dir string) config.DBConfig {
	cfg := config.Default().DB
	cfg.DataDir = dir
	return cfg
}

func TestOpenStartupShutdown(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(testConfig(dir), nil)
	require.NoError(t, err)

	assert.Equal(t, "degraded", db.Health().Status)
	require.NoError(t, db.Startup(context.Background()))
	h := db.Health()
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "ready", h.Engines[types.KindKeyValue])

	kv, err := db.KeyValue()
	require.NoError(t, err)
	require.NoError(t, kv.Put("cache", "k", []byte("v")))

	docs, err := db.Document()
	require.NoError(t, err)
	require.NoError(t, docs.PutDocument("users", "alice", map[string]any{"name": "Alice", "age": 30}))

	require.NoError(t, db.Shutdown(context.Background()))

	for _, kind := range []string{"kv", "document"} {
		_, err := os.Stat(filepath.Join(dir, kind, "wal", "wal.log"))
		assert.NoError(t, err, kind)
		_, err = os.Stat(filepath.Join(dir, kind, "snapshots", "CURRENT"))
		assert.NoError(t, err, kind)
	}

	db, err = Open(testConfig(dir), nil)
	require.NoError(t, err)
	require.NoError(t, db.Startup(context.Background()))
	t.Cleanup(func() { _ = db.Shutdown(context.Background()) })

	docs, err = db.Document()
	require.NoError(t, err)
	doc, err := docs.GetDocument("users", "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", doc["name"])

	kv, err = db.KeyValue()
	require.NoError(t, err)
	_, err = kv.Get("users", "alice")
	assert.ErrorIs(t, err, dberrors.ErrKeyNotFound, "engines do not share state")
}

func TestEngineLookup(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Engines = []types.Kind{types.KindKeyValue, types.KindKeyValue}
	db, err := Open(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []types.Kind{types.KindKeyValue}, db.Kinds())

	_, err = db.Engine(types.KindDocument)
	assert.ErrorIs(t, err, ErrUnknownEngine)
	_, err = db.Document()
	assert.ErrorIs(t, err, ErrUnknownEngine)
}

func TestOpenRejectsUnimplementedKinds(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Engines = []types.Kind{types.KindGraph}
	_, err := Open(cfg, nil)
	assert.ErrorIs(t, err, dberrors.ErrNotImplemented)
}

func TestSeparateDatabasesAreIsolated(t *testing.T) {
	a, err := Open(testConfig(t.TempDir()), nil)
	require.NoError(t, err)
	b, err := Open(testConfig(t.TempDir()), nil)
	require.NoError(t, err)
	require.NoError(t, a.Startup(context.Background()))
	require.NoError(t, b.Startup(context.Background()))
	t.Cleanup(func() {
		_ = a.Shutdown(context.Background())
		_ = b.Shutdown(context.Background())
	})

	kvA, err := a.KeyValue()
	require.NoError(t, err)
	require.NoError(t, kvA.Put("c", "k", []byte("v")))

	kvB, err := b.KeyValue()
	require.NoError(t, err)
	_, err = kvB.Get("c", "k")
	assert.ErrorIs(t, err, dberrors.ErrKeyNotFound)
}
