package engine

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"chimeradb/pkg/config"
	"chimeradb/pkg/dberrors"
	"chimeradb/pkg/snapshot"
	"chimeradb/pkg/types"
	"chimeradb/pkg/wal"
)

// Engine is the capability every data-model backend exposes. All variants
// share the same durability contract: a mutation is acknowledged only after
// its WAL record is fsynced.
type Engine interface {
	Kind() types.Kind

	// Startup recovers state from the latest snapshot and the WAL suffix.
	Startup(ctx context.Context) error
	// Shutdown takes a best-effort snapshot and closes the WAL.
	Shutdown(ctx context.Context) error
	Ready() bool

	Put(collection, key string, value []byte) error
	Get(collection, key string) ([]byte, error)
	Delete(collection, key string) error
	Query(collection string, filter Filter) (iter.Seq2[Record, error], error)
	DropCollection(collection string) error
	Collections() []string

	Snapshot(ctx context.Context) (snapshot.ID, error)
	Stats() Stats
}

// Filter is a document query: field paths mapped to a value or an operator
// object such as {"$gt": 3}.
type Filter = map[string]any

// Record is a query result.
type Record struct {
	Key      string         `json:"key"`
	Value    []byte         `json:"-"`
	Document map[string]any `json:"document,omitempty"`
}

type Options struct {
	// Dir holds the engine's wal/ and snapshots/ directories.
	Dir      string
	Limits   config.LimitsConfig
	Snapshot config.SnapshotConfig
	Logger   *slog.Logger
	// WALOptions are passed to wal.Open.
	WALOptions []wal.Option
}

// DefaultOptions returns options rooted at dir with default limits.
func DefaultOptions(dir string) Options {
	cfg := config.Default()
	return Options{
		Dir:      dir,
		Limits:   cfg.DB.Limits,
		Snapshot: cfg.DB.Snapshot,
	}
}

// New builds the engine variant for kind.
func New(kind types.Kind, opts Options) (Engine, error) {
	switch kind {
	case types.KindKeyValue:
		return NewKeyValue(opts)
	case types.KindDocument:
		return NewDocument(opts)
	case types.KindColumn, types.KindGraph, types.KindTimeSeries:
		return nil, fmt.Errorf("%w: %s", dberrors.ErrNotImplemented, kind)
	default:
		return nil, fmt.Errorf("unknown engine kind %q", kind)
	}
}
