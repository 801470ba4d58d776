package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"chimeradb/pkg/config"
	"chimeradb/pkg/engine"
	"chimeradb/pkg/types"
)

var ErrUnknownEngine = errors.New("chimeradb: engine not configured")

// DB owns one engine per configured kind, each under <data_dir>/<kind>.
// Separate DB values never share state.
type DB struct {
	cfg     config.DBConfig
	logger  *slog.Logger
	engines map[types.Kind]engine.Engine
	order   []types.Kind
}

// Open builds the configured engines without starting them.
func Open(cfg config.DBConfig, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("empty data dir")
	}

	db := &DB{
		cfg:     cfg,
		logger:  logger,
		engines: make(map[types.Kind]engine.Engine, len(cfg.Engines)),
	}
	for _, kind := range cfg.Engines {
		if _, ok := db.engines[kind]; ok {
			continue
		}
		e, err := engine.New(kind, engine.Options{
			Dir:      filepath.Join(cfg.DataDir, string(kind)),
			Limits:   cfg.Limits,
			Snapshot: cfg.Snapshot,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create %s engine: %w", kind, err)
		}
		db.engines[kind] = e
		db.order = append(db.order, kind)
	}
	return db, nil
}

// Startup recovers every engine in configuration order and stops at the
// first failure.
func (db *DB) Startup(ctx context.Context) error {
	for _, kind := range db.order {
		if err := db.engines[kind].Startup(ctx); err != nil {
			return fmt.Errorf("%s engine startup: %w", kind, err)
		}
	}
	db.logger.Info("database ready", "data_dir", db.cfg.DataDir, "engines", db.order)
	return nil
}

// Shutdown stops every engine, taking a final snapshot of each, and joins
// their errors.
func (db *DB) Shutdown(ctx context.Context) error {
	var errs []error
	for _, kind := range db.order {
		if err := db.engines[kind].Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s engine shutdown: %w", kind, err))
		}
	}
	db.logger.Info("database shut down")
	return errors.Join(errs...)
}

func (db *DB) Engine(kind types.Kind) (engine.Engine, error) {
	e, ok := db.engines[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEngine, kind)
	}
	return e, nil
}

// KeyValue returns the key-value engine if configured.
func (db *DB) KeyValue() (*engine.KeyValue, error) {
	e, err := db.Engine(types.KindKeyValue)
	if err != nil {
		return nil, err
	}
	return e.(*engine.KeyValue), nil
}

// Document returns the document engine if configured.
func (db *DB) Document() (*engine.Document, error) {
	e, err := db.Engine(types.KindDocument)
	if err != nil {
		return nil, err
	}
	return e.(*engine.Document), nil
}

// Kinds lists configured engines in startup order.
func (db *DB) Kinds() []types.Kind {
	return append([]types.Kind(nil), db.order...)
}

type Health struct {
	Status  string                `json:"status"`
	Engines map[types.Kind]string `json:"engines"`
}

// Health reports readiness of every engine. Status is "ok" only when all are
// ready.
func (db *DB) Health() Health {
	h := Health{Status: "ok", Engines: make(map[types.Kind]string, len(db.order))}
	for _, kind := range db.order {
		st := db.engines[kind].Stats()
		h.Engines[kind] = st.Status
		if !st.Ready {
			h.Status = "degraded"
		}
	}
	return h
}
