package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"chimeradb/pkg/compression"
	"chimeradb/pkg/dberrors"
	"chimeradb/pkg/listener"
	"chimeradb/pkg/recovery"
	"chimeradb/pkg/snapshot"
	"chimeradb/pkg/state"
	"chimeradb/pkg/types"
	"chimeradb/pkg/wal"

	"github.com/google/uuid"
)

type status int32

const (
	statusNew status = iota
	statusReady
	statusFailed
	statusClosed
)

func (s status) String() string {
	switch s {
	case statusNew:
		return "new"
	case statusReady:
		return "ready"
	case statusFailed:
		return "failed"
	case statusClosed:
		return "closed"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// variant holds what differs between engine kinds.
type variant interface {
	// prepare validates a client value and returns the bytes to persist plus
	// their decoded form.
	prepare(key string, value []byte) ([]byte, any, error)
	// decode rebuilds the decoded form of a persisted value during recovery.
	decode(value []byte) (any, error)
}

// core implements the durability contract shared by every variant.
type core struct {
	kind    types.Kind
	opts    Options
	logger  *slog.Logger
	variant variant

	// mu serializes WAL append + state apply.
	mu     sync.Mutex
	snapMu sync.Mutex

	status    atomic.Int32
	store     *state.Store
	log       *wal.WAL
	snaps     *snapshot.Manager
	recovery  *recovery.Coordinator
	watermark atomic.Uint64
	mutations atomic.Int64

	snapCh  chan struct{}
	snapper *listener.Listener[struct{}]
}

func newCore(kind types.Kind, opts Options, v variant) (*core, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("%s engine: empty data dir", kind)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &core{
		kind:    kind,
		opts:    opts,
		logger:  logger.With("engine", string(kind)),
		variant: v,
		store:   state.New(),
	}, nil
}

func (c *core) Kind() types.Kind {
	return c.kind
}

func (c *core) Ready() bool {
	return status(c.status.Load()) == statusReady
}

func (c *core) checkReady() error {
	switch status(c.status.Load()) {
	case statusReady:
		return nil
	case statusClosed:
		return dberrors.ErrClosed
	default:
		return dberrors.ErrNotReady
	}
}

func (c *core) Startup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch status(c.status.Load()) {
	case statusReady:
		return nil
	case statusClosed:
		return dberrors.ErrClosed
	case statusFailed:
		return fmt.Errorf("%w: previous startup failed", dberrors.ErrNotReady)
	}

	if err := c.open(ctx); err != nil {
		c.status.Store(int32(statusFailed))
		if c.log != nil {
			if cerr := c.log.Close(); cerr != nil {
				c.logger.Warn("failed to close wal after failed startup", "error", cerr)
			}
		}
		c.logger.Error("engine startup failed", "error", err)
		return err
	}

	c.status.Store(int32(statusReady))
	c.logger.Info("engine ready", "last_seq", c.log.LastSeq(), "collections", len(c.store.Names()))
	return nil
}

func (c *core) open(ctx context.Context) error {
	log, err := wal.Open(filepath.Join(c.opts.Dir, "wal"),
		append([]wal.Option{wal.WithLogger(c.logger)}, c.opts.WALOptions...)...)
	if err != nil {
		return err
	}
	c.log = log

	codec, err := compression.ByName(c.opts.Snapshot.Compression)
	if err != nil {
		return err
	}
	snaps, err := snapshot.New(filepath.Join(c.opts.Dir, "snapshots"),
		snapshot.WithCodec(codec),
		snapshot.WithRetain(c.opts.Snapshot.Retain),
		snapshot.WithTruncator(log),
		snapshot.WithLogger(c.logger),
	)
	if err != nil {
		return err
	}
	c.snaps = snaps

	c.recovery = recovery.New(log, snaps, c.logger)
	res, err := c.recovery.Run(ctx, target{c})
	if err != nil {
		return err
	}
	c.watermark.Store(res.Watermark)
	c.mutations.Store(int64(res.LastSeq - res.Watermark))

	if every := c.opts.Snapshot.EveryNMutations; every > 0 {
		c.snapCh = make(chan struct{}, 1)
		c.snapper = listener.New("snapshotter", c.snapCh, func(ctx context.Context, _ struct{}) error {
			_, err := c.snapshot(ctx)
			return err
		}).WithLogger(c.logger)
		c.snapper.Start(context.Background())
	}
	return nil
}

func (c *core) Shutdown(ctx context.Context) error {
	prev := status(c.status.Swap(int32(statusClosed)))
	if prev == statusClosed {
		return nil
	}
	if c.snapper != nil {
		c.snapper.Stop()
	}
	if c.log == nil {
		return nil
	}
	if prev != statusReady {
		return c.log.Close()
	}

	if _, err := c.snapshot(ctx); err != nil {
		c.logger.Warn("final snapshot failed", "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.log.Close(); err != nil {
		return fmt.Errorf("%s engine: %w", c.kind, err)
	}
	c.logger.Info("engine shut down")
	return nil
}

func (c *core) validateName(collection string) error {
	if collection == "" {
		return dberrors.InvalidKey("empty collection name")
	}
	if limit := c.opts.Limits.MaxCollectionNameLen; len(collection) > limit {
		return dberrors.InvalidKey("collection name of %d bytes exceeds %d", len(collection), limit)
	}
	return nil
}

func (c *core) validateKey(collection, key string) error {
	if err := c.validateName(collection); err != nil {
		return err
	}
	if key == "" {
		return dberrors.InvalidKey("empty key")
	}
	if limit := c.opts.Limits.MaxKeyLen; len(key) > limit {
		return dberrors.InvalidKey("key of %d bytes exceeds %d", len(key), limit)
	}
	return nil
}

func (c *core) checkSize(value []byte) error {
	if limit := int(c.opts.Limits.MaxValueSize); len(value) > limit {
		return dberrors.ValueTooLarge(len(value), limit)
	}
	return nil
}

func (c *core) Put(collection, key string, value []byte) error {
	if err := c.checkReady(); err != nil {
		return err
	}
	if err := c.validateKey(collection, key); err != nil {
		return err
	}
	if err := c.checkSize(value); err != nil {
		return err
	}
	stored, decoded, err := c.variant.prepare(key, value)
	if err != nil {
		return err
	}
	if err := c.checkSize(stored); err != nil {
		return err
	}

	c.mu.Lock()
	if err := c.checkReady(); err != nil {
		c.mu.Unlock()
		return err
	}
	seq, err := c.log.Append(wal.Record{Op: types.OpPut, Collection: collection, Key: key, Value: stored})
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.store.Put(collection, &state.Record{Key: key, Value: stored, Decoded: decoded, Seq: seq})
	c.mu.Unlock()

	c.mutated()
	return nil
}

func (c *core) Get(collection, key string) ([]byte, error) {
	rec, err := c.get(collection, key)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(rec.Value), nil
}

func (c *core) get(collection, key string) (*state.Record, error) {
	if err := c.checkReady(); err != nil {
		return nil, err
	}
	if err := c.validateKey(collection, key); err != nil {
		return nil, err
	}
	rec, ok := c.store.Get(collection, key)
	if !ok {
		return nil, dberrors.KeyNotFound(collection, key)
	}
	return rec, nil
}

func (c *core) Delete(collection, key string) error {
	if err := c.checkReady(); err != nil {
		return err
	}
	if err := c.validateKey(collection, key); err != nil {
		return err
	}

	c.mu.Lock()
	if err := c.checkReady(); err != nil {
		c.mu.Unlock()
		return err
	}
	if _, ok := c.store.Get(collection, key); !ok {
		c.mu.Unlock()
		return dberrors.KeyNotFound(collection, key)
	}
	if _, err := c.log.Append(wal.Record{Op: types.OpDelete, Collection: collection, Key: key}); err != nil {
		c.mu.Unlock()
		return err
	}
	c.store.Delete(collection, key)
	c.mu.Unlock()

	c.mutated()
	return nil
}

func (c *core) DropCollection(collection string) error {
	if err := c.checkReady(); err != nil {
		return err
	}
	if err := c.validateName(collection); err != nil {
		return err
	}

	c.mu.Lock()
	if err := c.checkReady(); err != nil {
		c.mu.Unlock()
		return err
	}
	if _, ok := c.store.Collection(collection); !ok {
		c.mu.Unlock()
		return dberrors.KeyNotFound(collection, "")
	}
	if _, err := c.log.Append(wal.Record{Op: types.OpDrop, Collection: collection}); err != nil {
		c.mu.Unlock()
		return err
	}
	c.store.Drop(collection)
	c.mu.Unlock()

	c.mutated()
	return nil
}

func (c *core) Collections() []string {
	if c.checkReady() != nil {
		return nil
	}
	return c.store.Names()
}

func (c *core) Snapshot(ctx context.Context) (snapshot.ID, error) {
	if err := c.checkReady(); err != nil {
		return uuid.Nil, err
	}
	return c.snapshot(ctx)
}

// snapshot holds writers off only while it reads the watermark and copies
// record pointers; encoding and I/O run without the mutation lock.
func (c *core) snapshot(ctx context.Context) (snapshot.ID, error) {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()

	c.mu.Lock()
	watermark := c.log.LastSeq()
	im := c.store.Image()
	pending := c.mutations.Load()
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}

	id, err := c.snaps.Capture(im, watermark)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s engine snapshot: %w", c.kind, err)
	}
	c.watermark.Store(watermark)
	c.mutations.Add(-pending)
	return id, nil
}

// mutated counts a successful mutation and queues a background snapshot
// once enough have accumulated.
func (c *core) mutated() {
	n := c.mutations.Add(1)
	every := int64(c.opts.Snapshot.EveryNMutations)
	if every <= 0 || n < every || c.snapCh == nil {
		return
	}
	select {
	case c.snapCh <- struct{}{}:
	default:
	}
}

// target feeds recovery into the core's state without size validation.
type target struct {
	c *core
}

func (t target) Reset() {
	t.c.store.Reset()
}

func (t target) Restore(im snapshot.Image, _ types.SeqN) error {
	if err := t.c.store.Restore(im, t.c.variant.decode); err != nil {
		return dberrors.Corruption("snapshot value: %v", err)
	}
	return nil
}

func (t target) Apply(rec wal.Record) error {
	var decoded any
	if rec.Op == types.OpPut {
		d, err := t.c.variant.decode(rec.Value)
		if err != nil {
			return dberrors.Corruption("wal seq %d: %v", rec.Seq, err)
		}
		decoded = d
	}
	t.c.store.Apply(rec.Op, rec.Collection, rec.Key,
		&state.Record{Key: rec.Key, Value: rec.Value, Decoded: decoded, Seq: rec.Seq})
	return nil
}
