package recovery

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"

	"chimeradb/pkg/dberrors"
	"chimeradb/pkg/snapshot"
	"chimeradb/pkg/types"
	"chimeradb/pkg/wal"

	"github.com/google/uuid"
)

type State int32

const (
	StateStart State = iota
	StateLoadSnapshot
	StateReplayWAL
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "START"
	case StateLoadSnapshot:
		return "LOAD_SNAPSHOT"
	case StateReplayWAL:
		return "REPLAY_WAL"
	case StateReady:
		return "READY"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Log is the part of the WAL recovery reads.
type Log interface {
	Base() types.SeqN
	LastSeq() types.SeqN
	Rebase(seq types.SeqN) error
	ReadFrom(seq types.SeqN) iter.Seq2[wal.Record, error]
}

// Snapshots is the part of the snapshot manager recovery reads.
type Snapshots interface {
	Latest() (*snapshot.Meta, error)
	Load(id snapshot.ID) (snapshot.Image, snapshot.Meta, error)
}

// Target receives the recovered state. Apply must be idempotent and must not
// enforce input size limits.
type Target interface {
	Reset()
	Restore(im snapshot.Image, watermark types.SeqN) error
	Apply(rec wal.Record) error
}

type Result struct {
	SnapshotID snapshot.ID
	Watermark  types.SeqN
	Replayed   int
	LastSeq    types.SeqN
	Took       time.Duration
}

// Coordinator rebuilds engine state from the latest snapshot plus the WAL
// suffix after its watermark.
type Coordinator struct {
	log    Log
	snaps  Snapshots
	logger *slog.Logger
	state  atomic.Int32
}

func New(log Log, snaps Snapshots, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		log:    log,
		snaps:  snaps,
		logger: logger.With("component", "recovery"),
	}
}

func (c *Coordinator) State() State {
	return State(c.state.Load())
}

func (c *Coordinator) transition(to State, attrs ...any) {
	from := State(c.state.Swap(int32(to)))
	c.logger.Info("recovery transition", append([]any{"from", from, "to", to}, attrs...)...)
}

func (c *Coordinator) fail(err error) error {
	c.transition(StateFailed, "error", err)
	return err
}

// Run executes START -> LOAD_SNAPSHOT -> REPLAY_WAL -> READY. Any error moves
// the coordinator to FAILED and the target must not serve requests.
func (c *Coordinator) Run(ctx context.Context, target Target) (Result, error) {
	started := time.Now()
	c.state.Store(int32(StateStart))

	var res Result

	c.transition(StateLoadSnapshot)
	meta, err := c.snaps.Latest()
	if err != nil {
		return res, c.fail(fmt.Errorf("failed to locate snapshot: %w", err))
	}

	if meta == nil {
		target.Reset()
	} else {
		im, loaded, err := c.snaps.Load(meta.ID)
		if err != nil {
			return res, c.fail(fmt.Errorf("failed to load snapshot %s: %w", meta.ID, err))
		}
		if err := target.Restore(im, loaded.Watermark); err != nil {
			return res, c.fail(fmt.Errorf("failed to restore snapshot %s: %w", meta.ID, err))
		}
		res.SnapshotID = meta.ID
		res.Watermark = loaded.Watermark
	}
	res.LastSeq = res.Watermark

	if err := c.reconcile(res.Watermark); err != nil {
		return res, c.fail(err)
	}

	c.transition(StateReplayWAL, "snapshot", res.SnapshotID, "watermark", res.Watermark)
	expect := res.Watermark + 1
	for rec, err := range c.log.ReadFrom(expect) {
		if err != nil {
			return res, c.fail(fmt.Errorf("wal replay: %w", err))
		}
		if err := ctx.Err(); err != nil {
			return res, c.fail(err)
		}
		if rec.Seq != expect {
			return res, c.fail(dberrors.Corruption("wal replay expected seq %d, got %d", expect, rec.Seq))
		}
		if err := target.Apply(rec); err != nil {
			return res, c.fail(fmt.Errorf("failed to apply seq %d: %w", rec.Seq, err))
		}
		res.Replayed++
		res.LastSeq = rec.Seq
		expect++
	}
	if res.LastSeq != c.log.LastSeq() {
		return res, c.fail(dberrors.Corruption("wal replay stopped at %d, log ends at %d", res.LastSeq, c.log.LastSeq()))
	}

	res.Took = time.Since(started)
	c.transition(StateReady, "replayed", res.Replayed, "last_seq", res.LastSeq, "took", res.Took)
	return res, nil
}

// reconcile lines the WAL up with the snapshot watermark. An empty log
// behind the watermark is rebased; a log that starts after the watermark or
// ends before it has lost records.
func (c *Coordinator) reconcile(watermark types.SeqN) error {
	base, last := c.log.Base(), c.log.LastSeq()

	if base > watermark {
		return dberrors.Corruption("wal starts after seq %d but snapshot watermark is %d", base, watermark)
	}
	if last >= watermark {
		return nil
	}
	if base != last {
		return dberrors.Corruption("wal ends at seq %d, behind snapshot watermark %d", last, watermark)
	}

	c.logger.Warn("rebasing empty wal to snapshot watermark", "from", last, "to", watermark)
	if err := c.log.Rebase(watermark); err != nil {
		return fmt.Errorf("failed to rebase wal: %w", err)
	}
	return nil
}

// NoSnapshot reports whether res was recovered from the WAL alone.
func (res Result) NoSnapshot() bool {
	return res.SnapshotID == uuid.Nil
}
