package wal

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"chimeradb/pkg/clock"
	"chimeradb/pkg/dberrors"
	"chimeradb/pkg/fsutil"
	"chimeradb/pkg/types"
)

const fileName = "wal.log"

// WAL is an append-only, checksummed mutation log. Every Append is fsynced
// before it returns.
type WAL struct {
	mu     sync.Mutex
	dir    string
	path   string
	file   *os.File
	size   int64
	base   types.SeqN
	seq    *clock.Sequence
	broken error

	logger *slog.Logger
	syncFn func(*os.File) error
}

type Option func(*WAL)

func WithLogger(logger *slog.Logger) Option {
	return func(w *WAL) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithSyncFunc replaces the fsync call. Used for fault injection.
func WithSyncFunc(fn func(*os.File) error) Option {
	return func(w *WAL) {
		if fn != nil {
			w.syncFn = fn
		}
	}
}

// Open opens or creates the log in dir and repairs a torn tail. A header or
// payload checksum failure that is followed by further data is reported as
// corruption.
func Open(dir string, opts ...Option) (*WAL, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty WAL dir")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	w := &WAL{
		dir:    dir,
		path:   filepath.Join(dir, fileName),
		seq:    clock.NewSequence(0),
		logger: slog.Default(),
		syncFn: (*os.File).Sync,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "wal", "dir", dir)

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}
	w.file = file

	if err := w.load(); err != nil {
		if cerr := file.Close(); cerr != nil {
			w.logger.Warn("failed to close WAL file", "error", cerr)
		}
		return nil, err
	}

	w.logger.Info("wal opened", "base", w.base, "last_seq", w.seq.Val(), "size", w.size)
	return w, nil
}

// load validates the header, scans every record and truncates a torn tail.
func (w *WAL) load() error {
	info, err := w.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat WAL: %w", err)
	}
	size := info.Size()

	if size < headerSize {
		if size > 0 {
			w.logger.Warn("torn WAL header, reinitialising", "size", size)
		}
		return w.writeHeader(0)
	}

	hdr := make([]byte, headerSize)
	if _, err := w.file.ReadAt(hdr, 0); err != nil {
		return fmt.Errorf("failed to read WAL header: %w", err)
	}
	base, err := decodeHeader(hdr)
	if err != nil {
		return dberrors.Corruption("%s: %v", w.path, err)
	}

	fr := newFrameReader(io.NewSectionReader(w.file, headerSize, size-headerSize), headerSize, size)
	last := base
	torn := false

scan:
	for {
		rec, _, frameEnd, err := fr.next()
		switch {
		case errors.Is(err, io.EOF):
			break scan
		case errors.Is(err, errIncomplete):
			torn = true
			break scan
		case err != nil:
			zero, zerr := w.zeroFrom(frameEnd, size)
			if zerr != nil {
				return zerr
			}
			if !zero {
				return dberrors.Corruption("%s: record at offset %d: %v", w.path, fr.off, err)
			}
			torn = true
			break scan
		}

		if rec.Seq != last+1 {
			return dberrors.Corruption("%s: sequence gap at offset %d: want %d, got %d",
				w.path, fr.off, last+1, rec.Seq)
		}
		last = rec.Seq
	}

	if torn {
		w.logger.Warn("truncating torn WAL tail",
			"offset", fr.off, "dropped_bytes", size-fr.off, "last_seq", last)
		if err := w.file.Truncate(fr.off); err != nil {
			return fmt.Errorf("failed to truncate torn WAL tail: %w", err)
		}
		if err := w.syncFn(w.file); err != nil {
			return fmt.Errorf("failed to sync WAL after repair: %w", err)
		}
	}

	w.base = base
	w.size = fr.off
	w.seq.Set(last)
	return nil
}

func (w *WAL) zeroFrom(off, size int64) (bool, error) {
	buf := make([]byte, 32*1024)
	sr := io.NewSectionReader(w.file, off, size-off)
	for {
		n, err := sr.Read(buf)
		for _, b := range buf[:n] {
			if b != 0 {
				return false, nil
			}
		}
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to read WAL tail: %w", err)
		}
	}
}

func (w *WAL) writeHeader(base types.SeqN) error {
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to reset WAL: %w", err)
	}
	if _, err := w.file.WriteAt(encodeHeader(base), 0); err != nil {
		return fmt.Errorf("failed to write WAL header: %w", err)
	}
	if err := w.syncFn(w.file); err != nil {
		return fmt.Errorf("failed to sync WAL header: %w", err)
	}
	if err := fsutil.SyncDir(w.dir); err != nil {
		return err
	}

	w.base = base
	w.size = headerSize
	w.seq.Set(base)
	return nil
}

// Append assigns the next sequence number to rec, writes it and fsyncs.
// On failure nothing is left in the log and the sequence does not advance.
func (w *WAL) Append(rec Record) (types.SeqN, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, dberrors.ErrClosed
	}
	if w.broken != nil {
		return 0, dberrors.Durability(w.broken)
	}

	rec.Seq = w.seq.Next()
	frame, err := rec.encode()
	if err != nil {
		return 0, dberrors.Durability(err)
	}

	_, err = w.file.WriteAt(frame, w.size)
	if err == nil {
		err = w.syncFn(w.file)
	}
	if err != nil {
		w.rollback()
		return 0, dberrors.Durability(err)
	}

	w.size += int64(len(frame))
	w.seq.Commit(rec.Seq)

	w.logger.Debug("wal append", "seq", rec.Seq, "op", rec.Op, "collection", rec.Collection)
	return rec.Seq, nil
}

// rollback cuts the file back to the last durable record. If that fails the
// log refuses further appends.
func (w *WAL) rollback() {
	err := w.file.Truncate(w.size)
	if err == nil {
		err = w.syncFn(w.file)
	}
	if err != nil {
		w.broken = fmt.Errorf("rollback after failed append: %w", err)
		w.logger.Error("wal rollback failed", "error", err)
	}
}

// Flush fsyncs the log file.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return dberrors.ErrClosed
	}
	if err := w.syncFn(w.file); err != nil {
		return dberrors.Durability(err)
	}
	return nil
}

// ReadFrom yields every durable record with Seq >= from in order. Each
// iteration opens its own reader, so the sequence may be ranged over again.
// A bad record yields a corruption error and ends the sequence.
func (w *WAL) ReadFrom(from types.SeqN) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		w.mu.Lock()
		if w.file == nil {
			w.mu.Unlock()
			yield(Record{}, dberrors.ErrClosed)
			return
		}
		limit := w.size
		f, err := os.Open(w.path)
		w.mu.Unlock()
		if err != nil {
			yield(Record{}, fmt.Errorf("failed to open WAL for reading: %w", err))
			return
		}
		defer func() {
			if cerr := f.Close(); cerr != nil {
				w.logger.Warn("failed to close WAL read file", "error", cerr)
			}
		}()

		readRecords(f, w.path, from, limit, yield)
	}
}

// ReadDir reads the log in dir without repairing it. A torn tail is reported
// as an error after the last good record.
func ReadDir(dir string, from types.SeqN) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		path := filepath.Join(dir, fileName)
		f, err := os.Open(path)
		if err != nil {
			yield(Record{}, fmt.Errorf("failed to open WAL for reading: %w", err))
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			yield(Record{}, fmt.Errorf("failed to stat WAL: %w", err))
			return
		}
		hdr := make([]byte, headerSize)
		if _, err := io.ReadFull(f, hdr); err != nil {
			yield(Record{}, dberrors.Corruption("%s: %v", path, err))
			return
		}
		if _, err := decodeHeader(hdr); err != nil {
			yield(Record{}, dberrors.Corruption("%s: %v", path, err))
			return
		}

		readRecords(f, path, from, info.Size(), yield)
	}
}

func readRecords(f *os.File, path string, from types.SeqN, limit int64, yield func(Record, error) bool) {
	if limit < headerSize {
		yield(Record{}, dberrors.Corruption("%s: missing header", path))
		return
	}

	fr := newFrameReader(io.NewSectionReader(f, headerSize, limit-headerSize), headerSize, limit)
	for {
		rec, _, _, err := fr.next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			yield(Record{}, dberrors.Corruption("%s: record at offset %d: %v", path, fr.off, err))
			return
		}
		if rec.Seq < from {
			continue
		}
		if !yield(rec, nil) {
			return
		}
	}
}

// TruncateBefore drops every record with Seq < seq. The surviving records are
// copied to a staging file that atomically replaces the log.
func (w *WAL) TruncateBefore(seq types.SeqN) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return dberrors.ErrClosed
	}
	if seq <= w.base+1 {
		return nil
	}
	if last := w.seq.Val(); seq > last+1 {
		seq = last + 1
	}
	newBase := seq - 1

	tmpPath := w.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create WAL staging file: %w", err)
	}
	abort := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}

	if _, err := tmp.Write(encodeHeader(newBase)); err != nil {
		return abort(fmt.Errorf("failed to write WAL header: %w", err))
	}

	newSize := int64(headerSize)
	kept := 0
	fr := newFrameReader(io.NewSectionReader(w.file, headerSize, w.size-headerSize), headerSize, w.size)
	for {
		rec, raw, _, err := fr.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return abort(dberrors.Corruption("%s: record at offset %d: %v", w.path, fr.off, err))
		}
		if rec.Seq < seq {
			continue
		}
		if _, err := tmp.Write(raw); err != nil {
			return abort(fmt.Errorf("failed to copy WAL record: %w", err))
		}
		newSize += int64(len(raw))
		kept++
	}

	if err := w.syncFn(tmp); err != nil {
		return abort(fmt.Errorf("failed to sync WAL staging file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close WAL staging file: %w", err)
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace WAL: %w", err)
	}
	if err := fsutil.SyncDir(w.dir); err != nil {
		return err
	}

	file, err := os.OpenFile(w.path, os.O_RDWR, 0o600)
	if err != nil {
		// the log on disk is consistent but this handle is gone
		w.broken = fmt.Errorf("failed to reopen WAL: %w", err)
		return w.broken
	}
	if cerr := w.file.Close(); cerr != nil {
		w.logger.Warn("failed to close replaced WAL file", "error", cerr)
	}

	w.file = file
	w.size = newSize
	w.base = newBase

	w.logger.Info("wal truncated", "before", seq, "kept", kept, "size", newSize)
	return nil
}

// Rebase moves the base of an empty log so the next append gets seq+1.
func (w *WAL) Rebase(seq types.SeqN) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return dberrors.ErrClosed
	}
	if w.seq.Val() != w.base {
		return fmt.Errorf("rebase of non-empty WAL (base %d, last %d)", w.base, w.seq.Val())
	}
	if seq < w.base {
		return fmt.Errorf("rebase to %d below current base %d", seq, w.base)
	}
	if seq == w.base {
		return nil
	}

	if err := w.writeHeader(seq); err != nil {
		return err
	}
	w.logger.Info("wal rebased", "base", seq)
	return nil
}

// LastSeq returns the sequence of the last durable record, or the base when
// the log is empty.
func (w *WAL) LastSeq() types.SeqN {
	return w.seq.Val()
}

// Base returns the sequence number that precedes the first record.
func (w *WAL) Base() types.SeqN {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.base
}

// Empty reports whether the log holds no records.
func (w *WAL) Empty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq.Val() == w.base
}

// Size returns the byte size of the durable log.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}

	syncErr := w.syncFn(w.file)
	closeErr := w.file.Close()
	w.file = nil

	if syncErr != nil {
		return fmt.Errorf("failed to sync WAL on close: %w", syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close WAL file: %w", closeErr)
	}
	return nil
}
