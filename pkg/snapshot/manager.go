package snapshot

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"chimeradb/pkg/compression"
	"chimeradb/pkg/dberrors"
	"chimeradb/pkg/fsutil"
	"chimeradb/pkg/types"

	"github.com/google/uuid"
)

const (
	filePrefix = "snap-"
	fileSuffix = ".snap"
	tmpSuffix  = ".tmp"

	DefaultRetain = 2
)

// Truncator drops log records that a published snapshot already covers.
type Truncator interface {
	TruncateBefore(seq types.SeqN) error
}

// Manager captures, publishes, loads and prunes snapshots in one directory.
type Manager struct {
	mu        sync.Mutex
	dir       string
	codec     compression.Codec
	retain    int
	truncator Truncator
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Manager)

func WithCodec(codec compression.Codec) Option {
	return func(m *Manager) {
		if codec != nil {
			m.codec = codec
		}
	}
}

// WithRetain sets how many snapshots survive pruning, at least 1.
func WithRetain(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.retain = n
		}
	}
}

func WithTruncator(t Truncator) Option {
	return func(m *Manager) {
		m.truncator = t
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func New(dir string, opts ...Option) (*Manager, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty snapshot dir")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	none, _ := compression.ByName("none")
	m := &Manager{
		dir:    dir,
		codec:  none,
		retain: DefaultRetain,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "snapshot", "dir", dir)

	return m, nil
}

func (m *Manager) Dir() string {
	return m.dir
}

// Capture writes im as the snapshot at watermark and publishes it. Capturing
// the watermark that is already current returns the current ID.
func (m *Manager) Capture(im Image, watermark types.SeqN) (ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := readCurrent(m.dir)
	if err != nil {
		return uuid.Nil, err
	}
	if current != nil {
		switch {
		case watermark < current.Watermark:
			return uuid.Nil, fmt.Errorf("snapshot watermark %d is behind current %d", watermark, current.Watermark)
		case watermark == current.Watermark:
			m.logger.Debug("snapshot already current", "id", current.ID, "watermark", watermark)
			return current.ID, nil
		}
	}

	started := m.now()
	id := uuid.New()
	name := fileName(watermark, id)

	data, err := marshal(im, watermark, m.codec)
	if err != nil {
		return uuid.Nil, err
	}

	if err := m.stage(name, data); err != nil {
		return uuid.Nil, err
	}

	meta := Meta{
		ID:        id,
		Watermark: watermark,
		File:      name,
		Codec:     m.codec.Name(),
		Records:   im.Records(),
		Size:      int64(len(data)),
		CreatedAt: started.UTC(),
	}
	if err := writeCurrent(m.dir, meta); err != nil {
		if rerr := os.Remove(filepath.Join(m.dir, name)); rerr != nil {
			m.logger.Warn("failed to remove unpublished snapshot", "file", name, "error", rerr)
		}
		return uuid.Nil, fmt.Errorf("failed to publish snapshot: %w", err)
	}

	m.logger.Info("snapshot published",
		"id", id, "watermark", watermark, "records", meta.Records,
		"bytes", meta.Size, "codec", meta.Codec, "took", m.now().Sub(started))

	if m.truncator != nil {
		if err := m.truncator.TruncateBefore(watermark + 1); err != nil {
			m.logger.Error("wal truncation after snapshot failed", "watermark", watermark, "error", err)
		}
	}
	if err := m.prune(meta); err != nil {
		m.logger.Error("snapshot pruning failed", "error", err)
	}

	return id, nil
}

// stage writes data to name.tmp, fsyncs it and renames it into place.
func (m *Manager) stage(name string, data []byte) error {
	final := filepath.Join(m.dir, name)
	tmp := final + tmpSuffix

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create staged snapshot: %w", err)
	}
	fail := func(err error) error {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}

	if _, err := f.Write(data); err != nil {
		return fail(fmt.Errorf("failed to write staged snapshot: %w", err))
	}
	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("failed to sync staged snapshot: %w", err))
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close staged snapshot: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename staged snapshot: %w", err)
	}
	return fsutil.SyncDir(m.dir)
}

// Latest returns the published snapshot, or nil if none exists.
func (m *Manager) Latest() (*Meta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta, err := readCurrent(m.dir)
	if err != nil || meta == nil {
		return nil, err
	}

	info, err := os.Stat(filepath.Join(m.dir, meta.File))
	if errors.Is(err, os.ErrNotExist) {
		return nil, dberrors.Corruption("CURRENT names missing snapshot %s", meta.File)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}
	meta.Size = info.Size()
	return meta, nil
}

// Load reads and verifies the snapshot with the given ID. Any checksum or
// format failure is corruption.
func (m *Manager) Load(id ID) (Image, Meta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name, watermark, err := m.find(id)
	if err != nil {
		return Image{}, Meta{}, err
	}

	path := filepath.Join(m.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, Meta{}, fmt.Errorf("failed to read snapshot: %w", err)
	}

	im, h, err := unmarshal(data)
	if err != nil {
		return Image{}, Meta{}, dberrors.Corruption("%s: %v", name, err)
	}
	if h.Watermark != watermark {
		return Image{}, Meta{}, dberrors.Corruption("%s: header watermark %d does not match file name", name, h.Watermark)
	}

	codec, _ := compression.ByID(h.Codec)
	meta := Meta{
		ID:        id,
		Watermark: h.Watermark,
		File:      name,
		Codec:     codec.Name(),
		Records:   h.Records,
		Size:      int64(len(data)),
	}
	if info, err := os.Stat(path); err == nil {
		meta.CreatedAt = info.ModTime().UTC()
	}

	m.logger.Debug("snapshot loaded", "id", id, "watermark", h.Watermark, "records", h.Records)
	return im, meta, nil
}

func (m *Manager) find(id ID) (string, types.SeqN, error) {
	files, err := m.files()
	if err != nil {
		return "", 0, err
	}
	for _, f := range files {
		if f.id == id {
			return f.name, f.watermark, nil
		}
	}
	return "", 0, dberrors.Corruption("snapshot %s not found", id)
}

// List returns the metadata of every snapshot file, oldest first.
func (m *Manager) List() ([]Meta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	files, err := m.files()
	if err != nil {
		return nil, err
	}

	metas := make([]Meta, 0, len(files))
	for _, f := range files {
		meta, err := m.readMeta(f)
		if err != nil {
			return nil, err
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

func (m *Manager) readMeta(f snapFile) (Meta, error) {
	path := filepath.Join(m.dir, f.name)
	file, err := os.Open(path)
	if err != nil {
		return Meta{}, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer file.Close()

	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(file, buf); err != nil {
		return Meta{}, dberrors.Corruption("%s: %v", f.name, err)
	}
	h, err := decodeHeader(buf)
	if err != nil {
		return Meta{}, dberrors.Corruption("%s: %v", f.name, err)
	}

	codecName := strconv.Itoa(int(h.Codec))
	if codec, err := compression.ByID(h.Codec); err == nil {
		codecName = codec.Name()
	}

	return Meta{
		ID:        f.id,
		Watermark: h.Watermark,
		File:      f.name,
		Codec:     codecName,
		Records:   h.Records,
		Size:      f.size,
		CreatedAt: f.modTime.UTC(),
	}, nil
}

// Prune removes snapshots beyond the retention count, oldest first, and any
// leftover staging files. The current snapshot is always kept.
func (m *Manager) Prune() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := readCurrent(m.dir)
	if err != nil {
		return err
	}
	if current == nil {
		return m.removeStaged()
	}
	return m.prune(*current)
}

func (m *Manager) prune(current Meta) error {
	files, err := m.files()
	if err != nil {
		return err
	}

	var older, victims []snapFile
	for _, f := range files {
		switch {
		case f.id == current.ID:
		case f.watermark > current.Watermark:
			// staged and renamed but never published
			victims = append(victims, f)
		default:
			older = append(older, f)
		}
	}
	if extra := len(older) - (m.retain - 1); extra > 0 {
		victims = append(victims, older[:extra]...)
	}

	var errs []error
	for _, f := range victims {
		if err := os.Remove(filepath.Join(m.dir, f.name)); err != nil {
			errs = append(errs, err)
			continue
		}
		m.logger.Info("snapshot pruned", "file", f.name, "watermark", f.watermark)
	}

	if err := m.removeStaged(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (m *Manager) removeStaged() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("failed to list snapshot dir: %w", err)
	}
	var errs []error
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), tmpSuffix) {
			if err := os.Remove(filepath.Join(m.dir, e.Name())); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

type snapFile struct {
	name      string
	id        ID
	watermark types.SeqN
	size      int64
	modTime   time.Time
}

// files lists snapshot files ordered by watermark, then modification time.
func (m *Manager) files() ([]snapFile, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshot dir: %w", err)
	}

	var out []snapFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		watermark, id, ok := parseFileName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat snapshot: %w", err)
		}
		out = append(out, snapFile{
			name:      e.Name(),
			id:        id,
			watermark: watermark,
			size:      info.Size(),
			modTime:   info.ModTime(),
		})
	}

	slices.SortFunc(out, func(a, b snapFile) int {
		if a.watermark != b.watermark {
			if a.watermark < b.watermark {
				return -1
			}
			return 1
		}
		return a.modTime.Compare(b.modTime)
	})
	return out, nil
}

func fileName(watermark types.SeqN, id ID) string {
	return fmt.Sprintf("%s%020d-%s%s", filePrefix, watermark, id, fileSuffix)
}

func parseFileName(name string) (types.SeqN, ID, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return 0, uuid.Nil, false
	}
	body := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	wm, rest, ok := strings.Cut(body, "-")
	if !ok {
		return 0, uuid.Nil, false
	}
	watermark, err := strconv.ParseUint(wm, 10, 64)
	if err != nil {
		return 0, uuid.Nil, false
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return 0, uuid.Nil, false
	}
	return watermark, id, true
}
