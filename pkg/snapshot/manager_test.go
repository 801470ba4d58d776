package snapshot

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"chimeradb/pkg/compression"
	"chimeradb/pkg/dberrors"
	"chimeradb/pkg/types"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTruncator struct {
	calls []types.SeqN
	err   error
}

func (r *recordingTruncator) TruncateBefore(seq types.SeqN) error {
	r.calls = append(r.calls, seq)
	return r.err
}

func sampleImage(n int) Image {
	users := Collection{Name: "users"}
	for i := 0; i < n; i++ {
		users.Entries = append(users.Entries, Entry{
			Key:   fmt.Sprintf("user-%03d", i),
			Value: []byte(fmt.Sprintf(`{"n":%d}`, i)),
		})
	}
	return Image{Collections: []Collection{
		users,
		{Name: "empty"},
		{Name: "orders", Entries: []Entry{{Key: "o1", Value: []byte{}}}},
	}}
}

func newManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m, err := New(t.TempDir(), opts...)
	require.NoError(t, err)
	return m
}

func TestLatestWithoutSnapshot(t *testing.T) {
	m := newManager(t)
	meta, err := m.Latest()
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestCaptureAndLoadEveryCodec(t *testing.T) {
	for _, name := range compression.Names() {
		t.Run(name, func(t *testing.T) {
			codec, err := compression.ByName(name)
			require.NoError(t, err)
			m := newManager(t, WithCodec(codec))

			im := sampleImage(50)
			id, err := m.Capture(im, 120)
			require.NoError(t, err)

			latest, err := m.Latest()
			require.NoError(t, err)
			require.NotNil(t, latest)
			assert.Equal(t, id, latest.ID)
			assert.Equal(t, types.SeqN(120), latest.Watermark)
			assert.Equal(t, name, latest.Codec)
			assert.Equal(t, uint64(51), latest.Records)

			got, meta, err := m.Load(id)
			require.NoError(t, err)
			assert.Equal(t, types.SeqN(120), meta.Watermark)
			require.Len(t, got.Collections, 3)
			assert.Equal(t, "users", got.Collections[0].Name)
			assert.Equal(t, "empty", got.Collections[1].Name)
			assert.Empty(t, got.Collections[1].Entries)
			assert.Equal(t, im.Collections[0].Entries, got.Collections[0].Entries)
			assert.Equal(t, "o1", got.Collections[2].Entries[0].Key)
			assert.Empty(t, got.Collections[2].Entries[0].Value)
		})
	}
}

func TestCaptureTruncatesWAL(t *testing.T) {
	tr := &recordingTruncator{}
	m := newManager(t, WithTruncator(tr))

	_, err := m.Capture(sampleImage(1), 120)
	require.NoError(t, err)
	assert.Equal(t, []types.SeqN{121}, tr.calls)
}

func TestTruncationFailureDoesNotFailCapture(t *testing.T) {
	tr := &recordingTruncator{err: errors.New("busy")}
	m := newManager(t, WithTruncator(tr))

	id, err := m.Capture(sampleImage(1), 7)
	require.NoError(t, err)

	latest, err := m.Latest()
	require.NoError(t, err)
	assert.Equal(t, id, latest.ID)
}

func TestCaptureSameWatermarkReturnsCurrent(t *testing.T) {
	tr := &recordingTruncator{}
	m := newManager(t, WithTruncator(tr))

	first, err := m.Capture(sampleImage(2), 10)
	require.NoError(t, err)
	second, err := m.Capture(sampleImage(2), 10)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, tr.calls, 1)

	_, err = m.Capture(sampleImage(2), 9)
	assert.Error(t, err, "watermark must not move backwards")
}

func TestRetentionKeepsNewest(t *testing.T) {
	m := newManager(t, WithRetain(2))

	var ids []ID
	for wm := types.SeqN(1); wm <= 4; wm++ {
		id, err := m.Capture(sampleImage(int(wm)), wm*10)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	metas, err := m.List()
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, ids[2], metas[0].ID)
	assert.Equal(t, ids[3], metas[1].ID)
	assert.Equal(t, types.SeqN(40), metas[1].Watermark)
}

func TestPruneRemovesUnpublishedLeftovers(t *testing.T) {
	m := newManager(t)
	id, err := m.Capture(sampleImage(1), 5)
	require.NoError(t, err)

	// a crash after rename but before CURRENT, and one before rename
	orphan := fileName(9, uuid.New())
	require.NoError(t, os.WriteFile(filepath.Join(m.Dir(), orphan), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(m.Dir(), orphan+tmpSuffix), []byte("x"), 0o600))

	require.NoError(t, m.Prune())

	metas, err := m.List()
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, id, metas[0].ID)
	_, err = os.Stat(filepath.Join(m.Dir(), orphan+tmpSuffix))
	assert.True(t, os.IsNotExist(err))
}

func TestCorruptSnapshotIsFatal(t *testing.T) {
	m := newManager(t)
	id, err := m.Capture(sampleImage(10), 3)
	require.NoError(t, err)

	latest, err := m.Latest()
	require.NoError(t, err)
	path := filepath.Join(m.Dir(), latest.File)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o600))

	_, _, err = m.Load(id)
	assert.ErrorIs(t, err, dberrors.ErrCorruption)
}

func TestCurrentNamingMissingFileIsCorruption(t *testing.T) {
	m := newManager(t)
	_, err := m.Capture(sampleImage(1), 3)
	require.NoError(t, err)

	latest, err := m.Latest()
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(m.Dir(), latest.File)))

	_, err = m.Latest()
	assert.ErrorIs(t, err, dberrors.ErrCorruption)
}

func TestGarbledCurrentIsCorruption(t *testing.T) {
	m := newManager(t)
	require.NoError(t, os.WriteFile(filepath.Join(m.Dir(), currentFile), []byte("{nope"), 0o600))

	_, err := m.Latest()
	assert.ErrorIs(t, err, dberrors.ErrCorruption)
}

type brokenCodec struct{ compression.Codec }

func (brokenCodec) Compress(io.Reader, io.Writer) (int64, error) {
	return 0, errors.New("encoder exploded")
}

func TestFailedCaptureLeavesCurrentUntouched(t *testing.T) {
	dir := t.TempDir()
	good, err := New(dir)
	require.NoError(t, err)
	id, err := good.Capture(sampleImage(1), 3)
	require.NoError(t, err)

	none, _ := compression.ByName("none")
	bad, err := New(dir, WithCodec(brokenCodec{none}))
	require.NoError(t, err)
	_, err = bad.Capture(sampleImage(2), 8)
	require.Error(t, err)

	latest, err := good.Latest()
	require.NoError(t, err)
	assert.Equal(t, id, latest.ID)

	metas, err := good.List()
	require.NoError(t, err)
	assert.Len(t, metas, 1)
}

func TestFileNameRoundTrip(t *testing.T) {
	id := uuid.New()
	wm, got, ok := parseFileName(fileName(120, id))
	require.True(t, ok)
	assert.Equal(t, types.SeqN(120), wm)
	assert.Equal(t, id, got)

	for _, bad := range []string{"CURRENT", "snap-x-y.snap", "snap-1.snap", "snap-00000000000000000001-zz.snap"} {
		_, _, ok := parseFileName(bad)
		assert.False(t, ok, bad)
	}
}
