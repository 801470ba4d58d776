package state

import (
	"fmt"
	"strconv"
	"sync"
	"testing"

	"chimeradb/pkg/snapshot"
	"chimeradb/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(key, val string) *Record {
	return &Record{Key: key, Value: []byte(val)}
}

func keys(c *Collection) []string {
	var out []string
	for r := range c.All() {
		out = append(out, r.Key)
	}
	return out
}

func TestPutGetDelete(t *testing.T) {
	s := New()
	s.Put("users", rec("alice", "1"))

	got, ok := s.Get("users", "alice")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), got.Value)

	_, ok = s.Get("users", "bob")
	assert.False(t, ok)
	_, ok = s.Get("nobody", "alice")
	assert.False(t, ok)

	old, ok := s.Delete("users", "alice")
	require.True(t, ok)
	assert.Equal(t, "alice", old.Key)

	_, ok = s.Delete("users", "alice")
	assert.False(t, ok)
	_, ok = s.Delete("nobody", "alice")
	assert.False(t, ok)

	assert.Equal(t, []string{"users"}, s.Names(), "an emptied collection still exists")
}

func TestInsertionOrderSurvivesOverwrite(t *testing.T) {
	s := New()
	for _, k := range []string{"c", "a", "b"} {
		s.Put("letters", rec(k, k))
	}
	s.Put("letters", rec("a", "again"))

	c, ok := s.Collection("letters")
	require.True(t, ok)
	assert.Equal(t, []string{"c", "a", "b"}, keys(c))

	s.Delete("letters", "a")
	s.Put("letters", rec("a", "new"))
	assert.Equal(t, []string{"c", "b", "a"}, keys(c))
}

func TestDropAndReset(t *testing.T) {
	s := New()
	s.Put("a", rec("k", "v"))
	s.Put("b", rec("k", "v"))

	assert.True(t, s.Drop("a"))
	assert.False(t, s.Drop("a"))
	assert.Equal(t, []string{"b"}, s.Names())

	s.Reset()
	assert.Empty(t, s.Names())
}

func TestImageRestoreKeepsOrder(t *testing.T) {
	s := New()
	for i := 5; i > 0; i-- {
		s.Put("nums", rec(strconv.Itoa(i), fmt.Sprint(i*i)))
	}
	s.Put("other", rec("x", ""))

	im := s.Image()
	require.Len(t, im.Collections, 2)
	assert.Equal(t, "nums", im.Collections[0].Name)
	assert.Equal(t, uint64(6), im.Records())

	restored := New()
	var decoded int
	require.NoError(t, restored.Restore(im, func(b []byte) (any, error) {
		decoded++
		return string(b), nil
	}))
	assert.Equal(t, 6, decoded)

	c, ok := restored.Collection("nums")
	require.True(t, ok)
	assert.Equal(t, []string{"5", "4", "3", "2", "1"}, keys(c))

	r, ok := restored.Get("nums", "3")
	require.True(t, ok)
	assert.Equal(t, "9", r.Decoded)
}

func TestRestoreDecodeFailureLeavesStoreUntouched(t *testing.T) {
	s := New()
	s.Put("keep", rec("k", "v"))

	im := snapshot.Image{Collections: []snapshot.Collection{{Name: "bad", Entries: []snapshot.Entry{{Key: "k", Value: []byte("x")}}}}}
	err := s.Restore(im, func([]byte) (any, error) { return nil, fmt.Errorf("nope") })
	require.Error(t, err)
	assert.Equal(t, []string{"keep"}, s.Names())
}

func TestApplyIsIdempotent(t *testing.T) {
	s := New()
	ops := []struct {
		op   types.Op
		coll string
		key  string
		val  string
	}{
		{types.OpPut, "users", "alice", "1"},
		{types.OpPut, "users", "bob", "2"},
		{types.OpDelete, "users", "bob", ""},
		{types.OpPut, "tmp", "x", "y"},
		{types.OpDrop, "tmp", "", ""},
	}

	apply := func() {
		for _, o := range ops {
			s.Apply(o.op, o.coll, o.key, rec(o.key, o.val))
		}
	}
	apply()
	first := s.Image()
	apply()
	assert.Equal(t, first, s.Image())
	assert.Equal(t, []string{"users"}, s.Names())
}

func TestReadersRunAlongsideWriter(t *testing.T) {
	s := New()
	const n = 2000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			s.Put("users", rec(strconv.Itoa(i), "v"))
		}
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if c, ok := s.Collection("users"); ok {
					prev := uint64(0)
					for r := range c.All() {
						assert.Greater(t, r.ord, prev)
						prev = r.ord
					}
				}
			}
		}()
	}
	wg.Wait()

	c, ok := s.Collection("users")
	require.True(t, ok)
	assert.Equal(t, n, c.Len())
}

func TestStats(t *testing.T) {
	s := New()
	s.Put("users", rec("a", ""))
	s.Put("users", rec("b", "x"))
	s.Put("users", rec("c", "xyz"))
	s.Put("users", rec("d", "0123456789"))

	stats := s.Stats()
	require.Len(t, stats, 1)
	st := stats[0]
	assert.Equal(t, "users", st.Name)
	assert.Equal(t, 4, st.Records)
	assert.Equal(t, int64(14), st.TotalBytes)
	assert.Equal(t, 0, st.MinValueSize)
	assert.Equal(t, 10, st.MaxValueSize)
	assert.Equal(t, []Bucket{
		{UpperBound: 0, Count: 1},
		{UpperBound: 1, Count: 1},
		{UpperBound: 4, Count: 1},
		{UpperBound: 16, Count: 1},
	}, st.Histogram)
}

func TestPointReadNeverLagsOrderedWalk(t *testing.T) {
	s := New()
	s.Put("counters", &Record{Key: "k", Value: []byte("0"), Seq: 1})
	c, ok := s.Collection("counters")
	require.True(t, ok)

	const writes = 2000
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 2; i <= writes; i++ {
			s.Put("counters", &Record{Key: "k", Value: []byte(strconv.Itoa(i)), Seq: types.SeqN(i)})
		}
	}()

	for {
		select {
		case <-done:
			got, ok := c.Get("k")
			require.True(t, ok)
			assert.Equal(t, types.SeqN(writes), got.Seq)
			assert.Equal(t, []string{"k"}, keys(c))
			return
		default:
		}
		for walked := range c.All() {
			got, ok := c.Get(walked.Key)
			require.True(t, ok)
			require.GreaterOrEqual(t, got.Seq, walked.Seq)
		}
	}
}
