package state

import (
	"iter"
	"strings"
	"sync/atomic"

	"chimeradb/pkg/types"

	"github.com/zhangyunhao116/skipmap"
)

// Record is an immutable stored value. A write replaces the pointer, so a
// reader holding a *Record never sees it change.
type Record struct {
	Key   string
	Value []byte
	// Decoded is an engine specific parsed form of Value, may be nil.
	Decoded any
	// Seq is the WAL sequence of the write that produced the record, 0 when
	// restored from a snapshot.
	Seq types.SeqN

	ord uint64
}

type (
	keyIndex   = skipmap.FuncMap[string, *Record]
	orderIndex = skipmap.FuncMap[uint64, *Record]
)

// Collection keeps records by key and by insertion ordinal. Writers must be
// serialized by the caller; readers may run concurrently with a writer.
type Collection struct {
	name    string
	byKey   *keyIndex
	byOrder *orderIndex
	nextOrd atomic.Uint64
}

func newCollection(name string) *Collection {
	return &Collection{
		name: name,
		byKey: skipmap.NewFunc[string, *Record](func(a, b string) bool {
			return strings.Compare(a, b) < 0
		}),
		byOrder: skipmap.NewFunc[uint64, *Record](func(a, b uint64) bool {
			return a < b
		}),
	}
}

func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) Len() int {
	return c.byKey.Len()
}

func (c *Collection) Get(key string) (*Record, bool) {
	return c.byKey.Load(key)
}

// put stores rec under its key. An overwrite keeps the original insertion
// position.
//
// The key index is updated first, as in delete, so a point read never lags an
// ordered walk. Between the two stores a concurrent Get may return rec while
// All still yields the previous record; each read is atomic on its own.
func (c *Collection) put(rec *Record) {
	if old, ok := c.byKey.Load(rec.Key); ok {
		rec.ord = old.ord
	} else {
		rec.ord = c.nextOrd.Add(1)
	}
	c.byKey.Store(rec.Key, rec)
	c.byOrder.Store(rec.ord, rec)
}

func (c *Collection) delete(key string) (*Record, bool) {
	old, ok := c.byKey.LoadAndDelete(key)
	if !ok {
		return nil, false
	}
	c.byOrder.Delete(old.ord)
	return old, true
}

// All yields records in insertion order. The walk is lazy and sees writers
// that land ahead of its position.
func (c *Collection) All() iter.Seq[*Record] {
	return func(yield func(*Record) bool) {
		c.byOrder.Range(func(_ uint64, rec *Record) bool {
			return yield(rec)
		})
	}
}

// records copies the current record pointers in insertion order.
func (c *Collection) records() []*Record {
	out := make([]*Record, 0, c.Len())
	for rec := range c.All() {
		out = append(out, rec)
	}
	return out
}
