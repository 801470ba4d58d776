package state

import (
	"strings"
	"sync/atomic"

	"chimeradb/pkg/snapshot"
	"chimeradb/pkg/types"

	"github.com/zhangyunhao116/skipmap"
)

type collectionSet = skipmap.FuncMap[string, *Collection]

// Store is the in-memory state of one engine: named collections of records.
// Mutating methods must be called by a single writer at a time.
type Store struct {
	colls atomic.Pointer[collectionSet]
}

func New() *Store {
	s := &Store{}
	s.colls.Store(newCollectionSet())
	return s
}

func newCollectionSet() *collectionSet {
	return skipmap.NewFunc[string, *Collection](func(a, b string) bool {
		return strings.Compare(a, b) < 0
	})
}

// Reset drops every collection.
func (s *Store) Reset() {
	s.colls.Store(newCollectionSet())
}

func (s *Store) Collection(name string) (*Collection, bool) {
	return s.colls.Load().Load(name)
}

// Names returns collection names in lexical order.
func (s *Store) Names() []string {
	set := s.colls.Load()
	names := make([]string, 0, set.Len())
	set.Range(func(name string, _ *Collection) bool {
		names = append(names, name)
		return true
	})
	return names
}

func (s *Store) Get(coll, key string) (*Record, bool) {
	c, ok := s.Collection(coll)
	if !ok {
		return nil, false
	}
	return c.Get(key)
}

// Put upserts a record, creating the collection on first use.
func (s *Store) Put(coll string, rec *Record) {
	set := s.colls.Load()
	c, ok := set.Load(coll)
	if !ok {
		c, _ = set.LoadOrStore(coll, newCollection(coll))
	}
	c.put(rec)
}

// Delete removes a record. Deleting an absent record is a no-op.
func (s *Store) Delete(coll, key string) (*Record, bool) {
	c, ok := s.Collection(coll)
	if !ok {
		return nil, false
	}
	return c.delete(key)
}

// Drop removes a whole collection. Dropping an absent collection is a no-op.
func (s *Store) Drop(coll string) bool {
	return s.colls.Load().Delete(coll)
}

// Image returns a point-in-time copy of the store. Values are shared, not
// copied; callers must hold off writers while it runs.
func (s *Store) Image() snapshot.Image {
	set := s.colls.Load()
	im := snapshot.Image{Collections: make([]snapshot.Collection, 0, set.Len())}
	set.Range(func(name string, c *Collection) bool {
		recs := c.records()
		entries := make([]snapshot.Entry, len(recs))
		for i, rec := range recs {
			entries[i] = snapshot.Entry{Key: rec.Key, Value: rec.Value}
		}
		im.Collections = append(im.Collections, snapshot.Collection{Name: name, Entries: entries})
		return true
	})
	return im
}

// Restore replaces the store with im. decode builds Record.Decoded and may be
// nil.
func (s *Store) Restore(im snapshot.Image, decode func([]byte) (any, error)) error {
	set := newCollectionSet()
	for _, ic := range im.Collections {
		c := newCollection(ic.Name)
		for _, e := range ic.Entries {
			rec := &Record{Key: e.Key, Value: e.Value}
			if decode != nil {
				d, err := decode(e.Value)
				if err != nil {
					return err
				}
				rec.Decoded = d
			}
			c.put(rec)
		}
		set.Store(ic.Name, c)
	}
	s.colls.Store(set)
	return nil
}

// Apply replays one mutation. PUT overwrites; DELETE and DROP of something
// absent are no-ops, so applying a record twice is harmless.
func (s *Store) Apply(op types.Op, coll, key string, rec *Record) {
	switch op {
	case types.OpPut:
		s.Put(coll, rec)
	case types.OpDelete:
		s.Delete(coll, key)
	case types.OpDrop:
		s.Drop(coll)
	}
}
