package snapshot

import (
	"time"

	"chimeradb/pkg/types"

	"github.com/google/uuid"
)

// ID identifies a published snapshot.
type ID = uuid.UUID

// Entry is one record of a collection image. Values are shared with the live
// state and must not be mutated.
type Entry struct {
	Key   string
	Value []byte
}

// Collection is an ordered image of one collection.
type Collection struct {
	Name    string
	Entries []Entry
}

// Image is a point-in-time copy of engine state, collections and records in
// insertion order.
type Image struct {
	Collections []Collection
}

// Records counts the entries across all collections.
func (im Image) Records() uint64 {
	var n uint64
	for _, c := range im.Collections {
		n += uint64(len(c.Entries))
	}
	return n
}

// Meta describes a snapshot file.
type Meta struct {
	ID        ID         `json:"id"`
	Watermark types.SeqN `json:"watermark"`
	File      string     `json:"file"`
	Codec     string     `json:"codec"`
	Records   uint64     `json:"records"`
	Size      int64      `json:"size"`
	CreatedAt time.Time  `json:"created_at"`
}
