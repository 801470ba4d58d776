package clock

import (
	"sync/atomic"

	"chimeradb/pkg/types"
)

// Sequence tracks the last committed WAL sequence number.
//
// Next only proposes a number; the owner calls Commit once the record carrying
// it is durable, so a failed write never leaves a gap.
type Sequence struct {
	last atomic.Uint64
}

func NewSequence(last types.SeqN) *Sequence {
	var s Sequence
	s.Set(last)
	return &s
}

// Val returns the last committed sequence number, 0 if none.
func (s *Sequence) Val() types.SeqN {
	return s.last.Load()
}

// Next returns the number the next record should carry.
func (s *Sequence) Next() types.SeqN {
	return s.last.Load() + 1
}

// Commit records seq as durable. It must equal Next().
func (s *Sequence) Commit(seq types.SeqN) bool {
	return s.last.CompareAndSwap(seq-1, seq)
}

func (s *Sequence) Set(seq types.SeqN) {
	s.last.Store(seq)
}
