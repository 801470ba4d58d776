package engine

import (
	"chimeradb/pkg/state"
	"chimeradb/pkg/types"
)

// Stats is a read-only summary of an engine, served to the profiler.
type Stats struct {
	Kind                   types.Kind              `json:"kind"`
	Ready                  bool                    `json:"ready"`
	Status                 string                  `json:"status"`
	Recovery               string                  `json:"recovery,omitempty"`
	LastSeq                types.SeqN              `json:"last_seq"`
	SnapshotWatermark      types.SeqN              `json:"snapshot_watermark"`
	MutationsSinceSnapshot int64                   `json:"mutations_since_snapshot"`
	WALBytes               int64                   `json:"wal_bytes"`
	Collections            []state.CollectionStats `json:"collections"`
}

func (c *core) Stats() Stats {
	st := Stats{
		Kind:   c.kind,
		Status: status(c.status.Load()).String(),
	}
	st.Ready = st.Status == statusReady.String()

	if c.recovery != nil {
		st.Recovery = c.recovery.State().String()
	}
	if !st.Ready {
		return st
	}

	st.LastSeq = c.log.LastSeq()
	st.SnapshotWatermark = c.watermark.Load()
	st.MutationsSinceSnapshot = c.mutations.Load()
	st.WALBytes = c.log.Size()
	st.Collections = c.store.Stats()
	return st
}
