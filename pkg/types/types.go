package types

import "fmt"

// SeqN is a WAL sequence number. Sequence numbers start at 1 and are gap-free
// within one log; 0 means "nothing yet".
type SeqN = uint64

// Op is the kind of mutation carried by a WAL record.
type Op uint8

const (
	OpPut Op = iota + 1
	OpDelete
	OpDrop
)

func (op Op) String() string {
	switch op {
	case OpPut:
		return "PUT"
	case OpDelete:
		return "DELETE"
	case OpDrop:
		return "DROP"
	default:
		return fmt.Sprintf("Op(%d)", uint8(op))
	}
}

// Valid reports whether op is one of the known mutation kinds.
func (op Op) Valid() bool {
	return op >= OpPut && op <= OpDrop
}

// Kind identifies a data-model engine variant.
type Kind string

const (
	KindKeyValue   Kind = "kv"
	KindDocument   Kind = "document"
	KindColumn     Kind = "column"
	KindGraph      Kind = "graph"
	KindTimeSeries Kind = "timeseries"
)

// Kinds lists every declared engine kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindKeyValue, KindDocument, KindColumn, KindGraph, KindTimeSeries}
}

// ParseKind maps a textual kind to Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown engine kind %q", s)
}
