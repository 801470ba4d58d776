package engine

import (
	"bytes"
	"iter"

	"chimeradb/pkg/dberrors"
	"chimeradb/pkg/types"
)

// KeyValue stores opaque byte values.
type KeyValue struct {
	*core
}

var _ Engine = (*KeyValue)(nil)

func NewKeyValue(opts Options) (*KeyValue, error) {
	c, err := newCore(types.KindKeyValue, opts, opaque{})
	if err != nil {
		return nil, err
	}
	return &KeyValue{core: c}, nil
}

// Query is not offered by the key-value model.
func (kv *KeyValue) Query(string, Filter) (iter.Seq2[Record, error], error) {
	return nil, dberrors.ErrQueryNotSupported
}

type opaque struct{}

func (opaque) prepare(_ string, value []byte) ([]byte, any, error) {
	return bytes.Clone(value), nil, nil
}

func (opaque) decode([]byte) (any, error) {
	return nil, nil
}
