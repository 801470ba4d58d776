package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"iter"

	"chimeradb/pkg/dberrors"
	"chimeradb/pkg/types"
)

// IDField is injected into every stored document and holds its key.
const IDField = "_id"

// Document stores JSON objects and answers filter queries by full scan.
type Document struct {
	*core
}

var _ Engine = (*Document)(nil)

func NewDocument(opts Options) (*Document, error) {
	c, err := newCore(types.KindDocument, opts, jsonDocuments{})
	if err != nil {
		return nil, err
	}
	return &Document{core: c}, nil
}

// PutDocument encodes doc and stores it under key.
func (d *Document) PutDocument(collection, key string, doc map[string]any) error {
	if doc == nil {
		return dberrors.InvalidValue("nil document")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return dberrors.InvalidValue("%v", err)
	}
	return d.Put(collection, key, raw)
}

// GetDocument returns a decoded copy of the stored document.
func (d *Document) GetDocument(collection, key string) (map[string]any, error) {
	rec, err := d.get(collection, key)
	if err != nil {
		return nil, err
	}
	return decodeDocument(rec.Value)
}

// Query lazily yields documents in insertion order that match filter. The
// filter is validated up front; each range over the result rescans.
func (d *Document) Query(collection string, filter Filter) (iter.Seq2[Record, error], error) {
	if err := d.checkReady(); err != nil {
		return nil, err
	}
	if err := d.validateName(collection); err != nil {
		return nil, err
	}
	conds, err := compileFilter(filter)
	if err != nil {
		return nil, err
	}

	return func(yield func(Record, error) bool) {
		coll, ok := d.store.Collection(collection)
		if !ok {
			return
		}
		for rec := range coll.All() {
			doc, _ := rec.Decoded.(map[string]any)
			if !conds.match(doc) {
				continue
			}
			out, err := decodeDocument(rec.Value)
			if err != nil {
				yield(Record{}, err)
				return
			}
			if !yield(Record{Key: rec.Key, Value: bytes.Clone(rec.Value), Document: out}, nil) {
				return
			}
		}
	}, nil
}

type jsonDocuments struct{}

// prepare parses value as an object, injects the key and re-encodes it with
// sorted keys.
func (jsonDocuments) prepare(key string, value []byte) ([]byte, any, error) {
	doc, err := decodeDocument(value)
	if err != nil {
		return nil, nil, err
	}
	doc[IDField] = key

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, dberrors.InvalidValue("%v", err)
	}
	return out, doc, nil
}

func (jsonDocuments) decode(value []byte) (any, error) {
	return decodeDocument(value)
}

func decodeDocument(value []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(value))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, dberrors.InvalidValue("document is not a JSON object: %v", err)
	}
	if doc == nil {
		return nil, dberrors.InvalidValue("document is not a JSON object")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, dberrors.InvalidValue("trailing data after document")
	}
	return doc, nil
}

// DecodeFilter parses a JSON filter body.
func DecodeFilter(r io.Reader) (Filter, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var f Filter
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return Filter{}, nil
		}
		return nil, dberrors.InvalidValue("filter: %v", err)
	}
	if f == nil {
		f = Filter{}
	}
	return f, nil
}
