package engine

import (
	"encoding/json"
	"math/big"
	"reflect"
	"slices"
	"strings"

	"chimeradb/pkg/dberrors"
)

const (
	opEq     = "$eq"
	opNe     = "$ne"
	opGt     = "$gt"
	opGte    = "$gte"
	opLt     = "$lt"
	opLte    = "$lte"
	opIn     = "$in"
	opNin    = "$nin"
	opExists = "$exists"
)

var knownOps = []string{opEq, opNe, opGt, opGte, opLt, opLte, opIn, opNin, opExists}

type condition struct {
	path    []string
	op      string
	operand any
}

type conditions []condition

// compileFilter turns a filter into a list of conditions that must all hold.
// A field whose value is an object made only of $-keys is an operator
// object; any other value means equality.
func compileFilter(f Filter) (conditions, error) {
	var out conditions
	for field, v := range f {
		if field == "" || strings.HasPrefix(field, "$") {
			return nil, dberrors.InvalidValue("unsupported filter field %q", field)
		}
		path := strings.Split(field, ".")

		ops, ok := operatorObject(v)
		if !ok {
			out = append(out, condition{path: path, op: opEq, operand: v})
			continue
		}
		for op, operand := range ops {
			if !slices.Contains(knownOps, op) {
				return nil, dberrors.InvalidValue("unknown operator %s on %q", op, field)
			}
			switch op {
			case opIn, opNin:
				if _, ok := operand.([]any); !ok {
					return nil, dberrors.InvalidValue("%s on %q needs an array", op, field)
				}
			case opExists:
				if _, ok := operand.(bool); !ok {
					return nil, dberrors.InvalidValue("%s on %q needs a boolean", op, field)
				}
			}
			out = append(out, condition{path: path, op: op, operand: operand})
		}
	}
	return out, nil
}

func operatorObject(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

func (cs conditions) match(doc map[string]any) bool {
	for _, c := range cs {
		if !c.match(doc) {
			return false
		}
	}
	return true
}

func (c condition) match(doc map[string]any) bool {
	v, found := lookup(doc, c.path)

	switch c.op {
	case opExists:
		return found == c.operand.(bool)
	case opEq:
		return found && equal(v, c.operand)
	case opNe:
		return !found || !equal(v, c.operand)
	case opIn:
		return found && containsEqual(c.operand.([]any), v)
	case opNin:
		return !found || !containsEqual(c.operand.([]any), v)
	}

	if !found {
		return false
	}
	r, ok := compare(v, c.operand)
	if !ok {
		return false
	}
	switch c.op {
	case opGt:
		return r > 0
	case opGte:
		return r >= 0
	case opLt:
		return r < 0
	case opLte:
		return r <= 0
	}
	return false
}

func lookup(doc map[string]any, path []string) (any, bool) {
	var cur any = doc
	for _, part := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func containsEqual(list []any, v any) bool {
	return slices.ContainsFunc(list, func(item any) bool {
		return equal(v, item)
	})
}

// compare orders numbers numerically and strings lexically. Any other pair
// is unordered. Numbers compare exactly, so large integers never collapse.
func compare(a, b any) (int, bool) {
	if x, ok := number(a); ok {
		y, ok := number(b)
		if !ok {
			return 0, false
		}
		return x.Cmp(y), true
	}
	if x, ok := a.(string); ok {
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	}
	return 0, false
}

func equal(a, b any) bool {
	if r, ok := compare(a, b); ok {
		return r == 0
	}
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// exactNumber is the canonical form of a number inside normalized values.
type exactNumber string

// normalize maps every number to its exact canonical form so nested values
// compare by value.
func normalize(v any) any {
	if r, ok := number(v); ok {
		return exactNumber(r.RatString())
	}
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	}
	return v
}

func number(v any) (*big.Rat, bool) {
	switch n := v.(type) {
	case json.Number:
		return new(big.Rat).SetString(n.String())
	case float64:
		return ratFromFloat(n)
	case float32:
		return ratFromFloat(float64(n))
	case int:
		return new(big.Rat).SetInt64(int64(n)), true
	case int8:
		return new(big.Rat).SetInt64(int64(n)), true
	case int16:
		return new(big.Rat).SetInt64(int64(n)), true
	case int32:
		return new(big.Rat).SetInt64(int64(n)), true
	case int64:
		return new(big.Rat).SetInt64(n), true
	case uint:
		return new(big.Rat).SetUint64(uint64(n)), true
	case uint8:
		return new(big.Rat).SetUint64(uint64(n)), true
	case uint16:
		return new(big.Rat).SetUint64(uint64(n)), true
	case uint32:
		return new(big.Rat).SetUint64(uint64(n)), true
	case uint64:
		return new(big.Rat).SetUint64(n), true
	}
	return nil, false
}

// ratFromFloat rejects NaN and infinities, which have no exact value.
func ratFromFloat(f float64) (*big.Rat, bool) {
	r := new(big.Rat).SetFloat64(f)
	return r, r != nil
}
