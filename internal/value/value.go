// Package value implements the tagged Value union spec.md's data model
// requires (INT32, FLOAT64, fixed-length STRING), its fixed-width wire
// encoding, and the column-major composite-key comparator the B+-tree
// index is built on.
//
// Grounded on ix_index_handle.cpp's ix_compare (original_source): that
// function compares two composite keys column by column, in column-list
// order, and returns on the first column where the two keys differ — a
// property the B+-tree and the gap-lock range checks both depend on.
package value

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Kind tags which arm of the union is populated.
type Kind uint8

const (
	KindInt32 Kind = iota
	KindFloat64
	KindString
)

// Value is one column's worth of typed data, plus the is_min/is_max
// sentinels spec.md's gap-lock ranges use to represent open-ended bounds
// (e.g. WHERE a > 5 has no finite upper bound).
type Value struct {
	Kind Kind

	I32 int32
	F64 float64
	Str string

	IsMin bool // -infinity sentinel: less than every concrete value
	IsMax bool // +infinity sentinel: greater than every concrete value
}

func Int32(v int32) Value    { return Value{Kind: KindInt32, I32: v} }
func Float64(v float64) Value { return Value{Kind: KindFloat64, F64: v} }
func String(v string) Value  { return Value{Kind: KindString, Str: v} }

// MinSentinel and MaxSentinel are used as gap-lock range endpoints that
// have no finite bound (spec.md §3's is_min/is_max).
func MinSentinel(k Kind) Value { return Value{Kind: k, IsMin: true} }
func MaxSentinel(k Kind) Value { return Value{Kind: k, IsMax: true} }

// CompareValues orders two values of the same Kind. Sentinels dominate:
// any IsMin sorts before any concrete or IsMax value (two IsMin values
// compare equal), symmetrically for IsMax.
func CompareValues(a, b Value) int {
	if a.IsMin || b.IsMin || a.IsMax || b.IsMax {
		switch {
		case a.IsMin && b.IsMin, a.IsMax && b.IsMax:
			return 0
		case a.IsMin, b.IsMax:
			return -1
		case a.IsMax, b.IsMin:
			return 1
		}
	}
	switch a.Kind {
	case KindInt32:
		switch {
		case a.I32 < b.I32:
			return -1
		case a.I32 > b.I32:
			return 1
		}
		return 0
	case KindFloat64:
		switch {
		case a.F64 < b.F64:
			return -1
		case a.F64 > b.F64:
			return 1
		}
		return 0
	case KindString:
		return bytes.Compare([]byte(a.Str), []byte(b.Str))
	default:
		return 0
	}
}

// EncodeFixed writes v into a fixed-width, order-preserving byte
// representation of exactly width bytes (width is the column's declared
// length for STRING, ignored — always 4/8 — for INT32/FLOAT64).
//
// INT32 is encoded with its sign bit flipped so two's-complement ordering
// becomes unsigned big-endian byte ordering — the same trick
// ix_index_handle.cpp relies on implicitly via memcmp on raw int columns.
func EncodeFixed(v Value, width int) ([]byte, error) {
	switch v.Kind {
	case KindInt32:
		buf := make([]byte, 4)
		u := uint32(v.I32) ^ 0x80000000
		binary.BigEndian.PutUint32(buf, u)
		return buf, nil
	case KindFloat64:
		buf := make([]byte, 8)
		bits := math.Float64bits(v.F64)
		if v.F64 < 0 {
			bits = ^bits
		} else {
			bits |= 0x8000000000000000
		}
		binary.BigEndian.PutUint64(buf, bits)
		return buf, nil
	case KindString:
		if width <= 0 {
			return nil, errors.New("value: STRING column requires a positive fixed width")
		}
		buf := make([]byte, width)
		copy(buf, v.Str)
		return buf, nil
	default:
		return nil, errors.Errorf("value: unknown kind %d", v.Kind)
	}
}

// DecodeFixed is the inverse of EncodeFixed for a column of the given kind
// and width.
func DecodeFixed(kind Kind, width int, buf []byte) (Value, error) {
	switch kind {
	case KindInt32:
		if len(buf) < 4 {
			return Value{}, errors.New("value: short buffer for INT32")
		}
		u := binary.BigEndian.Uint32(buf[:4])
		return Int32(int32(u ^ 0x80000000)), nil
	case KindFloat64:
		if len(buf) < 8 {
			return Value{}, errors.New("value: short buffer for FLOAT64")
		}
		bits := binary.BigEndian.Uint64(buf[:8])
		if bits&0x8000000000000000 != 0 {
			bits &^= 0x8000000000000000
		} else {
			bits = ^bits
		}
		return Float64(math.Float64frombits(bits)), nil
	case KindString:
		if len(buf) < width {
			return Value{}, errors.New("value: short buffer for STRING")
		}
		s := buf[:width]
		if i := bytes.IndexByte(s, 0); i >= 0 {
			s = s[:i]
		}
		return String(string(s)), nil
	default:
		return Value{}, errors.Errorf("value: unknown kind %d", kind)
	}
}

// Width returns the on-disk fixed width for a kind (strWidth only matters
// for KindString).
func Width(kind Kind, strWidth int) int {
	switch kind {
	case KindInt32:
		return 4
	case KindFloat64:
		return 8
	case KindString:
		return strWidth
	default:
		return 0
	}
}
