package value

// ColSpec describes one column participating in a composite index key:
// its type and, for STRING, its fixed declared width.
type ColSpec struct {
	Kind     Kind
	StrWidth int // only meaningful when Kind == KindString
}

func (c ColSpec) Width() int { return Width(c.Kind, c.StrWidth) }

// Key is an ordered tuple of Values — a composite B+-tree index key.
type Key struct {
	Values []Value
}

// CompareKeys implements column-major comparison: walk columns left to
// right and return on the first column where the two keys differ, per
// ix_compare (original_source/src/index/ix_index_handle.cpp). Equal on
// every column yields 0. Keys of different column counts compare equal
// on their common prefix (used by gap-lock range checks over a subset of
// an index's columns).
func CompareKeys(a, b Key) int {
	n := len(a.Values)
	if len(b.Values) < n {
		n = len(b.Values)
	}
	for i := 0; i < n; i++ {
		if c := CompareValues(a.Values[i], b.Values[i]); c != 0 {
			return c
		}
	}
	return 0
}

// EncodeKey renders a Key to its fixed-width on-disk form given the
// column specs of the index it belongs to (in the same order).
func EncodeKey(k Key, specs []ColSpec) ([]byte, error) {
	var out []byte
	for i, v := range k.Values {
		w := specs[i].Width()
		b, err := EncodeFixed(v, w)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// DecodeKey is the inverse of EncodeKey.
func DecodeKey(buf []byte, specs []ColSpec) (Key, error) {
	k := Key{Values: make([]Value, len(specs))}
	off := 0
	for i, spec := range specs {
		w := spec.Width()
		v, err := DecodeFixed(spec.Kind, spec.StrWidth, buf[off:off+w])
		if err != nil {
			return Key{}, err
		}
		k.Values[i] = v
		off += w
	}
	return k, nil
}
