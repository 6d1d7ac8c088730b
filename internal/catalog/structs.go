package catalog

import (
	"github.com/pkg/errors"

	"txndb/internal/value"
)

// ColMeta describes one column of a table: its name, type, and (for
// fixed-length STRING columns) declared width. Offset is the column's
// byte offset within a packed row image, computed once when the table is
// registered.
type ColMeta struct {
	Name     string     `json:"name"`
	Kind     value.Kind `json:"kind"`
	StrWidth int        `json:"str_width,omitempty"`
	Offset   int        `json:"offset"`
}

func (c ColMeta) Width() int { return value.Width(c.Kind, c.StrWidth) }

func (c ColMeta) ColSpec() value.ColSpec {
	return value.ColSpec{Kind: c.Kind, StrWidth: c.StrWidth}
}

// IndexMeta describes one secondary (or primary) index on a table: the
// ordered list of columns it is keyed on (composite keys compare
// column-major, see value.CompareKeys) and the index file it lives in.
type IndexMeta struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	FileID  uint32   `json:"file_id"`
	Unique  bool     `json:"unique"`
}

// TabMeta is a table's full schema: its columns, its packed record width,
// the heap file it lives in, and any indexes built on it.
type TabMeta struct {
	Name       string      `json:"name"`
	Columns    []ColMeta   `json:"columns"`
	RecordSize int         `json:"record_size"`
	HeapFileID uint32      `json:"heap_file_id"`
	Indexes    []IndexMeta `json:"indexes,omitempty"`
}

func (t TabMeta) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (t TabMeta) ColSpecs(names []string) []value.ColSpec {
	specs := make([]value.ColSpec, len(names))
	for i, n := range names {
		idx := t.ColumnIndex(n)
		specs[i] = t.Columns[idx].ColSpec()
	}
	return specs
}

// ExtractKey pulls idx's composite key out of a packed row image — used
// by the transaction manager's undo path to recompute the index key an
// INSERT/UPDATE/DELETE write record affected, per spec.md §4.G's
// "compute key from the pre/post-image bytes".
func (t TabMeta) ExtractKey(idx IndexMeta, row []byte) (value.Key, error) {
	k := value.Key{Values: make([]value.Value, len(idx.Columns))}
	for i, name := range idx.Columns {
		ci := t.ColumnIndex(name)
		if ci < 0 {
			return value.Key{}, errors.Errorf("catalog: index %q references unknown column %q", idx.Name, name)
		}
		col := t.Columns[ci]
		v, err := value.DecodeFixed(col.Kind, col.StrWidth, row[col.Offset:col.Offset+col.Width()])
		if err != nil {
			return value.Key{}, err
		}
		k.Values[i] = v
	}
	return k, nil
}

// Manager owns table schema and file-ID persistence, JSON-backed under a
// db root directory, the way the teacher's CatalogManager does.
type Manager struct {
	dbRoot     string
	currentDB  string
	nextFileID uint32

	tables map[string]TabMeta
}
