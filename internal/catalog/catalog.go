// Package catalog persists table schemas (ColMeta/TabMeta/IndexMeta) and
// the table-name -> file-ID mapping every other layer needs to open the
// right heap/index files.
//
// Grounded on the teacher's storage_engine/catalog, generalized to also
// carry IndexMeta (spec.md §3 requires a table to know its indexes; the
// teacher never built one because it had no index layer yet).
package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

func New(dbRoot string) *Manager {
	return &Manager{
		dbRoot:     dbRoot,
		nextFileID: 1,
		tables:     make(map[string]TabMeta),
	}
}

func (m *Manager) SetCurrentDatabase(name string) {
	logrus.WithFields(logrus.Fields{"from": m.currentDB, "to": name}).Debug("catalog: switching database")
	m.currentDB = name
}

func (m *Manager) TableExists(name string) bool {
	_, ok := m.tables[name]
	return ok
}

func (m *Manager) Table(name string) (TabMeta, error) {
	if m.currentDB == "" {
		return TabMeta{}, errors.New("catalog: no database selected")
	}
	if t, ok := m.tables[name]; ok {
		return t, nil
	}

	path := m.schemaPath(name)
	data, err := os.ReadFile(path)
	if err != nil {
		return TabMeta{}, errors.Errorf("catalog: table %q does not exist", name)
	}
	var t TabMeta
	if err := json.Unmarshal(data, &t); err != nil {
		return TabMeta{}, errors.Wrapf(err, "catalog: parse schema for %q", name)
	}
	m.tables[name] = t
	return t, nil
}

// layoutColumns assigns byte offsets to columns in declaration order and
// returns the packed record width.
func layoutColumns(cols []ColMeta) ([]ColMeta, int) {
	out := make([]ColMeta, len(cols))
	off := 0
	for i, c := range cols {
		c.Offset = off
		out[i] = c
		off += c.Width()
	}
	return out, off
}

// RegisterTable assigns a heap file ID, lays out the record format, and
// persists the schema. Returns the table's TabMeta, whose HeapFileID is
// the heap file the caller should open.
func (m *Manager) RegisterTable(name string, cols []ColMeta) (TabMeta, error) {
	laidOut, recSize := layoutColumns(cols)
	heapFileID := m.nextFileID
	m.nextFileID++

	t := TabMeta{Name: name, Columns: laidOut, RecordSize: recSize, HeapFileID: heapFileID}
	m.tables[name] = t

	if err := m.persistSchema(t); err != nil {
		return TabMeta{}, err
	}
	if err := m.persistNextFileID(); err != nil {
		return TabMeta{}, err
	}
	return t, nil
}

// RegisterIndex assigns a new index file ID for an index over columns on
// an already-registered table and persists the updated schema.
func (m *Manager) RegisterIndex(table, indexName string, columns []string, unique bool) (IndexMeta, error) {
	t, ok := m.tables[table]
	if !ok {
		return IndexMeta{}, errors.Errorf("catalog: table %q not registered", table)
	}
	idx := IndexMeta{Name: indexName, Columns: columns, FileID: m.nextFileID, Unique: unique}
	m.nextFileID++
	t.Indexes = append(t.Indexes, idx)
	m.tables[table] = t

	if err := m.persistSchema(t); err != nil {
		return IndexMeta{}, err
	}
	if err := m.persistNextFileID(); err != nil {
		return IndexMeta{}, err
	}
	return idx, nil
}

func (m *Manager) UnregisterTable(name string) error {
	if _, ok := m.tables[name]; !ok {
		return errors.Errorf("catalog: table %q not found", name)
	}
	delete(m.tables, name)
	if err := os.Remove(m.schemaPath(name)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "catalog: delete schema file")
	}
	return nil
}

func (m *Manager) schemaPath(name string) string {
	return filepath.Join(m.dbRoot, m.currentDB, "tables", name+"_schema.json")
}

func (m *Manager) persistSchema(t TabMeta) error {
	dir := filepath.Join(m.dbRoot, m.currentDB, "tables")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, t.Name+"_schema.json"), data, 0644)
}

func (m *Manager) persistNextFileID() error {
	dir := filepath.Join(m.dbRoot, m.currentDB, "metadata")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m.nextFileID, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "next_file_id.json"), data, 0644)
}

// LoadAllTableSchemas reloads every *_schema.json under the current
// database's tables directory into memory, e.g. after a process restart.
func (m *Manager) LoadAllTableSchemas() error {
	if m.currentDB == "" {
		return errors.New("catalog: no database selected")
	}
	m.tables = make(map[string]TabMeta)

	dir := filepath.Join(m.dbRoot, m.currentDB, "tables")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "catalog: read tables dir")
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), "_schema.json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return errors.Wrapf(err, "catalog: read schema file %s", e.Name())
		}
		var t TabMeta
		if err := json.Unmarshal(data, &t); err != nil {
			return errors.Wrapf(err, "catalog: invalid schema in %s", e.Name())
		}
		m.tables[t.Name] = t
	}

	counterData, err := os.ReadFile(filepath.Join(m.dbRoot, m.currentDB, "metadata", "next_file_id.json"))
	if err == nil {
		var counter uint32
		if json.Unmarshal(counterData, &counter) == nil {
			m.nextFileID = counter
		}
	}
	return nil
}
