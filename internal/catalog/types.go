package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"redkey/pkg/errors"
)

// QualifiedName identifies a table within a schema
type QualifiedName struct {
	Schema string
	Table  string
}

// ParseQualifiedName splits "schema.table". A bare table name falls into defaultSchema.
func ParseQualifiedName(name, defaultSchema string) (QualifiedName, error) {
	name = strings.TrimSpace(name)
	schema, table, found := strings.Cut(name, ".")
	if !found {
		schema, table = defaultSchema, name
	}
	if schema == "" || table == "" || strings.Contains(table, ".") {
		return QualifiedName{}, errors.ValidationError("table", name, "expected schema.table")
	}
	return QualifiedName{Schema: schema, Table: table}, nil
}

// Quoted renders the name as a quoted SQL identifier
func (q QualifiedName) Quoted() string {
	return pgx.Identifier{q.Schema, q.Table}.Sanitize()
}

func (q QualifiedName) String() string {
	return q.Schema + "." + q.Table
}

// ColumnMetadata is one row of pg_table_def
type ColumnMetadata struct {
	Name     string
	SQLType  string
	Encoding string
	DistKey  bool
	NotNull  bool
}

// SortKeySpec maps sort key positions to column names
type SortKeySpec struct {
	positions   map[int]string
	interleaved bool
}

// Add records column at the catalog-reported position. Zero means the column
// is not part of the sort key; negative positions mark an interleaved key.
func (s *SortKeySpec) Add(position int, column string) error {
	if position == 0 {
		return nil
	}
	if position < 0 {
		s.interleaved = true
		position = -position
	}
	if s.positions == nil {
		s.positions = make(map[int]string)
	}
	if existing, ok := s.positions[position]; ok {
		return errors.InvalidSortKeyError(position, existing, column)
	}
	s.positions[position] = column
	return nil
}

// Columns returns the sort key columns by ascending position
func (s SortKeySpec) Columns() []string {
	positions := make([]int, 0, len(s.positions))
	for pos := range s.positions {
		positions = append(positions, pos)
	}
	sort.Ints(positions)

	columns := make([]string, 0, len(positions))
	for _, pos := range positions {
		columns = append(columns, s.positions[pos])
	}
	return columns
}

func (s SortKeySpec) Len() int {
	return len(s.positions)
}

func (s SortKeySpec) Interleaved() bool {
	return s.interleaved
}

// TableMetadata describes a table as reported by the catalog
type TableMetadata struct {
	Schema  string
	Table   string
	Columns []ColumnMetadata
	SortKey SortKeySpec
}

// Name returns the qualified table name
func (m *TableMetadata) Name() QualifiedName {
	return QualifiedName{Schema: m.Schema, Table: m.Table}
}

// CurrentDistKey returns the column currently flagged as distribution key, or ""
func (m *TableMetadata) CurrentDistKey() string {
	for _, col := range m.Columns {
		if col.DistKey {
			return col.Name
		}
	}
	return ""
}

// HasColumn reports whether name is one of the table's columns
func (m *TableMetadata) HasColumn(name string) bool {
	for _, col := range m.Columns {
		if col.Name == name {
			return true
		}
	}
	return false
}

// PrivilegeSet holds the non-superusers that can read a table and, among them,
// those that can also insert into it.
type PrivilegeSet struct {
	Select []string
	Insert []string
}

func (p PrivilegeSet) String() string {
	return fmt.Sprintf("select=%v insert=%v", p.Select, p.Insert)
}
