// Package ddl renders CREATE TABLE and GRANT statements from catalog metadata.
package ddl

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"redkey/internal/catalog"
	"redkey/pkg/errors"
)

// Mode selects how the target table is named and prepared
type Mode int

const (
	// ModeRenameSafe creates <table><suffix> next to the live table
	ModeRenameSafe Mode = iota
	// ModeRecreate drops the target if it exists and creates it under its own name
	ModeRecreate
)

// DefaultTempSuffix is appended to the table name in ModeRenameSafe
const DefaultTempSuffix = "_temp"

func (m Mode) String() string {
	switch m {
	case ModeRenameSafe:
		return "rename-safe"
	case ModeRecreate:
		return "recreate"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Options controls synthesis
type Options struct {
	Mode Mode
	// DistKey is the new distribution key column; empty emits no distkey clause
	DistKey string
	// TargetSchema and TargetTable default to the source table
	TargetSchema string
	TargetTable  string
	TempSuffix   string
	KeepEncoding bool
}

// Statement is a synthesized table definition
type Statement struct {
	Target catalog.QualifiedName
	Drop   string
	Create string
}

// SQL returns the statement text ready to execute
func (s *Statement) SQL() string {
	if s.Drop == "" {
		return s.Create
	}
	return s.Drop + "\n" + s.Create
}

// Synthesize builds the CREATE TABLE statement for meta
func Synthesize(meta *catalog.TableMetadata, opts Options) (*Statement, error) {
	if meta == nil || len(meta.Columns) == 0 {
		schema, table := "", ""
		if meta != nil {
			schema, table = meta.Schema, meta.Table
		}
		return nil, errors.TableNotFoundError(schema, table)
	}

	target := targetName(meta, opts)
	stmt := &Statement{Target: target}
	if opts.Mode == ModeRecreate {
		stmt.Drop = fmt.Sprintf("DROP TABLE IF EXISTS %s;", target.Quoted())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", target.Quoted())
	for i, col := range meta.Columns {
		if i > 0 {
			b.WriteString(",\n")
		}
		b.WriteString("  " + columnDef(col, opts.KeepEncoding))
	}
	b.WriteString("\n)")

	if opts.DistKey != "" {
		fmt.Fprintf(&b, "\ndistkey(%s)", quote(opts.DistKey))
	}

	if meta.SortKey.Len() > 0 {
		keyword := "sortkey"
		if meta.SortKey.Interleaved() {
			keyword = "interleaved sortkey"
		}
		fmt.Fprintf(&b, "\n%s(%s)", keyword, quoteList(meta.SortKey.Columns()))
	}
	b.WriteString(";")

	stmt.Create = b.String()
	return stmt, nil
}

func targetName(meta *catalog.TableMetadata, opts Options) catalog.QualifiedName {
	return Target(meta.Name(), opts)
}

// Target returns the table a statement synthesized from source with opts creates
func Target(source catalog.QualifiedName, opts Options) catalog.QualifiedName {
	target := catalog.QualifiedName{Schema: opts.TargetSchema, Table: opts.TargetTable}
	if target.Schema == "" {
		target.Schema = source.Schema
	}
	if target.Table == "" {
		target.Table = source.Table
	}
	if opts.Mode == ModeRenameSafe {
		suffix := opts.TempSuffix
		if suffix == "" {
			suffix = DefaultTempSuffix
		}
		target.Table += suffix
	}
	return target
}

func columnDef(col catalog.ColumnMetadata, keepEncoding bool) string {
	def := quote(col.Name) + " " + col.SQLType
	if keepEncoding && col.Encoding != "" && !strings.EqualFold(col.Encoding, "none") {
		def += " encode " + col.Encoding
	}
	if col.NotNull {
		def += " not null"
	}
	return def
}

// Grants reproduces privs on target. A privilege nobody holds produces no statement.
func Grants(target catalog.QualifiedName, privs *catalog.PrivilegeSet) []string {
	if privs == nil {
		return nil
	}

	var grants []string
	if len(privs.Select) > 0 {
		grants = append(grants, fmt.Sprintf("GRANT SELECT ON %s TO %s;", target.Quoted(), quoteList(privs.Select)))
	}
	if len(privs.Insert) > 0 {
		grants = append(grants, fmt.Sprintf("GRANT INSERT ON %s TO %s;", target.Quoted(), quoteList(privs.Insert)))
	}
	return grants
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = quote(name)
	}
	return strings.Join(quoted, ", ")
}
