// Package rekey rebuilds a table with a new distribution key next to the live
// table, copies the data across and optionally swaps the two.
package rekey

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"redkey/internal/catalog"
	"redkey/internal/ddl"
	"redkey/pkg/errors"
)

// Catalog is the subset of the catalog reader the runner needs
type Catalog interface {
	ReadTable(ctx context.Context, schema, table string) (*catalog.TableMetadata, error)
	ReadPrivileges(ctx context.Context, schema, table string) (*catalog.PrivilegeSet, error)
	RowCount(ctx context.Context, schema, table string) (int64, error)
}

// Executor runs SQL on the cluster holding the table
type Executor interface {
	ExecuteSQL(ctx context.Context, sql string) error
}

// Request describes one rekey operation
type Request struct {
	Schema  string
	Table   string
	DistKey string
	// Swap drops the original and renames the rebuilt table into its place
	Swap         bool
	DryRun       bool
	KeepEncoding bool
	TempSuffix   string
}

// Result reports what was generated and applied
type Result struct {
	Metadata  *catalog.TableMetadata
	Statement *ddl.Statement
	Copy      string
	Swap      []string
	Grants    []string
	// Final is the table that ends up with the new distribution key
	Final   catalog.QualifiedName
	Applied bool
	Swapped bool
	Rows    int64
}

// Script returns every statement of the operation in execution order
func (r *Result) Script() string {
	parts := []string{r.Statement.SQL(), r.Copy}
	parts = append(parts, r.Swap...)
	parts = append(parts, r.Grants...)
	return strings.Join(parts, "\n")
}

// Runner performs rekey operations against one cluster
type Runner struct {
	catalog Catalog
	exec    Executor
	logger  zerolog.Logger
}

// NewRunner creates a runner
func NewRunner(cat Catalog, exec Executor, logger zerolog.Logger) *Runner {
	return &Runner{catalog: cat, exec: exec, logger: logger}
}

// Run reads the table definition, creates the rebuilt table and copies the rows.
// With Swap set the row counts of both tables must match before the original is dropped.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Schema == "" || req.Table == "" {
		return nil, errors.ValidationError("table", req.Schema+"."+req.Table, "schema and table are required")
	}

	original := catalog.QualifiedName{Schema: req.Schema, Table: req.Table}
	log := r.logger.With().Str("table", original.String()).Logger()

	meta, err := r.catalog.ReadTable(ctx, req.Schema, req.Table)
	if err != nil {
		return nil, err
	}
	privs, err := r.catalog.ReadPrivileges(ctx, req.Schema, req.Table)
	if err != nil {
		return nil, err
	}

	if req.DistKey != "" && !meta.HasColumn(req.DistKey) {
		log.Warn().Str("distkey", req.DistKey).Msg("distribution key is not a column of the table; the warehouse will reject it")
	}

	stmt, err := ddl.Synthesize(meta, ddl.Options{
		Mode:         ddl.ModeRenameSafe,
		DistKey:      req.DistKey,
		TempSuffix:   req.TempSuffix,
		KeepEncoding: req.KeepEncoding,
	})
	if err != nil {
		return nil, err
	}

	result := &Result{
		Metadata:  meta,
		Statement: stmt,
		Copy:      fmt.Sprintf("INSERT INTO %s SELECT * FROM %s;", stmt.Target.Quoted(), original.Quoted()),
		Final:     stmt.Target,
	}
	if req.Swap {
		result.Final = original
		result.Swap = []string{
			fmt.Sprintf("DROP TABLE %s;", original.Quoted()),
			fmt.Sprintf("ALTER TABLE %s RENAME TO %s;", stmt.Target.Quoted(), pgx.Identifier{req.Table}.Sanitize()),
		}
	}
	result.Grants = ddl.Grants(result.Final, privs)

	log.Info().
		Str("current_distkey", meta.CurrentDistKey()).
		Str("new_distkey", req.DistKey).
		Str("target", stmt.Target.String()).
		Int("grants", len(result.Grants)).
		Msg("generated ddl")

	if req.DryRun {
		return result, nil
	}

	if err := r.exec.ExecuteSQL(ctx, stmt.SQL()+"\n"+result.Copy); err != nil {
		return result, err
	}
	result.Applied = true
	log.Info().Str("target", stmt.Target.String()).Msg("created table and copied rows")

	if req.Swap {
		rows, err := r.checkRowCounts(ctx, original, stmt.Target)
		if err != nil {
			return result, err
		}
		result.Rows = rows

		if err := r.exec.ExecuteSQL(ctx, strings.Join(result.Swap, "\n")); err != nil {
			return result, err
		}
		result.Swapped = true
		log.Info().Int64("rows", rows).Msg("swapped tables")
	}

	if len(result.Grants) > 0 {
		if err := r.exec.ExecuteSQL(ctx, strings.Join(result.Grants, "\n")); err != nil {
			return result, err
		}
	}

	return result, nil
}

func (r *Runner) checkRowCounts(ctx context.Context, original, rebuilt catalog.QualifiedName) (int64, error) {
	want, err := r.catalog.RowCount(ctx, original.Schema, original.Table)
	if err != nil {
		return 0, err
	}
	got, err := r.catalog.RowCount(ctx, rebuilt.Schema, rebuilt.Table)
	if err != nil {
		return 0, err
	}
	if want != got {
		return 0, errors.RowCountMismatchError(original.String(), rebuilt.String(), want, got)
	}
	return got, nil
}
