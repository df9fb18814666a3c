package catalog

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"redkey/pkg/errors"
)

const tableDefQuery = `SELECT "column", "type", encoding, distkey, sortkey, "notnull"
  FROM pg_table_def
 WHERE schemaname = $1
   AND tablename = $2`

const privilegeQuery = `SELECT usename,
       has_table_privilege(usename, $1, 'select'),
       has_table_privilege(usename, $1, 'insert')
  FROM pg_user
 WHERE has_table_privilege(usename, $1, 'select')
   AND NOT usesuper
 ORDER BY usename`

// Reader reads table definitions and privileges from the warehouse catalog
type Reader struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewReader creates a catalog reader over db
func NewReader(db *sql.DB, logger zerolog.Logger) *Reader {
	return &Reader{db: db, logger: logger}
}

// ReadTable returns the columns and sort key of schema.table.
// pg_table_def only lists tables on the search path, so the schema is set
// explicitly on the same connection the query runs on.
func (r *Reader) ReadTable(ctx context.Context, schema, table string) (*TableMetadata, error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeNotConnected, "Failed to acquire connection")
	}
	defer conn.Close()

	searchPath := "SET search_path TO " + pgx.Identifier{schema}.Sanitize()
	if _, err := conn.ExecContext(ctx, searchPath); err != nil {
		return nil, errors.QueryError(searchPath, err).WithContext("schema", schema)
	}

	rows, err := conn.QueryContext(ctx, tableDefQuery, schema, table)
	if err != nil {
		return nil, errors.QueryError(tableDefQuery, err).
			WithContext("schema", schema).
			WithContext("table", table)
	}
	defer rows.Close()

	meta := &TableMetadata{Schema: schema, Table: table}
	for rows.Next() {
		var (
			col      ColumnMetadata
			encoding sql.NullString
			sortKey  sql.NullInt64
		)
		if err := rows.Scan(&col.Name, &col.SQLType, &encoding, &col.DistKey, &sortKey, &col.NotNull); err != nil {
			return nil, errors.QueryError(tableDefQuery, err).WithContext("table", table)
		}
		// encoding is character(32), blank padded
		col.Encoding = strings.TrimSpace(encoding.String)
		meta.Columns = append(meta.Columns, col)

		if sortKey.Valid {
			if err := meta.SortKey.Add(int(sortKey.Int64), col.Name); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInvalidSortKey, "Invalid sort key on "+meta.Name().String()).
					WithContext("schema", schema).
					WithContext("table", table)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.QueryError(tableDefQuery, err).WithContext("table", table)
	}

	if len(meta.Columns) == 0 {
		return nil, errors.TableNotFoundError(schema, table)
	}

	r.logger.Debug().
		Str("table", meta.Name().String()).
		Int("columns", len(meta.Columns)).
		Strs("sortkey", meta.SortKey.Columns()).
		Str("distkey", meta.CurrentDistKey()).
		Msg("read table definition")

	return meta, nil
}

// ReadPrivileges returns the non-superusers holding select, and select+insert, on schema.table
func (r *Reader) ReadPrivileges(ctx context.Context, schema, table string) (*PrivilegeSet, error) {
	name := QualifiedName{Schema: schema, Table: table}.Quoted()

	rows, err := r.db.QueryContext(ctx, privilegeQuery, name)
	if err != nil {
		return nil, errors.QueryError(privilegeQuery, err).WithContext("table", name)
	}
	defer rows.Close()

	privs := &PrivilegeSet{}
	for rows.Next() {
		var (
			user           string
			canSel, canIns bool
		)
		if err := rows.Scan(&user, &canSel, &canIns); err != nil {
			return nil, errors.QueryError(privilegeQuery, err).WithContext("table", name)
		}
		if !canSel {
			continue
		}
		privs.Select = append(privs.Select, user)
		if canIns {
			privs.Insert = append(privs.Insert, user)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.QueryError(privilegeQuery, err).WithContext("table", name)
	}

	r.logger.Debug().Str("table", name).Stringer("privileges", privs).Msg("read privileges")
	return privs, nil
}

// RowCount counts the rows of schema.table
func (r *Reader) RowCount(ctx context.Context, schema, table string) (int64, error) {
	query := "SELECT COUNT(*) FROM " + QualifiedName{Schema: schema, Table: table}.Quoted()

	var count int64
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, errors.QueryError(query, err).
			WithContext("schema", schema).
			WithContext("table", table)
	}
	return count, nil
}
