// Package postgres provides the PostgreSQL implementation of database.DB
// on top of a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koustreak/pha/internal/database"
	"github.com/koustreak/pha/internal/errs"
)

const defaultSchema = "public"

// Driver is a PostgreSQL implementation of database.DB backed by pgxpool.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	pool   *pgxpool.Pool
	schema string
}

// New connects to PostgreSQL using the provided Config and returns a Driver.
// It calls Ping to validate the connection before returning.
func New(ctx context.Context, cfg *database.Config) (*Driver, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid DSN", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create connection pool", err)
	}

	d := &Driver{pool: pool, schema: cfg.Schema}
	if d.schema == "" {
		d.schema = defaultSchema
	}

	if err := d.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return d, nil
}

// --- database.DB implementation ---

// Ping verifies the database is reachable by acquiring and releasing a connection.
func (d *Driver) Ping(ctx context.Context) error {
	if err := d.pool.Ping(ctx); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

// Close drains the connection pool. Call when the application shuts down.
func (d *Driver) Close() {
	d.pool.Close()
}

// Query executes a SQL statement that returns multiple rows.
func (d *Driver) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	rows, err := d.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err, "query failed")
	}
	return &pgxRows{rows: rows}, nil
}

// QueryRow executes a SQL statement expected to return at most one row.
func (d *Driver) QueryRow(ctx context.Context, sql string, args ...any) (database.Row, error) {
	row := d.pool.QueryRow(ctx, sql, args...)
	return &pgxRow{row: row}, nil
}

// ListTables returns all user-defined table names in the configured schema.
func (d *Driver) ListTables(ctx context.Context) ([]string, error) {
	const q = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1
		  AND table_type   = 'BASE TABLE'
		ORDER BY table_name`

	return d.fetchStringList(ctx, q, d.schema, "failed to list tables")
}

// TableExists reports whether a table with the given name exists in the configured schema.
func (d *Driver) TableExists(ctx context.Context, table string) (bool, error) {
	const q = `
		SELECT 1
		FROM information_schema.tables
		WHERE table_schema = $1
		  AND table_type   = 'BASE TABLE'
		  AND table_name   = $2`

	var exists int
	err := d.pool.QueryRow(ctx, q, d.schema, table).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, mapError(err, "failed to check table existence")
	}
	return true, nil
}

// InspectSchema introspects the configured schema. Tables come back in
// name order, columns in ordinal order.
func (d *Driver) InspectSchema(ctx context.Context) (*database.Schema, error) {
	tables, err := d.ListTables(ctx)
	if err != nil {
		return nil, err
	}

	schema := &database.Schema{Tables: make([]*database.TableInfo, 0, len(tables))}
	for _, tableName := range tables {
		info, err := d.inspectTable(ctx, tableName)
		if err != nil {
			return nil, fmt.Errorf("inspecting table %q: %w", tableName, err)
		}
		schema.Tables = append(schema.Tables, info)
	}

	return schema, nil
}

// inspectTable fetches column, primary key, unique, and foreign key info for one table.
func (d *Driver) inspectTable(ctx context.Context, table string) (*database.TableInfo, error) {
	columns, err := d.fetchColumns(ctx, table)
	if err != nil {
		return nil, err
	}

	pks, err := d.fetchKeyColumns(ctx, table, "PRIMARY KEY", "failed to fetch primary keys")
	if err != nil {
		return nil, err
	}

	uniqueCols, err := d.fetchKeyColumns(ctx, table, "UNIQUE", "failed to fetch unique columns")
	if err != nil {
		return nil, err
	}

	fks, err := d.fetchForeignKeys(ctx, table)
	if err != nil {
		return nil, err
	}

	info := &database.TableInfo{
		Name:        table,
		Columns:     columns,
		PrimaryKey:  pks,
		ForeignKeys: fks,
	}
	info.MarkKeys(pks, uniqueCols)
	return info, nil
}

func (d *Driver) fetchColumns(ctx context.Context, table string) ([]*database.ColumnInfo, error) {
	const q = `
		SELECT column_name,
		       udt_name,
		       is_nullable = 'YES',
		       column_default
		FROM information_schema.columns
		WHERE table_schema = $1
		  AND table_name   = $2
		ORDER BY ordinal_position`

	rows, err := d.pool.Query(ctx, q, d.schema, table)
	if err != nil {
		return nil, mapError(err, "failed to fetch columns")
	}
	defer rows.Close()

	var cols []*database.ColumnInfo
	for rows.Next() {
		var c database.ColumnInfo
		if err := rows.Scan(&c.Name, &c.DataType, &c.Nullable, &c.Default); err != nil {
			return nil, mapError(err, "failed to scan column info")
		}
		cols = append(cols, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "error iterating columns")
	}
	return cols, nil
}

func (d *Driver) fetchKeyColumns(ctx context.Context, table, constraint, errMsg string) ([]string, error) {
	const q = `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema    = kcu.table_schema
		WHERE tc.constraint_type = $3
		  AND tc.table_schema    = $1
		  AND tc.table_name      = $2
		ORDER BY kcu.ordinal_position`

	rows, err := d.pool.Query(ctx, q, d.schema, table, constraint)
	if err != nil {
		return nil, mapError(err, errMsg)
	}
	defer rows.Close()

	var list []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, mapError(err, errMsg)
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func (d *Driver) fetchForeignKeys(ctx context.Context, table string) ([]*database.ForeignKey, error) {
	const q = `
		SELECT kcu.column_name,
		       ccu.table_name  AS ref_table,
		       ccu.column_name AS ref_column
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema    = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON tc.constraint_name = ccu.constraint_name
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema    = $1
		  AND tc.table_name      = $2
		ORDER BY kcu.ordinal_position`

	rows, err := d.pool.Query(ctx, q, d.schema, table)
	if err != nil {
		return nil, mapError(err, "failed to fetch foreign keys")
	}
	defer rows.Close()

	var fks []*database.ForeignKey
	for rows.Next() {
		fk := &database.ForeignKey{}
		if err := rows.Scan(&fk.Column, &fk.RefTable, &fk.RefColumn); err != nil {
			return nil, mapError(err, "failed to scan foreign key")
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

// fetchStringList is a helper for queries that return a single text column.
func (d *Driver) fetchStringList(ctx context.Context, q, arg, errMsg string) ([]string, error) {
	rows, err := d.pool.Query(ctx, q, arg)
	if err != nil {
		return nil, mapError(err, errMsg)
	}
	defer rows.Close()

	var list []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, mapError(err, errMsg)
		}
		list = append(list, s)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, errMsg)
	}
	return list, nil
}

// --- pgx type wrappers ---

// pgxRows wraps pgx.Rows to satisfy database.Rows.
type pgxRows struct {
	rows pgx.Rows
}

func (r *pgxRows) Next() bool             { return r.rows.Next() }
func (r *pgxRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r *pgxRows) Close()                 { r.rows.Close() }
func (r *pgxRows) Err() error             { return r.rows.Err() }

func (r *pgxRows) Columns() ([]string, error) {
	descs := r.rows.FieldDescriptions()
	cols := make([]string, len(descs))
	for i, d := range descs {
		cols[i] = d.Name
	}
	return cols, nil
}

// pgxRow wraps pgx.Row to satisfy database.Row.
type pgxRow struct {
	row pgx.Row
}

func (r *pgxRow) Scan(dest ...any) error { return r.row.Scan(dest...) }

// --- error mapping ---

// PostgreSQL SQLSTATE classes that are not query failures.
// Full list: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgClassConnection   = "08"
	pgClassInvalidAuth  = "28"
	pgClassInsufficient = "42501"
	pgUndefinedTable    = "42P01"
)

// mapError translates pgx / pgconn native errors into *errs.Error.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	// Context cancellation / deadline exceeded
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	// No rows
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	// Postgres server-side error (SQLSTATE codes)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return errs.Wrap(classifySQLState(pgErr.Code), fmt.Sprintf("%s: %s", msg, pgErr.Message), err)
	}

	// Fallthrough: connection-level errors (TLS, network, auth)
	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}

func classifySQLState(code string) errs.ErrKind {
	switch {
	case len(code) >= 2 && code[:2] == pgClassConnection:
		return errs.ErrKindConnectionFailed
	case len(code) >= 2 && code[:2] == pgClassInvalidAuth, code == pgClassInsufficient:
		return errs.ErrKindPermissionDenied
	case code == pgUndefinedTable:
		return errs.ErrKindNotFound
	default:
		return errs.ErrKindQueryFailed
	}
}
