// Package sqlconn holds the database/sql plumbing shared by the MySQL,
// SQL Server, Snowflake and Oracle drivers: pool setup, row wrappers, and the
// catalog-scanning helpers each driver feeds with its own SQL.
package sqlconn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/koustreak/pha/internal/database"
	"github.com/koustreak/pha/internal/errs"
)

// MapErrorFunc translates a driver-native error into *errs.Error.
type MapErrorFunc func(err error, msg string) *errs.Error

// Conn is a database/sql pool plus the owning driver's error mapping.
// It is safe for concurrent use by multiple goroutines.
type Conn struct {
	db     *sql.DB
	mapErr MapErrorFunc
}

// Open creates the pool for driverName, applies cfg's pool settings and
// pings within cfg.ConnectTimeout.
func Open(ctx context.Context, driverName, dsn string, cfg *database.Config, mapErr MapErrorFunc) (*Conn, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid DSN", err)
	}

	db.SetMaxOpenConns(int(cfg.MaxConns))
	db.SetMaxIdleConns(int(cfg.MinConns))
	db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	db.SetConnMaxIdleTime(cfg.MaxConnIdleTime)

	c := &Conn{db: db, mapErr: mapErr}

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	if err := c.Ping(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// Ping verifies the database is reachable.
func (c *Conn) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return c.mapErr(err, "ping failed")
	}
	return nil
}

// Close drains the pool.
func (c *Conn) Close() {
	_ = c.db.Close()
}

// Query executes a SQL statement that returns multiple rows.
func (c *Conn) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, c.mapErr(err, "query failed")
	}
	return &sqlRows{rows: rows}, nil
}

// QueryRow executes a SQL statement expected to return at most one row.
func (c *Conn) QueryRow(ctx context.Context, query string, args ...any) (database.Row, error) {
	return &sqlRow{row: c.db.QueryRowContext(ctx, query, args...)}, nil
}

// Strings runs a query returning a single text column.
func (c *Conn) Strings(ctx context.Context, query, errMsg string, args ...any) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, c.mapErr(err, errMsg)
	}
	defer rows.Close()

	var list []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, c.mapErr(err, errMsg)
		}
		list = append(list, s)
	}
	if err := rows.Err(); err != nil {
		return nil, c.mapErr(err, errMsg)
	}
	return list, nil
}

// Exists runs a query and reports whether it produced a row.
func (c *Conn) Exists(ctx context.Context, query, errMsg string, args ...any) (bool, error) {
	var one int
	err := c.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, c.mapErr(err, errMsg)
	}
	return true, nil
}

// Columns runs a catalog query whose rows are
// (name, data_type, nullable, default) with nullable as 'YES'/'NO' or 'Y'/'N'.
func (c *Conn) Columns(ctx context.Context, query string, args ...any) ([]*database.ColumnInfo, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, c.mapErr(err, "failed to fetch columns")
	}
	defer rows.Close()

	var cols []*database.ColumnInfo
	for rows.Next() {
		var (
			col      database.ColumnInfo
			nullable string
			def      sql.NullString
		)
		if err := rows.Scan(&col.Name, &col.DataType, &nullable, &def); err != nil {
			return nil, c.mapErr(err, "failed to scan column info")
		}
		col.Nullable = IsYes(nullable)
		if def.Valid {
			col.Default = &def.String
		}
		cols = append(cols, &col)
	}
	if err := rows.Err(); err != nil {
		return nil, c.mapErr(err, "error iterating columns")
	}
	return cols, nil
}

// ForeignKeys runs a catalog query whose rows are (column, ref_table, ref_column).
func (c *Conn) ForeignKeys(ctx context.Context, query string, args ...any) ([]*database.ForeignKey, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, c.mapErr(err, "failed to fetch foreign keys")
	}
	defer rows.Close()

	var fks []*database.ForeignKey
	for rows.Next() {
		fk := &database.ForeignKey{}
		if err := rows.Scan(&fk.Column, &fk.RefTable, &fk.RefColumn); err != nil {
			return nil, c.mapErr(err, "failed to scan foreign key")
		}
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, c.mapErr(err, "error iterating foreign keys")
	}
	return fks, nil
}

// Named runs a query whose result columns are only known by name (SHOW
// commands) and returns the requested columns of every row, in order.
func (c *Conn) Named(ctx context.Context, query, errMsg string, want ...string) ([][]string, error) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, c.mapErr(err, errMsg)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, c.mapErr(err, errMsg)
	}
	idx := make([]int, len(want))
	for i, w := range want {
		idx[i] = -1
		for j, n := range names {
			if strings.EqualFold(n, w) {
				idx[i] = j
				break
			}
		}
		if idx[i] < 0 {
			return nil, errs.New(errs.ErrKindQueryFailed, fmt.Sprintf("%s: result has no column %q", errMsg, w))
		}
	}

	var out [][]string
	for rows.Next() {
		raw := make([]sql.NullString, len(names))
		ptrs := make([]any, len(names))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, c.mapErr(err, errMsg)
		}
		rec := make([]string, len(want))
		for i, j := range idx {
			rec[i] = raw[j].String
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, c.mapErr(err, errMsg)
	}
	return out, nil
}

// IsYes interprets catalog yes/no flags.
func IsYes(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "YES", "Y", "1", "TRUE":
		return true
	}
	return false
}

// InspectTables builds a Schema by inspecting each table in order.
func InspectTables(ctx context.Context, tables []string, inspect func(context.Context, string) (*database.TableInfo, error)) (*database.Schema, error) {
	schema := &database.Schema{Tables: make([]*database.TableInfo, 0, len(tables))}
	for _, name := range tables {
		info, err := inspect(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("inspecting table %q: %w", name, err)
		}
		schema.Tables = append(schema.Tables, info)
	}
	return schema, nil
}

// MapCommon handles the error classes every database/sql driver shares.
// ok is false when the driver must classify err itself.
func MapCommon(err error, msg string) (mapped *errs.Error, ok bool) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err), true
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err), true
	}
	return nil, false
}

// --- sql.DB type wrappers ---

type sqlRows struct {
	rows *sql.Rows
}

func (r *sqlRows) Next() bool                 { return r.rows.Next() }
func (r *sqlRows) Scan(dest ...any) error     { return r.rows.Scan(dest...) }
func (r *sqlRows) Columns() ([]string, error) { return r.rows.Columns() }
func (r *sqlRows) Close()                     { _ = r.rows.Close() }
func (r *sqlRows) Err() error                 { return r.rows.Err() }

type sqlRow struct {
	row *sql.Row
}

func (r *sqlRow) Scan(dest ...any) error { return r.row.Scan(dest...) }
