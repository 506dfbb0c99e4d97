// Package mysql provides the MySQL implementation of database.DB.
package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/koustreak/pha/internal/database"
	"github.com/koustreak/pha/internal/database/sqlconn"
	"github.com/koustreak/pha/internal/errs"
)

// Driver is a MySQL implementation of database.DB backed by database/sql.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	*sqlconn.Conn
	schema string // empty means DATABASE()
}

// New opens a MySQL connection pool using the provided Config and returns a Driver.
// It calls Ping to validate the connection before returning.
func New(ctx context.Context, cfg *database.Config) (*Driver, error) {
	dsn, err := normalizeDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}

	conn, err := sqlconn.Open(ctx, "mysql", dsn, cfg, mapError)
	if err != nil {
		return nil, err
	}
	return &Driver{Conn: conn, schema: cfg.Schema}, nil
}

// normalizeDSN forces parseTime so DATETIME columns scan as time.Time.
func normalizeDSN(dsn string) (string, error) {
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", errs.Wrap(errs.ErrKindConnectionFailed, "invalid DSN", err)
	}
	mc.ParseTime = true
	return mc.FormatDSN(), nil
}

// --- database.DB implementation ---

func (d *Driver) ListTables(ctx context.Context) ([]string, error) {
	const q = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = COALESCE(NULLIF(?, ''), DATABASE())
		  AND table_type   = 'BASE TABLE'
		ORDER BY table_name`

	return d.Strings(ctx, q, "failed to list tables", d.schema)
}

func (d *Driver) TableExists(ctx context.Context, table string) (bool, error) {
	const q = `
		SELECT 1
		FROM information_schema.tables
		WHERE table_schema = COALESCE(NULLIF(?, ''), DATABASE())
		  AND table_type   = 'BASE TABLE'
		  AND table_name   = ?`

	return d.Exists(ctx, q, "failed to check table existence", d.schema, table)
}

func (d *Driver) InspectSchema(ctx context.Context) (*database.Schema, error) {
	tables, err := d.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	return sqlconn.InspectTables(ctx, tables, d.inspectTable)
}

func (d *Driver) inspectTable(ctx context.Context, table string) (*database.TableInfo, error) {
	const colQ = `
		SELECT column_name,
		       column_type,
		       is_nullable,
		       column_default
		FROM information_schema.columns
		WHERE table_schema = COALESCE(NULLIF(?, ''), DATABASE())
		  AND table_name   = ?
		ORDER BY ordinal_position`

	const keyQ = `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = COALESCE(NULLIF(?, ''), DATABASE())
		  AND table_name   = ?
		  AND column_key   = ?
		ORDER BY ordinal_position`

	const fkQ = `
		SELECT column_name,
		       referenced_table_name,
		       referenced_column_name
		FROM information_schema.key_column_usage
		WHERE table_schema           = COALESCE(NULLIF(?, ''), DATABASE())
		  AND table_name             = ?
		  AND referenced_table_name IS NOT NULL
		ORDER BY ordinal_position`

	columns, err := d.Columns(ctx, colQ, d.schema, table)
	if err != nil {
		return nil, err
	}

	pks, err := d.Strings(ctx, keyQ, "failed to fetch primary keys", d.schema, table, "PRI")
	if err != nil {
		return nil, err
	}

	uniques, err := d.Strings(ctx, keyQ, "failed to fetch unique columns", d.schema, table, "UNI")
	if err != nil {
		return nil, err
	}

	fks, err := d.ForeignKeys(ctx, fkQ, d.schema, table)
	if err != nil {
		return nil, err
	}

	info := &database.TableInfo{
		Name:        table,
		Columns:     columns,
		PrimaryKey:  pks,
		ForeignKeys: fks,
	}
	info.MarkKeys(pks, uniques)
	return info, nil
}

// --- error mapping ---

// mapError translates go-sql-driver/mysql errors into *errs.Error.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	if mapped, ok := sqlconn.MapCommon(err, msg); ok {
		return mapped
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return errs.Wrap(
			classifyMySQLCode(mysqlErr.Number),
			fmt.Sprintf("%s: %s", msg, mysqlErr.Message),
			err,
		)
	}

	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}

// classifyMySQLCode maps MySQL error numbers to ErrKind.
// Full list: https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
func classifyMySQLCode(code uint16) errs.ErrKind {
	switch code {
	case 1044, 1045, 1142, 1143:
		return errs.ErrKindPermissionDenied
	case 1040, 1046, 1049, 1203, 2003:
		return errs.ErrKindConnectionFailed
	case 1146:
		return errs.ErrKindNotFound
	case 3024:
		return errs.ErrKindTimeout
	default:
		return errs.ErrKindQueryFailed
	}
}
