// Package snowflake provides the Snowflake implementation of database.DB.
package snowflake

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/snowflakedb/gosnowflake"

	"github.com/koustreak/pha/internal/database"
	"github.com/koustreak/pha/internal/database/sqlconn"
	"github.com/koustreak/pha/internal/errs"
)

const defaultSchema = "PUBLIC"

// Driver is a Snowflake implementation of database.DB backed by database/sql.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	*sqlconn.Conn
	schema string
}

// New opens a Snowflake pool. cfg.DSN uses the gosnowflake format
// "user:password@account/database?warehouse=WH&role=ROLE".
func New(ctx context.Context, cfg *database.Config) (*Driver, error) {
	sfCfg, err := gosnowflake.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid DSN", err)
	}
	if sfCfg.Application == "" {
		sfCfg.Application = "pha"
	}
	if cfg.ConnectTimeout > 0 {
		sfCfg.LoginTimeout = cfg.ConnectTimeout
	}

	dsn, err := gosnowflake.DSN(sfCfg)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid DSN", err)
	}

	conn, err := sqlconn.Open(ctx, "snowflake", dsn, cfg, mapError)
	if err != nil {
		return nil, err
	}

	schema := strings.ToUpper(cfg.Schema)
	if schema == "" {
		schema = strings.ToUpper(sfCfg.Schema)
	}
	if schema == "" {
		schema = defaultSchema
	}
	return &Driver{Conn: conn, schema: schema}, nil
}

// --- database.DB implementation ---

func (d *Driver) ListTables(ctx context.Context) ([]string, error) {
	const q = `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ?
		  AND TABLE_TYPE   = 'BASE TABLE'
		ORDER BY TABLE_NAME`

	return d.Strings(ctx, q, "failed to list tables", d.schema)
}

func (d *Driver) TableExists(ctx context.Context, table string) (bool, error) {
	const q = `
		SELECT 1
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ?
		  AND TABLE_TYPE   = 'BASE TABLE'
		  AND TABLE_NAME   = ?`

	return d.Exists(ctx, q, "failed to check table existence", d.schema, table)
}

func (d *Driver) InspectSchema(ctx context.Context) (*database.Schema, error) {
	tables, err := d.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	return sqlconn.InspectTables(ctx, tables, d.inspectTable)
}

// inspectTable reads columns from INFORMATION_SCHEMA and keys from SHOW
// commands; Snowflake exposes no KEY_COLUMN_USAGE view.
func (d *Driver) inspectTable(ctx context.Context, table string) (*database.TableInfo, error) {
	const colQ = `
		SELECT COLUMN_NAME,
		       DATA_TYPE,
		       IS_NULLABLE,
		       COLUMN_DEFAULT
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ?
		  AND TABLE_NAME   = ?
		ORDER BY ORDINAL_POSITION`

	columns, err := d.Columns(ctx, colQ, d.schema, table)
	if err != nil {
		return nil, err
	}

	target := qualified(d.schema, table)

	pks, err := d.showColumns(ctx, "SHOW PRIMARY KEYS IN TABLE "+target, "failed to fetch primary keys")
	if err != nil {
		return nil, err
	}

	uniques, err := d.showColumns(ctx, "SHOW UNIQUE KEYS IN TABLE "+target, "failed to fetch unique columns")
	if err != nil {
		return nil, err
	}

	imported, err := d.Named(ctx, "SHOW IMPORTED KEYS IN TABLE "+target, "failed to fetch foreign keys",
		"fk_column_name", "pk_table_name", "pk_column_name")
	if err != nil {
		return nil, err
	}
	fks := make([]*database.ForeignKey, 0, len(imported))
	for _, rec := range imported {
		fks = append(fks, &database.ForeignKey{Column: rec[0], RefTable: rec[1], RefColumn: rec[2]})
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

func (d *Driver) showColumns(ctx context.Context, q, errMsg string) ([]string, error) {
	recs, err := d.Named(ctx, q, errMsg, "column_name")
	if err != nil {
		return nil, err
	}
	out := make([]string, len(recs))
	for i, rec := range recs {
		out[i] = rec[0]
	}
	return out, nil
}

// qualified renders "SCHEMA"."TABLE" for SHOW commands, which take no bind
// parameters.
func qualified(schema, table string) string {
	return quote(schema) + "." + quote(table)
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// --- error mapping ---

// Snowflake error numbers that are not query failures.
const (
	sfErrAuthFailed      = 390100
	sfErrAccessDenied    = 3001
	sfErrObjectNotExists = 2003
	sfErrTimeout         = 604
)

// mapError translates gosnowflake errors into *errs.Error.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	if mapped, ok := sqlconn.MapCommon(err, msg); ok {
		return mapped
	}

	var sfErr *gosnowflake.SnowflakeError
	if errors.As(err, &sfErr) {
		return errs.Wrap(classifyNumber(sfErr.Number), fmt.Sprintf("%s: %s", msg, sfErr.Message), err)
	}

	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}

func classifyNumber(n int) errs.ErrKind {
	switch n {
	case sfErrAuthFailed, sfErrAccessDenied:
		return errs.ErrKindPermissionDenied
	case sfErrObjectNotExists:
		return errs.ErrKindNotFound
	case sfErrTimeout:
		return errs.ErrKindTimeout
	default:
		return errs.ErrKindQueryFailed
	}
}
