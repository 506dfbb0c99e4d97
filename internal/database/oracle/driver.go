// Package oracle provides the Oracle Database implementation of database.DB
// on the godror driver (requires the Oracle Instant Client at runtime).
package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/godror/godror"

	"github.com/koustreak/pha/internal/database"
	"github.com/koustreak/pha/internal/database/sqlconn"
	"github.com/koustreak/pha/internal/errs"
)

// Driver is an Oracle implementation of database.DB backed by database/sql.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	*sqlconn.Conn
	owner string // empty means the session's current schema
}

// New opens an Oracle pool. cfg.DSN is a godror connect string, e.g.
// `user="ehr" password="…" connectString="db:1521/ORCLPDB1"`.
func New(ctx context.Context, cfg *database.Config) (*Driver, error) {
	if _, err := godror.ParseDSN(cfg.DSN); err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid DSN", err)
	}

	conn, err := sqlconn.Open(ctx, "godror", cfg.DSN, cfg, mapError)
	if err != nil {
		return nil, err
	}
	return &Driver{Conn: conn, owner: strings.ToUpper(cfg.Schema)}, nil
}

// ownerExpr resolves the owner bind: Oracle compares '' as NULL, so NVL
// falls back to the current schema.
const ownerExpr = `NVL(:1, SYS_CONTEXT('USERENV', 'CURRENT_SCHEMA'))`

// --- database.DB implementation ---

func (d *Driver) ListTables(ctx context.Context) ([]string, error) {
	q := `
		SELECT TABLE_NAME
		FROM ALL_TABLES
		WHERE OWNER = ` + ownerExpr + `
		ORDER BY TABLE_NAME`

	return d.Strings(ctx, q, "failed to list tables", d.owner)
}

func (d *Driver) TableExists(ctx context.Context, table string) (bool, error) {
	q := `
		SELECT 1
		FROM ALL_TABLES
		WHERE OWNER = ` + ownerExpr + `
		  AND TABLE_NAME = :2`

	return d.Exists(ctx, q, "failed to check table existence", d.owner, table)
}

func (d *Driver) InspectSchema(ctx context.Context) (*database.Schema, error) {
	tables, err := d.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	return sqlconn.InspectTables(ctx, tables, d.inspectTable)
}

func (d *Driver) inspectTable(ctx context.Context, table string) (*database.TableInfo, error) {
	// DATA_DEFAULT is a LONG column and cannot be selected through
	// database/sql reliably; defaults are reported as unknown.
	colQ := `
		SELECT COLUMN_NAME,
		       DATA_TYPE,
		       NULLABLE,
		       CAST(NULL AS VARCHAR2(1))
		FROM ALL_TAB_COLUMNS
		WHERE OWNER = ` + ownerExpr + `
		  AND TABLE_NAME = :2
		ORDER BY COLUMN_ID`

	keyQ := `
		SELECT cc.COLUMN_NAME
		FROM ALL_CONSTRAINTS c
		JOIN ALL_CONS_COLUMNS cc
		  ON c.OWNER = cc.OWNER
		 AND c.CONSTRAINT_NAME = cc.CONSTRAINT_NAME
		WHERE c.OWNER = ` + ownerExpr + `
		  AND c.TABLE_NAME = :2
		  AND c.CONSTRAINT_TYPE = :3
		ORDER BY cc.POSITION`

	fkQ := `
		SELECT cc.COLUMN_NAME,
		       rc.TABLE_NAME,
		       rcc.COLUMN_NAME
		FROM ALL_CONSTRAINTS c
		JOIN ALL_CONS_COLUMNS cc
		  ON c.OWNER = cc.OWNER AND c.CONSTRAINT_NAME = cc.CONSTRAINT_NAME
		JOIN ALL_CONSTRAINTS rc
		  ON c.R_OWNER = rc.OWNER AND c.R_CONSTRAINT_NAME = rc.CONSTRAINT_NAME
		JOIN ALL_CONS_COLUMNS rcc
		  ON rc.OWNER = rcc.OWNER AND rc.CONSTRAINT_NAME = rcc.CONSTRAINT_NAME
		 AND cc.POSITION = rcc.POSITION
		WHERE c.OWNER = ` + ownerExpr + `
		  AND c.TABLE_NAME = :2
		  AND c.CONSTRAINT_TYPE = 'R'
		ORDER BY cc.POSITION`

	columns, err := d.Columns(ctx, colQ, d.owner, table)
	if err != nil {
		return nil, err
	}

	pks, err := d.Strings(ctx, keyQ, "failed to fetch primary keys", d.owner, table, "P")
	if err != nil {
		return nil, err
	}

	uniques, err := d.Strings(ctx, keyQ, "failed to fetch unique columns", d.owner, table, "U")
	if err != nil {
		return nil, err
	}

	fks, err := d.ForeignKeys(ctx, fkQ, d.owner, table)
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

// mapError translates godror / ORA- errors into *errs.Error.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	if mapped, ok := sqlconn.MapCommon(err, msg); ok {
		return mapped
	}

	if oraErr, ok := godror.AsOraErr(err); ok {
		return errs.Wrap(classifyCode(oraErr.Code()), fmt.Sprintf("%s: %s", msg, oraErr.Message()), err)
	}

	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}

// classifyCode maps ORA- error codes to ErrKind.
func classifyCode(code int) errs.ErrKind {
	switch code {
	case 1017, 1031, 1045, 28000:
		return errs.ErrKindPermissionDenied
	case 942:
		return errs.ErrKindNotFound
	case 1013:
		return errs.ErrKindTimeout
	case 3113, 3114, 3135, 12154, 12514, 12541, 12170:
		return errs.ErrKindConnectionFailed
	default:
		return errs.ErrKindQueryFailed
	}
}
