package schema

import (
	"github.com/koustreak/pha/internal/database"
)

// FromDatabase converts an introspected database schema into the unified
// form. Columns that take part in a foreign key are flagged is_foreign_key.
func FromDatabase(info DatabaseInfo, db *database.Schema) *Unified {
	out := &Unified{DatabaseInfo: info, Tables: make([]Table, 0, len(db.Tables))}

	for _, t := range db.Tables {
		fkCols := make(map[string]bool, len(t.ForeignKeys))
		for _, fk := range t.ForeignKeys {
			fkCols[fk.Column] = true
		}
		pkCols := make(map[string]bool, len(t.PrimaryKey))
		for _, pk := range t.PrimaryKey {
			pkCols[pk] = true
		}

		table := Table{Name: t.Name, Fields: make([]Field, 0, len(t.Columns))}
		for _, c := range t.Columns {
			table.Fields = append(table.Fields, Field{
				Name:         c.Name,
				Type:         c.DataType,
				Nullable:     c.Nullable,
				IsPrimaryKey: c.IsPrimary || pkCols[c.Name],
				IsForeignKey: fkCols[c.Name],
			})
		}
		out.Tables = append(out.Tables, table)
	}
	return out
}

// TypeForDriver maps a connection driver to the unified database type.
func TypeForDriver(d database.Driver) DatabaseType {
	switch d {
	case database.DriverPostgres:
		return PostgreSQL
	case database.DriverMySQL:
		return MySQL
	case database.DriverSQLServer:
		return SQLServer
	case database.DriverOracle:
		return Oracle
	case database.DriverSnowflake:
		return Snowflake
	case database.DriverMongoDB:
		return MongoDB
	}
	return ""
}
