// Package schema defines the unified schema: the engine-agnostic description
// of a database's tables and fields that the query generator consumes.
package schema

import (
	"fmt"
	"strings"

	"github.com/koustreak/pha/internal/errs"
)

// DatabaseType tags the engine a unified schema was taken from.
type DatabaseType string

const (
	PostgreSQL DatabaseType = "postgresql"
	MySQL      DatabaseType = "mysql"
	SQLServer  DatabaseType = "sqlserver"
	Oracle     DatabaseType = "oracle"
	Snowflake  DatabaseType = "snowflake"
	MongoDB    DatabaseType = "mongodb"
)

// DatabaseTypes lists every recognised type in a fixed order.
var DatabaseTypes = []DatabaseType{PostgreSQL, MySQL, SQLServer, Oracle, Snowflake, MongoDB}

// Valid reports whether t is one of DatabaseTypes.
func (t DatabaseType) Valid() bool {
	for _, known := range DatabaseTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseDatabaseType matches s case-insensitively against DatabaseTypes.
func ParseDatabaseType(s string) (DatabaseType, error) {
	t := DatabaseType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", errs.Newf(errs.ErrKindSchema, "unrecognised database type %q", s)
	}
	return t, nil
}

// DatabaseInfo identifies the source database.
type DatabaseInfo struct {
	Type DatabaseType `json:"type"`
	Name string       `json:"name"`
}

// Field is one column (or document field).
type Field struct {
	Name         string `json:"name"`
	Type         string `json:"type"` // engine-native type name
	Nullable     bool   `json:"nullable"`
	IsPrimaryKey bool   `json:"is_primary_key"`
	IsForeignKey bool   `json:"is_foreign_key"`
}

// Table is a named, ordered list of fields.
type Table struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// Unified is the complete schema. Tables and fields keep declaration order;
// everything derived from a Unified depends on that order.
type Unified struct {
	DatabaseInfo DatabaseInfo `json:"database_info"`
	Tables       []Table      `json:"tables"`
}

// Validate checks that s can be handed to the query generator: at least one
// table, a recognised database type, and table and field names unique
// under case-insensitive comparison.
func (s *Unified) Validate() error {
	if s == nil || len(s.Tables) == 0 {
		return errs.New(errs.ErrKindSchema, "schema has no tables")
	}
	if !s.DatabaseInfo.Type.Valid() {
		return errs.Newf(errs.ErrKindSchema, "unrecognised database type %q", s.DatabaseInfo.Type)
	}

	tables := make(map[string]string, len(s.Tables))
	for _, t := range s.Tables {
		if strings.TrimSpace(t.Name) == "" {
			return errs.New(errs.ErrKindSchema, "table with empty name")
		}
		key := strings.ToLower(t.Name)
		if prev, dup := tables[key]; dup {
			return errs.Newf(errs.ErrKindSchema, "duplicate table name %q (conflicts with %q)", t.Name, prev)
		}
		tables[key] = t.Name

		if err := t.validateFields(); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) validateFields() error {
	seen := make(map[string]string, len(t.Fields))
	for _, f := range t.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return errs.Newf(errs.ErrKindSchema, "table %q has a field with empty name", t.Name)
		}
		key := strings.ToLower(f.Name)
		if prev, dup := seen[key]; dup {
			return errs.Newf(errs.ErrKindSchema, "table %q: duplicate field name %q (conflicts with %q)", t.Name, f.Name, prev)
		}
		seen[key] = f.Name
	}
	return nil
}

// Table returns the table named name (case-insensitive), or nil.
func (s *Unified) Table(name string) *Table {
	for i := range s.Tables {
		if strings.EqualFold(s.Tables[i].Name, name) {
			return &s.Tables[i]
		}
	}
	return nil
}

// String summarises s for logs.
func (s *Unified) String() string {
	return fmt.Sprintf("%s/%s (%d tables)", s.DatabaseInfo.Type, s.DatabaseInfo.Name, len(s.Tables))
}
