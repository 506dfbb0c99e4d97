package database

import "context"

// Inspector reads the structure of a data store. Every engine implements it,
// including the non-SQL ones that cannot execute generated queries.
type Inspector interface {
	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the connection pool.
	Close()

	// InspectSchema returns the full schema of the configured database.
	// This is an expensive operation; callers persist the result as a
	// snapshot rather than calling it per request.
	InspectSchema(ctx context.Context) (*Schema, error)
}

// DB is the contract for SQL engines. All layers above this package talk
// only to this interface; they never import an engine package directly.
type DB interface {
	Inspector

	// Query executes a SQL statement that returns multiple rows.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)

	// QueryRow executes a SQL statement that returns at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) (Row, error)

	// ListTables returns all user-defined table names in the configured schema.
	ListTables(ctx context.Context) ([]string, error)

	// TableExists reports whether a table with the given name exists.
	TableExists(ctx context.Context, table string) (bool, error)
}

// Rows is an abstraction over a database result set.
// Callers must always call Close() when done, even on error.
type Rows interface {
	// Next advances to the next row.
	// Returns false when no more rows exist or on error.
	Next() bool

	// Scan copies the current row's columns into the provided destinations.
	Scan(dest ...any) error

	// Columns returns the column names of the result set.
	Columns() ([]string, error)

	// Close releases resources held by the result set.
	Close()

	// Err returns any error encountered during iteration.
	Err() error
}

// Row is an abstraction over a single database row.
type Row interface {
	Scan(dest ...any) error
}
