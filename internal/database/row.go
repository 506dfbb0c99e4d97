package database

import (
	"strconv"

	"github.com/koustreak/pha/internal/errs"
)

// ScanRows reads all rows from the result set and returns them as a slice
// of maps, where each key is the column name and each value is the Go-native
// representation of the DB value. []byte values are returned as strings so
// results survive JSON encoding readably.
//
// The returned slice is always non-nil (empty slice on zero rows).
// ScanRows always closes the Rows; callers do not need to call Close().
func ScanRows(rows Rows) ([]map[string]any, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to read column names", err)
	}

	result := make([]map[string]any, 0)

	for rows.Next() {
		// Allocate scan targets as *any so the driver can write any type.
		dest := make([]any, len(columns))
		destPtrs := make([]any, len(columns))
		for i := range dest {
			destPtrs[i] = &dest[i]
		}

		if err := rows.Scan(destPtrs...); err != nil {
			return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to scan row", err)
		}

		result = append(result, toMap(columns, dest))
	}

	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "error during row iteration", err)
	}

	return result, nil
}

// ScanRow reads a single row and returns it as a map.
func ScanRow(row Row, columns []string) (map[string]any, error) {
	dest := make([]any, len(columns))
	destPtrs := make([]any, len(columns))
	for i := range dest {
		destPtrs[i] = &dest[i]
	}

	if err := row.Scan(destPtrs...); err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to scan single row", err)
	}
	return toMap(columns, dest), nil
}

// UniqueColumns returns the keys ScanRows uses for columns: a repeated
// name (two joined tables both exposing "id") keeps the first occurrence and
// later ones become "name_2", "name_3", ….
func UniqueColumns(columns []string) []string {
	out := make([]string, len(columns))
	seen := make(map[string]int, len(columns))
	for i, col := range columns {
		out[i] = col
		if n := seen[col]; n > 0 {
			out[i] = col + "_" + strconv.Itoa(n+1)
		}
		seen[col]++
	}
	return out
}

// toMap pairs column names with values under UniqueColumns keys.
func toMap(columns []string, values []any) map[string]any {
	row := make(map[string]any, len(columns))
	for i, key := range UniqueColumns(columns) {
		if b, ok := values[i].([]byte); ok {
			row[key] = string(b)
			continue
		}
		row[key] = values[i]
	}
	return row
}
