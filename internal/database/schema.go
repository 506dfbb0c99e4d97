package database

// ColumnInfo describes a single column as reported by the engine catalog.
type ColumnInfo struct {
	Name      string
	DataType  string // engine-native type name: text, int4, NVARCHAR2, …
	Nullable  bool
	Default   *string // nil if no default
	IsPrimary bool
	IsUnique  bool
}

// ForeignKey describes one referencing column of a table.
type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
}

// TableInfo describes a table and its columns in declaration order.
type TableInfo struct {
	Name        string
	Columns     []*ColumnInfo
	PrimaryKey  []string
	ForeignKeys []*ForeignKey
}

// Schema is the full introspected database schema. Tables keep catalog
// order so that everything derived from a schema is deterministic.
type Schema struct {
	Tables []*TableInfo
}

// Table returns the table with the given name, or nil.
func (s *Schema) Table(name string) *TableInfo {
	for _, t := range s.Tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// MarkKeys sets IsPrimary / IsUnique on columns from name lists gathered by
// separate catalog queries.
func (t *TableInfo) MarkKeys(primary, unique []string) {
	pkSet := toSet(primary)
	uqSet := toSet(unique)
	for _, col := range t.Columns {
		col.IsPrimary = pkSet[col.Name]
		col.IsUnique = uqSet[col.Name]
	}
}

func toSet(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}
