package types

// Schema is the full set of column definitions in effect for one version.
// Column order carries no meaning; names are unique within a schema.
type Schema []ColumnDef

// ColumnDef defines a single column in a schema snapshot.
type ColumnDef struct {
	// Name is the column name
	Name string `json:"column_name" yaml:"column_name"`

	// DataType is the declared type name, e.g. "integer" or "string"
	DataType string `json:"data_type" yaml:"data_type"`

	// Nullable indicates whether the column may hold null values
	Nullable bool `json:"is_nullable" yaml:"is_nullable"`

	// Description is optional free text
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Column returns the column with the given name.
func (s Schema) Column(name string) (ColumnDef, bool) {
	for _, col := range s {
		if col.Name == name {
			return col, true
		}
	}
	return ColumnDef{}, false
}

// Names returns the column names in declaration order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, col := range s {
		names[i] = col.Name
	}
	return names
}

// Clone returns a copy that shares no backing array with s.
func (s Schema) Clone() Schema {
	if s == nil {
		return nil
	}
	out := make(Schema, len(s))
	copy(out, s)
	return out
}
