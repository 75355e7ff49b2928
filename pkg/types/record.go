// Package types provides the core data model of the versioning service.
package types

// Record is a single dataset row: a mapping of field name to JSON value.
type Record map[string]any

// IDField is the field UPDATE entries use to locate the record they modify.
const IDField = "id"

// ID returns the record's id value and whether it is present.
func (r Record) ID() (any, bool) {
	v, ok := r[IDField]
	return v, ok
}

// Clone returns a shallow copy of the record. Nested values are shared,
// which is safe because records are replaced field-wise, never edited in place.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// CloneRecords copies every record in rs.
func CloneRecords(rs []Record) []Record {
	out := make([]Record, len(rs))
	for i, r := range rs {
		out[i] = r.Clone()
	}
	return out
}
