// Package schema checks schema snapshots for backward compatibility and
// validates records against them.
package schema

import (
	"fmt"
	"sort"

	"github.com/arkilian/versionstore/pkg/types"
)

// WarningKind identifies which compatibility rule produced a warning.
type WarningKind string

const (
	ColumnRemoved    WarningKind = "COLUMN_REMOVED"
	TypeChanged      WarningKind = "TYPE_CHANGED"
	NullableNarrowed WarningKind = "NULLABLE_NARROWED"
)

// rank orders warnings for the same column.
func (k WarningKind) rank() int {
	switch k {
	case ColumnRemoved:
		return 0
	case TypeChanged:
		return 1
	default:
		return 2
	}
}

// Warning describes one backward-incompatible difference between two schemas.
// Warnings are advisory; they never block a version from being created.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Column  string      `json:"column"`
	OldType string      `json:"old_type,omitempty"`
	NewType string      `json:"new_type,omitempty"`
	Message string      `json:"message"`
}

// CheckCompatibility compares prev against next and reports every removed
// column, changed data type and column that stopped being nullable.
// Added columns are compatible and not reported. The result is sorted by
// column name, then rule.
func CheckCompatibility(prev, next types.Schema) []Warning {
	newCols := make(map[string]types.ColumnDef, len(next))
	for _, col := range next {
		newCols[col.Name] = col
	}

	var warnings []Warning
	for _, oldCol := range prev {
		newCol, ok := newCols[oldCol.Name]
		if !ok {
			warnings = append(warnings, Warning{
				Kind:    ColumnRemoved,
				Column:  oldCol.Name,
				OldType: oldCol.DataType,
				Message: fmt.Sprintf("Column '%s' has been removed", oldCol.Name),
			})
			continue
		}
		if oldCol.DataType != newCol.DataType {
			warnings = append(warnings, Warning{
				Kind:    TypeChanged,
				Column:  oldCol.Name,
				OldType: oldCol.DataType,
				NewType: newCol.DataType,
				Message: fmt.Sprintf("Data type changed for column '%s': %s -> %s", oldCol.Name, oldCol.DataType, newCol.DataType),
			})
		}
		if oldCol.Nullable && !newCol.Nullable {
			warnings = append(warnings, Warning{
				Kind:    NullableNarrowed,
				Column:  oldCol.Name,
				OldType: oldCol.DataType,
				NewType: newCol.DataType,
				Message: fmt.Sprintf("Column '%s' changed from nullable to non-nullable", oldCol.Name),
			})
		}
	}

	sort.SliceStable(warnings, func(i, j int) bool {
		if warnings[i].Column != warnings[j].Column {
			return warnings[i].Column < warnings[j].Column
		}
		return warnings[i].Kind.rank() < warnings[j].Kind.rank()
	})
	return warnings
}

// Messages returns the human-readable text of each warning.
func Messages(ws []Warning) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Message
	}
	return out
}

// AddedColumns returns columns present in next but absent from prev.
func AddedColumns(prev, next types.Schema) []types.ColumnDef {
	oldCols := make(map[string]bool, len(prev))
	for _, col := range prev {
		oldCols[col.Name] = true
	}

	var diff []types.ColumnDef
	for _, col := range next {
		if !oldCols[col.Name] {
			diff = append(diff, col)
		}
	}
	return diff
}

// Equal reports whether two schemas define the same columns, ignoring order.
func Equal(a, b types.Schema) bool {
	if len(a) != len(b) {
		return false
	}
	bCols := make(map[string]types.ColumnDef, len(b))
	for _, col := range b {
		bCols[col.Name] = col
	}
	for _, col := range a {
		other, ok := bCols[col.Name]
		if !ok || other != col {
			return false
		}
	}
	return true
}
