package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/arkilian/versionstore/internal/changelog"
	verrors "github.com/arkilian/versionstore/internal/errors"
	"github.com/arkilian/versionstore/pkg/types"
)

// Validate checks that a schema has at least one column and that every
// column has a unique, non-empty name and a data type.
func Validate(s types.Schema) error {
	if len(s) == 0 {
		return verrors.NewValidationError(verrors.CodeInvalidSchema, "schema must define at least one column")
	}
	seen := make(map[string]bool, len(s))
	for i, col := range s {
		name := strings.TrimSpace(col.Name)
		if name == "" {
			return verrors.NewValidationError(verrors.CodeInvalidSchema,
				fmt.Sprintf("column %d has an empty name", i))
		}
		if seen[name] {
			return verrors.NewValidationError(verrors.CodeInvalidSchema,
				fmt.Sprintf("duplicate column %q", name)).
				WithDetails(map[string]interface{}{"column": name})
		}
		seen[name] = true
		if strings.TrimSpace(col.DataType) == "" {
			return verrors.NewValidationError(verrors.CodeInvalidSchema,
				fmt.Sprintf("column %q has no data type", name))
		}
	}
	return nil
}

// ValidateRecords rejects records that use fields outside the schema. The
// returned error lists every offending field.
func ValidateRecords(s types.Schema, records []types.Record) error {
	known := make(map[string]bool, len(s))
	for _, col := range s {
		known[col.Name] = true
	}

	var invalid []string
	for _, field := range changelog.Fields(records) {
		if !known[field] {
			invalid = append(invalid, field)
		}
	}
	if len(invalid) == 0 {
		return nil
	}
	sort.Strings(invalid)
	return verrors.NewValidationError(verrors.CodeUnknownColumns,
		fmt.Sprintf("invalid fields in data: %s", strings.Join(invalid, ", "))).
		WithDetails(map[string]interface{}{"fields": invalid})
}
