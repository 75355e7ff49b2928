package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ChangeType tags the operation a version or change-log entry performs.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ParseChangeType validates s as one of INSERT, UPDATE or DELETE.
func ParseChangeType(s string) (ChangeType, error) {
	switch ct := ChangeType(strings.ToUpper(strings.TrimSpace(s))); ct {
	case ChangeInsert, ChangeUpdate, ChangeDelete:
		return ct, nil
	default:
		return "", fmt.Errorf("%w: %q (must be INSERT, UPDATE or DELETE)", ErrInvalidChangeType, s)
	}
}

// Valid reports whether ct is a known change type.
func (ct ChangeType) Valid() bool {
	return ct == ChangeInsert || ct == ChangeUpdate || ct == ChangeDelete
}

// VersionNumber is a dataset version label with exactly one fractional
// digit: "1.0", "1.1", ... "1.9", "2.0". Values are compared and incremented
// in integer tenths.
type VersionNumber string

// InitialVersion is the number every dataset's first version receives.
const InitialVersion VersionNumber = "1.0"

// ParseVersionNumber parses a "major.tenth" label and returns it in
// canonical form, so "01.0" and "+1.0" both yield "1.0".
func ParseVersionNumber(s string) (VersionNumber, error) {
	t, err := VersionNumber(s).Tenths()
	if err != nil {
		return "", err
	}
	return VersionFromTenths(t), nil
}

// Tenths returns the version number expressed in tenths, e.g. "1.3" -> 13.
func (v VersionNumber) Tenths() (int64, error) {
	whole, frac, ok := strings.Cut(string(v), ".")
	if !ok || whole == "" || len(frac) != 1 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidVersionNumber, string(v))
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || w < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidVersionNumber, string(v))
	}
	f := frac[0]
	if f < '0' || f > '9' {
		return 0, fmt.Errorf("%w: %q", ErrInvalidVersionNumber, string(v))
	}
	return w*10 + int64(f-'0'), nil
}

// Next returns the number that follows v (v + 0.1).
func (v VersionNumber) Next() (VersionNumber, error) {
	t, err := v.Tenths()
	if err != nil {
		return "", err
	}
	return VersionFromTenths(t + 1), nil
}

// VersionFromTenths formats a tenths count as a version number.
func VersionFromTenths(t int64) VersionNumber {
	return VersionNumber(fmt.Sprintf("%d.%d", t/10, t%10))
}

// String implements fmt.Stringer.
func (v VersionNumber) String() string { return string(v) }

// Dataset is a named collection whose content evolves through versions.
type Dataset struct {
	ID          string         `json:"dataset_id"`
	Name        string         `json:"dataset_name"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"dataset_metadata,omitempty"`
	CreatedBy   string         `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Version is an immutable checkpoint of a dataset's schema and change history.
type Version struct {
	ID         string        `json:"version_id"`
	DatasetID  string        `json:"dataset_id"`
	Number     VersionNumber `json:"version_number"`
	CreatedAt  time.Time     `json:"created_at"`
	CreatedBy  string        `json:"created_by"`
	ChangeType ChangeType    `json:"change_type"`
	Comment    string        `json:"comment,omitempty"`
}

// VersionSummary is a version together with its schema snapshot.
type VersionSummary struct {
	Version
	Schema Schema `json:"schema_definition"`
}
