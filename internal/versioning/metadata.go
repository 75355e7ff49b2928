package versioning

import (
	"github.com/arkilian/versionstore/internal/changelog"
	"github.com/arkilian/versionstore/pkg/types"
)

// VersionMetadata summarizes the records a change touches.
type VersionMetadata struct {
	ChangeType    types.ChangeType `json:"change_type"`
	Added         int              `json:"records_added"`
	Modified      int              `json:"records_modified"`
	Deleted       int              `json:"records_deleted"`
	FieldsTouched []string         `json:"fields_touched"`
}

// MetadataFor summarizes a single payload.
func MetadataFor(p types.Payload) VersionMetadata {
	records := types.PayloadRecords(p)
	md := VersionMetadata{
		ChangeType:    p.Op(),
		FieldsTouched: changelog.Fields(records),
	}
	switch p.Op() {
	case types.ChangeInsert:
		md.Added = len(records)
	case types.ChangeUpdate:
		md.Modified = len(records)
	case types.ChangeDelete:
		md.Deleted = len(records)
	}
	return md
}
