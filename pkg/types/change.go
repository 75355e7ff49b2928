package types

import (
	"fmt"
	"time"
)

// ChangeEntry records one atomic mutation attached to a version.
// Entries of the same version are applied in insertion order.
type ChangeEntry struct {
	ID            string
	VersionID     string
	ChangedBy     string
	OperationTime time.Time
	Payload       Payload
}

// Op returns the entry's operation type.
func (e ChangeEntry) Op() ChangeType {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Op()
}

// Payload is the operation-specific body of a change-log entry. The concrete
// type is one of InsertPayload, UpdatePayload or DeletePayload.
type Payload interface {
	Op() ChangeType
	isPayload()
}

// InsertPayload appends records. Initial marks the dataset's first version,
// whose payload is stored under "initial_data" rather than "added".
type InsertPayload struct {
	Initial bool
	Records []Record
}

// UpdatePayload merges partial records into existing ones matched by id.
type UpdatePayload struct {
	Modified []Record
}

// DeletePayload removes records.
type DeletePayload struct {
	Deleted []Record
}

func (InsertPayload) Op() ChangeType { return ChangeInsert }
func (UpdatePayload) Op() ChangeType { return ChangeUpdate }
func (DeletePayload) Op() ChangeType { return ChangeDelete }

func (InsertPayload) isPayload() {}
func (UpdatePayload) isPayload() {}
func (DeletePayload) isPayload() {}

// NewPayload builds the payload variant for a version's change type.
// INSERT data becomes "added" records, UPDATE data "modified" partial
// records and DELETE data "deleted" records.
func NewPayload(ct ChangeType, records []Record) (Payload, error) {
	switch ct {
	case ChangeInsert:
		return InsertPayload{Records: records}, nil
	case ChangeUpdate:
		return UpdatePayload{Modified: records}, nil
	case ChangeDelete:
		return DeletePayload{Deleted: records}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidChangeType, string(ct))
	}
}

// PayloadRecords returns the records a payload carries.
func PayloadRecords(p Payload) []Record {
	switch v := p.(type) {
	case InsertPayload:
		return v.Records
	case UpdatePayload:
		return v.Modified
	case DeletePayload:
		return v.Deleted
	default:
		return nil
	}
}
