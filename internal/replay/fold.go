// Package replay reconstructs dataset content by folding change-log entries
// in order.
package replay

import (
	"context"
	"fmt"
	"reflect"

	"github.com/arkilian/versionstore/pkg/types"
)

// DeleteMode selects how DELETE entries match accumulated records.
type DeleteMode string

const (
	// DeleteByValue removes records equal in every field to a deleted record.
	DeleteByValue DeleteMode = "value"

	// DeleteByID removes records whose id equals a deleted record's id.
	DeleteByID DeleteMode = "id"
)

// ParseDeleteMode parses a configured delete mode. Empty means DeleteByValue.
func ParseDeleteMode(s string) (DeleteMode, error) {
	switch DeleteMode(s) {
	case "", DeleteByValue:
		return DeleteByValue, nil
	case DeleteByID:
		return DeleteByID, nil
	default:
		return "", fmt.Errorf("replay: unknown delete mode %q", s)
	}
}

// Options controls fold semantics.
type Options struct {
	DeleteMode DeleteMode
}

// Fold applies entries in order to an empty dataset and returns the
// resulting records. Entries are not modified. Records are cloned on insert
// and merged field-wise on update, so the result shares no maps with the
// input.
func Fold(entries []types.ChangeEntry, opts Options) ([]types.Record, error) {
	return fold(context.Background(), entries, opts)
}

func fold(ctx context.Context, entries []types.ChangeEntry, opts Options) ([]types.Record, error) {
	records := make([]types.Record, 0)

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		switch p := entry.Payload.(type) {
		case types.InsertPayload:
			records = append(records, types.CloneRecords(p.Records)...)

		case types.UpdatePayload:
			for _, partial := range p.Modified {
				applyUpdate(records, partial)
			}

		case types.DeletePayload:
			if opts.DeleteMode == DeleteByID {
				records = deleteByID(records, p.Deleted)
			} else {
				records = deleteByValue(records, p.Deleted)
			}

		default:
			return nil, fmt.Errorf("replay: entry %d (%s) has unsupported payload %T", i, entry.ID, entry.Payload)
		}
	}

	return records, nil
}

// applyUpdate merges partial into the first record with the same id.
// Updates that match nothing are dropped.
func applyUpdate(records []types.Record, partial types.Record) {
	id, ok := partial.ID()
	if !ok {
		return
	}
	for i, rec := range records {
		if existing, ok := rec.ID(); ok && reflect.DeepEqual(existing, id) {
			merged := rec.Clone()
			for k, v := range partial {
				merged[k] = v
			}
			records[i] = merged
			return
		}
	}
}

func deleteByValue(records, deleted []types.Record) []types.Record {
	if len(deleted) == 0 {
		return records
	}
	kept := records[:0:0]
	for _, rec := range records {
		if !containsRecord(deleted, rec) {
			kept = append(kept, rec)
		}
	}
	return kept
}

func containsRecord(set []types.Record, rec types.Record) bool {
	for _, candidate := range set {
		if reflect.DeepEqual(candidate, rec) {
			return true
		}
	}
	return false
}

func deleteByID(records, deleted []types.Record) []types.Record {
	var ids []any
	for _, d := range deleted {
		if id, ok := d.ID(); ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return records
	}
	kept := records[:0:0]
	for _, rec := range records {
		id, ok := rec.ID()
		if ok && containsValue(ids, id) {
			continue
		}
		kept = append(kept, rec)
	}
	return kept
}

func containsValue(values []any, v any) bool {
	for _, candidate := range values {
		if reflect.DeepEqual(candidate, v) {
			return true
		}
	}
	return false
}
