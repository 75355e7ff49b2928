// Package changelog encodes and decodes the JSON payloads stored in the
// change log. The key layout is shared with existing databases and must not
// change:
//
//	INSERT  {"initial_data": [...]}  first version of a dataset
//	INSERT  {"added": [...]}
//	UPDATE  {"modified": [{"id": ..., ...}]}
//	DELETE  {"deleted": [...]}
package changelog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/arkilian/versionstore/pkg/types"
)

// Payload keys.
const (
	KeyInitialData = "initial_data"
	KeyAdded       = "added"
	KeyModified    = "modified"
	KeyDeleted     = "deleted"
)

// ErrMalformedPayload is returned when a stored payload does not match its
// operation type.
var ErrMalformedPayload = errors.New("malformed change payload")

// Encode serializes a payload to its stored JSON form.
func Encode(p types.Payload) ([]byte, error) {
	var key string
	var records []types.Record

	switch v := p.(type) {
	case types.InsertPayload:
		key, records = KeyAdded, v.Records
		if v.Initial {
			key = KeyInitialData
		}
	case types.UpdatePayload:
		key, records = KeyModified, v.Modified
	case types.DeletePayload:
		key, records = KeyDeleted, v.Deleted
	default:
		return nil, fmt.Errorf("changelog: unsupported payload type %T", p)
	}

	if records == nil {
		records = []types.Record{}
	}
	data, err := json.Marshal(map[string][]types.Record{key: records})
	if err != nil {
		return nil, fmt.Errorf("changelog: failed to encode %s payload: %w", p.Op(), err)
	}
	return data, nil
}

// Decode parses a stored payload for the given operation type.
func Decode(op types.ChangeType, data []byte) (types.Payload, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("changelog: %w: %v", ErrMalformedPayload, err)
	}

	allowed := allowedKeys(op)
	if allowed == nil {
		return nil, fmt.Errorf("changelog: %w: unknown operation %q", ErrMalformedPayload, string(op))
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("changelog: %w: empty %s payload", ErrMalformedPayload, op)
	}
	for key := range raw {
		if !allowed[key] {
			return nil, fmt.Errorf("changelog: %w: key %q not valid for %s", ErrMalformedPayload, key, op)
		}
	}

	switch op {
	case types.ChangeInsert:
		// A payload carrying both keys applies initial rows first.
		var out types.InsertPayload
		if msg, ok := raw[KeyInitialData]; ok {
			recs, err := decodeRecords(KeyInitialData, msg)
			if err != nil {
				return nil, err
			}
			out.Initial = true
			out.Records = append(out.Records, recs...)
		}
		if msg, ok := raw[KeyAdded]; ok {
			recs, err := decodeRecords(KeyAdded, msg)
			if err != nil {
				return nil, err
			}
			out.Records = append(out.Records, recs...)
		}
		return out, nil

	case types.ChangeUpdate:
		recs, err := decodeRecords(KeyModified, raw[KeyModified])
		if err != nil {
			return nil, err
		}
		for i, r := range recs {
			if _, ok := r.ID(); !ok {
				return nil, fmt.Errorf("changelog: %w: modified record %d has no %q field", ErrMalformedPayload, i, types.IDField)
			}
		}
		return types.UpdatePayload{Modified: recs}, nil

	default:
		recs, err := decodeRecords(KeyDeleted, raw[KeyDeleted])
		if err != nil {
			return nil, err
		}
		return types.DeletePayload{Deleted: recs}, nil
	}
}

func allowedKeys(op types.ChangeType) map[string]bool {
	switch op {
	case types.ChangeInsert:
		return map[string]bool{KeyInitialData: true, KeyAdded: true}
	case types.ChangeUpdate:
		return map[string]bool{KeyModified: true}
	case types.ChangeDelete:
		return map[string]bool{KeyDeleted: true}
	default:
		return nil
	}
}

func decodeRecords(key string, msg json.RawMessage) ([]types.Record, error) {
	var recs []types.Record
	if err := json.Unmarshal(msg, &recs); err != nil {
		return nil, fmt.Errorf("changelog: %w: %q must be a list of objects: %v", ErrMalformedPayload, key, err)
	}
	for i, r := range recs {
		if r == nil {
			return nil, fmt.Errorf("changelog: %w: %q element %d is null", ErrMalformedPayload, key, i)
		}
	}
	return recs, nil
}

// Normalize round-trips records through JSON so that numbers become float64
// and nested values take their decoded shapes, matching what Decode yields
// for the same data.
func Normalize(records []types.Record) ([]types.Record, error) {
	if records == nil {
		return nil, nil
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("changelog: failed to normalize records: %w", err)
	}
	var out []types.Record
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("changelog: failed to normalize records: %w", err)
	}
	return out, nil
}

// Fields returns the sorted set of field names used across records.
func Fields(records []types.Record) []string {
	seen := make(map[string]struct{})
	for _, r := range records {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
