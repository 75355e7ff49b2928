package replay

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/arkilian/versionstore/pkg/types"
)

func entry(id string, p types.Payload) types.ChangeEntry {
	return types.ChangeEntry{ID: id, Payload: p}
}

func rec(kv ...any) types.Record {
	r := types.Record{}
	for i := 0; i+1 < len(kv); i += 2 {
		r[kv[i].(string)] = kv[i+1]
	}
	return r
}

func TestFold_InsertUpdateDelete(t *testing.T) {
	entries := []types.ChangeEntry{
		entry("e1", types.InsertPayload{Initial: true, Records: []types.Record{
			rec("id", 1.0, "name", "a"),
			rec("id", 2.0, "name", "b"),
		}}),
		entry("e2", types.UpdatePayload{Modified: []types.Record{rec("id", 1.0, "name", "z")}}),
		entry("e3", types.InsertPayload{Records: []types.Record{rec("id", 3.0, "name", "c")}}),
		entry("e4", types.DeletePayload{Deleted: []types.Record{rec("id", 2.0, "name", "b")}}),
	}

	got, err := Fold(entries, Options{})
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	want := []types.Record{
		rec("id", 1.0, "name", "z"),
		rec("id", 3.0, "name", "c"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestFold_EmptyLog(t *testing.T) {
	got, err := Fold(nil, Options{})
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil result, got %#v", got)
	}
}

func TestFold_UnmatchedUpdateIgnored(t *testing.T) {
	entries := []types.ChangeEntry{
		entry("e1", types.InsertPayload{Records: []types.Record{rec("id", 1.0, "v", 1.0)}}),
		entry("e2", types.UpdatePayload{Modified: []types.Record{rec("id", 99.0, "v", 5.0)}}),
	}
	got, err := Fold(entries, Options{})
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if diff := cmp.Diff([]types.Record{rec("id", 1.0, "v", 1.0)}, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestFold_UpdateMergesFirstMatchOnly(t *testing.T) {
	entries := []types.ChangeEntry{
		entry("e1", types.InsertPayload{Records: []types.Record{
			rec("id", 1.0, "v", "first"),
			rec("id", 1.0, "v", "second"),
		}}),
		entry("e2", types.UpdatePayload{Modified: []types.Record{rec("id", 1.0, "extra", true)}}),
	}
	got, err := Fold(entries, Options{})
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	want := []types.Record{
		rec("id", 1.0, "v", "first", "extra", true),
		rec("id", 1.0, "v", "second"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestFold_DeleteByValueRequiresFullMatch(t *testing.T) {
	entries := []types.ChangeEntry{
		entry("e1", types.InsertPayload{Records: []types.Record{rec("id", 1.0, "name", "a")}}),
		entry("e2", types.UpdatePayload{Modified: []types.Record{rec("id", 1.0, "name", "b")}}),
		// Stale value: no longer equal to the stored record.
		entry("e3", types.DeletePayload{Deleted: []types.Record{rec("id", 1.0, "name", "a")}}),
	}

	got, err := Fold(entries, Options{DeleteMode: DeleteByValue})
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("value delete should miss the updated record, got %v", got)
	}

	got, err = Fold(entries, Options{DeleteMode: DeleteByID})
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("id delete should remove the record, got %v", got)
	}
}

func TestFold_DeleteRemovesAllDuplicates(t *testing.T) {
	entries := []types.ChangeEntry{
		entry("e1", types.InsertPayload{Records: []types.Record{
			rec("id", 1.0), rec("id", 2.0), rec("id", 1.0),
		}}),
		entry("e2", types.DeletePayload{Deleted: []types.Record{rec("id", 1.0)}}),
	}
	got, err := Fold(entries, Options{})
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if diff := cmp.Diff([]types.Record{rec("id", 2.0)}, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestFold_DoesNotMutateInput(t *testing.T) {
	inserted := []types.Record{rec("id", 1.0, "name", "a")}
	entries := []types.ChangeEntry{
		entry("e1", types.InsertPayload{Records: inserted}),
		entry("e2", types.UpdatePayload{Modified: []types.Record{rec("id", 1.0, "name", "b")}}),
	}

	got, err := Fold(entries, Options{})
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	got[0]["name"] = "mutated"

	if inserted[0]["name"] != "a" {
		t.Errorf("input record changed to %v", inserted[0]["name"])
	}
}

func TestFold_UnsupportedPayload(t *testing.T) {
	if _, err := Fold([]types.ChangeEntry{{ID: "bad"}}, Options{}); err == nil {
		t.Fatal("expected error for entry without payload")
	}
}

func TestParseDeleteMode(t *testing.T) {
	for in, want := range map[string]DeleteMode{"": DeleteByValue, "value": DeleteByValue, "id": DeleteByID} {
		got, err := ParseDeleteMode(in)
		if err != nil || got != want {
			t.Errorf("ParseDeleteMode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseDeleteMode("fuzzy"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
