package replay

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/arkilian/versionstore/pkg/types"
)

func recordsFromIDs(ids []int) []types.Record {
	out := make([]types.Record, len(ids))
	for i, id := range ids {
		out[i] = types.Record{"id": float64(id), "value": float64(id * 10)}
	}
	return out
}

func TestProperty_FoldDeterministicAndPure(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("folding twice yields equal results and leaves input intact", prop.ForAll(
		func(inserted, updated, deleted []int) bool {
			updates := recordsFromIDs(updated)
			for _, u := range updates {
				u["value"] = "changed"
			}
			entries := []types.ChangeEntry{
				{ID: "1", Payload: types.InsertPayload{Initial: true, Records: recordsFromIDs(inserted)}},
				{ID: "2", Payload: types.UpdatePayload{Modified: updates}},
				{ID: "3", Payload: types.DeletePayload{Deleted: recordsFromIDs(deleted)}},
			}
			before := recordsFromIDs(inserted)

			first, err := Fold(entries, Options{})
			if err != nil {
				return false
			}
			second, err := Fold(entries, Options{})
			if err != nil {
				return false
			}
			return reflect.DeepEqual(first, second) &&
				reflect.DeepEqual(before, entries[0].Payload.(types.InsertPayload).Records)
		},
		gen.SliceOf(gen.IntRange(0, 20)),
		gen.SliceOf(gen.IntRange(0, 20)),
		gen.SliceOf(gen.IntRange(0, 20)),
	))

	properties.Property("deleting every inserted record empties the dataset", prop.ForAll(
		func(ids []int) bool {
			recs := recordsFromIDs(ids)
			entries := []types.ChangeEntry{
				{ID: "1", Payload: types.InsertPayload{Records: recs}},
				{ID: "2", Payload: types.DeletePayload{Deleted: recs}},
			}
			got, err := Fold(entries, Options{})
			return err == nil && len(got) == 0
		},
		gen.SliceOf(gen.IntRange(0, 100)),
	))

	properties.Property("updates never change the record count", prop.ForAll(
		func(inserted, updated []int) bool {
			entries := []types.ChangeEntry{
				{ID: "1", Payload: types.InsertPayload{Records: recordsFromIDs(inserted)}},
				{ID: "2", Payload: types.UpdatePayload{Modified: recordsFromIDs(updated)}},
			}
			got, err := Fold(entries, Options{})
			return err == nil && len(got) == len(inserted)
		},
		gen.SliceOf(gen.IntRange(0, 50)),
		gen.SliceOf(gen.IntRange(0, 50)),
	))

	properties.Property("insert-only history folds to the concatenation of its batches", prop.ForAll(
		func(batches [][]int) bool {
			entries := make([]types.ChangeEntry, len(batches))
			want := make([]types.Record, 0)
			for i, ids := range batches {
				entries[i] = types.ChangeEntry{
					ID:      string(rune('a' + i%26)),
					Payload: types.InsertPayload{Initial: i == 0, Records: recordsFromIDs(ids)},
				}
				want = append(want, recordsFromIDs(ids)...)
			}
			got, err := Fold(entries, Options{})
			return err == nil && reflect.DeepEqual(want, got)
		},
		gen.SliceOf(gen.SliceOf(gen.IntRange(0, 50))),
	))

	properties.TestingRun(t)
}
