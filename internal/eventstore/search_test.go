package eventstore

import (
	"context"
	"errors"
	"testing"
	"time"

	verrors "github.com/arkilian/versionstore/internal/errors"
	"github.com/arkilian/versionstore/pkg/types"
)

func numbers(vs []types.VersionSummary) []types.VersionNumber {
	out := make([]types.VersionNumber, len(vs))
	for i, v := range vs {
		out[i] = v.Number
	}
	return out
}

func TestStore_SearchVersions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d, first := createTestDataset(t, s, types.Record{"id": 1})

	wider := append(testSchema.Clone(), types.ColumnDef{Name: "email", DataType: "string", Nullable: true})
	update, err := s.AppendVersion(ctx, VersionAppend{
		DatasetID:  d.ID,
		ChangeType: types.ChangeUpdate,
		Schema:     wider,
		Entries:    []types.Payload{types.UpdatePayload{Modified: []types.Record{{"id": 1, "email": "a@b"}}}},
	})
	if err != nil {
		t.Fatalf("AppendVersion: %v", err)
	}
	last := appendInsert(t, s, d.ID, types.Record{"id": 2})

	insert := types.ChangeInsert
	tests := []struct {
		name   string
		filter Filter
		want   []types.VersionNumber
	}{
		{"no filter", Filter{}, []types.VersionNumber{"1.0", "1.1", "1.2"}},
		{"change type", Filter{ChangeType: &insert}, []types.VersionNumber{"1.0", "1.2"}},
		{"single column", Filter{Columns: []string{"email"}}, []types.VersionNumber{"1.1", "1.2"}},
		{"all columns required", Filter{Columns: []string{"email", "missing"}}, []types.VersionNumber{}},
		{"duplicate columns", Filter{Columns: []string{"email", "email", "id"}}, []types.VersionNumber{"1.1", "1.2"}},
		{"inclusive range", Filter{Start: &update.CreatedAt, End: &update.CreatedAt}, []types.VersionNumber{"1.1"}},
		{"open start", Filter{End: &first.CreatedAt}, []types.VersionNumber{"1.0"}},
		{"conjunctive", Filter{Start: &update.CreatedAt, ChangeType: &insert, Columns: []string{"email"}}, []types.VersionNumber{"1.2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.SearchVersions(ctx, d.ID, tt.filter)
			if err != nil {
				t.Fatalf("SearchVersions: %v", err)
			}
			gotNums := numbers(got)
			if len(gotNums) != len(tt.want) {
				t.Fatalf("got %v, want %v", gotNums, tt.want)
			}
			for i := range gotNums {
				if gotNums[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", gotNums, tt.want)
				}
			}
		})
	}

	got, err := s.SearchVersions(ctx, d.ID, Filter{Columns: []string{"email"}})
	if err != nil {
		t.Fatalf("SearchVersions: %v", err)
	}
	if got[1].ID != last.ID || len(got[1].Schema) != 3 {
		t.Errorf("expected last version with copied-forward schema, got %+v", got[1])
	}

	future := time.Now().Add(time.Hour)
	got, err = s.SearchVersions(ctx, d.ID, Filter{Start: &future})
	if err != nil || len(got) != 0 {
		t.Errorf("expected no versions in the future, got %v, %v", got, err)
	}
}

func TestStore_SearchVersionsUnknownDataset(t *testing.T) {
	s := newTestStore(t)
	_, err := s.SearchVersions(context.Background(), "missing", Filter{})
	if !errors.Is(err, verrors.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
