package eventstore

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	verrors "github.com/arkilian/versionstore/internal/errors"
	"github.com/arkilian/versionstore/internal/observability"
	"github.com/arkilian/versionstore/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "versions.db"), Options{})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testSchema = types.Schema{
	{Name: "id", DataType: "integer"},
	{Name: "name", DataType: "string", Nullable: true},
}

func createTestDataset(t *testing.T, s *Store, records ...types.Record) (*types.Dataset, *types.Version) {
	t.Helper()
	d, v, err := s.CreateDataset(context.Background(), NewDataset{
		Name:           "people",
		Description:    "test dataset",
		Metadata:       map[string]any{"owner": "qa"},
		CreatedBy:      "alice",
		Schema:         testSchema,
		InitialRecords: records,
	})
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}
	return d, v
}

func appendInsert(t *testing.T, s *Store, datasetID string, records ...types.Record) *types.Version {
	t.Helper()
	v, err := s.AppendVersion(context.Background(), VersionAppend{
		DatasetID:  datasetID,
		ChangeType: types.ChangeInsert,
		CreatedBy:  "bob",
		Entries:    []types.Payload{types.InsertPayload{Records: records}},
	})
	if err != nil {
		t.Fatalf("AppendVersion: %v", err)
	}
	return v
}

func TestStore_CreateDataset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d, v := createTestDataset(t, s, types.Record{"id": 1, "name": "a"})
	if v.Number != types.InitialVersion {
		t.Errorf("first version = %s, want 1.0", v.Number)
	}

	got, err := s.GetDataset(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetDataset: %v", err)
	}
	if got.Name != "people" || got.Metadata["owner"] != "qa" || got.CreatedBy != "alice" {
		t.Errorf("unexpected dataset: %+v", got)
	}

	entries, err := s.ChangesUpTo(ctx, d.ID, v.ID)
	if err != nil {
		t.Fatalf("ChangesUpTo: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	ins, ok := entries[0].Payload.(types.InsertPayload)
	if !ok || !ins.Initial {
		t.Fatalf("expected initial insert payload, got %#v", entries[0].Payload)
	}
	want := []types.Record{{"id": float64(1), "name": "a"}}
	if diff := cmp.Diff(want, ins.Records); diff != "" {
		t.Errorf("initial records mismatch (-want +got):\n%s", diff)
	}

	schema, err := s.GetSchemaAt(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetSchemaAt: %v", err)
	}
	if diff := cmp.Diff(testSchema, schema); diff != "" {
		t.Errorf("schema mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_VersionNumbering(t *testing.T) {
	s := newTestStore(t)
	d, first := createTestDataset(t, s)

	prev := first
	for _, want := range []types.VersionNumber{"1.1", "1.2", "1.3"} {
		v := appendInsert(t, s, d.ID, types.Record{"id": 1})
		if v.Number != want {
			t.Fatalf("got version %s, want %s", v.Number, want)
		}
		if !v.CreatedAt.After(prev.CreatedAt) {
			t.Errorf("version %s created at %v, not after %v", v.Number, v.CreatedAt, prev.CreatedAt)
		}
		prev = v
	}

	latest, err := s.LatestVersion(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("LatestVersion: %v", err)
	}
	if latest.Number != "1.3" {
		t.Errorf("latest = %s, want 1.3", latest.Number)
	}
}

func TestStore_SchemaCopiedForward(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d, _ := createTestDataset(t, s)

	v := appendInsert(t, s, d.ID, types.Record{"id": 2})
	schema, err := s.GetSchemaAt(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetSchemaAt: %v", err)
	}
	if diff := cmp.Diff(testSchema, schema); diff != "" {
		t.Errorf("schema not copied forward (-want +got):\n%s", diff)
	}

	wider := append(testSchema.Clone(), types.ColumnDef{Name: "email", DataType: "string", Nullable: true})
	v2, err := s.AppendVersion(ctx, VersionAppend{
		DatasetID:  d.ID,
		ChangeType: types.ChangeUpdate,
		Schema:     wider,
		Entries:    []types.Payload{types.UpdatePayload{Modified: []types.Record{{"id": 2, "email": "x@y"}}}},
	})
	if err != nil {
		t.Fatalf("AppendVersion: %v", err)
	}
	schema, err = s.GetSchemaAt(ctx, v2.ID)
	if err != nil {
		t.Fatalf("GetSchemaAt: %v", err)
	}
	if len(schema) != 3 {
		t.Errorf("expected 3 columns, got %v", schema)
	}
}

func TestStore_ExpectedPriorConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d, _ := createTestDataset(t, s)
	appendInsert(t, s, d.ID, types.Record{"id": 1})

	_, err := s.AppendVersion(ctx, VersionAppend{
		DatasetID:     d.ID,
		ExpectedPrior: "1.0",
		ChangeType:    types.ChangeInsert,
		Entries:       []types.Payload{types.InsertPayload{}},
	})
	if !errors.Is(err, verrors.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if !verrors.IsRetryable(err) {
		t.Error("conflicts should be retryable")
	}

	v, err := s.AppendVersion(ctx, VersionAppend{
		DatasetID:     d.ID,
		ExpectedPrior: "1.1",
		ChangeType:    types.ChangeInsert,
		Entries:       []types.Payload{types.InsertPayload{}},
	})
	if err != nil {
		t.Fatalf("AppendVersion with matching prior: %v", err)
	}
	if v.Number != "1.2" {
		t.Errorf("got %s, want 1.2", v.Number)
	}
}

func TestStore_ConcurrentAppendsGetDistinctNumbers(t *testing.T) {
	s := newTestStore(t)
	d, _ := createTestDataset(t, s)

	const writers = 10
	var wg sync.WaitGroup
	numbers := make([]string, writers)
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := s.AppendVersion(context.Background(), VersionAppend{
				DatasetID:  d.ID,
				ChangeType: types.ChangeInsert,
				Entries:    []types.Payload{types.InsertPayload{Records: []types.Record{{"id": i}}}},
			})
			errs[i] = err
			if err == nil {
				numbers[i] = v.Number.String()
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("writer %d: %v", i, err)
		}
	}
	sort.Strings(numbers)
	want := []string{"1.1", "1.2", "1.3", "1.4", "1.5", "1.6", "1.7", "1.8", "1.9", "2.0"}
	if diff := cmp.Diff(want, numbers); diff != "" {
		t.Errorf("version numbers mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_FailedFlushRollsBackEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d, _ := createTestDataset(t, s)

	entries := make([]types.Payload, 6)
	for i := range entries {
		entries[i] = types.InsertPayload{Records: []types.Record{{"id": i}}}
	}
	// Unencodable value in the last group.
	entries[5] = types.InsertPayload{Records: []types.Record{{"id": math.Inf(1)}}}

	_, err := s.AppendVersion(ctx, VersionAppend{
		DatasetID:  d.ID,
		ChangeType: types.ChangeInsert,
		Entries:    entries,
		FlushEvery: 2,
	})
	if err == nil {
		t.Fatal("expected append to fail")
	}

	n, err := s.CountVersions(ctx, d.ID)
	if err != nil {
		t.Fatalf("CountVersions: %v", err)
	}
	if n != 1 {
		t.Errorf("expected only the initial version, got %d", n)
	}
	latest, err := s.LatestVersion(ctx, d.ID)
	if err != nil {
		t.Fatalf("LatestVersion: %v", err)
	}
	all, err := s.ChangesUpTo(ctx, d.ID, latest.ID)
	if err != nil {
		t.Fatalf("ChangesUpTo: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected only the initial entry, got %d", len(all))
	}
}

func TestStore_AppendValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d, _ := createTestDataset(t, s)

	_, err := s.AppendVersion(ctx, VersionAppend{
		DatasetID:  "missing",
		ChangeType: types.ChangeInsert,
		Entries:    []types.Payload{types.InsertPayload{}},
	})
	if !errors.Is(err, verrors.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	_, err = s.AppendVersion(ctx, VersionAppend{
		DatasetID:  d.ID,
		ChangeType: types.ChangeDelete,
		Entries:    []types.Payload{types.InsertPayload{}},
	})
	if !errors.Is(err, verrors.ErrValidation) {
		t.Errorf("expected validation error for mismatched payload, got %v", err)
	}

	_, err = s.AppendVersion(ctx, VersionAppend{DatasetID: d.ID, ChangeType: "UPSERT"})
	if !errors.Is(err, verrors.ErrValidation) {
		t.Errorf("expected validation error for bad change type, got %v", err)
	}
}

func TestStore_ChangesUpToOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d, first := createTestDataset(t, s, types.Record{"id": 0})

	v1, err := s.AppendVersion(ctx, VersionAppend{
		DatasetID:  d.ID,
		ChangeType: types.ChangeInsert,
		Entries: []types.Payload{
			types.InsertPayload{Records: []types.Record{{"id": 1}}},
			types.InsertPayload{Records: []types.Record{{"id": 2}}},
			types.InsertPayload{Records: []types.Record{{"id": 3}}},
		},
		FlushEvery: 2,
	})
	if err != nil {
		t.Fatalf("AppendVersion: %v", err)
	}
	appendInsert(t, s, d.ID, types.Record{"id": 4})

	count, err := s.EntryCount(ctx, v1.ID)
	if err != nil {
		t.Fatalf("EntryCount: %v", err)
	}
	if count != 3 {
		t.Errorf("EntryCount = %d, want 3", count)
	}

	entries, err := s.ChangesUpTo(ctx, d.ID, v1.ID)
	if err != nil {
		t.Fatalf("ChangesUpTo: %v", err)
	}
	var ids []float64
	for _, e := range entries {
		for _, r := range types.PayloadRecords(e.Payload) {
			ids = append(ids, r["id"].(float64))
		}
	}
	if diff := cmp.Diff([]float64{0, 1, 2, 3}, ids); diff != "" {
		t.Errorf("entry order mismatch (-want +got):\n%s", diff)
	}

	entries, err = s.ChangesUpTo(ctx, d.ID, first.ID)
	if err != nil {
		t.Fatalf("ChangesUpTo: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 entry at version 1.0, got %d", len(entries))
	}
}

func TestStore_MalformedPayloadIsIntegrityError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d, v := createTestDataset(t, s)

	if _, err := s.db.Exec(`UPDATE change_log SET payload = '{"modified":[]}'`); err != nil {
		t.Fatalf("corrupting payload: %v", err)
	}

	_, err := s.ChangesUpTo(ctx, d.ID, v.ID)
	if !errors.Is(err, verrors.ErrIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
}

func TestStore_GetVersionNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d, _ := createTestDataset(t, s)

	_, err := s.GetVersion(ctx, d.ID, "4.2")
	if verrors.GetCode(err) != verrors.CodeVersionNotFound {
		t.Errorf("expected version not found, got %v", err)
	}
	_, err = s.GetDataset(ctx, "nope")
	if verrors.GetCode(err) != verrors.CodeDatasetNotFound {
		t.Errorf("expected dataset not found, got %v", err)
	}
	_, err = s.LatestVersion(ctx, "nope")
	if !errors.Is(err, verrors.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestStore_ListVersions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d, _ := createTestDataset(t, s)
	for i := 0; i < 4; i++ {
		appendInsert(t, s, d.ID, types.Record{"id": i})
	}

	page, err := s.ListVersions(ctx, d.ID, 1, 2)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(page) != 2 || page[0].Number != "1.1" || page[1].Number != "1.2" {
		t.Fatalf("unexpected page: %+v", page)
	}
	if len(page[0].Schema) != len(testSchema) {
		t.Errorf("expected schema on summary, got %v", page[0].Schema)
	}

	all, err := s.ListVersions(ctx, d.ID, 0, 0)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	total, err := s.CountVersions(ctx, d.ID)
	if err != nil {
		t.Fatalf("CountVersions: %v", err)
	}
	if len(all) != 5 || total != 5 {
		t.Errorf("got %d versions and count %d, want 5", len(all), total)
	}

	if _, err := s.ListVersions(ctx, "nope", 0, 10); !errors.Is(err, verrors.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestStore_FlushEveryGroupsEntryInserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d, _ := createTestDataset(t, s)

	entries := make([]types.Payload, 12)
	for i := range entries {
		entries[i] = types.InsertPayload{Records: []types.Record{{"id": i}}}
	}

	tests := []struct {
		flushEvery int
		statements float64
	}{
		{flushEvery: 1, statements: 12},
		{flushEvery: 5, statements: 3},
		{flushEvery: 12, statements: 1},
		{flushEvery: 100, statements: 1},
	}
	for _, tt := range tests {
		before := testutil.ToFloat64(observability.ChangeLogFlushes)
		v, err := s.AppendVersion(ctx, VersionAppend{
			DatasetID:  d.ID,
			ChangeType: types.ChangeInsert,
			Entries:    entries,
			FlushEvery: tt.flushEvery,
		})
		if err != nil {
			t.Fatalf("AppendVersion(flushEvery=%d): %v", tt.flushEvery, err)
		}
		if got := testutil.ToFloat64(observability.ChangeLogFlushes) - before; got != tt.statements {
			t.Errorf("flushEvery=%d: %v insert statements, want %v", tt.flushEvery, got, tt.statements)
		}

		n, err := s.EntryCount(ctx, v.ID)
		if err != nil {
			t.Fatalf("EntryCount: %v", err)
		}
		if n != len(entries) {
			t.Errorf("flushEvery=%d: %d entries stored, want %d", tt.flushEvery, n, len(entries))
		}
	}
}

func TestStore_MultiRowInsertKeepsOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d, _ := createTestDataset(t, s)

	entries := make([]types.Payload, 7)
	for i := range entries {
		entries[i] = types.InsertPayload{Records: []types.Record{{"id": i}}}
	}
	v, err := s.AppendVersion(ctx, VersionAppend{
		DatasetID:  d.ID,
		ChangeType: types.ChangeInsert,
		Entries:    entries,
		FlushEvery: 4,
	})
	if err != nil {
		t.Fatalf("AppendVersion: %v", err)
	}

	got, err := s.ChangesUpTo(ctx, d.ID, v.ID)
	if err != nil {
		t.Fatalf("ChangesUpTo: %v", err)
	}
	var ids []float64
	for _, e := range got {
		for _, r := range types.PayloadRecords(e.Payload) {
			ids = append(ids, r["id"].(float64))
		}
	}
	if diff := cmp.Diff([]float64{0, 1, 2, 3, 4, 5, 6}, ids); diff != "" {
		t.Errorf("entry order mismatch (-want +got):\n%s", diff)
	}
}

func TestChangeLogInsertSQL(t *testing.T) {
	got := changeLogInsertSQL(2)
	want := `INSERT INTO change_log (change_id, version_id, change_type, changed_by, operation_time, payload) VALUES (?, ?, ?, ?, ?, ?), (?, ?, ?, ?, ?, ?)`
	if got != want {
		t.Errorf("changeLogInsertSQL(2) =\n%s\nwant\n%s", got, want)
	}
}

func TestStore_LatestBreaksTimeTiesByNumber(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d, first := createTestDataset(t, s)
	second := appendInsert(t, s, d.ID, types.Record{"id": 1})

	// Same creation time, and the older version moved to a later seq.
	if _, err := s.db.Exec(`UPDATE versions SET created_at = ? WHERE dataset_id = ?`, first.CreatedAt.UnixNano(), d.ID); err != nil {
		t.Fatalf("aligning created_at: %v", err)
	}
	if _, err := s.db.Exec(`UPDATE versions SET seq = seq + 100 WHERE version_id = ?`, first.ID); err != nil {
		t.Fatalf("reordering seq: %v", err)
	}

	latest, err := s.LatestVersion(ctx, d.ID)
	if err != nil {
		t.Fatalf("LatestVersion: %v", err)
	}
	if latest.Number != second.Number {
		t.Errorf("latest = %s, want %s", latest.Number, second.Number)
	}
}

func TestStore_SearchAfterClose(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "versions.db"), Options{})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	d, _ := createTestDataset(t, s)
	if _, err := s.SearchVersions(context.Background(), d.ID, Filter{}); err != nil {
		t.Fatalf("SearchVersions: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := s.SearchVersions(context.Background(), d.ID, Filter{}); err == nil {
		t.Error("expected error searching a closed store")
	}
	if _, err := s.getOrPrepareStmt(context.Background(), "SELECT 1"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
