package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arkilian/versionstore/internal/changelog"
	verrors "github.com/arkilian/versionstore/internal/errors"
	"github.com/arkilian/versionstore/pkg/types"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const versionColumns = `version_id, dataset_id, version_number, created_at, created_by, change_type, comment`

// GetDataset returns a dataset by id.
func (s *Store) GetDataset(ctx context.Context, datasetID string) (*types.Dataset, error) {
	var d types.Dataset
	var metadata sql.NullString
	var createdAt int64

	err := s.readDB.QueryRowContext(ctx,
		`SELECT dataset_id, dataset_name, description, dataset_metadata, created_by, created_at
		 FROM datasets WHERE dataset_id = ?`, datasetID,
	).Scan(&d.ID, &d.Name, &d.Description, &metadata, &d.CreatedBy, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, verrors.NewDatasetNotFound(datasetID)
		}
		return nil, fmt.Errorf("eventstore: failed to get dataset: %w", err)
	}

	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &d.Metadata); err != nil {
			return nil, verrors.NewIntegrityError(fmt.Sprintf("dataset %s has malformed metadata", datasetID), err)
		}
		if len(d.Metadata) == 0 {
			d.Metadata = nil
		}
	}
	d.CreatedAt = fromNanos(createdAt)
	return &d, nil
}

// LatestVersion returns the most recently created version of a dataset. Ties
// on creation time go to the higher version number.
func (s *Store) LatestVersion(ctx context.Context, datasetID string) (*types.Version, error) {
	return latestVersionTx(ctx, s.readDB, datasetID)
}

func latestVersionTx(ctx context.Context, q querier, datasetID string) (*types.Version, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM versions
		 WHERE dataset_id = ?
		 ORDER BY created_at DESC, version_tenths DESC, seq DESC LIMIT 1`, datasetID)
	v, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, verrors.NewDatasetNotFound(datasetID)
		}
		return nil, fmt.Errorf("eventstore: failed to get latest version: %w", err)
	}
	return v, nil
}

// GetVersion returns a version by dataset and number.
func (s *Store) GetVersion(ctx context.Context, datasetID string, number types.VersionNumber) (*types.Version, error) {
	row := s.readDB.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM versions WHERE dataset_id = ? AND version_number = ?`,
		datasetID, string(number))
	v, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, verrors.NewVersionNotFound(datasetID, number.String())
		}
		return nil, fmt.Errorf("eventstore: failed to get version: %w", err)
	}
	return v, nil
}

// GetVersionByID returns a version by its id.
func (s *Store) GetVersionByID(ctx context.Context, versionID string) (*types.Version, error) {
	row := s.readDB.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM versions WHERE version_id = ?`, versionID)
	v, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, verrors.New(verrors.ErrCategoryNotFound, verrors.CodeVersionNotFound,
				fmt.Sprintf("version %s not found", versionID))
		}
		return nil, fmt.Errorf("eventstore: failed to get version: %w", err)
	}
	return v, nil
}

// ListVersions returns a page of a dataset's versions in creation order,
// each with its schema snapshot. limit <= 0 returns every version from
// offset on.
func (s *Store) ListVersions(ctx context.Context, datasetID string, offset, limit int) ([]types.VersionSummary, error) {
	if _, err := s.GetDataset(ctx, datasetID); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.readDB.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM versions
		 WHERE dataset_id = ?
		 ORDER BY created_at ASC, version_tenths ASC, seq ASC
		 LIMIT ? OFFSET ?`, datasetID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("eventstore: failed to list versions: %w", err)
	}
	versions, err := collectVersions(rows)
	if err != nil {
		return nil, err
	}
	return s.withSchemas(ctx, versions)
}

// CountVersions returns how many versions a dataset has.
func (s *Store) CountVersions(ctx context.Context, datasetID string) (int, error) {
	var n int
	err := s.readDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM versions WHERE dataset_id = ?`, datasetID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("eventstore: failed to count versions: %w", err)
	}
	return n, nil
}

// GetSchemaAt returns the schema snapshot of a version.
func (s *Store) GetSchemaAt(ctx context.Context, versionID string) (types.Schema, error) {
	return schemaAt(ctx, s.readDB, versionID)
}

func schemaAt(ctx context.Context, q querier, versionID string) (types.Schema, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT column_name, data_type, is_nullable, description
		 FROM schema_columns WHERE version_id = ? ORDER BY position`, versionID)
	if err != nil {
		return nil, fmt.Errorf("eventstore: failed to query schema: %w", err)
	}
	defer rows.Close()

	schema := types.Schema{}
	for rows.Next() {
		var col types.ColumnDef
		if err := rows.Scan(&col.Name, &col.DataType, &col.Nullable, &col.Description); err != nil {
			return nil, fmt.Errorf("eventstore: failed to scan schema column: %w", err)
		}
		schema = append(schema, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventstore: error iterating schema columns: %w", err)
	}
	return schema, nil
}

// ChangesUpTo returns every change entry of the dataset's versions created
// at or before the target version, ordered by version creation time, then
// version number, then insertion order.
func (s *Store) ChangesUpTo(ctx context.Context, datasetID, versionID string) ([]types.ChangeEntry, error) {
	target, err := s.GetVersionByID(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if target.DatasetID != datasetID {
		return nil, verrors.NewVersionNotFound(datasetID, target.Number.String())
	}

	rows, err := s.readDB.QueryContext(ctx,
		`SELECT c.change_id, c.version_id, c.change_type, c.changed_by, c.operation_time, c.payload
		 FROM change_log c
		 JOIN versions v ON v.version_id = c.version_id
		 WHERE v.dataset_id = ? AND v.created_at <= ?
		 ORDER BY v.created_at ASC, v.version_tenths ASC, v.seq ASC, c.seq ASC`,
		datasetID, target.CreatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("eventstore: failed to query change log: %w", err)
	}
	defer rows.Close()

	entries := make([]types.ChangeEntry, 0)
	for rows.Next() {
		var e types.ChangeEntry
		var op, payload string
		var opTime int64
		if err := rows.Scan(&e.ID, &e.VersionID, &op, &e.ChangedBy, &opTime, &payload); err != nil {
			return nil, fmt.Errorf("eventstore: failed to scan change entry: %w", err)
		}
		e.OperationTime = fromNanos(opTime)

		ct, err := types.ParseChangeType(op)
		if err != nil {
			return nil, verrors.NewIntegrityError(fmt.Sprintf("change %s has an unknown type", e.ID), err)
		}
		if e.Payload, err = changelog.Decode(ct, []byte(payload)); err != nil {
			return nil, verrors.NewIntegrityError(fmt.Sprintf("change %s of version %s is malformed", e.ID, e.VersionID), err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventstore: error iterating change log: %w", err)
	}
	return entries, nil
}

// EntryCount returns the number of change entries attached to a version.
func (s *Store) EntryCount(ctx context.Context, versionID string) (int, error) {
	var n int
	err := s.readDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM change_log WHERE version_id = ?`, versionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("eventstore: failed to count entries: %w", err)
	}
	return n, nil
}

// withSchemas attaches schema snapshots to versions using one query per
// chunk of ids.
func (s *Store) withSchemas(ctx context.Context, versions []types.Version) ([]types.VersionSummary, error) {
	summaries := make([]types.VersionSummary, len(versions))
	index := make(map[string]int, len(versions))
	for i, v := range versions {
		summaries[i] = types.VersionSummary{Version: v, Schema: types.Schema{}}
		index[v.ID] = i
	}

	const chunk = 500
	for start := 0; start < len(versions); start += chunk {
		end := start + chunk
		if end > len(versions) {
			end = len(versions)
		}

		args := make([]any, 0, end-start)
		for _, v := range versions[start:end] {
			args = append(args, v.ID)
		}
		query := `SELECT version_id, column_name, data_type, is_nullable, description
			FROM schema_columns WHERE version_id IN (` + placeholders(len(args)) + `)
			ORDER BY version_id, position`

		rows, err := s.readDB.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("eventstore: failed to query schemas: %w", err)
		}
		for rows.Next() {
			var versionID string
			var col types.ColumnDef
			if err := rows.Scan(&versionID, &col.Name, &col.DataType, &col.Nullable, &col.Description); err != nil {
				rows.Close()
				return nil, fmt.Errorf("eventstore: failed to scan schema column: %w", err)
			}
			i := index[versionID]
			summaries[i].Schema = append(summaries[i].Schema, col)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("eventstore: error iterating schemas: %w", err)
		}
	}
	return summaries, nil
}

func collectVersions(rows *sql.Rows) ([]types.Version, error) {
	defer rows.Close()

	var versions []types.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("eventstore: failed to scan version: %w", err)
		}
		versions = append(versions, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventstore: error iterating versions: %w", err)
	}
	return versions, nil
}

func scanVersion(row rowScanner) (*types.Version, error) {
	var v types.Version
	var number, changeType string
	var createdAt int64
	if err := row.Scan(&v.ID, &v.DatasetID, &number, &createdAt, &v.CreatedBy, &changeType, &v.Comment); err != nil {
		return nil, err
	}
	v.Number = types.VersionNumber(number)
	v.ChangeType = types.ChangeType(changeType)
	v.CreatedAt = fromNanos(createdAt)
	return &v, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
