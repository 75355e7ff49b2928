package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/arkilian/versionstore/pkg/types"
)

// Filter selects versions of one dataset. All set fields must match.
type Filter struct {
	// Start and End bound the creation time, inclusive.
	Start *time.Time
	End   *time.Time

	ChangeType *types.ChangeType

	// Columns lists column names that must all appear in the version's
	// schema snapshot.
	Columns []string
}

// SearchVersions returns the dataset's versions matching f, in creation
// order, each with its schema snapshot.
func (s *Store) SearchVersions(ctx context.Context, datasetID string, f Filter) ([]types.VersionSummary, error) {
	if _, err := s.GetDataset(ctx, datasetID); err != nil {
		return nil, err
	}

	query, args := buildSearchQuery(datasetID, f)

	stmt, err := s.getOrPrepareStmt(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("eventstore: failed to prepare search query: %w", err)
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("eventstore: failed to search versions: %w", err)
	}
	versions, err := collectVersions(rows)
	if err != nil {
		return nil, err
	}
	return s.withSchemas(ctx, versions)
}

// buildSearchQuery constructs the SQL for a filter. Queries differ only by
// which clauses are present and how many columns are listed, so the text is
// a good prepared-statement cache key.
func buildSearchQuery(datasetID string, f Filter) (string, []any) {
	var b strings.Builder
	args := []any{datasetID}

	b.WriteString(`SELECT ` + versionColumns + ` FROM versions WHERE dataset_id = ?`)

	if f.Start != nil {
		b.WriteString(` AND created_at >= ?`)
		args = append(args, f.Start.UnixNano())
	}
	if f.End != nil {
		b.WriteString(` AND created_at <= ?`)
		args = append(args, f.End.UnixNano())
	}
	if f.ChangeType != nil {
		b.WriteString(` AND change_type = ?`)
		args = append(args, string(*f.ChangeType))
	}

	if columns := uniqueColumns(f.Columns); len(columns) > 0 {
		b.WriteString(` AND version_id IN (
			SELECT version_id FROM schema_columns
			WHERE column_name IN (` + placeholders(len(columns)) + `)
			GROUP BY version_id
			HAVING COUNT(DISTINCT column_name) = ?)`)
		for _, c := range columns {
			args = append(args, c)
		}
		args = append(args, len(columns))
	}

	b.WriteString(` ORDER BY created_at ASC, version_tenths ASC, seq ASC`)
	return b.String(), args
}

func uniqueColumns(columns []string) []string {
	seen := make(map[string]bool, len(columns))
	var out []string
	for _, c := range columns {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// getOrPrepareStmt returns a cached prepared statement on the read pool or
// creates one.
func (s *Store) getOrPrepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	s.stmtMu.RLock()
	if s.closed {
		s.stmtMu.RUnlock()
		return nil, ErrClosed
	}
	if stmt, ok := s.stmtCache[query]; ok {
		s.stmtMu.RUnlock()
		return stmt, nil
	}
	s.stmtMu.RUnlock()

	s.stmtMu.Lock()
	defer s.stmtMu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	// Double-check after acquiring write lock
	if stmt, ok := s.stmtCache[query]; ok {
		return stmt, nil
	}

	stmt, err := s.readDB.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	s.stmtCache[query] = stmt
	return stmt, nil
}
