package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/arkilian/versionstore/internal/changelog"
	verrors "github.com/arkilian/versionstore/internal/errors"
	"github.com/arkilian/versionstore/internal/observability"
	"github.com/arkilian/versionstore/pkg/types"
)

// DefaultFlushEvery is the number of change entries written per flush when an
// append does not set one.
const DefaultFlushEvery = 5

// MaxFlushEvery caps the rows per multi-row insert so a flush stays under
// SQLite's bound parameter limit.
const MaxFlushEvery = 1000

// changeLogColumns is the number of bound parameters per change_log row.
const changeLogColumns = 6

// Options configures a Store.
type Options struct {
	// LockStripes is the number of per-dataset write lock stripes.
	LockStripes int

	// ReadPoolSize is the maximum number of concurrent read connections.
	ReadPoolSize int

	Logger *zap.Logger
}

// NewDataset describes a dataset to create along with its first version.
type NewDataset struct {
	Name           string
	Description    string
	Metadata       map[string]any
	CreatedBy      string
	Schema         types.Schema
	InitialRecords []types.Record
}

// VersionAppend describes a version to add to an existing dataset.
type VersionAppend struct {
	DatasetID string

	// ExpectedPrior, when set, must equal the dataset's current latest
	// version number or the append fails with a conflict.
	ExpectedPrior types.VersionNumber

	ChangeType types.ChangeType
	Comment    string
	CreatedBy  string

	// Schema is the new version's full snapshot. Nil copies the prior
	// version's schema forward.
	Schema types.Schema

	// Entries are written in order. Each payload must match ChangeType.
	Entries []types.Payload

	// FlushEvery is how many entries are encoded and written per group.
	FlushEvery int
}

// Store is the SQLite event store. Writes go through a single connection;
// reads use a separate pool.
type Store struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool
	dbPath string
	locks  *lockTable
	logger *zap.Logger

	stmtCache map[string]*sql.Stmt
	stmtMu    sync.RWMutex
	closed    bool
}

// ErrClosed is returned by operations on a closed Store.
var ErrClosed = errors.New("eventstore: store is closed")

// Open opens (creating if needed) the event store at dbPath.
func Open(dbPath string, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ReadPoolSize <= 0 {
		opts.ReadPoolSize = 4
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("eventstore: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{
		db:        db,
		dbPath:    dbPath,
		locks:     newLockTable(opts.LockStripes),
		logger:    opts.Logger.Named("eventstore"),
		stmtCache: make(map[string]*sql.Stmt),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventstore: failed to initialize schema: %w", err)
	}

	readDB, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_query_only=true")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("eventstore: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(opts.ReadPoolSize)
	readDB.SetMaxIdleConns(opts.ReadPoolSize)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	s.readDB = readDB

	return s, nil
}

func (s *Store) initSchema() error {
	for _, stmt := range allSchemaSQL() {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Ping checks that both database handles are usable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("eventstore: write connection: %w", err)
	}
	if err := s.readDB.PingContext(ctx); err != nil {
		return fmt.Errorf("eventstore: read connection: %w", err)
	}
	return nil
}

// Close closes both database handles.
func (s *Store) Close() error {
	s.stmtMu.Lock()
	for _, stmt := range s.stmtCache {
		stmt.Close()
	}
	s.stmtCache = make(map[string]*sql.Stmt)
	s.closed = true
	s.stmtMu.Unlock()

	var errs []error
	if s.readDB != nil {
		errs = append(errs, s.readDB.Close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

// CreateDataset inserts a dataset together with version 1.0, its schema
// snapshot and an INSERT entry holding the initial records.
func (s *Store) CreateDataset(ctx context.Context, nd NewDataset) (*types.Dataset, *types.Version, error) {
	datasetID, err := newID()
	if err != nil {
		return nil, nil, err
	}
	now := time.Now().UTC()

	// Empty metadata is stored as NULL so it reads back the way it encodes.
	if len(nd.Metadata) == 0 {
		nd.Metadata = nil
	}
	dataset := &types.Dataset{
		ID:          datasetID,
		Name:        nd.Name,
		Description: nd.Description,
		Metadata:    nd.Metadata,
		CreatedBy:   nd.CreatedBy,
		CreatedAt:   now,
	}

	var metadata []byte
	if nd.Metadata != nil {
		if metadata, err = json.Marshal(nd.Metadata); err != nil {
			return nil, nil, verrors.NewValidationError(verrors.CodeInvalidArgument,
				fmt.Sprintf("dataset metadata is not valid JSON: %v", err))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("eventstore: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO datasets (dataset_id, dataset_name, description, dataset_metadata, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		dataset.ID, dataset.Name, dataset.Description, nullableText(metadata), dataset.CreatedBy, now.UnixNano(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("eventstore: failed to insert dataset: %w", err)
	}

	version := &types.Version{
		DatasetID:  datasetID,
		Number:     types.InitialVersion,
		CreatedAt:  now,
		CreatedBy:  nd.CreatedBy,
		ChangeType: types.ChangeInsert,
		Comment:    "Initial version",
	}
	initial := types.InsertPayload{Initial: true, Records: nd.InitialRecords}
	if err := s.writeVersion(ctx, tx, version, nd.Schema, []types.Payload{initial}, DefaultFlushEvery); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("eventstore: failed to commit transaction: %w", err)
	}

	observability.VersionsCreated.WithLabelValues(string(types.ChangeInsert)).Inc()
	s.logger.Info("dataset created",
		zap.String("dataset_id", datasetID),
		zap.String("name", nd.Name),
		zap.Int("columns", len(nd.Schema)),
		zap.Int("records", len(nd.InitialRecords)))

	return dataset, version, nil
}

// AppendVersion adds a version to an existing dataset. The version row,
// schema snapshot and all entries commit together or not at all.
func (s *Store) AppendVersion(ctx context.Context, va VersionAppend) (*types.Version, error) {
	if !va.ChangeType.Valid() {
		return nil, verrors.NewValidationError(verrors.CodeInvalidChangeType,
			fmt.Sprintf("invalid change type %q", string(va.ChangeType)))
	}
	for i, p := range va.Entries {
		if p == nil || p.Op() != va.ChangeType {
			return nil, verrors.NewValidationError(verrors.CodeInvalidChangeType,
				fmt.Sprintf("entry %d does not match version change type %s", i, va.ChangeType))
		}
		if up, ok := p.(types.UpdatePayload); ok {
			for j, r := range up.Modified {
				if _, ok := r.ID(); !ok {
					return nil, verrors.NewValidationError(verrors.CodeInvalidArgument,
						fmt.Sprintf("entry %d: modified record %d has no %q field", i, j, types.IDField))
				}
			}
		}
	}
	if va.FlushEvery <= 0 {
		va.FlushEvery = DefaultFlushEvery
	}
	if va.FlushEvery > MaxFlushEvery {
		va.FlushEvery = MaxFlushEvery
	}

	unlock := s.locks.lock(va.DatasetID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("eventstore: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	prior, err := latestVersionTx(ctx, tx, va.DatasetID)
	if err != nil {
		return nil, err
	}
	if va.ExpectedPrior != "" && va.ExpectedPrior != prior.Number {
		observability.VersionConflicts.Inc()
		return nil, verrors.NewConflictError(
			fmt.Sprintf("dataset %s is at version %s, expected %s", va.DatasetID, prior.Number, va.ExpectedPrior), nil)
	}

	number, err := prior.Number.Next()
	if err != nil {
		return nil, verrors.NewIntegrityError(fmt.Sprintf("dataset %s has an invalid latest version", va.DatasetID), err)
	}

	schema := va.Schema
	if schema == nil {
		if schema, err = schemaAt(ctx, tx, prior.ID); err != nil {
			return nil, err
		}
	}

	// Creation times must order the same way version numbers do, even if
	// the wall clock steps backwards.
	now := time.Now().UTC()
	if !now.After(prior.CreatedAt) {
		now = prior.CreatedAt.Add(time.Nanosecond)
	}

	version := &types.Version{
		DatasetID:  va.DatasetID,
		Number:     number,
		CreatedAt:  now,
		CreatedBy:  va.CreatedBy,
		ChangeType: va.ChangeType,
		Comment:    va.Comment,
	}
	if err := s.writeVersion(ctx, tx, version, schema, va.Entries, va.FlushEvery); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			observability.VersionConflicts.Inc()
			return nil, verrors.NewConflictError(fmt.Sprintf("version %s already exists for dataset %s", number, va.DatasetID), err)
		}
		return nil, fmt.Errorf("eventstore: failed to commit transaction: %w", err)
	}

	observability.VersionsCreated.WithLabelValues(string(va.ChangeType)).Inc()
	s.logger.Info("version appended",
		zap.String("dataset_id", va.DatasetID),
		zap.String("version", number.String()),
		zap.String("change_type", string(va.ChangeType)),
		zap.Int("entries", len(va.Entries)))

	return version, nil
}

// writeVersion inserts the version row, its schema snapshot and its entries.
// Entries are encoded lazily and written flushEvery rows per statement.
func (s *Store) writeVersion(ctx context.Context, tx *sql.Tx, v *types.Version, schema types.Schema, entries []types.Payload, flushEvery int) error {
	versionID, err := newID()
	if err != nil {
		return err
	}
	v.ID = versionID

	tenths, err := v.Number.Tenths()
	if err != nil {
		return verrors.NewValidationError(verrors.CodeInvalidArgument, err.Error())
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO versions (version_id, dataset_id, version_number, version_tenths, created_at, created_by, change_type, comment)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.DatasetID, string(v.Number), tenths, v.CreatedAt.UnixNano(), v.CreatedBy, string(v.ChangeType), v.Comment,
	)
	if err != nil {
		if isUniqueViolation(err) {
			observability.VersionConflicts.Inc()
			return verrors.NewConflictError(fmt.Sprintf("version %s already exists for dataset %s", v.Number, v.DatasetID), err)
		}
		return fmt.Errorf("eventstore: failed to insert version: %w", err)
	}

	for i, col := range schema {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO schema_columns (version_id, column_name, data_type, is_nullable, description, position)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			v.ID, col.Name, col.DataType, col.Nullable, col.Description, i,
		)
		if err != nil {
			return fmt.Errorf("eventstore: failed to insert schema column %q: %w", col.Name, err)
		}
	}

	for start := 0; start < len(entries); start += flushEvery {
		end := start + flushEvery
		if end > len(entries) {
			end = len(entries)
		}
		if err := s.flushEntries(ctx, tx, v, entries[start:end]); err != nil {
			return err
		}
		s.logger.Debug("flushed change entries",
			zap.String("version_id", v.ID),
			zap.Int("from", start),
			zap.Int("to", end))
	}
	return nil
}

// flushEntries encodes a group of entries and writes them with a single
// multi-row INSERT. Rows keep the group's order.
func (s *Store) flushEntries(ctx context.Context, tx *sql.Tx, v *types.Version, group []types.Payload) error {
	if len(group) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	args := make([]any, 0, len(group)*changeLogColumns)
	opTime := time.Now().UTC().UnixNano()
	for _, p := range group {
		payload, err := changelog.Encode(p)
		if err != nil {
			return fmt.Errorf("eventstore: %w", err)
		}
		changeID, err := newID()
		if err != nil {
			return err
		}
		args = append(args, changeID, v.ID, string(p.Op()), v.CreatedBy, opTime, string(payload))
	}

	if _, err := tx.ExecContext(ctx, changeLogInsertSQL(len(group)), args...); err != nil {
		return fmt.Errorf("eventstore: failed to insert change entries: %w", err)
	}
	observability.ChangeLogFlushes.Inc()
	return nil
}

// changeLogInsertSQL returns an INSERT statement with n value tuples.
func changeLogInsertSQL(n int) string {
	tuple := "(" + placeholders(changeLogColumns) + ")"
	var b strings.Builder
	b.WriteString(`INSERT INTO change_log (change_id, version_id, change_type, changed_by, operation_time, payload) VALUES `)
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tuple)
	}
	return b.String()
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("eventstore: failed to generate id: %w", err)
	}
	return id.String(), nil
}

func nullableText(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
