// Package ingest splits large record sets into batches and commits them as
// a single new version.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/arkilian/versionstore/internal/eventstore"
	verrors "github.com/arkilian/versionstore/internal/errors"
	"github.com/arkilian/versionstore/internal/observability"
	"github.com/arkilian/versionstore/internal/schema"
	"github.com/arkilian/versionstore/pkg/types"
)

// Batch size limits.
const (
	MinBatchSize     = 1
	MaxBatchSize     = 5000
	DefaultBatchSize = 1000
)

// Store is the part of the event store the batcher writes through.
type Store interface {
	LatestVersion(ctx context.Context, datasetID string) (*types.Version, error)
	GetSchemaAt(ctx context.Context, versionID string) (types.Schema, error)
	AppendVersion(ctx context.Context, va eventstore.VersionAppend) (*types.Version, error)
}

// BulkRequest is a bulk insert of records into one dataset.
type BulkRequest struct {
	DatasetID string
	Records   []types.Record
	BatchSize int
	CreatedBy string
	Comment   string

	// ExpectedPrior optionally pins the version the insert must follow.
	ExpectedPrior types.VersionNumber
}

// BulkResult reports a committed bulk insert.
type BulkResult struct {
	Version          *types.Version `json:"version"`
	RecordsProcessed int            `json:"records_processed"`
	Batches          int            `json:"batches"`
}

// Batcher performs bulk inserts.
type Batcher struct {
	store      Store
	flushEvery int
	logger     *zap.Logger
}

// NewBatcher creates a batcher. flushEvery is how many batches are written
// per flush inside the transaction; <= 0 uses the store default.
func NewBatcher(store Store, flushEvery int, logger *zap.Logger) *Batcher {
	if flushEvery <= 0 {
		flushEvery = eventstore.DefaultFlushEvery
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher{store: store, flushEvery: flushEvery, logger: logger.Named("ingest")}
}

// BulkInsert validates the records against the dataset's latest schema and
// appends one INSERT version holding one change entry per batch. Either
// every batch commits or none does.
func (b *Batcher) BulkInsert(ctx context.Context, req BulkRequest) (*BulkResult, error) {
	if req.BatchSize < MinBatchSize || req.BatchSize > MaxBatchSize {
		return nil, verrors.NewValidationError(verrors.CodeInvalidBatchSize,
			fmt.Sprintf("batch size must be between %d and %d, got %d", MinBatchSize, MaxBatchSize, req.BatchSize))
	}
	if len(req.Records) == 0 {
		return nil, verrors.NewValidationError(verrors.CodeEmptyBatch, "no records to insert")
	}

	latest, err := b.store.LatestVersion(ctx, req.DatasetID)
	if err != nil {
		return nil, err
	}
	current, err := b.store.GetSchemaAt(ctx, latest.ID)
	if err != nil {
		return nil, b.fail(req, err)
	}
	if err := schema.ValidateRecords(current, req.Records); err != nil {
		return nil, err
	}

	batches := Split(req.Records, req.BatchSize)
	entries := make([]types.Payload, len(batches))
	for i, batch := range batches {
		entries[i] = types.InsertPayload{Records: batch}
	}

	comment := req.Comment
	if comment == "" {
		comment = fmt.Sprintf("bulk insert of %d records", len(req.Records))
	}

	version, err := b.store.AppendVersion(ctx, eventstore.VersionAppend{
		DatasetID:     req.DatasetID,
		ExpectedPrior: req.ExpectedPrior,
		ChangeType:    types.ChangeInsert,
		Comment:       comment,
		CreatedBy:     req.CreatedBy,
		Entries:       entries,
		FlushEvery:    b.flushEvery,
	})
	if err != nil {
		return nil, b.fail(req, err)
	}

	observability.IngestedRecords.Add(float64(len(req.Records)))
	observability.IngestedBatches.Add(float64(len(batches)))
	b.logger.Info("bulk insert committed",
		zap.String("dataset_id", req.DatasetID),
		zap.String("version", version.Number.String()),
		zap.Int("records", len(req.Records)),
		zap.Int("batches", len(batches)))

	return &BulkResult{
		Version:          version,
		RecordsProcessed: len(req.Records),
		Batches:          len(batches),
	}, nil
}

// fail wraps a write failure as an ingestion error. Conflicts and not-found
// errors keep their category so callers can retry or report them directly.
func (b *Batcher) fail(req BulkRequest, err error) error {
	if errors.Is(err, verrors.ErrConflict) || errors.Is(err, verrors.ErrNotFound) {
		return err
	}
	observability.IngestFailures.Inc()
	b.logger.Error("bulk insert rolled back",
		zap.String("dataset_id", req.DatasetID),
		zap.Int("records", len(req.Records)),
		zap.Error(err))
	return verrors.NewIngestionError(fmt.Sprintf("bulk insert into dataset %s failed", req.DatasetID), err)
}

// Split returns consecutive chunks of at most size records. The chunks
// share the backing array of records.
func Split(records []types.Record, size int) [][]types.Record {
	if size <= 0 {
		size = DefaultBatchSize
	}
	chunks := make([][]types.Record, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		chunks = append(chunks, records[start:end])
	}
	return chunks
}
