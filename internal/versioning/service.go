// Package versioning is the dataset versioning service: it validates
// requests, appends to the event store, reconstructs versions and keeps the
// materialization cache coherent.
package versioning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arkilian/versionstore/internal/cache"
	"github.com/arkilian/versionstore/internal/changelog"
	"github.com/arkilian/versionstore/internal/eventstore"
	verrors "github.com/arkilian/versionstore/internal/errors"
	"github.com/arkilian/versionstore/internal/ingest"
	"github.com/arkilian/versionstore/internal/observability"
	"github.com/arkilian/versionstore/internal/replay"
	"github.com/arkilian/versionstore/internal/schema"
	"github.com/arkilian/versionstore/internal/storage"
	"github.com/arkilian/versionstore/pkg/types"
)

// Default page size for ListVersions.
const DefaultListLimit = 100

// Config holds service dependencies and settings.
type Config struct {
	Store *eventstore.Store

	// Cache may be nil, in which case every read replays.
	Cache    cache.Cache
	CacheTTL time.Duration

	// Exports may be nil, in which case ExportVersion fails.
	Exports storage.ObjectStorage

	DeleteMode replay.DeleteMode
	FlushEvery int
	Logger     *zap.Logger
}

// Service implements the versioning operations.
type Service struct {
	store    *eventstore.Store
	engine   *replay.Engine
	batcher  *ingest.Batcher
	cache    cache.Cache
	cacheTTL time.Duration
	exports  storage.ObjectStorage
	logger   *zap.Logger
}

// New creates a service.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}
	return &Service{
		store:    cfg.Store,
		engine:   replay.NewEngine(cfg.Store, replay.Options{DeleteMode: cfg.DeleteMode}, cfg.Logger),
		batcher:  ingest.NewBatcher(cfg.Store, cfg.FlushEvery, cfg.Logger),
		cache:    cfg.Cache,
		cacheTTL: cfg.CacheTTL,
		exports:  cfg.Exports,
		logger:   cfg.Logger.Named("versioning"),
	}
}

// CreateDatasetRequest creates a dataset with its initial content.
type CreateDatasetRequest struct {
	Name        string         `json:"dataset_name"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"dataset_metadata,omitempty"`
	Schema      types.Schema   `json:"schema_definition"`
	InitialData []types.Record `json:"initial_data"`
	CreatedBy   string         `json:"-"`
}

// DatasetCreated is the result of CreateDataset.
type DatasetCreated struct {
	Dataset *types.Dataset `json:"dataset"`
	Version *types.Version `json:"version"`
}

// CreateDataset validates the schema and initial records, then stores the
// dataset with version 1.0.
func (s *Service) CreateDataset(ctx context.Context, req CreateDatasetRequest) (*DatasetCreated, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, verrors.NewValidationError(verrors.CodeInvalidArgument, "dataset name is required")
	}
	if err := schema.Validate(req.Schema); err != nil {
		return nil, err
	}
	initial, err := changelog.Normalize(req.InitialData)
	if err != nil {
		return nil, verrors.NewValidationError(verrors.CodeInvalidArgument, err.Error())
	}
	if err := schema.ValidateRecords(req.Schema, initial); err != nil {
		return nil, err
	}

	d, v, err := s.store.CreateDataset(ctx, eventstore.NewDataset{
		Name:           req.Name,
		Description:    req.Description,
		Metadata:       req.Metadata,
		CreatedBy:      req.CreatedBy,
		Schema:         req.Schema,
		InitialRecords: initial,
	})
	if err != nil {
		return nil, err
	}
	return &DatasetCreated{Dataset: d, Version: v}, nil
}

// CreateVersionRequest appends a version with one change entry.
type CreateVersionRequest struct {
	DatasetID  string         `json:"-"`
	ChangeType string         `json:"change_type"`
	Data       []types.Record `json:"data"`
	Comment    string         `json:"comment,omitempty"`

	// Schema replaces the schema snapshot when it has columns. Nil or empty
	// keeps the prior one.
	Schema types.Schema `json:"schema_changes,omitempty"`

	// ExpectedPrior, when set, rejects the append if another version was
	// created first.
	ExpectedPrior string `json:"expected_prior,omitempty"`

	CreatedBy string `json:"-"`
}

// VersionCreated is the result of CreateVersion.
type VersionCreated struct {
	Version       *types.Version    `json:"version"`
	Warnings      []schema.Warning  `json:"compatibility_warnings"`
	SchemaChanged bool              `json:"schema_changed"`
	AddedColumns  []types.ColumnDef `json:"added_columns,omitempty"`
	Metadata      VersionMetadata   `json:"metadata"`
}

// CreateVersion appends a version. Schema compatibility warnings are
// returned but never block the append.
//
// Validation runs against the latest version read before the append, and
// the append is pinned to that version so the warnings always describe the
// snapshot the new version follows. Without a caller-supplied ExpectedPrior
// a lost race is retried once against the new latest version.
func (s *Service) CreateVersion(ctx context.Context, req CreateVersionRequest) (*VersionCreated, error) {
	ct, err := types.ParseChangeType(req.ChangeType)
	if err != nil {
		return nil, verrors.NewValidationError(verrors.CodeInvalidChangeType, err.Error())
	}
	var expected types.VersionNumber
	if req.ExpectedPrior != "" {
		if expected, err = parseNumber(req.ExpectedPrior); err != nil {
			return nil, err
		}
	}
	data, err := changelog.Normalize(req.Data)
	if err != nil {
		return nil, verrors.NewValidationError(verrors.CodeInvalidArgument, err.Error())
	}
	payload, err := types.NewPayload(ct, data)
	if err != nil {
		return nil, verrors.NewValidationError(verrors.CodeInvalidChangeType, err.Error())
	}

	const attempts = 2
	for attempt := 1; ; attempt++ {
		plan, err := s.planVersion(ctx, req, ct, data)
		if err != nil {
			return nil, err
		}
		if expected != "" && expected != plan.prior {
			observability.VersionConflicts.Inc()
			return nil, verrors.NewConflictError(
				fmt.Sprintf("dataset %s is at version %s, expected %s", req.DatasetID, plan.prior, expected), nil)
		}

		v, err := s.store.AppendVersion(ctx, eventstore.VersionAppend{
			DatasetID:     req.DatasetID,
			ExpectedPrior: plan.prior,
			ChangeType:    ct,
			Comment:       req.Comment,
			CreatedBy:     req.CreatedBy,
			Schema:        plan.schema,
			Entries:       []types.Payload{payload},
		})
		if err != nil {
			if expected == "" && attempt < attempts && errors.Is(err, verrors.ErrConflict) {
				s.logger.Debug("dataset advanced during append, retrying",
					zap.String("dataset_id", req.DatasetID),
					zap.String("prior", plan.prior.String()))
				continue
			}
			return nil, err
		}

		s.invalidate(ctx, req.DatasetID)

		if len(plan.warnings) > 0 {
			s.logger.Warn("schema change is not backward compatible",
				zap.String("dataset_id", req.DatasetID),
				zap.String("version", v.Number.String()),
				zap.Strings("warnings", schema.Messages(plan.warnings)))
		}
		return &VersionCreated{
			Version:       v,
			Warnings:      plan.warnings,
			SchemaChanged: plan.schema != nil,
			AddedColumns:  plan.added,
			Metadata:      MetadataFor(payload),
		}, nil
	}
}

// versionPlan is a validated append against a specific prior version.
type versionPlan struct {
	prior    types.VersionNumber
	schema   types.Schema // nil copies the prior snapshot forward
	warnings []schema.Warning
	added    []types.ColumnDef
}

func (s *Service) planVersion(ctx context.Context, req CreateVersionRequest, ct types.ChangeType, data []types.Record) (*versionPlan, error) {
	latest, err := s.store.LatestVersion(ctx, req.DatasetID)
	if err != nil {
		return nil, err
	}
	current, err := s.store.GetSchemaAt(ctx, latest.ID)
	if err != nil {
		return nil, err
	}

	plan := &versionPlan{prior: latest.Number, warnings: []schema.Warning{}}
	effective := current
	if len(req.Schema) > 0 && !schema.Equal(current, req.Schema) {
		if err := schema.Validate(req.Schema); err != nil {
			return nil, err
		}
		plan.schema = req.Schema
		effective = req.Schema
		if ws := schema.CheckCompatibility(current, req.Schema); len(ws) > 0 {
			plan.warnings = ws
		}
		plan.added = schema.AddedColumns(current, req.Schema)
	}

	if ct == types.ChangeInsert || ct == types.ChangeUpdate {
		if err := schema.ValidateRecords(effective, data); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// GetVersion reconstructs a version by replaying the change log.
func (s *Service) GetVersion(ctx context.Context, datasetID, number string) (*replay.Materialization, error) {
	n, err := parseNumber(number)
	if err != nil {
		return nil, err
	}
	return s.engine.Materialize(ctx, datasetID, n)
}

// GetLatestVersion reconstructs the newest version of a dataset.
func (s *Service) GetLatestVersion(ctx context.Context, datasetID string) (*replay.Materialization, error) {
	return s.engine.MaterializeLatest(ctx, datasetID)
}

// VersionList is a page of version summaries.
type VersionList struct {
	Versions []types.VersionSummary `json:"versions"`
	Total    int                    `json:"total"`
	Offset   int                    `json:"skip"`
	Limit    int                    `json:"limit"`
}

// ListVersions pages through a dataset's versions in creation order.
// limit 0 uses DefaultListLimit.
func (s *Service) ListVersions(ctx context.Context, datasetID string, offset, limit int) (*VersionList, error) {
	if offset < 0 || limit < 0 {
		return nil, verrors.NewValidationError(verrors.CodeInvalidArgument, "skip and limit must not be negative")
	}
	if limit == 0 {
		limit = DefaultListLimit
	}

	versions, err := s.store.ListVersions(ctx, datasetID, offset, limit)
	if err != nil {
		return nil, err
	}
	total, err := s.store.CountVersions(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	return &VersionList{Versions: versions, Total: total, Offset: offset, Limit: limit}, nil
}

// SearchQuery filters versions. Empty fields match everything.
type SearchQuery struct {
	Start      *time.Time
	End        *time.Time
	ChangeType string
	Columns    []string
}

// SearchVersions returns versions matching every set criterion.
func (s *Service) SearchVersions(ctx context.Context, datasetID string, q SearchQuery) ([]types.VersionSummary, error) {
	var f eventstore.Filter
	f.Start, f.End, f.Columns = q.Start, q.End, q.Columns

	if q.Start != nil && q.End != nil && q.Start.After(*q.End) {
		return nil, verrors.NewValidationError(verrors.CodeInvalidArgument, "start date is after end date")
	}
	if q.ChangeType != "" {
		ct, err := types.ParseChangeType(q.ChangeType)
		if err != nil {
			return nil, verrors.NewValidationError(verrors.CodeInvalidChangeType, err.Error())
		}
		f.ChangeType = &ct
	}
	return s.store.SearchVersions(ctx, datasetID, f)
}

// BulkInsert ingests records as one new INSERT version.
func (s *Service) BulkInsert(ctx context.Context, req ingest.BulkRequest) (*ingest.BulkResult, error) {
	res, err := s.batcher.BulkInsert(ctx, req)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, req.DatasetID)
	return res, nil
}

// CachedVersion is a materialization and whether it came from the cache.
type CachedVersion struct {
	*replay.Materialization
	Cached bool `json:"cached"`
}

// GetCachedVersion serves a version from the cache, replaying and
// populating the cache on a miss. Cache failures are logged and the version
// is replayed instead.
func (s *Service) GetCachedVersion(ctx context.Context, datasetID, number string) (*CachedVersion, error) {
	n, err := parseNumber(number)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		m, ok, err := s.cache.Get(ctx, datasetID, n)
		switch {
		case err != nil:
			s.logger.Warn("cache read failed, replaying",
				zap.String("dataset_id", datasetID),
				zap.String("version", n.String()),
				zap.Error(err))
		case ok:
			return &CachedVersion{Materialization: m, Cached: true}, nil
		}
	}

	m, err := s.engine.Materialize(ctx, datasetID, n)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, datasetID, n, m, s.cacheTTL); err != nil {
			s.logger.Warn("cache write failed",
				zap.String("dataset_id", datasetID),
				zap.String("version", n.String()),
				zap.Error(err))
		}
	}
	return &CachedVersion{Materialization: m}, nil
}

func (s *Service) invalidate(ctx context.Context, datasetID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateDataset(ctx, datasetID); err != nil {
		s.logger.Warn("cache invalidation failed",
			zap.String("dataset_id", datasetID),
			zap.Error(err))
	}
}

func parseNumber(s string) (types.VersionNumber, error) {
	n, err := types.ParseVersionNumber(strings.TrimSpace(s))
	if err != nil {
		return "", verrors.NewValidationError(verrors.CodeInvalidArgument, fmt.Sprintf("invalid version number %q", s))
	}
	return n, nil
}
