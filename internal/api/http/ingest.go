package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/arkilian/versionstore/internal/ingest"
	"github.com/arkilian/versionstore/internal/versioning"
	"github.com/arkilian/versionstore/pkg/types"
)

// decodeBody decodes a JSON request body into v, writing a 400 on failure.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		badRequest(w, r, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// createDataset handles POST /v1/datasets.
func (h *Handler) createDataset(w http.ResponseWriter, r *http.Request) {
	var req versioning.CreateDatasetRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	req.CreatedBy = GetUserID(r.Context())

	res, err := h.svc.CreateDataset(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.logger.Info("dataset created",
		zap.String("request_id", GetRequestID(r.Context())),
		zap.String("dataset_id", res.Dataset.ID),
		zap.Int("records", len(req.InitialData)))
	writeJSON(w, http.StatusCreated, res)
}

// createVersion handles POST /v1/datasets/{datasetID}/versions.
func (h *Handler) createVersion(w http.ResponseWriter, r *http.Request) {
	var req versioning.CreateVersionRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	req.DatasetID = chi.URLParam(r, "datasetID")
	req.CreatedBy = GetUserID(r.Context())

	res, err := h.svc.CreateVersion(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// bulkInsert handles POST /v1/datasets/{datasetID}/bulk?batch_size=N. The
// body is a JSON array of records.
func (h *Handler) bulkInsert(w http.ResponseWriter, r *http.Request) {
	batchSize := h.opts.DefaultBatchSize
	if v := r.URL.Query().Get("batch_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			badRequest(w, r, fmt.Sprintf("invalid batch_size %q", v))
			return
		}
		batchSize = n
	}

	var expected types.VersionNumber
	if v := r.URL.Query().Get("expected_prior"); v != "" {
		n, err := types.ParseVersionNumber(v)
		if err != nil {
			badRequest(w, r, fmt.Sprintf("invalid expected_prior %q", v))
			return
		}
		expected = n
	}

	var records []types.Record
	if !h.decodeBody(w, r, &records) {
		return
	}

	res, err := h.svc.BulkInsert(r.Context(), ingest.BulkRequest{
		DatasetID:     chi.URLParam(r, "datasetID"),
		Records:       records,
		BatchSize:     batchSize,
		CreatedBy:     GetUserID(r.Context()),
		Comment:       r.URL.Query().Get("comment"),
		ExpectedPrior: expected,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// exportVersion handles POST /v1/datasets/{datasetID}/versions/{number}/export.
func (h *Handler) exportVersion(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ExportVersion(r.Context(), chi.URLParam(r, "datasetID"), chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// loadExport handles GET /v1/datasets/{datasetID}/versions/{number}/export.
func (h *Handler) loadExport(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.LoadExport(r.Context(), chi.URLParam(r, "datasetID"), chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// listExports handles GET /v1/datasets/{datasetID}/exports.
func (h *Handler) listExports(w http.ResponseWriter, r *http.Request) {
	paths, err := h.svc.ListExports(r.Context(), chi.URLParam(r, "datasetID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if paths == nil {
		paths = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"exports": paths})
}
