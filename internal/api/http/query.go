package http

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arkilian/versionstore/internal/versioning"
)

// getVersion handles GET /v1/datasets/{datasetID}/versions/{number}.
func (h *Handler) getVersion(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.GetVersion(r.Context(), chi.URLParam(r, "datasetID"), chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// getLatestVersion handles GET /v1/datasets/{datasetID}/latest.
func (h *Handler) getLatestVersion(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.GetLatestVersion(r.Context(), chi.URLParam(r, "datasetID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// getCachedVersion handles GET /v1/datasets/{datasetID}/versions/{number}/cached.
func (h *Handler) getCachedVersion(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.GetCachedVersion(r.Context(), chi.URLParam(r, "datasetID"), chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if m.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	writeJSON(w, http.StatusOK, m)
}

// listVersions handles GET /v1/datasets/{datasetID}/versions?skip=&limit=.
func (h *Handler) listVersions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	skip, err := intParam(q.Get("skip"), 0)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	limit, err := intParam(q.Get("limit"), versioning.DefaultListLimit)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	list, err := h.svc.ListVersions(r.Context(), chi.URLParam(r, "datasetID"), skip, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// searchVersions handles GET /v1/datasets/{datasetID}/versions/search.
// schema_changes may repeat; a version must contain every listed column.
func (h *Handler) searchVersions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var sq versioning.SearchQuery

	start, err := timeParam(q.Get("start_date"))
	if err != nil {
		badRequest(w, r, fmt.Sprintf("invalid start_date: %v", err))
		return
	}
	end, err := timeParam(q.Get("end_date"))
	if err != nil {
		badRequest(w, r, fmt.Sprintf("invalid end_date: %v", err))
		return
	}
	sq.Start, sq.End = start, end
	sq.ChangeType = q.Get("change_type")
	sq.Columns = q["schema_changes"]

	versions, err := h.svc.SearchVersions(r.Context(), chi.URLParam(r, "datasetID"), sq)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

// timeParam accepts RFC 3339 timestamps or plain dates (midnight UTC).
func timeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized time %q", v)
}
