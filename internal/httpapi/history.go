package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gluk-w/claworc/sshgate/internal/history"
)

// ListHistory returns paginated workflow-history rows.
//
// Query parameters:
//
//	limit  - max rows to return (default 100)
//	offset - rows to skip
func ListHistory(w http.ResponseWriter, r *http.Request) {
	recorder := history.GetRecorder()
	if recorder == nil {
		writeError(w, http.StatusServiceUnavailable, "history recorder not initialized")
		return
	}

	opts := history.QueryOptions{}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		opts.Offset = n
	}

	rows, total, err := recorder.Query(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query workflow history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total": total,
		"rows":  rows,
	})
}
