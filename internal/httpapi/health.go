package httpapi

import (
	"net/http"

	"github.com/gluk-w/claworc/sshgate/internal/database"
	"github.com/gluk-w/claworc/sshgate/internal/healthmonitor"
)

// Monitor is the process-wide Health Monitor, set once by main before the
// router starts serving. Mirrors the teacher's package-level SessionStore
// wiring rather than threading it through every handler signature.
var Monitor *healthmonitor.Monitor

// HealthCheck reports process liveness: the database connection and a
// per-host health snapshot from the Health Monitor.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disconnected"
	if database.DB != nil {
		if sqlDB, err := database.DB.DB(); err == nil {
			if err := sqlDB.Ping(); err == nil {
				dbStatus = "connected"
			}
		}
	}

	status := "healthy"
	if dbStatus != "connected" {
		status = "unhealthy"
	}

	var hosts []healthmonitor.HostHealth
	if Monitor != nil {
		hosts = Monitor.Snapshot()
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":   status,
		"database": dbStatus,
		"hosts":    hosts,
	})
}
