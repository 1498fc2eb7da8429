package httpapi

import "net/http"

// Health handles GET /healthz.
func (a *App) Health(w http.ResponseWriter, _ *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

// MetricsSnapshot handles GET /api/metrics.
func (a *App) MetricsSnapshot(w http.ResponseWriter, _ *http.Request) {
	processed, failed := a.Editor.Stats()
	body := map[string]any{
		"processed":       processed,
		"errors":          failed,
		"active_channels": a.Registry.Count(),
		"sessions":        a.Sessions.Count(),
	}
	if a.Metrics != nil {
		body["pipeline"] = a.Metrics.Snapshot()
	}
	a.json(w, http.StatusOK, body)
}
