// -----------------------------------------------------------------------
// Routes - operator API route table
// -----------------------------------------------------------------------

package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route - job lifecycle event stream
	mux.HandleFunc("/ws/events", s.app.WSHandler.HandleWebSocket)

	// API routes - Media server registry
	mux.HandleFunc("/api/servers", s.handleServersRoute)
	mux.HandleFunc("/api/servers/status", methodOnly(http.MethodGet, s.app.ServerHandler.GetServerStatusHandler))

	// API routes - Sync and embedding runs
	mux.HandleFunc("/api/sync/trigger", methodOnly(http.MethodPost, s.app.ServerHandler.TriggerSyncHandler))
	mux.HandleFunc("/api/embeddings/start", methodOnly(http.MethodPost, s.app.ServerHandler.StartEmbeddingsHandler))
	mux.HandleFunc("/api/embeddings/stop", methodOnly(http.MethodPost, s.app.ServerHandler.StopEmbeddingsHandler))

	// API routes - Job results and queue inspection
	mux.HandleFunc("/api/jobs/results", methodOnly(http.MethodGet, s.app.JobHandler.GetResultsHandler))
	mux.HandleFunc("/api/jobs/cancel", methodOnly(http.MethodPost, s.app.JobHandler.CancelJobsHandler))
	mux.HandleFunc("/api/queue/size", methodOnly(http.MethodGet, s.app.JobHandler.GetQueueSizeHandler))
	mux.HandleFunc("/api/queue/stats", methodOnly(http.MethodGet, s.app.JobHandler.GetQueueStatsHandler))

	// API routes - Scheduler
	mux.HandleFunc("/api/scheduler/status", methodOnly(http.MethodGet, s.app.SchedulerHandler.GetStatusHandler))
	mux.HandleFunc("/api/scheduler/schedules", methodOnly(http.MethodPost, s.app.SchedulerHandler.UpdateSchedulesHandler))
	mux.HandleFunc("/api/scheduler/enable", methodOnly(http.MethodPost, s.app.SchedulerHandler.EnableJobHandler))
	mux.HandleFunc("/api/scheduler/disable", methodOnly(http.MethodPost, s.app.SchedulerHandler.DisableJobHandler))
	mux.HandleFunc("/api/reconcile/trigger", methodOnly(http.MethodPost, s.app.SchedulerHandler.TriggerReconcileHandler))

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// Prometheus scrape endpoint
	if s.app.Config.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleServersRoute routes /api/servers requests (list, register, remove)
func (s *Server) handleServersRoute(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		http.MethodGet:    s.app.ServerHandler.ListServersHandler,
		http.MethodPost:   s.app.ServerHandler.AddServerHandler,
		http.MethodDelete: s.app.ServerHandler.DeleteServerHandler,
	})
}
