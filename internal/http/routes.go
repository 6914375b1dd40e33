package httpx

import (
	"log/slog"
	"net/http"
	"time"
)

// RouterServices holds everything the control API router needs.
type RouterServices struct {
	Scheduler SchedulerControl
	History   RunHistoryReader
	Bus       EventStream
	// Auth is the bearer-auth policy. Zero value disables authentication.
	Auth AuthOptions
	// SSEHeartbeat overrides the keep-alive cadence. Optional.
	SSEHeartbeat time.Duration
	Logger       *slog.Logger
}

// NewRouter builds the control API handler: routes wrapped with
// Recover -> Logging -> BearerAuth. The health endpoint stays outside auth
// so load balancers can probe it.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	agents := &AgentHandlers{Svc: services.Scheduler, History: services.History}
	registerAgentRoutes(mux, agents)

	if services.Bus != nil {
		events := &EventStreamHandlers{
			Bus:       services.Bus,
			Logger:    logger,
			Heartbeat: services.SSEHeartbeat,
		}
		mux.Handle("GET /api/agents/schedule/events", http.HandlerFunc(events.Stream))
	}

	var api http.Handler = mux
	api = BearerAuth(services.Auth)(api)

	root := http.NewServeMux()
	root.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	root.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	root.Handle("/api/", api)

	var h http.Handler = root
	h = Logging(logger)(h)
	h = Recover(logger)(h)
	return h
}

func registerAgentRoutes(mux *http.ServeMux, h *AgentHandlers) {
	mux.Handle("GET /api/agents/schedule/status", http.HandlerFunc(h.Stats))
	mux.Handle("GET /api/agents/schedule/tasks", http.HandlerFunc(h.ListTasks))
	mux.Handle("GET /api/agents/schedule/paused", http.HandlerFunc(h.PausedJobs))

	mux.Handle("POST /api/agents/{id}/schedule", http.HandlerFunc(h.Schedule))
	mux.Handle("GET /api/agents/{id}/schedule", http.HandlerFunc(h.GetTask))
	mux.Handle("DELETE /api/agents/{id}/schedule", http.HandlerFunc(h.Unschedule))

	mux.Handle("POST /api/agents/{id}/run", http.HandlerFunc(h.RunNow))
	mux.Handle("PATCH /api/agents/{id}/schedule/{jobId}/pause", http.HandlerFunc(h.Pause))
	mux.Handle("PATCH /api/agents/{id}/schedule/{jobId}/resume", http.HandlerFunc(h.Resume))

	mux.Handle("GET /api/agents/{id}/runs", http.HandlerFunc(h.ListRuns))
}
