package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Router stdlib http.ServeMux with per-route method checks
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler registers a plain http.Handler (metrics, WebSocket)
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterVitalsRoutes manual entry, acknowledgement and state reads
func (r *Router) RegisterVitalsRoutes(v *VitalsHandler) {
	r.Handle("/api/v1/vitals", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		v.RecordVital(w, req)
	})

	r.Handle("/api/v1/state", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		v.GetState(w, req)
	})

	r.Handle("/api/v1/alerts/state", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		v.GetAlertState(w, req)
	})

	// alerts/{id}/acknowledge
	r.Handle("/api/v1/alerts/", func(w http.ResponseWriter, req *http.Request) {
		rest := strings.TrimPrefix(req.URL.Path, "/api/v1/alerts/")
		id, action, ok := strings.Cut(rest, "/")
		if !ok || id == "" || action != "acknowledge" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		v.AcknowledgeAlert(w, req, id)
	})
}

// RegisterOpsRoutes health, metrics and the dashboard socket
func (r *Router) RegisterOpsRoutes(health func() bool, metrics http.Handler, ws http.Handler) {
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if health != nil && !health() {
			writeJSON(w, http.StatusServiceUnavailable, Fail("event bus stopped"))
			return
		}
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
	})
	if metrics != nil {
		r.HandleHandler("/metrics", metrics)
	}
	if ws != nil {
		r.HandleHandler("/ws", ws)
	}
}
