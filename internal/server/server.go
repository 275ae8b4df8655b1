package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/checker"
	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/model"
	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/storage"
)

// Service is the alert functionality exposed over HTTP.
type Service interface {
	Check(ctx context.Context, accountID string) checker.AccountResult
	Alerts(ctx context.Context, filter storage.Filter) ([]model.Alert, error)
	Accounts(ctx context.Context) ([]string, error)
}

// Server provides health, metrics and alert API endpoints.
type Server struct {
	svc      Service
	gatherer prometheus.Gatherer
	mux      *http.ServeMux
	logger   *slog.Logger
}

// NewServer creates an API server. A nil gatherer uses the default registry.
func NewServer(svc Service, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		svc:      svc,
		gatherer: gatherer,
		mux:      http.NewServeMux(),
		logger:   logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /api/v1/alerts", s.handleAlerts)
	s.mux.HandleFunc("GET /api/v1/accounts", s.handleAccounts)
	s.mux.HandleFunc("POST /api/v1/accounts/{id}/check", s.handleCheck)
}

// Handler returns the HTTP handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	filter := storage.Filter{
		AccountID: r.URL.Query().Get("account"),
		Status:    model.Status(r.URL.Query().Get("status")),
	}
	switch filter.Status {
	case "", model.StatusActive, model.StatusResolved:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status must be active or resolved"})
		return
	}

	list, err := s.svc.Alerts(ctx, filter)
	if err != nil {
		s.logger.Error("list alerts", "account", filter.AccountID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	ids, err := s.svc.Accounts(ctx)
	if err != nil {
		s.logger.Error("list accounts", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res := s.svc.Check(r.Context(), id)

	status := http.StatusOK
	if res.Status == checker.StatusFailed {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
