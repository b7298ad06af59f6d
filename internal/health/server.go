package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/txguard/internal/audit"
	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/infra/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LedgerReader lists ledger entries.
type LedgerReader interface {
	List(ctx context.Context, filter storage.Filter) ([]*domain.FailedTxEntry, error)
}

// Resetter resets the circuit breaker.
type Resetter interface {
	Reset(reason string)
}

// Server provides the admin HTTP endpoints.
type Server struct {
	monitor *Monitor
	events  *audit.Recent
	ledger  LedgerReader
	breaker Resetter
	router  *mux.Router
	server  *http.Server
	log     *slog.Logger
}

// NewServer creates a new admin server. events and ledger may be nil; their routes then
// return empty lists.
func NewServer(monitor *Monitor, events *audit.Recent, ledger LedgerReader, br Resetter, port int) *Server {
	s := &Server{
		monitor: monitor,
		events:  events,
		ledger:  ledger,
		breaker: br,
		router:  mux.NewRouter(),
		log:     slog.Default().With("component", "admin"),
	}

	s.router.Use(s.recoverer)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/health/detailed", s.handleDetailed).Methods(http.MethodGet)
	s.router.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	s.router.HandleFunc("/ledger", s.handleLedger).Methods(http.MethodGet)
	s.router.HandleFunc("/breaker/reset", s.handleReset).Methods(http.MethodPost)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())
	response := map[string]string{"status": string(report.SystemStatus)}
	if report.Breaker.Halted {
		response["reason"] = report.Breaker.Reason
	}

	status := http.StatusOK
	if report.SystemStatus == StatusCritical {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, response)
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.monitor.CheckHealth(r.Context()))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	events := []audit.Event{}
	if s.events != nil {
		events = s.events.Events(limit)
	}
	respondJSON(w, http.StatusOK, events)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries := []*domain.FailedTxEntry{}
	if s.ledger != nil {
		q := r.URL.Query()
		found, err := s.ledger.List(r.Context(), storage.Filter{
			TradeID:    q.Get("trade_id"),
			FailedTxID: q.Get("failed_tx_id"),
			Kind:       domain.FailedTxKind(q.Get("kind")),
			Limit:      limit,
		})
		if err != nil {
			s.log.Error("Failed to list ledger", "error", err)
			respondError(w, http.StatusInternalServerError, "failed to list ledger")
			return
		}
		if found != nil {
			entries = found
		}
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "manual_reset"
	}
	s.log.Warn("Breaker reset requested", "reason", reason, "remote", r.RemoteAddr)
	s.breaker.Reset(reason)
	respondJSON(w, http.StatusOK, map[string]string{"status": "reset", "reason": reason})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("Panic in admin handler", "path", r.URL.Path, "panic", rec)
				respondError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return v, nil
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
