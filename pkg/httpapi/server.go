// Package httpapi exposes the engine's administrative surface over HTTP:
// health, metrics, key inspection, quota status, orchestrated loads and
// awaited saves, and backup/restore operations.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/leadstore/pkg/engine"
	"github.com/platinummonkey/leadstore/pkg/httputil"
	"github.com/platinummonkey/leadstore/pkg/migrate"
	"github.com/platinummonkey/leadstore/pkg/notify"
	"github.com/platinummonkey/leadstore/pkg/observability"
	"github.com/platinummonkey/leadstore/pkg/schema"
	"github.com/platinummonkey/leadstore/pkg/txn"
)

// Server is the admin API server.
type Server struct {
	eng      *engine.StoreEngine
	router   *mux.Router
	log      *observability.Logger
	recorder *notify.Recorder
	registry *prometheus.Registry
}

// NewServer creates the admin server. The recorder, when non-nil, backs the
// status endpoint's recent-notifications view; promRegistry, when non-nil,
// backs /metrics.
func NewServer(eng *engine.StoreEngine, log *observability.Logger, recorder *notify.Recorder, promRegistry *prometheus.Registry) *Server {
	if log == nil {
		log = observability.Nop()
	}
	s := &Server{
		eng:      eng,
		router:   mux.NewRouter(),
		log:      log.Component("httpapi"),
		recorder: recorder,
		registry: promRegistry,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.health).Methods("GET")
	if s.registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	s.router.HandleFunc("/api/v1/keys", s.listKeys).Methods("GET")
	s.router.HandleFunc("/api/v1/quota", s.quotaStatus).Methods("GET")
	s.router.HandleFunc("/api/v1/status", s.status).Methods("GET")

	s.router.HandleFunc("/api/v1/data/{key}", s.loadData).Methods("GET")
	s.router.HandleFunc("/api/v1/data/{key}", s.saveData).Methods("PUT")
	s.router.HandleFunc("/api/v1/data/{key}", s.removeData).Methods("DELETE")

	s.router.HandleFunc("/api/v1/backup/{key}", s.backup).Methods("POST")
	s.router.HandleFunc("/api/v1/restore/{key}", s.restore).Methods("POST")
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(
		httputil.Chain(s.router,
			httputil.LoggingMiddleware(s.log),
			httputil.RecoveryMiddleware(s.log),
		),
		"leadstore.admin",
	)
}

// ServeHTTP implements http.Handler for tests that hit the bare router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]string{"status": "ok"})
}

func (s *Server) listKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.eng.Store().Keys()
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]any{"keys": keys})
}

func (s *Server) quotaStatus(w http.ResponseWriter, r *http.Request) {
	monitor := s.eng.Monitor()
	resp := map[string]any{
		"trackedUsage": monitor.TrackedUsage(),
	}
	if snap := monitor.Estimate(r.Context()); snap != nil {
		resp["limit"] = snap.Quota.Limit
		resp["usage"] = snap.Quota.Usage
		resp["estimatedAt"] = snap.Timestamp.UTC().Format(time.RFC3339)
	}
	httputil.WriteSuccess(w, resp)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	snap, err := s.eng.Snapshot()
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	resp := map[string]any{
		"engine": snap,
	}
	if s.recorder != nil {
		events := s.recorder.Events()
		notifications := make([]map[string]string, 0, len(events))
		for _, ev := range events {
			notifications = append(notifications, map[string]string{
				"message":  ev.Message,
				"severity": ev.Severity.String(),
			})
		}
		resp["notifications"] = notifications
	}
	httputil.WriteSuccess(w, resp)
}

// loadData runs the full orchestrated load for a key. Query parameters toggle
// the recovery gates; defaults match engine.DefaultLoadOptions.
func (s *Server) loadData(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if s.eng.Registry().KindOf(key) == schema.KindUnknown && !schema.IsBackupKey(key) {
		httputil.WriteNotFoundError(w, fmt.Sprintf("unknown key %q", key))
		return
	}

	opts := engine.DefaultLoadOptions()
	opts.AllowMigration = httputil.ParseQueryBool(r, "migrate", opts.AllowMigration)
	opts.AllowRepair = httputil.ParseQueryBool(r, "repair", opts.AllowRepair)
	opts.AllowBackupRecovery = httputil.ParseQueryBool(r, "recover", opts.AllowBackupRecovery)
	opts.StrictValidation = httputil.ParseQueryBool(r, "strict", opts.StrictValidation)
	opts.NotifyUser = httputil.ParseQueryBool(r, "notify", opts.NotifyUser)

	result := s.eng.Load(r.Context(), key, []any{}, opts)
	if !result.Success {
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	httputil.WriteSuccess(w, result)
}

func (s *Server) saveData(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	var value any
	if !httputil.ParseJSONOrError(w, r, &value) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := s.eng.SaveAwait(ctx, key, value); err != nil {
		switch {
		case errors.Is(err, txn.ErrCapacityExceeded):
			httputil.WriteInsufficientStorage(w, err.Error())
		case errors.Is(err, engine.ErrEncryptionUnavailable):
			httputil.WriteErrorMessage(w, http.StatusPreconditionFailed, err.Error())
		case errors.Is(err, engine.ErrCorruptionDetected):
			httputil.WriteBadRequest(w, err.Error())
		default:
			httputil.WriteInternalError(w, err)
		}
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "saved", "key": key})
}

func (s *Server) removeData(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if err := s.eng.Remove(key); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) backup(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if err := s.eng.Backup(key); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "backed up", "key": key})
}

func (s *Server) restore(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if err := s.eng.RestoreBackup(key); err != nil {
		if errors.Is(err, migrate.ErrNoBackup) {
			httputil.WriteNotFoundError(w, err.Error())
			return
		}
		httputil.WriteErrorMessage(w, http.StatusConflict, err.Error())
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "restored", "key": key})
}
