// Package server wires the HTTP API: a chi router with the payment gate in
// front of every data endpoint, handlers over the storage and ledger layers,
// and an agent-facing wallet surface. Settled and rejected gated accesses are
// appended to the access ledger through the gate hooks.
package server

import (
	"encoding/json"
	"errors"
	nethttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/datagate-io/datagate"
	gatehttp "github.com/datagate-io/datagate/http"
	"github.com/datagate-io/datagate/ledger"
	"github.com/datagate-io/datagate/logger"
	"github.com/datagate-io/datagate/pricing"
	"github.com/datagate-io/datagate/storage"
	"github.com/datagate-io/datagate/wallet"
)

// Identity headers. Agents authenticate with their issued API key; creator
// endpoints resolve the caller from the upstream-provided user id.
const (
	HeaderAPIKey = "X-API-Key"
	HeaderUserID = "X-User-Id"
)

// Config collects the server's collaborators. Store, Ledger and Gate are
// required; Wallet and Registry are optional.
type Config struct {
	Store  *storage.Store
	Ledger *ledger.Ledger
	Wallet *wallet.Handle

	// Gate configures the payment middleware. ExemptPaths, OnSettled and
	// OnRejected are set by the server.
	Gate *gatehttp.Config

	// Registry, when set, exposes prometheus metrics on /metrics.
	Registry *prometheus.Registry

	Logger logger.Logger
}

// Server is the gateway HTTP server.
type Server struct {
	store    *storage.Store
	ledger   *ledger.Ledger
	wallet   *wallet.Handle
	log      logger.Logger
	validate *validator.Validate
	router   chi.Router
}

// New builds the server and its routes.
func New(cfg *Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = logger.NoopLogger{}
	}

	s := &Server{
		store:    cfg.Store,
		ledger:   cfg.Ledger,
		wallet:   cfg.Wallet,
		log:      log,
		validate: validator.New(),
	}

	gate := *cfg.Gate
	gate.ExemptPaths = append(gate.ExemptPaths, "/api/health", "/metrics")
	gate.OnSettled = s.recordSettled
	gate.OnRejected = s.recordRejected

	r := chi.NewRouter()
	r.Use(gatehttp.NewPaymentGate(&gate))

	r.Get("/api/health", s.handleHealth)

	r.Route("/api/creator/me", func(r chi.Router) {
		r.Get("/", s.handleCreatorMe)
		r.Get("/data-sources", s.handleMyDataSources)
		r.Post("/data-sources", s.handleCreateMyDataSource)
		r.Get("/access-logs", s.handleMyAccessLogs)
	})

	r.Route("/api/creators/{id}", func(r chi.Router) {
		r.Get("/", s.handleCreator)
		r.Get("/data-sources", s.handleCreatorDataSources)
		r.Post("/data-sources", s.handleCreateDataSource)
		r.Get("/access-logs", s.handleCreatorAccessLogs)
	})

	r.Route("/api/agent/me", func(r chi.Router) {
		r.Get("/", s.handleAgentMe)
		r.Post("/generate-key", s.handleGenerateMyKey)
		r.Get("/access-logs", s.handleMyAgentAccessLogs)
	})

	r.Route("/api/agents/{id}", func(r chi.Router) {
		r.Get("/", s.handleAgent)
		r.Post("/generate-key", s.handleGenerateKey)
		r.Get("/access-logs", s.handleAgentAccessLogs)
	})

	r.Post("/api/access-logs", s.handleCreateAccessLog)

	r.Route("/api/wallet", func(r chi.Router) {
		r.Get("/", s.handleWalletInfo)
		r.Get("/balance", s.handleWalletBalance)
		r.Post("/transfer", s.handleWalletTransfer)
		r.Get("/transactions/{hash}", s.handleWalletTransaction)
	})

	if cfg.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	s.router = r
	return s
}

// Handler returns the root handler, gate included.
func (s *Server) Handler() nethttp.Handler {
	return s.router
}

func (s *Server) handleHealth(w nethttp.ResponseWriter, r *nethttp.Request) {
	writeJSON(w, nethttp.StatusOK, map[string]any{
		"ok":        true,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// recordSettled appends a success ledger row for a settled gated access. The
// row is keyed to the calling agent; requests without a resolvable API key
// are settled but not attributed.
func (s *Server) recordSettled(r *nethttp.Request, res pricing.Resolution, settlement *datagate.SettlementResponse) {
	agent, ok := s.callerAgent(r)
	if !ok {
		return
	}
	path := r.URL.Path
	amount := res.Display
	if _, err := s.ledger.Record(r.Context(), agent.ID, "", &path, ledger.StatusSuccess, &amount); err != nil {
		s.log.Error("failed to record settled access", map[string]any{"error": err.Error()})
	}
}

func (s *Server) recordRejected(r *nethttp.Request, res pricing.Resolution, reason string) {
	agent, ok := s.callerAgent(r)
	if !ok {
		return
	}
	path := r.URL.Path
	if _, err := s.ledger.Record(r.Context(), agent.ID, "", &path, ledger.StatusFailed, nil); err != nil {
		s.log.Error("failed to record rejected access", map[string]any{"error": err.Error()})
	}
}

func (s *Server) callerAgent(r *nethttp.Request) (*storage.Agent, bool) {
	key := r.Header.Get(HeaderAPIKey)
	if key == "" {
		return nil, false
	}
	agent, err := s.store.AgentByAPIKey(r.Context(), key)
	if err != nil {
		return nil, false
	}
	return agent, true
}

func writeJSON(w nethttp.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w nethttp.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeFailure maps storage and wallet errors onto the API error contract.
func (s *Server) writeFailure(w nethttp.ResponseWriter, err error, notFound string) {
	switch {
	case errors.Is(err, datagate.ErrNotFound):
		writeErr(w, nethttp.StatusNotFound, notFound)
	case errors.Is(err, datagate.ErrWalletNotConfigured):
		writeErr(w, nethttp.StatusInternalServerError, "Wallet not configured")
	case errors.Is(err, datagate.ErrInvalidAmount),
		errors.Is(err, datagate.ErrInsufficientFunds):
		writeErr(w, nethttp.StatusBadRequest, err.Error())
	default:
		s.log.Error("request failed", map[string]any{"error": err.Error()})
		writeErr(w, nethttp.StatusInternalServerError, "Internal server error")
	}
}

func (s *Server) decode(w nethttp.ResponseWriter, r *nethttp.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErr(w, nethttp.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeErr(w, nethttp.StatusBadRequest, "Validation failed: "+err.Error())
		return false
	}
	return true
}
