// Package gateway is the loopback HTTP API the wallet UI drives: it lists
// pending approvals, resolves or cancels them, and inspects sessions. It is
// never exposed to pages; a bearer token gates every /v1 route.
package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"emberwallet/bridge/approval"
	"emberwallet/bridge/session"
	"emberwallet/chain"
	"emberwallet/observability/logging"
	"emberwallet/observability/metrics"
)

// NetworkLister exposes the registered network set for display.
type NetworkLister interface {
	Networks() []chain.Network
}

type Config struct {
	Sessions  *session.Store
	Approvals *approval.Queue
	Networks  NetworkLister
	Token     string
	Logger    *slog.Logger
	Metrics   *metrics.BridgeMetrics
}

type Gateway struct {
	sessions  *session.Store
	approvals *approval.Queue
	networks  NetworkLister
	token     string
	log       *slog.Logger
	metrics   *metrics.BridgeMetrics
}

func New(cfg Config) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		sessions:  cfg.Sessions,
		approvals: cfg.Approvals,
		networks:  cfg.Networks,
		token:     cfg.Token,
		log:       logger,
		metrics:   cfg.Metrics,
	}
}

// Router assembles the HTTP surface.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", g.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Use(g.requireAuth)
		r.Get("/approvals", g.handleListApprovals)
		r.Get("/approvals/{id}", g.handleGetApproval)
		r.Delete("/approvals", g.handleClearApprovals)
		r.Post("/approvals/{id}/resolve", g.handleResolveApproval)
		r.Post("/approvals/{id}/cancel", g.handleCancelApproval)
		r.Get("/sessions", g.handleListSessions)
		r.Delete("/sessions", g.handleRevokeSessions)
		r.Get("/networks", g.handleListNetworks)
	})
	return r
}

func (g *Gateway) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.token == "" {
			writeError(w, http.StatusServiceUnavailable, "gateway token not configured")
			return
		}
		header := r.Header.Get("Authorization")
		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(g.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) handleListApprovals(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, g.approvals.ListPending())
}

func (g *Gateway) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	req, ok := g.approvals.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "approval not pending")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (g *Gateway) handleClearApprovals(w http.ResponseWriter, _ *http.Request) {
	n := g.approvals.Clear()
	g.metrics.SetPendingApprovals(g.approvals.Len())
	g.log.Info("pending approvals cleared", slog.Int("count", n))
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

type resolveRequest struct {
	Approved bool   `json:"approved"`
	AuthData string `json:"authData,omitempty"`
}

func (g *Gateway) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if !g.approvals.Resolve(id, body.Approved, body.AuthData) {
		// Unknown ids are expected after expiry or disconnect races.
		writeError(w, http.StatusNotFound, "approval not pending")
		return
	}
	g.metrics.SetPendingApprovals(g.approvals.Len())
	g.log.Info("approval resolved",
		slog.String("id", id),
		slog.Bool("approved", body.Approved),
		logging.Secret("authData", body.AuthData))
	writeJSON(w, http.StatusOK, map[string]bool{"resolved": true})
}

func (g *Gateway) handleCancelApproval(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !g.approvals.Cancel(id) {
		writeError(w, http.StatusNotFound, "approval not pending")
		return
	}
	g.metrics.SetPendingApprovals(g.approvals.Len())
	g.log.Info("approval cancelled", slog.String("id", id))
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

func (g *Gateway) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, g.sessions.All())
}

// handleRevokeSessions revokes by ?connection= or ?origin=; exactly one must
// be supplied.
func (g *Gateway) handleRevokeSessions(w http.ResponseWriter, r *http.Request) {
	connection := r.URL.Query().Get("connection")
	origin := r.URL.Query().Get("origin")
	var revoked int
	switch {
	case connection != "" && origin != "":
		g.sessions.Revoke(connection, origin)
		revoked = 1
	case connection != "":
		revoked = g.sessions.RevokeAll(connection)
	case origin != "":
		revoked = g.sessions.RevokeOrigin(origin)
	default:
		writeError(w, http.StatusBadRequest, "connection or origin query parameter required")
		return
	}
	g.metrics.SetActiveSessions(g.sessions.Len())
	g.log.Info("sessions revoked",
		slog.String("connection", connection),
		slog.String("origin", origin),
		slog.Int("count", revoked))
	writeJSON(w, http.StatusOK, map[string]int{"revoked": revoked})
}

func (g *Gateway) handleListNetworks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, g.networks.Networks())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
