// Package api is the HTTP surface: account and order endpoints, the
// websocket upgrade into the gateway, and the supplemental archive and
// journal read endpoints.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"feedrouter/internal/auth"
	"feedrouter/internal/gateway"
	"feedrouter/internal/paper"
	"feedrouter/internal/store/sqlite"
)

// Server bundles the handlers' dependencies. Archive and journal may
// be nil when the corresponding side-channel is disabled.
type Server struct {
	engine  *paper.Engine
	tokens  *auth.TokenIssuer
	hub     *gateway.Hub
	journal *paper.Journal
	archive *sqlite.Archive
	symbols []string
	limiter *ipLimiter
	log     zerolog.Logger

	// Metrics hooks, optional.
	OnOrderPlaced    func()
	OnOrderCancelled func()
	OnOrderRejected  func()
}

// Options carries the optional pieces of a Server.
type Options struct {
	Journal *paper.Journal
	Archive *sqlite.Archive
}

// NewServer builds the HTTP server around the engine and gateway.
func NewServer(engine *paper.Engine, tokens *auth.TokenIssuer, hub *gateway.Hub,
	symbols []string, perSecond float64, burst int, opts Options, log zerolog.Logger) *Server {
	return &Server{
		engine:  engine,
		tokens:  tokens,
		hub:     hub,
		journal: opts.Journal,
		archive: opts.Archive,
		symbols: symbols,
		limiter: newIPLimiter(perSecond, burst),
		log:     log,
	}
}

// Router assembles all routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/register", s.rateLimited(s.handleRegister)).Methods(http.MethodPost)
	r.HandleFunc("/login", s.rateLimited(s.handleLogin)).Methods(http.MethodPost)
	r.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	r.HandleFunc("/deposit", s.requireAuth(s.handleDeposit)).Methods(http.MethodPost)
	r.HandleFunc("/orders", s.requireAuth(s.handlePlaceOrder)).Methods(http.MethodPost)
	r.HandleFunc("/orders/{token_id}", s.requireAuth(s.handleOrderStatus)).Methods(http.MethodGet)
	r.HandleFunc("/orders/{token_id}", s.requireAuth(s.handleCancelOrder)).Methods(http.MethodDelete)
	r.HandleFunc("/balance", s.requireAuth(s.handleBalance)).Methods(http.MethodGet)

	r.HandleFunc("/2fa/setup", s.requireAuth(s.handleTOTPSetup)).Methods(http.MethodPost)
	r.HandleFunc("/2fa/activate", s.requireAuth(s.handleTOTPActivate)).Methods(http.MethodPost)
	r.HandleFunc("/fills", s.requireAuth(s.handleFills)).Methods(http.MethodGet)
	r.HandleFunc("/candles", s.handleCandles).Methods(http.MethodGet)

	r.HandleFunc("/ws", s.hub.ServeWS)

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeDetail mirrors the {"detail": ...} error body used across the
// API.
func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
