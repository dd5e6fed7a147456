package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"cosmossdk.io/log"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/gorilla/mux"

	"github.com/openalpha/margin-core/api/middleware"
	"github.com/openalpha/margin-core/app"
)

// Config contains API server configuration
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// StreamInterval is how often vault snapshots go out over the websocket
	StreamInterval time.Duration

	RequestsPerSecond int
	Burst             int
}

// DefaultConfig returns the standard configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:              "localhost:8080",
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		StreamInterval:    time.Second,
		RequestsPerSecond: 100,
		Burst:             200,
	}
}

// Server exposes read-only engine state over HTTP and a websocket stream
type Server struct {
	config     *Config
	engine     *app.App
	router     *mux.Router
	httpServer *http.Server
	hub        *Hub
	limiter    *middleware.RateLimiter
	logger     log.Logger
}

// NewServer creates the API server over an engine instance
func NewServer(engine *app.App, config *Config, logger log.Logger) *Server {
	s := &Server{
		config:  config,
		engine:  engine,
		router:  mux.NewRouter(),
		hub:     newHub(),
		limiter: middleware.NewRateLimiter(config.RequestsPerSecond, config.Burst),
		logger:  logger.With("component", "api"),
	}
	s.routes()
	s.httpServer = &http.Server{
		Addr:         config.Addr,
		Handler:      s.limiter.Middleware(s.router),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/programs/{id}", s.handleGetProgram).Methods(http.MethodGet)
	v1.HandleFunc("/accounts", s.handleListAccounts).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id}", s.handleGetAccount).Methods(http.MethodGet)
	v1.HandleFunc("/vaults", s.handleListVaults).Methods(http.MethodGet)
	v1.HandleFunc("/vaults/{id}", s.handleGetVault).Methods(http.MethodGet)
	v1.HandleFunc("/outcomes", s.handleListOutcomes).Methods(http.MethodGet)
	v1.HandleFunc("/outcomes/{id}", s.handleGetOutcome).Methods(http.MethodGet)
	v1.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)
}

// Handler returns the routed handler, useful for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the server until Shutdown is called
func (s *Server) Start() error {
	go s.hub.run()
	go s.streamLoop()
	s.logger.Info("api server listening", "addr", s.config.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server and the stream hub
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.stop()
	s.limiter.Stop()
	return s.httpServer.Shutdown(ctx)
}

// streamLoop periodically broadcasts vault snapshots to websocket subscribers
func (s *Server) streamLoop() {
	ticker := time.NewTicker(s.config.StreamInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.hub.stopCh:
			return
		case now := <-ticker.C:
			ctx := s.queryContext(now)
			vaults := s.engine.VaultKeeper.GetAllVaults(ctx)
			if len(vaults) == 0 {
				continue
			}
			payload, err := json.Marshal(map[string]any{
				"type":   "vault_snapshot",
				"time":   now.Unix(),
				"vaults": vaults,
			})
			if err != nil {
				continue
			}
			s.hub.Broadcast(payload)
		}
	}
}

func (s *Server) queryContext(now time.Time) sdk.Context {
	return s.engine.NewContext(0, now)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetProgram(w http.ResponseWriter, r *http.Request) {
	ctx := s.queryContext(time.Now())
	program := s.engine.ProgramKeeper.GetProgram(ctx, mux.Vars(r)["id"])
	if program == nil {
		writeError(w, http.StatusNotFound, "program not found")
		return
	}
	writeJSON(w, http.StatusOK, program)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	ctx := s.queryContext(time.Now())
	writeJSON(w, http.StatusOK, s.engine.MarginKeeper.GetAllAccounts(ctx))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	ctx := s.queryContext(time.Now())
	account := s.engine.MarginKeeper.GetAccount(ctx, mux.Vars(r)["id"])
	if account == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleListVaults(w http.ResponseWriter, r *http.Request) {
	ctx := s.queryContext(time.Now())
	writeJSON(w, http.StatusOK, s.engine.VaultKeeper.GetAllVaults(ctx))
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	ctx := s.queryContext(time.Now())
	vaultID := mux.Vars(r)["id"]
	vault := s.engine.VaultKeeper.GetVault(ctx, vaultID)
	if vault == nil {
		writeError(w, http.StatusNotFound, "vault not found")
		return
	}
	price, err := s.engine.VaultKeeper.SharePrice(ctx, vaultID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"vault":       vault,
		"share_price": price.String(),
	})
}

func (s *Server) handleListOutcomes(w http.ResponseWriter, r *http.Request) {
	ctx := s.queryContext(time.Now())
	writeJSON(w, http.StatusOK, s.engine.ClearinghouseKeeper.GetAllOutcomes(ctx))
}

func (s *Server) handleGetOutcome(w http.ResponseWriter, r *http.Request) {
	ctx := s.queryContext(time.Now())
	outcome := s.engine.ClearinghouseKeeper.GetOutcome(ctx, mux.Vars(r)["id"])
	if outcome == nil {
		writeError(w, http.StatusNotFound, "outcome not found")
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
