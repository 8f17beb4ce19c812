// Package api provides the HTTP and WebSocket status server.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/thlokol/polymarket-copy-trading-bot/internal/buffer"
	"github.com/thlokol/polymarket-copy-trading-bot/pkg/types"
)

// Config configures the status server.
type Config struct {
	ListenAddr    string        `json:"listenAddr"`
	ReadTimeout   time.Duration `json:"readTimeout"`
	WriteTimeout  time.Duration `json:"writeTimeout"`
	WebSocketPath string        `json:"webSocketPath"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:    ":8086",
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
		WebSocketPath: "/ws",
	}
}

// Status is the read-only view the server exposes. Satisfied by the engine.
type Status interface {
	RecentDecisions() []types.Decision
	PendingBatches() []buffer.PendingSnapshot
	Leaders(ctx context.Context) ([]types.LeaderRecord, error)
}

// Server serves the status API, Prometheus metrics and decision events.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     Config
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	clients    map[string]*client
	status     Status
	gatherer   prometheus.Gatherer
	startedAt  time.Time
}

// NewServer creates a status server over the given engine view.
func NewServer(logger *zap.Logger, config Config, status Status, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		logger:    logger.Named("api"),
		config:    config,
		router:    mux.NewRouter(),
		clients:   make(map[string]*client),
		status:    status,
		gatherer:  gatherer,
		startedAt: time.Now().UTC(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/leaders", s.handleLeaders).Methods("GET")
	s.router.HandleFunc("/api/v1/pending", s.handlePending).Methods("GET")
	s.router.HandleFunc("/api/v1/decisions", s.handleDecisions).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Start runs the HTTP server. Blocks until shutdown.
func (s *Server) Start() error {
	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting status server", zap.String("addr", s.config.ListenAddr))
	return s.httpServer.ListenAndServe()
}

// Stop closes every WebSocket client and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":        "healthy",
		"uptimeSeconds": int64(time.Since(s.startedAt).Seconds()),
		"time":          time.Now().Unix(),
	})
}

func (s *Server) handleLeaders(w http.ResponseWriter, r *http.Request) {
	leaders, err := s.status.Leaders(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, map[string]any{
		"leaders": leaders,
		"count":   len(leaders),
	})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	pending := s.status.PendingBatches()
	s.writeJSON(w, map[string]any{
		"pending": pending,
		"count":   len(pending),
	})
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	decisions := s.status.RecentDecisions()
	s.writeJSON(w, map[string]any{
		"decisions": decisions,
		"count":     len(decisions),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("Failed to write response", zap.Error(err))
	}
}
