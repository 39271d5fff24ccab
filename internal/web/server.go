package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mtzanidakis/fleetctl/internal/audit"
	"github.com/mtzanidakis/fleetctl/internal/config"
	"github.com/mtzanidakis/fleetctl/internal/fleet"
	"github.com/mtzanidakis/fleetctl/internal/natsbus"
	"github.com/mtzanidakis/fleetctl/internal/scheduler"
	"github.com/mtzanidakis/fleetctl/internal/store"
)

type Server struct {
	fleet     *fleet.Fleet
	store     *store.Store
	bus       *natsbus.Bus
	nats      *natsbus.Client
	sched     *scheduler.Scheduler
	metrics   http.Handler
	hub       *Hub
	cfg       config.WebConfig
	version   string
	startedAt time.Time

	sessions *sessionStore
}

// NewServer wires the HTTP API. Store, bus, scheduler and metrics may be
// nil; their endpoints then report the feature as disabled.
func NewServer(f *fleet.Fleet, s *store.Store, bus *natsbus.Bus, sched *scheduler.Scheduler, metrics http.Handler, cfg config.WebConfig, version string) *Server {
	return &Server{
		fleet:     f,
		store:     s,
		bus:       bus,
		sched:     sched,
		metrics:   metrics,
		hub:       NewHub(),
		cfg:       cfg,
		version:   version,
		startedAt: time.Now(),
		sessions:  newSessionStore(sessionMaxAge),
	}
}

// Handler builds the routed, authenticated handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Auth endpoints (public)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/check", s.handleAuthCheck)

	// API routes
	s.registerAPI(mux)

	// WebSocket
	mux.HandleFunc("/api/ws", s.handleWebSocket)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	return s.withMiddleware(mux)
}

func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	// Subscribe to NATS events and broadcast to WebSocket
	s.subscribeEvents()
	defer func() {
		if s.nats != nil {
			s.nats.Close()
		}
	}()

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{Addr: addr, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	slog.Info("web server listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		if s.protected(r.URL.Path) && !s.authorized(w, r) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) subscribeEvents() {
	if s.bus == nil {
		return
	}
	client, err := natsbus.NewClient(s.bus, "fleetctl-web")
	if err != nil {
		slog.Error("web server nats client failed", "error", err)
		return
	}
	s.nats = client

	_, err = natsbus.SubscribeJSON(client, natsbus.TopicEventsAll, func(_ string, event audit.Event) {
		s.hub.Broadcast(event)
	})
	if err != nil {
		slog.Error("web event subscription failed", "error", err)
	}
}
