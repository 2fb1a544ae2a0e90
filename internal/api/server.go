// Package api serves the read-only REST surface of the bot daemon.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dutybot-io/dutybot/internal/logbuf"
	"github.com/dutybot-io/dutybot/pkg/protocol"
)

// TicketService is the interface the API server needs from the tracker.
type TicketService interface {
	Tickets() map[string]*protocol.Ticket
	Ticket(number string) (*protocol.Ticket, bool)
	Count() int
	RenderDump() (string, error)
}

// LogQuerier abstracts log querying to avoid coupling to logbuf directly.
type LogQuerier interface {
	Recent(limit int, minLevel slog.Level) []logbuf.Entry
}

// Config holds API server configuration.
type Config struct {
	Host string
	Port int
	Key  string // API key for Bearer auth
}

// Server is the dutybot REST API server.
type Server struct {
	svc    TicketService
	cfg    Config
	logger *slog.Logger
	logs   LogQuerier
	srv    *http.Server
}

// NewServer creates a new API server. logs may be nil.
func NewServer(svc TicketService, cfg Config, logger *slog.Logger, logs LogQuerier) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:    svc,
		cfg:    cfg,
		logger: logger,
		logs:   logs,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/tickets", s.requireAuth(s.handleListTickets))
	mux.HandleFunc("GET /api/tickets/{number}", s.requireAuth(s.handleGetTicket))
	mux.HandleFunc("GET /api/dump", s.requireAuth(s.handleDump))
	mux.HandleFunc("GET /api/logs", s.requireAuth(s.handleGetLogs))

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.corsMiddleware(s.requestID(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("api request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.Key {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"open_tickets": s.svc.Count(),
	})
}

func (s *Server) handleListTickets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Tickets())
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")
	t, ok := s.svc.Ticket(number)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "ticket not found"})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDump(w http.ResponseWriter, _ *http.Request) {
	dump, err := s.svc.RenderDump()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(dump))
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []logbuf.Entry{})
		return
	}

	limit := 200
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	minLevel := slog.LevelDebug
	if lvl := r.URL.Query().Get("level"); lvl != "" {
		switch strings.ToLower(lvl) {
		case "info":
			minLevel = slog.LevelInfo
		case "warn":
			minLevel = slog.LevelWarn
		case "error":
			minLevel = slog.LevelError
		}
	}

	entries := s.logs.Recent(limit, minLevel)
	if entries == nil {
		entries = []logbuf.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
