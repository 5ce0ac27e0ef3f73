// Package api serves the bridge's HTTP surface: the transfer endpoint, the
// control-plane websocket, the transfer webhooks and read-only diagnostics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	types "github.com/sebas/voicebridge/api/types/v1"
	"github.com/sebas/voicebridge/internal/bridge/directory"
	"github.com/sebas/voicebridge/internal/bridge/session"
)

// ServiceName is reported by /health and the gRPC health service.
const ServiceName = "voicebridge"

// Routes served besides the control-plane websocket.
const (
	PathTransfer          = "/transfer"
	PathHealth            = "/health"
	PathSessions          = "/sessions"
	PathWebhookCallHook   = "/api/transfer/call-hook"
	PathWebhookDialAction = "/api/transfer/dial-action"
)

const readHeaderTimeout = 10 * time.Second

// SessionLister provides the live-session view for /sessions.
// Implemented by session.Registry.
type SessionLister interface {
	List() []session.Snapshot
	Len() int
}

// Options wires the handlers the server mounts.
type Options struct {
	Addr        string
	ControlPath string
	Control     http.Handler // control-plane websocket upgrades
	Transfer    http.Handler // POST /transfer
	Sessions    SessionLister
	Directory   *directory.Directory
	// CallbackBase prefixes webhook action hooks; empty keeps them relative.
	CallbackBase string
}

// Server is the bridge HTTP server.
type Server struct {
	addr       string
	router     *mux.Router
	httpServer *http.Server
	listener   net.Listener
	sessions   SessionLister
	webhooks   *webhooks
	startTime  time.Time
}

// NewServer builds the router. Nothing listens until Start.
func NewServer(opts Options) *Server {
	s := &Server{
		addr:      opts.Addr,
		router:    mux.NewRouter(),
		sessions:  opts.Sessions,
		webhooks:  newWebhooks(opts.Directory, opts.CallbackBase),
		startTime: time.Now(),
	}

	r := s.router
	r.Use(recoverMiddleware, logMiddleware)

	if opts.Transfer != nil {
		r.Handle(PathTransfer, opts.Transfer).Methods(http.MethodPost)
	}
	if opts.Control != nil && opts.ControlPath != "" {
		r.Handle(opts.ControlPath, opts.Control).Methods(http.MethodGet)
	}

	// Diagnostics
	r.HandleFunc(PathHealth, s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc(PathSessions, s.handleSessions).Methods(http.MethodGet)

	// Webhook application
	r.HandleFunc(PathWebhookCallHook, s.webhooks.handleCallHook).Methods(http.MethodPost)
	r.HandleFunc(PathWebhookDialAction, s.webhooks.handleDialAction).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(handleNotFound)

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	slog.Info("[API] Starting HTTP server", "addr", ln.Addr().String())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("[API] HTTP server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down. Hijacked websockets are not tracked by
// http.Server and must be closed by their owners.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:    "healthy",
		Service:   ServiceName,
		Uptime:    int64(time.Since(s.startTime).Seconds()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	resp := types.SessionsResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Sessions:  []types.Session{},
	}
	if s.sessions != nil {
		for _, snap := range s.sessions.List() {
			resp.Sessions = append(resp.Sessions, toSession(snap))
		}
	}
	resp.ActiveSessions = len(resp.Sessions)
	writeJSON(w, http.StatusOK, resp)
}

func toSession(snap session.Snapshot) types.Session {
	out := types.Session{
		CallID:    snap.CallID,
		SessionID: snap.SessionID,
		State:     snap.State,
		Direction: snap.Direction,
		CreatedAt: snap.CreatedAt.UTC().Format(time.RFC3339),
	}
	if !snap.UpdatedAt.IsZero() {
		out.UpdatedAt = snap.UpdatedAt.UTC().Format(time.RFC3339)
	}
	if p := snap.PendingTransfer; p != nil {
		out.PendingTransfer = &types.PendingTransfer{
			ID:          p.ID,
			TargetKey:   p.TargetKey,
			Destination: p.Destination,
			RequestedAt: p.RequestedAt.UTC().Format(time.RFC3339),
		}
	}
	return out
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, types.ErrorResponse{Error: "Not Found"})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				slog.Error("[API] Panic in handler", "method", r.Method, "path", r.URL.Path, "panic", rec)
				writeJSON(w, http.StatusInternalServerError, types.ErrorResponse{Error: "Internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("[API] Request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[API] Failed to encode response", "error", err)
	}
}
