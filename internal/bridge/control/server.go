package control

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// Handler serves one call-control connection until it ends.
type Handler interface {
	ServeControl(ctx context.Context, s Stream)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, s Stream)

func (f HandlerFunc) ServeControl(ctx context.Context, s Stream) { f(ctx, s) }

// Server upgrades HTTP requests to call-control websockets.
type Server struct {
	upgrader websocket.Upgrader
	handler  Handler
	ctx      context.Context
}

// NewServer returns a Server dispatching connections to h. Connections inherit
// ctx, not the request context, since they outlive the upgrade request.
func NewServer(ctx context.Context, h Handler) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			Subprotocols:    []string{Subprotocol},
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		handler: h,
		ctx:     ctx,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[Control] Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	if ws.Subprotocol() != Subprotocol {
		slog.Debug("[Control] Peer did not negotiate subprotocol", "remote", r.RemoteAddr)
	}

	conn := NewConn(ws)
	slog.Debug("[Control] Connection opened", "remote", conn.RemoteAddr())
	s.handler.ServeControl(s.ctx, conn)
}
