package api

import (
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer exposes the standard gRPC health service so orchestrators can
// check the bridge without speaking HTTP.
type HealthServer struct {
	addr     string
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
}

func NewHealthServer(addr string) *HealthServer {
	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	// NOT_SERVING until Start.
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &HealthServer{addr: addr, server: srv, health: hs}
}

// Start listens and reports SERVING.
func (h *HealthServer) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}
	h.listener = ln
	slog.Info("[API] Starting gRPC health server", "addr", ln.Addr().String())

	go func() {
		if err := h.server.Serve(ln); err != nil {
			slog.Error("[API] gRPC health server error", "error", err)
		}
	}()

	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Addr returns the bound address once started.
func (h *HealthServer) Addr() string {
	if h.listener == nil {
		return h.addr
	}
	return h.listener.Addr().String()
}

// Drain flips every service to NOT_SERVING while keeping the listener up.
func (h *HealthServer) Drain() {
	h.health.Shutdown()
}

// Stop reports NOT_SERVING and stops the gRPC server.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
