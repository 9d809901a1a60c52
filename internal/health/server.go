package health

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/deenoize/crypto-p2p-ai/internal/logger"
	"github.com/deenoize/crypto-p2p-ai/internal/poller"
)

// ServiceName is the health-checked service reported alongside the
// server-wide "" entry.
const ServiceName = "p2parb.Poller"

// Server wraps a gRPC server exposing the standard health service. The
// poller is NOT_SERVING until its first cycle produces data and after any
// cycle where every source failed.
type Server struct {
	grpcServer *grpc.Server
	health     *grpchealth.Server
	listener   net.Listener
	log        *logger.Logger
}

// New creates a health server bound to addr (host:port).
func New(addr string, log *logger.Logger) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	gs := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{
		grpcServer: gs,
		health:     hs,
		listener:   lis,
		log:        log.With(logger.F("component", "health")),
	}, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve starts accepting gRPC connections. It blocks until the server
// is stopped or an error occurs.
func (s *Server) Serve() error {
	s.log.Info("grpc health listening", logger.F("addr", s.listener.Addr().String()))
	return s.grpcServer.Serve(s.listener)
}

// Observe updates the serving status from each cycle result until ctx is
// cancelled or the feed closes.
func (s *Server) Observe(ctx context.Context, feed <-chan poller.Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-feed:
			if !ok {
				return
			}
			s.Record(res)
		}
	}
}

// Record sets the serving status for one cycle result.
func (s *Server) Record(res poller.Result) {
	status := healthpb.HealthCheckResponse_SERVING
	if res.Err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		s.log.Warn("poller not serving", logger.F("cycle_id", res.CycleID), logger.F("reason", res.Err.Error()))
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// GracefulStop marks every service NOT_SERVING and drains in-flight RPCs.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}
