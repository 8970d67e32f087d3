// Package health exposes server liveness over the standard gRPC health
// protocol (grpc.health.v1.Health) and a plain HTTP /healthz probe.
//
// Both report SERVING until SetServing(false) is called during shutdown.
package health

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the name reported for the room broadcast service.
const Service = "roomcast.Rooms"

// Server tracks serving status for gRPC and HTTP health checks.
type Server struct {
	hs      *grpchealth.Server
	serving atomic.Bool
}

// New returns a Server reporting SERVING.
func New() *Server {
	s := &Server{hs: grpchealth.NewServer()}
	s.SetServing(true)
	return s
}

// SetServing flips the reported status for the overall server and Service.
func (s *Server) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.serving.Store(ok)
	s.hs.SetServingStatus("", st)
	s.hs.SetServingStatus(Service, st)
}

// Serving reports the current status.
func (s *Server) Serving() bool { return s.serving.Load() }

// Register adds the health service to g.
func (s *Server) Register(g *grpc.Server) {
	healthpb.RegisterHealthServer(g, s.hs)
}

// ServeHTTP answers /healthz with 200 while serving and 503 otherwise.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !s.Serving() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"NOT_SERVING"}`)) //nolint:errcheck
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"SERVING"}`)) //nolint:errcheck
}

// Serve runs a gRPC server exposing the health service on lis until ctx is
// cancelled, then stops it gracefully. opts are passed to grpc.NewServer.
func (s *Server) Serve(ctx context.Context, lis net.Listener, opts ...grpc.ServerOption) error {
	g := grpc.NewServer(opts...)
	s.Register(g)

	go func() {
		<-ctx.Done()
		s.SetServing(false)
		g.GracefulStop()
	}()

	if err := g.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}
