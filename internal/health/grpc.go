package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vietddude/txguard/internal/safety/breaker"
)

// ServiceName is the gRPC health service name reported alongside the empty (overall) name.
const ServiceName = "txguard"

// GRPCServer serves the standard gRPC health protocol. Its status follows the breaker.
type GRPCServer struct {
	port   int
	health *grpchealth.Server
	server *grpc.Server
	log    *slog.Logger
}

// NewGRPCServer creates a gRPC health server in the SERVING state.
func NewGRPCServer(port int) *GRPCServer {
	hs := grpchealth.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	g := &GRPCServer{
		port:   port,
		health: hs,
		server: srv,
		log:    slog.Default().With("component", "grpc_health"),
	}
	g.setServing(true)
	return g
}

// OnBreakerTransition is registered with Breaker.OnTransition.
func (g *GRPCServer) OnBreakerTransition(t breaker.Transition) {
	g.setServing(t.To == breaker.StatusHealthy)
}

// Status returns the serving status of the overall service.
func (g *GRPCServer) Status() healthpb.HealthCheckResponse_ServingStatus {
	resp, err := g.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN
	}
	return resp.GetStatus()
}

func (g *GRPCServer) setServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(ServiceName, status)
}

// Start listens on the configured port and blocks until Stop.
func (g *GRPCServer) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", g.port))
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port %d: %w", g.port, err)
	}
	g.log.Info("gRPC health server listening", "port", g.port)
	return g.server.Serve(lis)
}

// Stop shuts the server down gracefully.
func (g *GRPCServer) Stop() {
	g.health.Shutdown()
	g.server.GracefulStop()
}
