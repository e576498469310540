package monitor

import (
	"context"
	"errors"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/platesim/internal/logging"
	"github.com/signalsfoundry/platesim/internal/observability"
	sim "github.com/signalsfoundry/platesim/internal/sim/state"
)

// Server is the monitoring gRPC server: ClusterService plus the standard
// health service.
type Server struct {
	grpc    *grpc.Server
	health  *health.Server
	service *ClusterService
	log     logging.Logger
}

// NewServer builds a server over state. rpc may be nil to skip RPC metrics.
func NewServer(state *sim.AggregateState, info RunInfo, log logging.Logger, rpc *observability.RPCCollector, opts ...grpc.ServerOption) *Server {
	if log == nil {
		log = logging.Noop()
	}
	log = log.With(logging.String("component", "monitor"))

	interceptors := []grpc.UnaryServerInterceptor{
		RequestIDUnaryServerInterceptor(log),
		TracingUnaryServerInterceptor(),
	}
	if rpc != nil {
		interceptors = append(interceptors, rpc.UnaryServerInterceptor())
	}
	serverOpts := append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors...),
	}, opts...)

	s := &Server{
		grpc:    grpc.NewServer(serverOpts...),
		health:  health.NewServer(),
		service: NewClusterService(state, info, log),
		log:     log,
	}
	RegisterClusterServiceServer(s.grpc, s.service)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// SetPhase updates the run phase reported by GetStatus.
func (s *Server) SetPhase(phase string) { s.service.SetPhase(phase) }

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.log.Info(ctx, "starting monitor gRPC server", logging.String("addr", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks the service NOT_SERVING and drains in-flight RPCs.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
