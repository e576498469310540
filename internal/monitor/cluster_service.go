// Package monitor serves a read-only gRPC view of a running aggregation.
//
// The service is platesim.v1.ClusterService with a single unary method,
// GetStatus, which takes google.protobuf.Empty and returns a
// google.protobuf.Struct. Using well-known types keeps the surface callable
// from grpcurl and any client without generated stubs.
package monitor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/platesim/cluster"
	"github.com/signalsfoundry/platesim/internal/logging"
	sim "github.com/signalsfoundry/platesim/internal/sim/state"
	"github.com/signalsfoundry/platesim/internal/spatial"
)

const (
	// ServiceName is the fully-qualified gRPC service name.
	ServiceName = "platesim.v1.ClusterService"
	// GetStatusMethod is the full method path of GetStatus.
	GetStatusMethod = "/" + ServiceName + "/GetStatus"
)

// Phases reported in the status.
const (
	PhaseConfigured = "configured"
	PhaseRunning    = "running"
	PhaseCompleted  = "completed"
	PhaseCancelled  = "cancelled"
	PhaseStalled    = "stalled"
	PhaseFailed     = "failed"
)

// ClusterServiceServer is the server API for ClusterService.
type ClusterServiceServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterClusterServiceServer registers srv on s.
func RegisterClusterServiceServer(s grpc.ServiceRegistrar, srv ClusterServiceServer) {
	s.RegisterService(&clusterServiceDesc, srv)
}

func getStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClusterServiceServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetStatusMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClusterServiceServer).GetStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var clusterServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ClusterServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: getStatusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "platesim/v1/cluster.proto",
}

// ClusterServiceClient is the client API for ClusterService.
type ClusterServiceClient interface {
	GetStatus(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type clusterServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewClusterServiceClient returns a client bound to cc.
func NewClusterServiceClient(cc grpc.ClientConnInterface) ClusterServiceClient {
	return &clusterServiceClient{cc: cc}
}

func (c *clusterServiceClient) GetStatus(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetStatusMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RunInfo describes the run being monitored.
type RunInfo struct {
	RunID      string
	Dims       int
	TargetSize int
	IndexKind  string
}

// ClusterService reports the live aggregate.
type ClusterService struct {
	state   *sim.AggregateState
	info    RunInfo
	log     logging.Logger
	started time.Time
	phase   atomic.Value // string
}

// NewClusterService returns a service reading from state.
func NewClusterService(state *sim.AggregateState, info RunInfo, log logging.Logger) *ClusterService {
	if log == nil {
		log = logging.Noop()
	}
	s := &ClusterService{state: state, info: info, log: log, started: time.Now()}
	s.phase.Store(PhaseConfigured)
	return s
}

// SetPhase updates the reported run phase.
func (s *ClusterService) SetPhase(phase string) {
	s.phase.Store(phase)
}

// Phase returns the reported run phase.
func (s *ClusterService) Phase() string {
	return s.phase.Load().(string)
}

// GetStatus returns a consistent snapshot of size, radius and progress.
func (s *ClusterService) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	log := logging.LoggerFromContext(ctx)
	if log == nil {
		log = s.log
	}
	if s.state == nil {
		return nil, ToStatusError(ErrUnavailable)
	}
	var (
		size   int
		radius float64
	)
	err := s.state.WithReadLock(func(c *cluster.State, idx spatial.Index) error {
		if c.Size() != idx.Len() {
			return fmt.Errorf("%w: cluster has %d points, index has %d", sim.ErrOutOfSync, c.Size(), idx.Len())
		}
		size, radius = c.Size(), c.Radius()
		return nil
	})
	if err != nil {
		log.Error(ctx, "aggregate out of sync", logging.Err(err))
		return nil, ToStatusError(err)
	}
	progress := 0.0
	if s.info.TargetSize > 0 {
		progress = float64(size) / float64(s.info.TargetSize)
	}

	st, err := structpb.NewStruct(map[string]interface{}{
		"run_id":         s.info.RunID,
		"dims":           s.info.Dims,
		"index":          s.info.IndexKind,
		"phase":          s.Phase(),
		"size":           size,
		"target_size":    s.info.TargetSize,
		"radius":         radius,
		"progress":       progress,
		"started_at":     s.started.UTC().Format(time.RFC3339Nano),
		"uptime_seconds": time.Since(s.started).Seconds(),
	})
	if err != nil {
		return nil, ToStatusError(err)
	}
	log.Debug(ctx, "served status", logging.Int("size", size))
	return st, nil
}
