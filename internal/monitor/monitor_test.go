package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/signalsfoundry/platesim/cluster"
	"github.com/signalsfoundry/platesim/internal/logging"
	"github.com/signalsfoundry/platesim/internal/observability"
	sim "github.com/signalsfoundry/platesim/internal/sim/state"
	"github.com/signalsfoundry/platesim/internal/spatial"
	"github.com/signalsfoundry/platesim/internal/store"
	"github.com/signalsfoundry/platesim/model"
)

func newTestAggregate(t *testing.T, points ...model.Position) *sim.AggregateState {
	t.Helper()
	st, err := sim.NewAggregateState(cluster.New(2), spatial.NewLinear(), logging.Noop())
	if err != nil {
		t.Fatalf("NewAggregateState: %v", err)
	}
	if err := st.Restore(context.Background(), points); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	return st
}

func startServer(t *testing.T, srv *Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(context.Background(), lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestGetStatusOverGRPC(t *testing.T) {
	reg := prometheus.NewRegistry()
	rpc, err := observability.NewRPCCollector(reg)
	if err != nil {
		t.Fatalf("NewRPCCollector: %v", err)
	}
	st := newTestAggregate(t, model.Position{0, 0}, model.Position{2, 0}, model.Position{0, -2})
	srv := NewServer(st, RunInfo{RunID: "run-7", Dims: 2, TargetSize: 6, IndexKind: "kdtree"}, logging.Noop(), rpc)
	srv.SetPhase(PhaseRunning)
	conn := startServer(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, "x-request-id", "req-1")

	got, err := NewClusterServiceClient(conn).GetStatus(ctx, &emptypb.Empty{})
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	fields := got.AsMap()
	if fields["run_id"] != "run-7" || fields["phase"] != PhaseRunning || fields["index"] != "kdtree" {
		t.Fatalf("unexpected status %v", fields)
	}
	if fields["size"] != float64(3) || fields["radius"] != float64(2) || fields["progress"] != 0.5 {
		t.Fatalf("unexpected status %v", fields)
	}

	if got := testutil.ToFloat64(rpc.RPCRequests.WithLabelValues("ClusterService", "GetStatus", "OK")); got != 1 {
		t.Fatalf("platesim_rpc_requests_total = %v, want 1", got)
	}
}

func TestHealthService(t *testing.T) {
	srv := NewServer(newTestAggregate(t, model.Position{0, 0}), RunInfo{}, nil, nil)
	conn := startServer(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("health Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("health status = %v, want SERVING", resp.GetStatus())
	}
}

func TestGetStatusWithoutAggregate(t *testing.T) {
	svc := NewClusterService(nil, RunInfo{}, nil)
	_, err := svc.GetStatus(context.Background(), &emptypb.Empty{})
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("GetStatus code = %v, want Unavailable", status.Code(err))
	}
	if svc.Phase() != PhaseConfigured {
		t.Fatalf("initial phase = %q", svc.Phase())
	}
}

func TestToStatusError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		code    codes.Code
		wantNil bool
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "status passthrough", err: status.Error(codes.PermissionDenied, "denied"), code: codes.PermissionDenied},
		{name: "not found", err: fmt.Errorf("run x: %w", store.ErrNotFound), code: codes.NotFound},
		{name: "unavailable", err: ErrUnavailable, code: codes.Unavailable},
		{name: "out of sync", err: sim.ErrOutOfSync, code: codes.FailedPrecondition},
		{name: "cancelled", err: context.Canceled, code: codes.Canceled},
		{name: "deadline", err: context.DeadlineExceeded, code: codes.DeadlineExceeded},
		{name: "fallback", err: errors.New("boom"), code: codes.Internal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ToStatusError(tc.err)
			if tc.wantNil {
				if got != nil {
					t.Fatalf("ToStatusError(nil) = %v, want nil", got)
				}
				return
			}
			if code := status.Code(got); code != tc.code {
				t.Fatalf("ToStatusError(%v) code = %v, want %v", tc.err, code, tc.code)
			}
		})
	}
}

func TestRequestIDInterceptorHonoursMetadata(t *testing.T) {
	interceptor := RequestIDUnaryServerInterceptor(nil)
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-request-id", "abc"))

	var gotID string
	var gotLogger logging.Logger
	_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: GetStatusMethod}, func(ctx context.Context, req interface{}) (interface{}, error) {
		gotID = logging.RequestIDFromContext(ctx)
		gotLogger = logging.LoggerFromContext(ctx)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if gotID != "abc" || gotLogger == nil {
		t.Fatalf("request id = %q, logger = %v", gotID, gotLogger)
	}
}
