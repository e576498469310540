package core

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/signalsfoundry/platesim/internal/spatial"
	"github.com/signalsfoundry/platesim/model"
)

type recordingSink struct {
	mu          sync.Mutex
	frames      []model.Frame
	checkpoints []model.Checkpoint
	err         error
}

func (r *recordingSink) WriteFrame(_ context.Context, f model.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return r.err
}

func (r *recordingSink) WriteCheckpoint(_ context.Context, cp model.Checkpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkpoints = append(r.checkpoints, cp)
	return r.err
}

type countingMetrics struct {
	launches int
	outcomes map[string]int
	contacts map[string]int
	size     int
	radius   float64
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{outcomes: map[string]int{}, contacts: map[string]int{}}
}

func (m *countingMetrics) ObserveLaunch() { m.launches++ }

func (m *countingMetrics) ObserveOutcome(outcome string, _ int) { m.outcomes[outcome]++ }

func (m *countingMetrics) ObserveContacts(decision string, n int) { m.contacts[decision] += n }

func (m *countingMetrics) SetClusterStats(size int, radius float64) { m.size, m.radius = size, radius }

func runEngine(t *testing.T, params model.Parameters, opts ...Option) (*Engine, Result) {
	t.Helper()
	e, err := Configure(params, opts...)
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return e, res
}

func TestConfigureValidatesAndDoesNoWork(t *testing.T) {
	bad := testParams()
	bad.Dims = 4
	var iv *model.InvariantViolation
	if _, err := Configure(bad); !errors.As(err, &iv) || iv.Name != "dims" {
		t.Fatalf("Configure error = %v, want dims InvariantViolation", err)
	}

	e, err := Configure(testParams())
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if e.State().Size() != 1 || e.State().Radius() != 0 {
		t.Fatalf("configured state size=%d radius=%v, want the origin seed only", e.State().Size(), e.State().Radius())
	}
}

func TestAlwaysStickNeverBounces(t *testing.T) {
	params := testParams()
	_, res := runEngine(t, params)

	if res.Status != StatusCompleted || res.Size != params.ClusterSize {
		t.Fatalf("result = %+v", res)
	}
	if res.Bounces != 0 {
		t.Fatalf("bounces = %d with p = 1", res.Bounces)
	}
	if res.SimTime != float64(res.NearSteps)*params.DT() {
		t.Fatalf("sim time = %v, want %v", res.SimTime, float64(res.NearSteps)*params.DT())
	}
}

func TestNoOverlapAndExactRadius(t *testing.T) {
	for _, dims := range []int{2, 3} {
		params := testParams()
		params.Dims = dims
		params.FractionMaxKappa = 0.5
		e, res := runEngine(t, params)

		points := e.State().Snapshot().Points
		limit := (model.Diameter - model.SpatialEpsilon) * (model.Diameter - model.SpatialEpsilon)
		var radius float64
		for i, a := range points {
			radius = math.Max(radius, a.Norm())
			for _, b := range points[i+1:] {
				if d := a.DistanceSquared(b); d < limit {
					t.Fatalf("dims=%d: plated points %v and %v overlap (d=%v)", dims, a, b, math.Sqrt(d))
				}
			}
		}
		if res.Radius != radius {
			t.Fatalf("dims=%d: radius = %v, want %v", dims, res.Radius, radius)
		}
		if res.Bounces == 0 {
			t.Fatalf("dims=%d: expected bounces with p = 0.5", dims)
		}
	}
}

func TestNeverStickStalls(t *testing.T) {
	params := testParams()
	params.FractionMaxKappa = 0
	params.MaxLaunchesPerParticle = 5

	e, err := Configure(params)
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	res, err := e.Run(context.Background())
	var stall *StallError
	if !errors.As(err, &stall) || !IsStall(err) {
		t.Fatalf("Run error = %v, want StallError", err)
	}
	if res.Status != StatusStalled || res.Size != 1 || stall.Launches != 5 {
		t.Fatalf("result = %+v, stall = %+v", res, stall)
	}
}

func TestStepBudgetPolicies(t *testing.T) {
	params := testParams()
	params.MaxStepsPerParticle = 1

	e, err := Configure(params)
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	res, err := e.Run(context.Background())
	if !IsStall(err) || res.Stalled != 1 || res.Launched != 1 {
		t.Fatalf("abort policy: err=%v result=%+v", err, res)
	}

	params.StallPolicy = model.StallRespawn
	params.MaxLaunchesPerParticle = 4
	e, err = Configure(params)
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	res, err = e.Run(context.Background())
	if !IsStall(err) || res.Stalled != 4 || res.Launched != 4 {
		t.Fatalf("respawn policy: err=%v result=%+v", err, res)
	}
}

func TestDeterministicForSeed(t *testing.T) {
	params := testParams()
	params.FractionMaxKappa = 0.7
	a, _ := runEngine(t, params)
	b, _ := runEngine(t, params)

	if diff := cmp.Diff(a.State().Snapshot().Points, b.State().Snapshot().Points); diff != "" {
		t.Fatalf("same seed produced different clusters (-a +b):\n%s", diff)
	}

	params.Seed++
	c, _ := runEngine(t, params)
	if cmp.Equal(a.State().Snapshot().Points, c.State().Snapshot().Points) {
		t.Fatal("different seeds produced identical clusters")
	}
}

func TestIndexKindDoesNotChangeTrajectory(t *testing.T) {
	params := testParams()
	params.ClusterSize = 30
	params.FractionMaxKappa = 0.6

	want, _ := runEngine(t, params, WithIndexKind(spatial.KindLinear))
	for _, kind := range []spatial.Kind{spatial.KindKDTree, spatial.KindGrid} {
		got, _ := runEngine(t, params, WithIndexKind(kind))
		if diff := cmp.Diff(want.State().Snapshot().Points, got.State().Snapshot().Points); diff != "" {
			t.Fatalf("%s index diverged from linear scan (-want +got):\n%s", kind, diff)
		}
	}
}

func TestCancelledBeforeFirstLaunch(t *testing.T) {
	e, err := Configure(testParams())
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := e.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if res.Status != StatusCancelled || res.Size != 1 || res.Launched != 0 {
		t.Fatalf("result = %+v", res)
	}
}

func TestFramesAndCheckpointsEmitted(t *testing.T) {
	params := testParams()
	sink := &recordingSink{}
	metrics := newCountingMetrics()
	_, res := runEngine(t, params, WithFrameWriter(sink), WithCheckpointWriter(sink), WithMetrics(metrics), WithRunID("run-1"))

	if len(sink.frames) != 5 || res.Frames != 5 {
		t.Fatalf("frames = %d (result %d), want 5", len(sink.frames), res.Frames)
	}
	for i, f := range sink.frames {
		if f.Index != i+1 || f.Size() != (i+1)*params.WriteFrameInterval || f.Dims != 2 {
			t.Fatalf("frame %d = index %d size %d", i, f.Index, f.Size())
		}
	}
	if len(sink.checkpoints) != 5 || sink.checkpoints[4].RunID != "run-1" || len(sink.checkpoints[4].RNGState) == 0 {
		t.Fatalf("unexpected checkpoints: %d", len(sink.checkpoints))
	}
	if metrics.launches != int(res.Launched) || metrics.size != res.Size || metrics.radius != res.Radius {
		t.Fatalf("metrics = %+v, result = %+v", metrics, res)
	}
	if metrics.outcomes["stuck"] != params.ClusterSize-1 || metrics.contacts["stick"] != params.ClusterSize-1 {
		t.Fatalf("outcomes = %v contacts = %v", metrics.outcomes, metrics.contacts)
	}
}

func TestSinkFailuresDoNotStopRun(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	_, res := runEngine(t, testParams(), WithFrameWriter(sink), WithCheckpointWriter(sink))
	if res.Status != StatusCompleted || len(sink.frames) != 5 {
		t.Fatalf("result = %+v, frames = %d", res, len(sink.frames))
	}
}

func TestResumeEqualsUninterrupted(t *testing.T) {
	params := testParams()
	params.ClusterSize = 40
	params.FractionMaxKappa = 0.8

	sink := &recordingSink{}
	full, fullRes := runEngine(t, params, WithCheckpointWriter(sink))

	cp := sink.checkpoints[1]
	if cp.Size() != 20 {
		t.Fatalf("checkpoint size = %d, want 20", cp.Size())
	}
	resumed, res := runEngine(t, params, WithRestart(&cp))

	if diff := cmp.Diff(full.State().Snapshot().Points, resumed.State().Snapshot().Points); diff != "" {
		t.Fatalf("resumed run diverged (-full +resumed):\n%s", diff)
	}
	if res.Launched != fullRes.Launched || res.Radius != fullRes.Radius {
		t.Fatalf("resumed result %+v, full %+v", res, fullRes)
	}
}

func TestRestartRejectsMismatchedCheckpoint(t *testing.T) {
	params := testParams()
	cases := map[string]model.Checkpoint{
		"dims":   {Dims: 3, Points: []model.Position{{0, 0, 0}}},
		"empty":  {Dims: 2},
		"radius": {Dims: 2, Radius: 9, Points: []model.Position{{0, 0}, {2, 0}}},
		"rng":    {Dims: 2, Radius: 0, Points: []model.Position{{0, 0}}, RNGState: []byte("x")},
	}
	for name, cp := range cases {
		cp := cp
		var iv *model.InvariantViolation
		if _, err := Configure(params, WithRestart(&cp)); !errors.As(err, &iv) {
			t.Fatalf("%s: Configure error = %v, want InvariantViolation", name, err)
		}
	}
}

func TestRunRejectsConcurrentUse(t *testing.T) {
	e, err := Configure(testParams())
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	e.running.Store(true)
	if _, err := e.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("Run error = %v, want ErrAlreadyRunning", err)
	}
}
