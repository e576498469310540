package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/platesim/cluster"
	"github.com/signalsfoundry/platesim/internal/logging"
	"github.com/signalsfoundry/platesim/internal/sim/state"
	"github.com/signalsfoundry/platesim/internal/spatial"
	"github.com/signalsfoundry/platesim/model"
)

const tracerName = "github.com/signalsfoundry/platesim/core"

// Status describes how a run ended.
type Status int

const (
	StatusCompleted Status = iota
	StatusCancelled
	StatusStalled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusStalled:
		return "stalled"
	default:
		return "failed"
	}
}

// Result summarises a run. Counters cover this process only, except Launched
// and SimTime which carry over from a restart checkpoint.
type Result struct {
	Status Status
	Size   int
	Radius float64

	Launched  int64
	Escaped   int64
	Stalled   int64
	Contacts  int64
	Bounces   int64
	Rejected  int64
	FarJumps  int64
	NearSteps int64
	Frames    int

	// SimTime is the simulated diffusion time, near steps × dt.
	SimTime float64
}

// FrameWriter receives a frame every write_frame_interval commits.
type FrameWriter interface {
	WriteFrame(ctx context.Context, f model.Frame) error
}

// CheckpointWriter receives a checkpoint alongside every frame.
type CheckpointWriter interface {
	WriteCheckpoint(ctx context.Context, cp model.Checkpoint) error
}

// MetricsRecorder receives per-particle observations from the engine.
type MetricsRecorder interface {
	state.ClusterMetricsRecorder
	ObserveLaunch()
	ObserveOutcome(outcome string, steps int)
	ObserveContacts(decision string, n int)
}

// Option customises engine construction.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log logging.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithFrameWriter attaches a frame sink.
func WithFrameWriter(w FrameWriter) Option {
	return func(e *Engine) { e.frames = w }
}

// WithCheckpointWriter attaches a checkpoint sink.
func WithCheckpointWriter(w CheckpointWriter) Option {
	return func(e *Engine) { e.checkpoints = w }
}

// WithIndexKind selects the nearest-neighbour index implementation.
func WithIndexKind(k spatial.Kind) Option {
	return func(e *Engine) { e.indexKind = k }
}

// WithRestart seeds the engine from a checkpoint instead of the origin.
func WithRestart(cp *model.Checkpoint) Option {
	return func(e *Engine) { e.restart = cp }
}

// WithRunID tags emitted checkpoints.
func WithRunID(id string) Option {
	return func(e *Engine) { e.runID = id }
}

// Engine grows one aggregate. Configure builds it, Run drives it.
type Engine struct {
	params      model.Parameters
	log         logging.Logger
	metrics     MetricsRecorder
	frames      FrameWriter
	checkpoints CheckpointWriter
	indexKind   spatial.Kind
	restart     *model.Checkpoint
	runID       string

	state   *state.AggregateState
	sampler *Sampler
	walker  *ParticleWalker

	running atomic.Bool

	// Run-scoped counters, owned by the goroutine inside Run.
	res        Result
	sinceStick int64
}

// Configure validates params and prepares the aggregate, seeded with the
// origin or the restart checkpoint. No particle is launched.
func Configure(params model.Parameters, opts ...Option) (*Engine, error) {
	params = params.WithDefaults()
	if err := params.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		params:    params,
		log:       logging.Noop(),
		indexKind: spatial.KindKDTree,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.log == nil {
		e.log = logging.Noop()
	}
	e.log = e.log.With(logging.String("component", "engine"))
	if e.runID != "" {
		e.log = e.log.With(logging.String("run_id", e.runID))
	}

	idx, err := spatial.New(e.indexKind, spatial.Options{
		Dims:        params.Dims,
		MaxLeafSize: params.MaxLeafSize,
		CellLength:  params.CellLength(),
	})
	if err != nil {
		return nil, err
	}
	var stateOpts []state.Option
	if e.metrics != nil {
		stateOpts = append(stateOpts, state.WithMetricsRecorder(e.metrics))
	}
	e.state, err = state.NewAggregateState(cluster.New(params.Dims), idx, e.log, stateOpts...)
	if err != nil {
		return nil, err
	}

	e.sampler = NewSampler(params.Seed)
	resolver := NewCollisionResolver(params.StickingProbability(), e.sampler, e.state)
	e.walker = NewParticleWalker(params, e.sampler, e.state, resolver)

	ctx := context.Background()
	if err := e.seed(ctx); err != nil {
		return nil, err
	}
	e.logParameters(ctx)
	return e, nil
}

func (e *Engine) seed(ctx context.Context) error {
	cp := e.restart
	if cp == nil {
		return e.state.Commit(ctx, model.Origin(e.params.Dims))
	}
	if cp.Dims != e.params.Dims {
		return &model.InvariantViolation{
			Name:   "restart dims",
			Value:  fmt.Sprint(cp.Dims),
			Reason: fmt.Sprintf("run is %d-dimensional", e.params.Dims),
		}
	}
	if cp.Size() == 0 {
		return &model.InvariantViolation{Name: "restart points", Value: "0", Reason: "checkpoint holds no plated points"}
	}
	if err := e.state.Restore(ctx, cp.Points); err != nil {
		return &model.InvariantViolation{Name: "restart points", Reason: err.Error()}
	}
	if got := e.state.Radius(); math.Abs(got-cp.Radius) > 1e-9*math.Max(1, cp.Radius) {
		return &model.InvariantViolation{
			Name:   "restart radius",
			Value:  fmt.Sprint(cp.Radius),
			Reason: fmt.Sprintf("points imply radius %v", got),
		}
	}
	if len(cp.RNGState) > 0 {
		if err := e.sampler.UnmarshalState(cp.RNGState); err != nil {
			return &model.InvariantViolation{Name: "restart rng state", Reason: err.Error()}
		}
	}
	e.res.Launched = cp.Launched
	e.res.SimTime = cp.SimTime
	e.log.Info(ctx, "restored aggregate from checkpoint",
		logging.Int("size", cp.Size()),
		logging.Float("radius", cp.Radius),
		logging.Bool("rng_restored", len(cp.RNGState) > 0),
	)
	return nil
}

func (e *Engine) logParameters(ctx context.Context) {
	p := e.params
	kappa := p.Kappa()
	e.log.Info(ctx, "configured aggregation",
		logging.Int("dims", p.Dims),
		logging.Int("cluster_size", p.ClusterSize),
		logging.Int("write_frame_interval", p.WriteFrameInterval),
		logging.Int("max_leaf_size", p.MaxLeafSize),
		logging.Any("seed", p.Seed),
		logging.String("index", string(e.indexKind)),
		logging.Float("dt", p.DT()),
		logging.Float("p", p.StickingProbability()),
		logging.Float("kappa", kappa),
		logging.Float("da", kappa*kappa),
		logging.Float("max_jump_length", p.MaxJumpLength()),
		logging.Float("cell_length", p.CellLength()),
		logging.Float("escape_factor", p.EscapeFactor),
		logging.String("stall_policy", p.StallPolicy.String()),
	)
}

// Params returns the validated parameters with defaults applied.
func (e *Engine) Params() model.Parameters { return e.params }

// State exposes the aggregate for concurrent readers such as the monitor.
func (e *Engine) State() *state.AggregateState { return e.state }

// Run launches particles until the cluster reaches cluster_size, ctx is
// cancelled, or a fatal error occurs. ctx is checked once per launch.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return Result{Status: StatusFailed}, ErrAlreadyRunning
	}
	defer e.running.Store(false)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "aggregation.run", trace.WithAttributes(
		attribute.Int("platesim.dims", e.params.Dims),
		attribute.Int("platesim.cluster_size", e.params.ClusterSize),
		attribute.Int("platesim.start_size", e.state.Size()),
	))
	defer span.End()

	status, err := e.loop(ctx)
	res := e.result(status)
	span.SetAttributes(
		attribute.Int("platesim.size", res.Size),
		attribute.Float64("platesim.radius", res.Radius),
		attribute.String("platesim.status", status.String()),
	)
	if err != nil && status != StatusCancelled {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	fields := []logging.Field{
		logging.String("status", status.String()),
		logging.Int("size", res.Size),
		logging.Float("radius", res.Radius),
		logging.Any("launched", res.Launched),
		logging.Float("sim_time", res.SimTime),
	}
	switch {
	case err == nil:
		e.log.Info(ctx, "aggregation finished", fields...)
	case status == StatusCancelled:
		e.log.Info(ctx, "aggregation cancelled", fields...)
	default:
		e.log.Error(ctx, "aggregation aborted", append(fields, logging.Err(err))...)
	}
	return res, err
}

func (e *Engine) loop(ctx context.Context) (Status, error) {
	dt := e.params.DT()
	for e.state.Size() < e.params.ClusterSize {
		if err := ctx.Err(); err != nil {
			return StatusCancelled, err
		}

		p := e.walker.Spawn(e.state.Radius())
		e.res.Launched++
		e.sinceStick++
		if e.metrics != nil {
			e.metrics.ObserveLaunch()
		}

		err := e.walker.Walk(p)
		e.account(p, dt)
		if err != nil {
			return StatusFailed, err
		}

		switch p.State {
		case Stuck:
			if err := e.commit(ctx, p.Position); err != nil {
				return StatusFailed, err
			}
		case Escaped:
			e.res.Escaped++
		case Stalled:
			e.res.Stalled++
			stall := &StallError{
				Size:     e.state.Size(),
				Steps:    p.Steps,
				Launches: e.sinceStick,
				Reason:   fmt.Sprintf("particle exceeded %d steps", e.params.MaxStepsPerParticle),
			}
			if e.params.StallPolicy == model.StallAbort {
				return StatusStalled, stall
			}
			e.log.Warn(ctx, "respawning stalled particle", logging.Err(stall))
		}

		if e.sinceStick >= int64(e.params.MaxLaunchesPerParticle) {
			return StatusStalled, &StallError{
				Size:     e.state.Size(),
				Steps:    p.Steps,
				Launches: e.sinceStick,
				Reason:   fmt.Sprintf("no particle stuck in %d consecutive launches", e.sinceStick),
			}
		}
	}
	return StatusCompleted, nil
}

func (e *Engine) account(p *Particle, dt float64) {
	e.res.Contacts += int64(p.Contacts)
	e.res.Bounces += int64(p.Bounces)
	e.res.Rejected += int64(p.Rejected)
	e.res.FarJumps += int64(p.FarJumps)
	e.res.NearSteps += int64(p.NearSteps)
	e.res.SimTime += float64(p.NearSteps) * dt

	if e.metrics == nil {
		return
	}
	e.metrics.ObserveOutcome(p.State.String(), p.Steps)
	stuck := 0
	if p.State == Stuck {
		stuck = 1
	}
	e.metrics.ObserveContacts(DecisionStick.String(), stuck)
	e.metrics.ObserveContacts(DecisionBounce.String(), p.Bounces)
	e.metrics.ObserveContacts(DecisionRejected.String(), p.Rejected)
}

func (e *Engine) commit(ctx context.Context, pos model.Position) error {
	if err := e.state.Commit(ctx, pos); err != nil {
		return err
	}
	e.sinceStick = 0

	size := e.state.Size()
	if size%e.params.WriteFrameInterval != 0 {
		return nil
	}
	e.emit(ctx, size)
	return nil
}

// emit hands a frame and a checkpoint to the sinks. Sink failures are logged
// and never stop the run.
func (e *Engine) emit(ctx context.Context, size int) {
	snap := e.state.Snapshot()
	frame := model.Frame{
		Index:  size / e.params.WriteFrameInterval,
		Dims:   snap.Dims,
		Radius: snap.Radius,
		Points: snap.Points,
	}
	e.res.Frames++
	e.log.Info(ctx, "frame",
		logging.Int("index", frame.Index),
		logging.Int("size", frame.Size()),
		logging.Float("radius", frame.Radius),
	)
	trace.SpanFromContext(ctx).AddEvent("frame", trace.WithAttributes(
		attribute.Int("platesim.frame", frame.Index),
		attribute.Int("platesim.size", frame.Size()),
	))

	if e.frames != nil {
		if err := e.frames.WriteFrame(ctx, frame); err != nil {
			e.log.Warn(ctx, "frame write failed", logging.Int("index", frame.Index), logging.Err(err))
		}
	}
	if e.checkpoints != nil {
		cp, err := e.Checkpoint()
		if err == nil {
			err = e.checkpoints.WriteCheckpoint(ctx, cp)
		}
		if err != nil {
			e.log.Warn(ctx, "checkpoint write failed", logging.Int("size", size), logging.Err(err))
		}
	}
}

// Checkpoint captures the current aggregate and sampler state. Between
// launches it is sufficient to resume the run exactly. It must not be called
// while Run is in progress on another goroutine.
func (e *Engine) Checkpoint() (model.Checkpoint, error) {
	rng, err := e.sampler.MarshalState()
	if err != nil {
		return model.Checkpoint{}, err
	}
	snap := e.state.Snapshot()
	return model.Checkpoint{
		RunID:    e.runID,
		Dims:     snap.Dims,
		Radius:   snap.Radius,
		Points:   snap.Points,
		RNGState: rng,
		Launched: e.res.Launched,
		SimTime:  e.res.SimTime,
	}, nil
}

func (e *Engine) result(status Status) Result {
	res := e.res
	res.Status = status
	res.Size = e.state.Size()
	res.Radius = e.state.Radius()
	return res
}

// IsStall reports whether err is a StallError.
func IsStall(err error) bool {
	return errors.Is(err, ErrStall)
}
