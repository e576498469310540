// Command platesim grows a diffusion-limited aggregate with a finite sticking
// probability and writes frames and checkpoints as it goes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/platesim/core"
	"github.com/signalsfoundry/platesim/internal/checkpoint"
	"github.com/signalsfoundry/platesim/internal/config"
	"github.com/signalsfoundry/platesim/internal/frames"
	"github.com/signalsfoundry/platesim/internal/logging"
	"github.com/signalsfoundry/platesim/internal/monitor"
	"github.com/signalsfoundry/platesim/internal/observability"
	"github.com/signalsfoundry/platesim/internal/pipeline"
	"github.com/signalsfoundry/platesim/internal/spatial"
	"github.com/signalsfoundry/platesim/internal/store"
	"github.com/signalsfoundry/platesim/timectrl"
	"github.com/signalsfoundry/platesim/model"
)

// Config carries the command-line surface of a run.
type Config struct {
	ParamsPath string
	Dims       int
	OutputDir  string
	StorePath  string
	// RestartRun names a stored run to resume from; "latest" picks the most
	// recent one. It is ignored when the params file sets restart_path.
	RestartRun string
	Index      string

	MetricsAddress   string
	GRPCAddress      string
	QueueCapacity    int
	ProgressInterval time.Duration
}

const (
	checkpointFilename = "checkpoint.pb"
	jsonFramesFilename = "frames.jsonl"
)

func main() {
	var cfg Config
	flag.StringVar(&cfg.ParamsPath, "params", config.DefaultFilename, "Path to the params file")
	flag.IntVar(&cfg.Dims, "dims", 2, "Spatial dimensions (2 or 3)")
	flag.StringVar(&cfg.OutputDir, "out", "out", "Directory for frame files and the latest checkpoint; empty disables file output")
	flag.StringVar(&cfg.StorePath, "store", "", "SQLite run store path; empty disables the store")
	flag.StringVar(&cfg.RestartRun, "restart-run", "", `Resume from the latest checkpoint of this stored run ("latest" for the most recent)`)
	flag.StringVar(&cfg.Index, "index", "", "Override the nearest-neighbour index (kdtree, grid, linear)")
	flag.StringVar(&cfg.MetricsAddress, "metrics-addr", ":9090", "HTTP address for Prometheus /metrics; empty disables")
	flag.StringVar(&cfg.GRPCAddress, "grpc-addr", "", "TCP address for the gRPC monitor; empty disables")
	flag.IntVar(&cfg.QueueCapacity, "queue", 16, "Capacity of the frame and checkpoint queues")
	flag.DurationVar(&cfg.ProgressInterval, "progress", 10*time.Second, "Interval between progress log lines; 0 disables")
	flag.Parse()

	log := logging.NewFromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}

	var lis net.Listener
	if cfg.GRPCAddress != "" {
		lis, err = net.Listen("tcp", cfg.GRPCAddress)
		if err != nil {
			log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.GRPCAddress), logging.Err(err))
			os.Exit(1)
		}
	}

	res, err := run(ctx, cfg, log, lis)
	observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)
	os.Exit(exitCode(res, err))
}

func exitCode(res core.Result, err error) int {
	switch {
	case err == nil:
		return 0
	case res.Status == core.StatusCancelled:
		return 0
	case core.IsStall(err):
		return 2
	default:
		return 1
	}
}

// run executes one aggregation. lis, when non-nil, serves the gRPC monitor
// for the lifetime of the run and is closed on return.
func run(ctx context.Context, cfg Config, log logging.Logger, lis net.Listener) (core.Result, error) {
	if log == nil {
		log = logging.Noop()
	}
	if lis != nil {
		// Serve closes it once the monitor starts; this covers early returns.
		defer lis.Close()
	}

	settings, err := loadSettings(cfg)
	if err != nil {
		return core.Result{Status: core.StatusFailed}, err
	}

	runID := uuid.NewString()
	ctx = logging.ContextWithRunID(ctx, runID)
	log = log.With(logging.String("run_id", runID))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	aggMetrics, err := observability.NewAggregationCollector(reg)
	if err != nil {
		return core.Result{Status: core.StatusFailed}, fmt.Errorf("aggregation metrics: %w", err)
	}
	rpcMetrics, err := observability.NewRPCCollector(reg)
	if err != nil {
		return core.Result{Status: core.StatusFailed}, fmt.Errorf("rpc metrics: %w", err)
	}
	metricsSrv := serveMetrics(cfg.MetricsAddress, aggMetrics, log)
	defer shutdownMetrics(metricsSrv)

	// Store bookkeeping must survive a stop signal so the run is recorded.
	storeCtx := context.WithoutCancel(ctx)
	var st *store.Store
	if cfg.StorePath != "" {
		st, err = store.Open(storeCtx, cfg.StorePath, log)
		if err != nil {
			return core.Result{Status: core.StatusFailed}, err
		}
		defer st.Close()
	}

	restart, err := loadRestart(storeCtx, cfg, settings.Params, st, log)
	if err != nil {
		return core.Result{Status: core.StatusFailed}, err
	}

	frameSink, checkpointSink, err := buildSinks(cfg, runID, st)
	if err != nil {
		return core.Result{Status: core.StatusFailed}, err
	}
	if closer, ok := frameSink.(*closingFrames); ok {
		defer closer.close()
	}

	if st != nil {
		if err := st.CreateRun(storeCtx, runID, settings.Params, string(settings.Index)); err != nil {
			return core.Result{Status: core.StatusFailed}, err
		}
	}

	queueOpts := []pipeline.QueueOption{pipeline.WithLogger(log), pipeline.WithDropRecorder(aggMetrics)}
	var (
		asyncFrames      *pipeline.AsyncFrames
		asyncCheckpoints *pipeline.AsyncCheckpoints
		engineOpts       = []core.Option{
			core.WithLogger(log),
			core.WithMetrics(aggMetrics),
			core.WithIndexKind(settings.Index),
			core.WithRunID(runID),
			core.WithRestart(restart),
		}
	)
	if frameSink != nil {
		asyncFrames = pipeline.NewAsyncFrames(ctx, frameSink, cfg.QueueCapacity, queueOpts...)
		engineOpts = append(engineOpts, core.WithFrameWriter(asyncFrames))
	}
	if checkpointSink != nil {
		asyncCheckpoints = pipeline.NewAsyncCheckpoints(ctx, checkpointSink, cfg.QueueCapacity, queueOpts...)
		engineOpts = append(engineOpts, core.WithCheckpointWriter(asyncCheckpoints))
	}

	engine, err := core.Configure(settings.Params, engineOpts...)
	if err != nil {
		closeQueues(ctx, log, asyncFrames, asyncCheckpoints)
		finishRun(ctx, log, st, runID, core.Result{Status: core.StatusFailed})
		return core.Result{Status: core.StatusFailed}, err
	}

	var mon *monitor.Server
	if lis != nil {
		mon = monitor.NewServer(engine.State(), monitor.RunInfo{
			RunID:      runID,
			Dims:       settings.Params.Dims,
			TargetSize: settings.Params.ClusterSize,
			IndexKind:  string(settings.Index),
		}, log, rpcMetrics)
	}

	progress := timectrl.NewTimeController(cfg.ProgressInterval, nil)
	progress.AddListener(progressReporter(ctx, log, engine, settings.Params.ClusterSize))

	g, gctx := errgroup.WithContext(ctx)
	auxCtx, stopAux := context.WithCancel(gctx)
	defer stopAux()

	var (
		res    core.Result
		runErr error
	)
	g.Go(func() error {
		defer stopAux()
		if mon != nil {
			mon.SetPhase(monitor.PhaseRunning)
		}
		res, runErr = engine.Run(gctx)
		if mon != nil {
			mon.SetPhase(res.Status.String())
		}
		return nil
	})
	g.Go(func() error { return progress.Run(auxCtx) })
	if mon != nil {
		g.Go(func() error { return mon.Serve(auxCtx, lis) })
		g.Go(func() error {
			<-auxCtx.Done()
			mon.Stop()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("monitor: %w", err))
	}

	closeQueues(ctx, log, asyncFrames, asyncCheckpoints)
	writeFinalCheckpoint(ctx, log, engine, checkpointSink)
	finishRun(ctx, log, st, runID, res)
	return res, runErr
}

func loadSettings(cfg Config) (config.Settings, error) {
	params, err := config.Load(cfg.ParamsPath)
	if err != nil {
		return config.Settings{}, err
	}
	settings, err := config.ToSettings(params, cfg.Dims)
	if err != nil {
		return config.Settings{}, err
	}
	if cfg.Index != "" {
		kind, err := spatial.ParseKind(cfg.Index)
		if err != nil {
			return config.Settings{}, &config.ConfigError{Key: "index", Value: cfg.Index, Err: err}
		}
		settings.Index = kind
	}
	return settings, nil
}

// loadRestart resolves the restart checkpoint: restart_path from the params
// file wins over a stored run.
func loadRestart(ctx context.Context, cfg Config, params model.Parameters, st *store.Store, log logging.Logger) (*model.Checkpoint, error) {
	switch {
	case params.RestartPath != "":
		cp, err := checkpoint.Load(params.RestartPath)
		if err != nil {
			return nil, fmt.Errorf("restart_path %s: %w", params.RestartPath, err)
		}
		log.Info(ctx, "restarting from checkpoint file",
			logging.String("path", params.RestartPath),
			logging.Int("size", cp.Size()),
		)
		return &cp, nil
	case cfg.RestartRun != "":
		if st == nil {
			return nil, errors.New("restart-run requires a store")
		}
		id := cfg.RestartRun
		if id == "latest" {
			id = ""
		}
		cp, err := st.LatestCheckpoint(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("restart from store: %w", err)
		}
		log.Info(ctx, "restarting from stored run",
			logging.String("from_run_id", cp.RunID),
			logging.Int("size", cp.Size()),
		)
		return &cp, nil
	default:
		return nil, nil
	}
}

// closingFrames owns the JSON lines file behind a frame writer.
type closingFrames struct {
	frames.Multi
	file *os.File
}

func (c *closingFrames) close() {
	if c.file != nil {
		_ = c.file.Close()
	}
}

// checkpointWriters fans a checkpoint out to every writer.
type checkpointWriters []core.CheckpointWriter

func (w checkpointWriters) WriteCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	var errs []error
	for _, cw := range w {
		if err := cw.WriteCheckpoint(ctx, cp); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildSinks(cfg Config, runID string, st *store.Store) (frames.Writer, core.CheckpointWriter, error) {
	var (
		fw   frames.Multi
		cw   checkpointWriters
		file *os.File
	)
	if cfg.OutputDir != "" {
		dir, err := frames.NewDirWriter(filepath.Join(cfg.OutputDir, "frames"))
		if err != nil {
			return nil, nil, err
		}
		file, err = os.Create(filepath.Join(cfg.OutputDir, jsonFramesFilename))
		if err != nil {
			return nil, nil, fmt.Errorf("create frame log: %w", err)
		}
		fw = append(fw, dir, frames.NewJSONLinesWriter(file))
		cw = append(cw, checkpoint.NewFileWriter(filepath.Join(cfg.OutputDir, checkpointFilename)))
	}
	if st != nil {
		sink := st.Sink(runID)
		fw = append(fw, sink)
		cw = append(cw, sink)
	}

	var frameSink frames.Writer
	if len(fw) > 0 {
		frameSink = &closingFrames{Multi: fw, file: file}
	}
	var checkpointSink core.CheckpointWriter
	if len(cw) > 0 {
		checkpointSink = cw
	}
	return frameSink, checkpointSink, nil
}

func closeQueues(ctx context.Context, log logging.Logger, f *pipeline.AsyncFrames, c *pipeline.AsyncCheckpoints) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if f != nil {
		if err := f.Close(ctx); err != nil {
			log.Warn(ctx, "frame queue did not drain", logging.Err(err))
		}
	}
	if c != nil {
		if err := c.Close(ctx); err != nil {
			log.Warn(ctx, "checkpoint queue did not drain", logging.Err(err))
		}
	}
}

// writeFinalCheckpoint records the state the run stopped in, synchronously
// so it can never be dropped.
func writeFinalCheckpoint(ctx context.Context, log logging.Logger, engine *core.Engine, w core.CheckpointWriter) {
	if w == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	cp, err := engine.Checkpoint()
	if err != nil {
		log.Warn(ctx, "final checkpoint unavailable", logging.Err(err))
		return
	}
	if err := w.WriteCheckpoint(ctx, cp); err != nil {
		log.Warn(ctx, "final checkpoint failed", logging.Err(err))
		return
	}
	log.Info(ctx, "wrote final checkpoint", logging.Int("size", cp.Size()))
}

func finishRun(ctx context.Context, log logging.Logger, st *store.Store, runID string, res core.Result) {
	if st == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := st.FinishRun(ctx, runID, res.Status.String(), res.Size, res.Radius, res.Launched, res.SimTime); err != nil {
		log.Warn(ctx, "failed to record run result", logging.Err(err))
	}
}

func progressReporter(ctx context.Context, log logging.Logger, engine *core.Engine, target int) func(time.Duration) {
	return func(elapsed time.Duration) {
		snap := engine.State().Snapshot()
		rate := 0.0
		if s := elapsed.Seconds(); s > 0 {
			rate = float64(snap.Size()) / s
		}
		log.Info(ctx, "progress",
			logging.Int("size", snap.Size()),
			logging.Int("target", target),
			logging.Float("radius", snap.Radius),
			logging.Float("particles_per_second", rate),
			logging.Duration("elapsed", elapsed),
		)
	}
}

func serveMetrics(addr string, collector *observability.AggregationCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func shutdownMetrics(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
