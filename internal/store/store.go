// Package store persists runs, their plated points, frames and checkpoints
// in a SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/encoding/json"
	_ "modernc.org/sqlite"

	"github.com/signalsfoundry/platesim/internal/checkpoint"
	"github.com/signalsfoundry/platesim/internal/logging"
	"github.com/signalsfoundry/platesim/model"
)

// ErrNotFound is returned when a run or checkpoint does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite handle.
type Store struct {
	db  *sql.DB
	log logging.Logger
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string, log logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Noop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory:
	// databases shared across calls.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db, log: log.With(logging.String("component", "store"))}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// RunInfo is a row of the runs table.
type RunInfo struct {
	ID         string
	CreatedAt  time.Time
	Dims       int
	IndexKind  string
	Params     model.Parameters
	Status     string
	Size       int
	Radius     float64
	Launched   int64
	SimTime    float64
	FinishedAt *time.Time
}

// CreateRun records a new run and its parameters.
func (s *Store) CreateRun(ctx context.Context, id string, params model.Parameters, indexKind string) error {
	b, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, dims, index_kind, params_json) VALUES (?, ?, ?, ?, ?)`,
		id, time.Now().UTC(), params.Dims, indexKind, string(b))
	if err != nil {
		return fmt.Errorf("create run %s: %w", id, err)
	}
	return nil
}

// FinishRun records the final state of a run.
func (s *Store) FinishRun(ctx context.Context, id, status string, size int, radius float64, launched int64, simTime float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, size = ?, radius = ?, launched = ?, sim_time = ?, finished_at = ? WHERE id = ?`,
		status, size, radius, launched, simTime, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// Run returns the stored record for id.
func (s *Store) Run(ctx context.Context, id string) (RunInfo, error) {
	var (
		info     RunInfo
		params   string
		finished sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, dims, index_kind, params_json, status, size, radius, launched, sim_time, finished_at
		   FROM runs WHERE id = ?`, id).
		Scan(&info.ID, &info.CreatedAt, &info.Dims, &info.IndexKind, &params, &info.Status,
			&info.Size, &info.Radius, &info.Launched, &info.SimTime, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return RunInfo{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return RunInfo{}, fmt.Errorf("load run %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(params), &info.Params); err != nil {
		return RunInfo{}, fmt.Errorf("decode params of run %s: %w", id, err)
	}
	if finished.Valid {
		t := finished.Time
		info.FinishedAt = &t
	}
	return info, nil
}

// LatestRunID returns the most recently created run.
func (s *Store) LatestRunID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM runs ORDER BY created_at DESC, rowid DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("latest run: %w", ErrNotFound)
	}
	return id, err
}

// Points returns the plated points recorded for a run, in insertion order.
func (s *Store) Points(ctx context.Context, runID string) ([]model.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT x, y, z FROM points WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var (
			x, y float64
			z    sql.NullFloat64
		)
		if err := rows.Scan(&x, &y, &z); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		if z.Valid {
			out = append(out, model.Position{x, y, z.Float64})
		} else {
			out = append(out, model.Position{x, y})
		}
	}
	return out, rows.Err()
}

// WriteFrame records f for runID and appends any plated points not stored
// yet, so the points table always holds a prefix of the cluster.
func (s *Store) WriteFrame(ctx context.Context, runID string, f model.Frame) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin frame tx: %w", err)
	}
	defer tx.Rollback()

	var stored int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM points WHERE run_id = ?`, runID).Scan(&stored); err != nil {
		return fmt.Errorf("count points: %w", err)
	}
	if stored < f.Size() {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO points (run_id, seq, x, y, z) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare point insert: %w", err)
		}
		defer stmt.Close()
		for i := stored; i < f.Size(); i++ {
			p := f.Points[i]
			var z any
			if len(p) > 2 {
				z = p[2]
			}
			if _, err := stmt.ExecContext(ctx, runID, i, p[0], p[1], z); err != nil {
				return fmt.Errorf("insert point %d: %w", i, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO frames (run_id, frame, size, radius, written_at) VALUES (?, ?, ?, ?, ?)`,
		runID, f.Index, f.Size(), f.Radius, time.Now().UTC()); err != nil {
		return fmt.Errorf("insert frame %d: %w", f.Index, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET size = ?, radius = ? WHERE id = ?`, f.Size(), f.Radius, runID); err != nil {
		return fmt.Errorf("update run progress: %w", err)
	}
	return tx.Commit()
}

// FrameCount returns how many frames are stored for runID.
func (s *Store) FrameCount(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM frames WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

// WriteCheckpoint stores an encoded checkpoint keyed by its size.
func (s *Store) WriteCheckpoint(ctx context.Context, runID string, cp model.Checkpoint) error {
	b, err := checkpoint.Encode(cp)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO checkpoints (run_id, size, radius, data, written_at) VALUES (?, ?, ?, ?, ?)`,
		runID, cp.Size(), cp.Radius, b, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// LatestCheckpoint returns the largest checkpoint of runID, or of the most
// recent run when runID is empty.
func (s *Store) LatestCheckpoint(ctx context.Context, runID string) (model.Checkpoint, error) {
	if runID == "" {
		id, err := s.LatestRunID(ctx)
		if err != nil {
			return model.Checkpoint{}, err
		}
		runID = id
	}
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM checkpoints WHERE run_id = ? ORDER BY size DESC LIMIT 1`, runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Checkpoint{}, fmt.Errorf("checkpoint for run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return model.Checkpoint{}, fmt.Errorf("load checkpoint: %w", err)
	}
	return checkpoint.Decode(data)
}

// RunSink binds the store to one run so it satisfies the engine's frame and
// checkpoint writer interfaces.
type RunSink struct {
	s     *Store
	runID string
}

// Sink returns a RunSink for runID.
func (s *Store) Sink(runID string) *RunSink {
	return &RunSink{s: s, runID: runID}
}

func (r *RunSink) WriteFrame(ctx context.Context, f model.Frame) error {
	return r.s.WriteFrame(ctx, r.runID, f)
}

func (r *RunSink) WriteCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	return r.s.WriteCheckpoint(ctx, r.runID, cp)
}
