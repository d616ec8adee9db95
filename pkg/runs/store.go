// Package runs keeps a SQLite registry of alignment runs: the
// hyper-parameters, the optimizer trace, the evaluation metrics and the
// learned matrix of each run.
package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/liliang-cn/vecalign/internal/encoding"
	"github.com/liliang-cn/vecalign/pkg/align"
	"github.com/liliang-cn/vecalign/pkg/core"
	"gonum.org/v1/gonum/mat"

	_ "modernc.org/sqlite" // SQLite driver
)

// fixed width so created_at sorts lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run is one recorded alignment.
type Run struct {
	ID         string             `json:"id"`
	CreatedAt  time.Time          `json:"created_at"`
	Source     string             `json:"source"`
	Target     string             `json:"target"`
	Config     align.Config       `json:"config"`
	Objective  float64            `json:"objective"` // +Inf when no iteration ran
	Iterations int                `json:"iterations"`
	State      string             `json:"state"`
	LR         float64            `json:"lr"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Matrix     *mat.Dense         `json:"-"`
	Steps      []align.Step       `json:"steps,omitempty"`
}

// FromResult builds a Run from a finished optimizer result.
func FromResult(source, target string, cfg align.Config, res *align.Result) *Run {
	return &Run{
		ID:         uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
		Source:     source,
		Target:     target,
		Config:     cfg,
		Objective:  res.Objective,
		Iterations: res.Iterations,
		State:      res.State.String(),
		LR:         res.LR,
		Metrics:    map[string]float64{},
		Matrix:     res.R,
		Steps:      res.History,
	}
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the store's logger
func WithLogger(l core.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Store is a run registry backed by a single SQLite file.
type Store struct {
	db     *sql.DB
	path   string
	mu     sync.RWMutex
	closed bool
	logger core.Logger
}

// New creates a store for path. Call Init before use.
func New(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, core.WrapError("new_store", fmt.Errorf("database path cannot be empty"))
	}
	s := &Store{path: path, logger: core.NopLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Open is New followed by Init.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	s, err := New(path, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Init opens the database and creates the tables.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.WrapError("init", core.ErrStoreClosed)
	}
	if s.db != nil {
		return nil
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", s.path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return core.WrapError("init", fmt.Errorf("failed to open database: %w", err))
	}
	db.SetMaxOpenConns(1)
	s.db = db

	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		return core.WrapError("init", fmt.Errorf("failed to enable foreign keys: %w", err))
	}
	if err := s.createTables(ctx); err != nil {
		return core.WrapError("init", err)
	}

	s.logger.Debug("run store initialised", "path", s.path)
	return nil
}

func (s *Store) createTables(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		source TEXT NOT NULL,
		target TEXT NOT NULL,
		config TEXT NOT NULL,
		objective REAL,
		iterations INTEGER NOT NULL,
		state TEXT NOT NULL,
		lr REAL NOT NULL,
		metrics TEXT,
		matrix BLOB
	);

	CREATE TABLE IF NOT EXISTS steps (
		run_id TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		objective REAL,
		best REAL,
		lr REAL NOT NULL,
		accepted INTEGER NOT NULL,
		PRIMARY KEY (run_id, iteration),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Close releases the database. Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return core.WrapError("close", err)
		}
	}
	return nil
}

func (s *Store) ready(op string) error {
	if s.closed {
		return core.WrapError(op, core.ErrStoreClosed)
	}
	if s.db == nil {
		return core.WrapError(op, fmt.Errorf("store not initialised"))
	}
	return nil
}

// Record inserts run together with its steps. An empty ID is replaced by a
// fresh UUID and a zero CreatedAt by the current time.
func (s *Store) Record(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready("record"); err != nil {
		return err
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return core.WrapError("record", fmt.Errorf("failed to encode config: %w", err))
	}
	var metrics []byte
	if len(run.Metrics) > 0 {
		if metrics, err = json.Marshal(run.Metrics); err != nil {
			return core.WrapError("record", fmt.Errorf("failed to encode metrics: %w", err))
		}
	}
	var blob []byte
	if run.Matrix != nil {
		if blob, err = encoding.EncodeMatrix(run.Matrix); err != nil {
			return core.WrapError("record", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.WrapError("record", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, source, target, config, objective, iterations, state, lr, metrics, matrix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UTC().Format(timeLayout), run.Source, run.Target, string(cfg),
		nullFloat(run.Objective), run.Iterations, run.State, run.LR, nullString(metrics), blob)
	if err != nil {
		return core.WrapError("record", fmt.Errorf("failed to insert run: %w", err))
	}

	if len(run.Steps) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO steps (run_id, iteration, objective, best, lr, accepted)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return core.WrapError("record", fmt.Errorf("failed to prepare steps: %w", err))
		}
		defer stmt.Close()

		for _, st := range run.Steps {
			if _, err := stmt.ExecContext(ctx, run.ID, st.Iteration, nullFloat(st.Objective),
				nullFloat(st.Best), st.LR, boolInt(st.Accepted)); err != nil {
				return core.WrapError("record", fmt.Errorf("failed to insert step %d: %w", st.Iteration, err))
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return core.WrapError("record", fmt.Errorf("failed to commit: %w", err))
	}

	s.logger.Info("run recorded", "id", run.ID, "iterations", run.Iterations, "state", run.State)
	return nil
}

// Get loads a run with its matrix and steps. id may be any unique prefix
// of a run ID.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready("get"); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, core.Errorf("get", core.ErrNotFound, "empty run id")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, source, target, config, objective, iterations, state, lr, metrics, matrix
		FROM runs WHERE id LIKE ? || '%' ESCAPE '\' LIMIT 2`, escapeLike(id))
	if err != nil {
		return nil, core.WrapError("get", err)
	}
	defer rows.Close()

	var found []*Run
	for rows.Next() {
		run, err := scanRun(rows, true)
		if err != nil {
			return nil, core.WrapError("get", err)
		}
		found = append(found, run)
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError("get", err)
	}

	switch len(found) {
	case 0:
		return nil, core.Errorf("get", core.ErrNotFound, "run %s", id)
	case 2:
		return nil, core.WrapError("get", fmt.Errorf("run id prefix %q is ambiguous", id))
	}

	run := found[0]
	if run.Steps, err = s.steps(ctx, run.ID); err != nil {
		return nil, core.WrapError("get", err)
	}
	return run, nil
}

func (s *Store) steps(ctx context.Context, id string) ([]align.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT iteration, objective, best, lr, accepted
		FROM steps WHERE run_id = ? ORDER BY iteration`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []align.Step
	for rows.Next() {
		var st align.Step
		var f, best sql.NullFloat64
		if err := rows.Scan(&st.Iteration, &f, &best, &st.LR, &st.Accepted); err != nil {
			return nil, err
		}
		st.Objective = fromNull(f)
		st.Best = fromNull(best)
		out = append(out, st)
	}
	return out, rows.Err()
}

// List returns the most recent runs first, without matrices or steps.
// limit <= 0 lists every run.
func (s *Store) List(ctx context.Context, limit int) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready("list"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, source, target, config, objective, iterations, state, lr, metrics, NULL
		FROM runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, core.WrapError("list", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows, false)
		if err != nil {
			return nil, core.WrapError("list", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError("list", err)
	}
	return out, nil
}

// Delete removes a run and its steps.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready("delete"); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return core.WrapError("delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Errorf("delete", core.ErrNotFound, "run %s", id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner, withMatrix bool) (*Run, error) {
	var (
		run          Run
		created, cfg string
		objective    sql.NullFloat64
		metrics      sql.NullString
		blob         []byte
	)
	if err := row.Scan(&run.ID, &created, &run.Source, &run.Target, &cfg, &objective,
		&run.Iterations, &run.State, &run.LR, &metrics, &blob); err != nil {
		return nil, err
	}

	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return nil, fmt.Errorf("run %s: bad timestamp: %w", run.ID, err)
	}
	run.CreatedAt = t
	run.Objective = fromNull(objective)

	if err := json.Unmarshal([]byte(cfg), &run.Config); err != nil {
		return nil, fmt.Errorf("run %s: bad config: %w", run.ID, err)
	}
	if metrics.Valid {
		if err := json.Unmarshal([]byte(metrics.String), &run.Metrics); err != nil {
			return nil, fmt.Errorf("run %s: bad metrics: %w", run.ID, err)
		}
	}
	if withMatrix && len(blob) > 0 {
		if run.Matrix, err = encoding.DecodeMatrix(blob); err != nil {
			return nil, fmt.Errorf("run %s: %w", run.ID, err)
		}
	}
	return &run, nil
}

// nullFloat stores non-finite values as NULL; the only one the optimizer
// produces is the +Inf objective of a run without iterations.
func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func fromNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.Inf(1)
	}
	return v.Float64
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}

// IsNotFound reports whether err means the run does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, core.ErrNotFound)
}
