package db

import (
	"database/sql"
	"fmt"

	"github.com/banshee-data/terrain.report/internal/kalman"
	"github.com/banshee-data/terrain.report/internal/simulation"
)

// StepStore provides persistence for per-step filter output.
type StepStore struct {
	db *sql.DB
}

// NewStepStore creates a new StepStore.
func NewStepStore(db *DB) *StepStore {
	return &StepStore{db: db.DB}
}

// InsertBatch writes steps for runID in a single transaction.
func (s *StepStore) InsertBatch(runID string, steps []simulation.Step) error {
	if len(steps) == 0 {
		return nil
	}
	err := retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO run_steps (
				run_id, step_index, time, gt, rf,
				est_p, est_v, est_a, est_var,
				proj_p, proj_v, proj_a, proj_var,
				innovation, innovation_var
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, st := range steps {
			if _, err := stmt.Exec(
				runID, st.Index, st.Time, st.Truth, st.Measurement,
				st.Estimate[0], st.Estimate[1], st.Estimate[2], st.EstimateVar,
				st.Projected[0], st.Projected[1], st.Projected[2], st.ProjectedVar,
				st.Innovation, st.InnovationVar,
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("inserting %d steps for run %s: %w", len(steps), runID, err)
	}
	return nil
}

// ListByRun returns the steps of runID in step order.
func (s *StepStore) ListByRun(runID string) ([]simulation.Step, error) {
	rows, err := s.db.Query(`
		SELECT step_index, time, gt, rf,
		       est_p, est_v, est_a, est_var,
		       proj_p, proj_v, proj_a, proj_var,
		       innovation, innovation_var
		FROM run_steps
		WHERE run_id = ?
		ORDER BY step_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing steps for run %s: %w", runID, err)
	}
	defer rows.Close()

	var steps []simulation.Step
	for rows.Next() {
		var st simulation.Step
		var est, proj kalman.Vec3
		if err := rows.Scan(
			&st.Index, &st.Time, &st.Truth, &st.Measurement,
			&est[0], &est[1], &est[2], &st.EstimateVar,
			&proj[0], &proj[1], &proj[2], &st.ProjectedVar,
			&st.Innovation, &st.InnovationVar,
		); err != nil {
			return nil, fmt.Errorf("scanning step: %w", err)
		}
		st.Estimate = est
		st.Projected = proj
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// DefaultRecorderBatch is the number of steps a RunRecorder buffers before
// writing them.
const DefaultRecorderBatch = 256

// RunRecorder is a simulation.Sink that buffers steps for one run and writes
// them in batches. Call Flush after the run to write the remainder.
type RunRecorder struct {
	store *StepStore
	runID string
	batch int
	buf   []simulation.Step
}

// NewRunRecorder returns a recorder writing to runID. batch <= 0 uses
// DefaultRecorderBatch.
func NewRunRecorder(store *StepStore, runID string, batch int) *RunRecorder {
	if batch <= 0 {
		batch = DefaultRecorderBatch
	}
	return &RunRecorder{
		store: store,
		runID: runID,
		batch: batch,
		buf:   make([]simulation.Step, 0, batch),
	}
}

// WriteStep implements simulation.Sink.
func (r *RunRecorder) WriteStep(st simulation.Step) error {
	r.buf = append(r.buf, st)
	if len(r.buf) >= r.batch {
		return r.Flush()
	}
	return nil
}

// Flush writes any buffered steps.
func (r *RunRecorder) Flush() error {
	if len(r.buf) == 0 {
		return nil
	}
	if err := r.store.InsertBatch(r.runID, r.buf); err != nil {
		return err
	}
	r.buf = r.buf[:0]
	return nil
}
