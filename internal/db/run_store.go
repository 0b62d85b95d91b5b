package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/terrain.report/internal/simulation"
)

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = errors.New("run not found")

// Run is one filter run over a terrain profile: the parameters it used and,
// once finished, its summary against ground truth.
type Run struct {
	RunID            string             `json:"run_id"`
	Terrain          string             `json:"terrain"`
	Dt               float64            `json:"dt"`
	MeasurementVar   float64            `json:"measurement_variance"`
	ProcessVar       float64            `json:"process_variance"`
	InitialVar       float64            `json:"initial_variance"`
	ProjectionSteps  int                `json:"projection_steps"`
	NoiseModel       string             `json:"noise_model"`
	CovarianceUpdate string             `json:"covariance_update"`
	Seed             uint64             `json:"seed"`
	Summary          simulation.Summary `json:"summary"`
	Error            string             `json:"error,omitempty"`
	CreatedAt        int64              `json:"created_at"`
}

// RunStore provides persistence for runs.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db.DB}
}

// Insert persists a new run. If RunID is empty, a UUID is generated; if
// CreatedAt is zero it is set to the current time in nanoseconds.
func (s *RunStore) Insert(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = clock.Now().UnixNano()
	}

	err := retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO runs (
				run_id, terrain, dt, measurement_var, process_var, initial_var,
				projection_steps, noise_model, covariance_update, seed,
				samples, estimate_rmse, measurement_rmse, projection_rmse, projection_samples,
				innovation_mean, innovation_stddev, mean_nis, error, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.Terrain, run.Dt, run.MeasurementVar, run.ProcessVar, run.InitialVar,
			run.ProjectionSteps, run.NoiseModel, run.CovarianceUpdate, int64(run.Seed),
			run.Summary.Samples, run.Summary.EstimateRMSE, run.Summary.MeasurementRMSE,
			run.Summary.ProjectionRMSE, run.Summary.ProjectionSamples,
			run.Summary.InnovationMean, run.Summary.InnovationStdDev, run.Summary.MeanNIS,
			nullStr(run.Error), run.CreatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.RunID, err)
	}
	return nil
}

// Finish records the summary of a completed run, and errMsg if it failed.
func (s *RunStore) Finish(runID string, sum simulation.Summary, errMsg string) error {
	var n int64
	err := retryOnBusy(func() error {
		res, err := s.db.Exec(`
			UPDATE runs
			SET samples = ?, estimate_rmse = ?, measurement_rmse = ?, projection_rmse = ?,
			    projection_samples = ?, innovation_mean = ?, innovation_stddev = ?, mean_nis = ?,
			    error = ?
			WHERE run_id = ?`,
			sum.Samples, sum.EstimateRMSE, sum.MeasurementRMSE, sum.ProjectionRMSE,
			sum.ProjectionSamples, sum.InnovationMean, sum.InnovationStdDev, sum.MeanNIS,
			nullStr(errMsg), runID,
		)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", runID, err)
	}
	if n == 0 {
		return fmt.Errorf("finishing run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

const runColumns = `
	run_id, terrain, dt, measurement_var, process_var, initial_var,
	projection_steps, noise_model, covariance_update, seed,
	samples, estimate_rmse, measurement_rmse, projection_rmse, projection_samples,
	innovation_mean, innovation_stddev, mean_nis, error, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var seed int64
	var estRMSE, measRMSE, projRMSE, innovMean, innovStd, nis sql.NullFloat64
	var projSamples sql.NullInt64
	var errMsg sql.NullString
	if err := row.Scan(
		&r.RunID, &r.Terrain, &r.Dt, &r.MeasurementVar, &r.ProcessVar, &r.InitialVar,
		&r.ProjectionSteps, &r.NoiseModel, &r.CovarianceUpdate, &seed,
		&r.Summary.Samples, &estRMSE, &measRMSE, &projRMSE, &projSamples,
		&innovMean, &innovStd, &nis, &errMsg, &r.CreatedAt,
	); err != nil {
		return nil, err
	}
	r.Seed = uint64(seed)
	r.Summary.EstimateRMSE = estRMSE.Float64
	r.Summary.MeasurementRMSE = measRMSE.Float64
	r.Summary.ProjectionRMSE = projRMSE.Float64
	r.Summary.ProjectionSamples = int(projSamples.Int64)
	r.Summary.InnovationMean = innovMean.Float64
	r.Summary.InnovationStdDev = innovStd.Float64
	r.Summary.MeanNIS = nis.Float64
	r.Error = errMsg.String
	return &r, nil
}

// Get returns the run with the given ID or ErrRunNotFound.
func (s *RunStore) Get(runID string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", runID, err)
	}
	return r, nil
}

// List returns the most recent runs first. terrain filters by terrain name
// when non-empty; limit <= 0 returns all runs.
func (s *RunStore) List(terrain string, limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if terrain != "" {
		query += ` WHERE terrain = ?`
		args = append(args, terrain)
	}
	query += ` ORDER BY created_at DESC, run_id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Delete removes a run and, through the foreign key, its steps.
func (s *RunStore) Delete(runID string) error {
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`DELETE FROM runs WHERE run_id = ?`, runID)
		return err
	})
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
