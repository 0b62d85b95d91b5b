package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"github.com/banshee-data/terrain.report/internal/kalman"
	"github.com/banshee-data/terrain.report/internal/security"
)

// DefaultConfigPath is the path to the canonical filter defaults file.
const DefaultConfigPath = "config/filter.defaults.json"

// Built-in defaults, used for any field the JSON leaves out.
const (
	DefaultMeasurementVariance = 0.01
	DefaultProcessVariance     = 0.01
	DefaultProjectionSteps     = 4
	DefaultTerrain             = "zeros"
	DefaultTerrainDir          = "terrain"
	DefaultResultsDir          = "results"
)

// FilterConfig holds the tunable parameters of a terrain estimation run.
// Fields are pointers so that a partial JSON file only overrides what it
// names; the Get* methods supply defaults for the rest.
type FilterConfig struct {
	MeasurementVariance *float64 `json:"measurement_variance,omitempty"`
	ProcessVariance     *float64 `json:"process_variance,omitempty"`
	InitialVariance     *float64 `json:"initial_variance,omitempty"`
	ProjectionSteps     *int     `json:"projection_steps,omitempty"`
	NoiseModel          *string  `json:"noise_model,omitempty"`       // "simple" or "continuous_white"
	CovarianceUpdate    *string  `json:"covariance_update,omitempty"` // "simple" or "joseph"
	Seed                *uint64  `json:"seed,omitempty"`              // 0 = seed from clock

	Terrain    *string `json:"terrain,omitempty"`
	TerrainDir *string `json:"terrain_dir,omitempty"`
	ResultsDir *string `json:"results_dir,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrString(v string) *string    { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

// EmptyFilterConfig returns a FilterConfig with every field unset.
func EmptyFilterConfig() *FilterConfig {
	return &FilterConfig{}
}

// LoadFilterConfig loads a FilterConfig from a JSON file. The path must
// have a .json extension and the file must be at most 1MB.
func LoadFilterConfig(path string) (*FilterConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyFilterConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadBaseConfig returns the config a command starts from: path when it is
// set, otherwise DefaultConfigPath relative to the working directory if that
// file exists, otherwise an empty config (built-in defaults).
func LoadBaseConfig(path string) (*FilterConfig, error) {
	if path != "" {
		return LoadFilterConfig(path)
	}
	if _, err := os.Stat(DefaultConfigPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return EmptyFilterConfig(), nil
		}
		return nil, fmt.Errorf("stat %s: %w", DefaultConfigPath, err)
	}
	return LoadFilterConfig(DefaultConfigPath)
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for tests and binaries.
func MustLoadDefaultConfig() *FilterConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadFilterConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run from repository root")
}

// Validate checks the values that are set.
func (c *FilterConfig) Validate() error {
	if c.MeasurementVariance != nil {
		if v := *c.MeasurementVariance; v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("measurement_variance must be non-negative, got %v", v)
		}
	}
	if c.ProcessVariance != nil {
		if v := *c.ProcessVariance; v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("process_variance must be non-negative, got %v", v)
		}
	}
	if c.InitialVariance != nil {
		if v := *c.InitialVariance; v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("initial_variance must be non-negative, got %v", v)
		}
	}
	if c.ProjectionSteps != nil && *c.ProjectionSteps < 0 {
		return fmt.Errorf("projection_steps must be non-negative, got %d", *c.ProjectionSteps)
	}
	if c.NoiseModel != nil {
		if _, err := kalman.ParseNoiseModel(*c.NoiseModel); err != nil {
			return fmt.Errorf("invalid noise_model: %w", err)
		}
	}
	if c.CovarianceUpdate != nil {
		if _, err := kalman.ParseCovarianceUpdate(*c.CovarianceUpdate); err != nil {
			return fmt.Errorf("invalid covariance_update: %w", err)
		}
	}
	if c.Terrain != nil && *c.Terrain != "" {
		if err := security.ValidateName(*c.Terrain); err != nil {
			return fmt.Errorf("invalid terrain: %w", err)
		}
	}
	return nil
}

// GetMeasurementVariance returns the measurement variance (R) or the default.
func (c *FilterConfig) GetMeasurementVariance() float64 {
	if c.MeasurementVariance == nil {
		return DefaultMeasurementVariance
	}
	return *c.MeasurementVariance
}

// GetProcessVariance returns the process variance (for Q) or the default.
func (c *FilterConfig) GetProcessVariance() float64 {
	if c.ProcessVariance == nil {
		return DefaultProcessVariance
	}
	return *c.ProcessVariance
}

// GetInitialVariance returns the initial covariance diagonal or the default.
func (c *FilterConfig) GetInitialVariance() float64 {
	if c.InitialVariance == nil {
		return kalman.DefaultInitialVariance
	}
	return *c.InitialVariance
}

// GetProjectionSteps returns how many time steps to project ahead.
func (c *FilterConfig) GetProjectionSteps() int {
	if c.ProjectionSteps == nil {
		return DefaultProjectionSteps
	}
	return *c.ProjectionSteps
}

// GetNoiseModel returns the process noise model; invalid values fall back
// to the simple model.
func (c *FilterConfig) GetNoiseModel() kalman.NoiseModel {
	if c.NoiseModel == nil {
		return kalman.NoiseSimple
	}
	n, err := kalman.ParseNoiseModel(*c.NoiseModel)
	if err != nil {
		return kalman.NoiseSimple
	}
	return n
}

// GetCovarianceUpdate returns the covariance update form.
func (c *FilterConfig) GetCovarianceUpdate() kalman.CovarianceUpdate {
	if c.CovarianceUpdate == nil {
		return kalman.UpdateSimple
	}
	u, err := kalman.ParseCovarianceUpdate(*c.CovarianceUpdate)
	if err != nil {
		return kalman.UpdateSimple
	}
	return u
}

// GetSeed returns the noise seed; 0 means seed from the clock.
func (c *FilterConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return 0
	}
	return *c.Seed
}

func (c *FilterConfig) GetTerrain() string {
	if c.Terrain == nil || *c.Terrain == "" {
		return DefaultTerrain
	}
	return *c.Terrain
}

func (c *FilterConfig) GetTerrainDir() string {
	if c.TerrainDir == nil || *c.TerrainDir == "" {
		return DefaultTerrainDir
	}
	return *c.TerrainDir
}

func (c *FilterConfig) GetResultsDir() string {
	if c.ResultsDir == nil || *c.ResultsDir == "" {
		return DefaultResultsDir
	}
	return *c.ResultsDir
}

// SetMeasurementVariance, SetProcessVariance and friends let command-line
// flags override values loaded from JSON.
func (c *FilterConfig) SetMeasurementVariance(v float64) { c.MeasurementVariance = ptrFloat64(v) }
func (c *FilterConfig) SetProcessVariance(v float64)     { c.ProcessVariance = ptrFloat64(v) }
func (c *FilterConfig) SetInitialVariance(v float64)     { c.InitialVariance = ptrFloat64(v) }
func (c *FilterConfig) SetProjectionSteps(n int)         { c.ProjectionSteps = ptrInt(n) }
func (c *FilterConfig) SetNoiseModel(s string)           { c.NoiseModel = ptrString(s) }
func (c *FilterConfig) SetCovarianceUpdate(s string)     { c.CovarianceUpdate = ptrString(s) }
func (c *FilterConfig) SetSeed(seed uint64)              { c.Seed = ptrUint64(seed) }
func (c *FilterConfig) SetTerrain(name string)           { c.Terrain = ptrString(name) }
func (c *FilterConfig) SetTerrainDir(dir string)         { c.TerrainDir = ptrString(dir) }
func (c *FilterConfig) SetResultsDir(dir string)         { c.ResultsDir = ptrString(dir) }

// NewModel builds the kalman.Model for time step dt from this config.
func (c *FilterConfig) NewModel(dt float64) (kalman.Model, error) {
	return kalman.NewModel(dt, c.GetProcessVariance(), c.GetMeasurementVariance(),
		kalman.WithNoiseModel(c.GetNoiseModel()))
}

// EstimatorOptions returns the estimator options implied by this config.
func (c *FilterConfig) EstimatorOptions() []kalman.EstimatorOption {
	return []kalman.EstimatorOption{
		kalman.WithInitialVariance(c.GetInitialVariance()),
		kalman.WithCovarianceUpdate(c.GetCovarianceUpdate()),
	}
}

// Clone returns a deep copy, so sweeps can vary one field per run.
func (c *FilterConfig) Clone() *FilterConfig {
	out := EmptyFilterConfig()
	if c.MeasurementVariance != nil {
		out.MeasurementVariance = ptrFloat64(*c.MeasurementVariance)
	}
	if c.ProcessVariance != nil {
		out.ProcessVariance = ptrFloat64(*c.ProcessVariance)
	}
	if c.InitialVariance != nil {
		out.InitialVariance = ptrFloat64(*c.InitialVariance)
	}
	if c.ProjectionSteps != nil {
		out.ProjectionSteps = ptrInt(*c.ProjectionSteps)
	}
	if c.NoiseModel != nil {
		out.NoiseModel = ptrString(*c.NoiseModel)
	}
	if c.CovarianceUpdate != nil {
		out.CovarianceUpdate = ptrString(*c.CovarianceUpdate)
	}
	if c.Seed != nil {
		out.Seed = ptrUint64(*c.Seed)
	}
	if c.Terrain != nil {
		out.Terrain = ptrString(*c.Terrain)
	}
	if c.TerrainDir != nil {
		out.TerrainDir = ptrString(*c.TerrainDir)
	}
	if c.ResultsDir != nil {
		out.ResultsDir = ptrString(*c.ResultsDir)
	}
	return out
}
