// Command terrain-kf estimates terrain depth from noisy rangefinder readings.
//
// It loads terrain/<name>.csv, synthesises measurements with Gaussian noise,
// runs the constant-acceleration Kalman filter over them and writes
// results/<name>.csv. Runs can also be recorded in a sqlite results database
// and rendered as a PNG plot or an HTML chart.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/banshee-data/terrain.report/internal/config"
	"github.com/banshee-data/terrain.report/internal/db"
	"github.com/banshee-data/terrain.report/internal/fsutil"
	"github.com/banshee-data/terrain.report/internal/kalman"
	"github.com/banshee-data/terrain.report/internal/monitoring"
	"github.com/banshee-data/terrain.report/internal/report"
	"github.com/banshee-data/terrain.report/internal/results"
	"github.com/banshee-data/terrain.report/internal/simulation"
	"github.com/banshee-data/terrain.report/internal/terrain"
	"github.com/banshee-data/terrain.report/internal/version"
)

var (
	configPath  = flag.String("config", "", "Filter config JSON (default config/filter.defaults.json if present); flags override its values")
	measVar     = flag.Float64("meas-var", config.DefaultMeasurementVariance, "Measurement variance (for R)")
	procVar     = flag.Float64("proc-var", config.DefaultProcessVariance, "Process variance (for Q)")
	initVar     = flag.Float64("init-var", kalman.DefaultInitialVariance, "Initial covariance diagonal")
	terrainName = flag.String("terrain", config.DefaultTerrain, "Load terrain from <terrain-dir>/<terrain>.csv")
	terrainDir  = flag.String("terrain-dir", config.DefaultTerrainDir, "Directory holding terrain profiles")
	resultsDir  = flag.String("results-dir", config.DefaultResultsDir, "Directory for results CSVs")
	project     = flag.Int("project", config.DefaultProjectionSteps, "Number of time steps to project ahead (0 disables)")
	seed        = flag.Uint64("seed", 0, "Measurement noise seed (0 seeds from the clock)")
	noiseModel  = flag.String("noise-model", string(kalman.NoiseSimple), "Process noise model: 'simple' or 'continuous_white'")
	covUpdate   = flag.String("covariance-update", string(kalman.UpdateSimple), "Covariance update: 'simple' or 'joseph'")
	dbPath      = flag.String("db", "", "Record the run in this sqlite results database")
	plotPath    = flag.String("plot", "", "Write a PNG plot of the run to this path")
	chartPath   = flag.String("chart", "", "Write an HTML chart of the run to this path")
	verbose     = flag.Bool("verbose", false, "Log every filter step")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

// outputs names the optional artefacts of a run.
type outputs struct {
	DBPath    string
	PlotPath  string
	ChartPath string
	Verbose   bool
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("terrain-kf %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	monitoring.SetVerbose(*verbose)

	cfg, err := config.LoadBaseConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	applyFlags(cfg, set)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := outputs{DBPath: *dbPath, PlotPath: *plotPath, ChartPath: *chartPath, Verbose: *verbose}
	sum, err := run(ctx, fsutil.OSFileSystem{}, cfg, out)
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}
	log.Printf("%d samples: estimate RMSE %.4g m, measurement RMSE %.4g m, projection RMSE %.4g m, mean NIS %.3g",
		sum.Samples, sum.EstimateRMSE, sum.MeasurementRMSE, sum.ProjectionRMSE, sum.MeanNIS)
}

// applyFlags copies explicitly set flags, and any value the config file
// leaves unset, into cfg.
func applyFlags(cfg *config.FilterConfig, set map[string]bool) {
	if set["meas-var"] || cfg.MeasurementVariance == nil {
		cfg.SetMeasurementVariance(*measVar)
	}
	if set["proc-var"] || cfg.ProcessVariance == nil {
		cfg.SetProcessVariance(*procVar)
	}
	if set["init-var"] || cfg.InitialVariance == nil {
		cfg.SetInitialVariance(*initVar)
	}
	if set["terrain"] || cfg.Terrain == nil {
		cfg.SetTerrain(*terrainName)
	}
	if set["terrain-dir"] || cfg.TerrainDir == nil {
		cfg.SetTerrainDir(*terrainDir)
	}
	if set["results-dir"] || cfg.ResultsDir == nil {
		cfg.SetResultsDir(*resultsDir)
	}
	if set["project"] || cfg.ProjectionSteps == nil {
		cfg.SetProjectionSteps(*project)
	}
	if set["seed"] || cfg.Seed == nil {
		cfg.SetSeed(*seed)
	}
	if set["noise-model"] || cfg.NoiseModel == nil {
		cfg.SetNoiseModel(*noiseModel)
	}
	if set["covariance-update"] || cfg.CovarianceUpdate == nil {
		cfg.SetCovarianceUpdate(*covUpdate)
	}
}

// run performs one filter pass over the configured terrain and writes the
// results CSV plus whichever optional outputs are requested.
func run(ctx context.Context, fsys fsutil.FileSystem, cfg *config.FilterConfig, out outputs) (simulation.Summary, error) {
	name := cfg.GetTerrain()
	inPath := terrain.ProfilePath(cfg.GetTerrainDir(), name)
	outPath := results.Path(cfg.GetResultsDir(), name)
	fmt.Printf("Load terrain from %s, write results to %s\n", inPath, outPath)

	profile, err := terrain.ReadProfile(fsys, inPath)
	if err != nil {
		return simulation.Summary{}, err
	}
	model, err := cfg.NewModel(profile.Dt)
	if err != nil {
		return simulation.Summary{}, err
	}
	noise := terrain.NewNoiseSource(cfg.GetMeasurementVariance(), cfg.GetSeed())
	samples := terrain.Samples(profile, noise)
	est := kalman.NewEstimator(model, cfg.EstimatorOptions()...)

	w, err := results.Create(fsys, outPath)
	if err != nil {
		return simulation.Summary{}, err
	}
	defer w.Close()

	sinks := []simulation.Sink{w}

	var steps []simulation.Step
	if out.PlotPath != "" || out.ChartPath != "" {
		sinks = append(sinks, simulation.SinkFunc(func(s simulation.Step) error {
			steps = append(steps, s)
			return nil
		}))
	}

	var (
		runs     *db.RunStore
		recorder *db.RunRecorder
		record   *db.Run
	)
	if out.DBPath != "" {
		database, err := db.NewDB(out.DBPath)
		if err != nil {
			return simulation.Summary{}, fmt.Errorf("open results db: %w", err)
		}
		defer database.Close()

		runs = db.NewRunStore(database)
		record = &db.Run{
			Terrain:          name,
			Dt:               profile.Dt,
			MeasurementVar:   cfg.GetMeasurementVariance(),
			ProcessVar:       cfg.GetProcessVariance(),
			InitialVar:       cfg.GetInitialVariance(),
			ProjectionSteps:  cfg.GetProjectionSteps(),
			NoiseModel:       string(cfg.GetNoiseModel()),
			CovarianceUpdate: string(cfg.GetCovarianceUpdate()),
			Seed:             noise.Seed(),
		}
		if err := runs.Insert(record); err != nil {
			return simulation.Summary{}, fmt.Errorf("record run: %w", err)
		}
		recorder = db.NewRunRecorder(db.NewStepStore(database), record.RunID, db.DefaultRecorderBatch)
		sinks = append(sinks, recorder)
		log.Printf("Recording run %s in %s", record.RunID, out.DBPath)
	}

	simCfg := simulation.Config{ProjectionSteps: cfg.GetProjectionSteps(), Verbose: out.Verbose}
	sum, runErr := simulation.Run(ctx, simCfg, est, samples, sinks...)

	if recorder != nil {
		if err := recorder.Flush(); err != nil && runErr == nil {
			runErr = fmt.Errorf("flush steps: %w", err)
		}
		errMsg := ""
		if runErr != nil {
			errMsg = runErr.Error()
		}
		if err := runs.Finish(record.RunID, sum, errMsg); err != nil {
			monitoring.Logf("failed to finish run %s: %v", record.RunID, err)
		}
	}
	if runErr != nil {
		return sum, runErr
	}
	if err := w.Close(); err != nil {
		return sum, fmt.Errorf("close results: %w", err)
	}

	opts := report.Options{
		Title: fmt.Sprintf("Terrain %s", name),
		Subtitle: fmt.Sprintf("R=%g Q=%g noise=%s update=%s seed=%d",
			cfg.GetMeasurementVariance(), cfg.GetProcessVariance(),
			cfg.GetNoiseModel(), cfg.GetCovarianceUpdate(), noise.Seed()),
		ProjectionSteps: cfg.GetProjectionSteps(),
		Dt:              profile.Dt,
	}
	if out.PlotPath != "" && len(steps) > 0 {
		if err := report.SavePlot(steps, opts, out.PlotPath); err != nil {
			return sum, fmt.Errorf("save plot: %w", err)
		}
		log.Printf("Wrote plot %s", out.PlotPath)
	}
	if out.ChartPath != "" && len(steps) > 0 {
		if err := writeChart(fsys, out.ChartPath, steps, opts); err != nil {
			return sum, err
		}
		log.Printf("Wrote chart %s", out.ChartPath)
	}
	return sum, nil
}

// writeChart renders the HTML chart to path. A failed close is reported,
// since it may be the only sign the file was not fully written.
func writeChart(fsys fsutil.FileSystem, path string, steps []simulation.Step, opts report.Options) error {
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create chart: %w", err)
	}
	if err := report.RenderChart(f, steps, opts); err != nil {
		f.Close()
		return fmt.Errorf("render chart: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close chart: %w", err)
	}
	return nil
}
