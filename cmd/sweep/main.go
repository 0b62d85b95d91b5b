// Command sweep runs the terrain filter over a grid of measurement and
// process variances, several noise seeds per grid point, and writes a raw
// CSV (one row per run) plus a summary CSV (mean and stddev per grid point).
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/terrain.report/internal/config"
	"github.com/banshee-data/terrain.report/internal/db"
	"github.com/banshee-data/terrain.report/internal/fsutil"
	"github.com/banshee-data/terrain.report/internal/kalman"
	"github.com/banshee-data/terrain.report/internal/report"
	"github.com/banshee-data/terrain.report/internal/security"
	"github.com/banshee-data/terrain.report/internal/simulation"
	"github.com/banshee-data/terrain.report/internal/terrain"
)

// parseCSVFloatSlice parses a comma-separated list of floats
func parseCSVFloatSlice(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float '%s': %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// parseParamList parses a comma-separated list or a start:end:step range
func parseParamList(s string) ([]float64, error) {
	if !strings.Contains(s, ":") {
		return parseCSVFloatSlice(s)
	}
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid range '%s': want start:end:step", s)
	}
	bounds, err := parseCSVFloatSlice(strings.Join(parts, ","))
	if err != nil {
		return nil, err
	}
	if bounds[2] <= 0 {
		return nil, fmt.Errorf("invalid range '%s': step must be positive", s)
	}
	return generateRange(bounds[0], bounds[1], bounds[2]), nil
}

func generateRange(start, end, step float64) []float64 {
	if step <= 0 {
		step = 0.01
	}
	var result []float64
	for i := 0; ; i++ {
		v := start + float64(i)*step
		if v > end+1e-9 {
			break
		}
		result = append(result, v)
	}
	return result
}

// combo is one grid point of the sweep.
type combo struct {
	MeasVar float64
	ProcVar float64
}

// buildJobs expands the grid into one job per (combo, seed), combo-major.
// Every combo sees the same seeds, so repeat r differs between combos only
// in variance.
func buildJobs(cfg *config.FilterConfig, profile *terrain.Profile, combos []combo, seeds []uint64) ([]simulation.Job, error) {
	jobs := make([]simulation.Job, 0, len(combos)*len(seeds))
	for _, c := range combos {
		jc := cfg.Clone()
		jc.SetMeasurementVariance(c.MeasVar)
		jc.SetProcessVariance(c.ProcVar)
		if err := jc.Validate(); err != nil {
			return nil, err
		}
		for r, seed := range seeds {
			model, err := jc.NewModel(profile.Dt)
			if err != nil {
				return nil, err
			}
			noise := terrain.NewNoiseSource(c.MeasVar, seed)
			jobs = append(jobs, simulation.Job{
				Name:      jobName(c, r),
				Config:    simulation.Config{ProjectionSteps: jc.GetProjectionSteps()},
				Estimator: kalman.NewEstimator(model, jc.EstimatorOptions()...),
				Samples:   terrain.Samples(profile, noise),
			})
		}
	}
	return jobs, nil
}

func jobName(c combo, repeat int) string {
	return fmt.Sprintf("R=%g Q=%g #%d", c.MeasVar, c.ProcVar, repeat)
}

func writeRawHeader(w *csv.Writer) error {
	return w.Write([]string{
		"meas_var", "proc_var", "repeat", "seed", "samples",
		"estimate_rmse", "measurement_rmse", "projection_rmse",
		"innovation_mean", "innovation_stddev", "mean_nis", "error",
	})
}

func writeRawRow(w *csv.Writer, c combo, repeat int, seed uint64, res simulation.Result) error {
	errMsg := ""
	if res.Err != nil {
		errMsg = res.Err.Error()
	}
	s := res.Summary
	return w.Write([]string{
		ff(c.MeasVar), ff(c.ProcVar), strconv.Itoa(repeat), strconv.FormatUint(seed, 10),
		strconv.Itoa(s.Samples),
		ff(s.EstimateRMSE), ff(s.MeasurementRMSE), ff(s.ProjectionRMSE),
		ff(s.InnovationMean), ff(s.InnovationStdDev), ff(s.MeanNIS), errMsg,
	})
}

func writeSummaryHeader(w *csv.Writer) error {
	return w.Write([]string{
		"meas_var", "proc_var", "runs", "failed",
		"estimate_rmse_mean", "estimate_rmse_stddev",
		"projection_rmse_mean", "projection_rmse_stddev",
		"measurement_rmse_mean", "mean_nis_mean",
	})
}

// comboStats aggregates the successful repeats of one grid point.
type comboStats struct {
	Runs, Failed      int
	EstimateMean      float64
	EstimateStdDev    float64
	ProjectionMean    float64
	ProjectionStdDev  float64
	MeasurementMean   float64
	NISMean           float64
	Representative    simulation.Summary
	HasRepresentative bool
}

func summarize(results []simulation.Result) comboStats {
	var st comboStats
	var est, proj, meas, nis []float64
	for _, r := range results {
		st.Runs++
		if r.Err != nil {
			st.Failed++
			continue
		}
		est = append(est, r.Summary.EstimateRMSE)
		proj = append(proj, r.Summary.ProjectionRMSE)
		meas = append(meas, r.Summary.MeasurementRMSE)
		nis = append(nis, r.Summary.MeanNIS)
	}
	if len(est) == 0 {
		return st
	}
	st.EstimateMean, st.EstimateStdDev = meanStdDev(est)
	st.ProjectionMean, st.ProjectionStdDev = meanStdDev(proj)
	st.MeasurementMean = stat.Mean(meas, nil)
	st.NISMean = stat.Mean(nis, nil)
	st.Representative = simulation.Summary{
		Samples:         results[0].Summary.Samples,
		EstimateRMSE:    st.EstimateMean,
		MeasurementRMSE: st.MeasurementMean,
		ProjectionRMSE:  st.ProjectionMean,
		MeanNIS:         st.NISMean,
	}
	st.HasRepresentative = true
	return st
}

// meanStdDev returns the mean and sample standard deviation; a single
// value has zero spread.
func meanStdDev(xs []float64) (float64, float64) {
	if len(xs) < 2 {
		return stat.Mean(xs, nil), 0
	}
	return stat.MeanStdDev(xs, nil)
}

func writeSummaryRow(w *csv.Writer, c combo, st comboStats) error {
	return w.Write([]string{
		ff(c.MeasVar), ff(c.ProcVar), strconv.Itoa(st.Runs), strconv.Itoa(st.Failed),
		ff(st.EstimateMean), ff(st.EstimateStdDev),
		ff(st.ProjectionMean), ff(st.ProjectionStdDev),
		ff(st.MeasurementMean), ff(st.NISMean),
	})
}

func ff(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// recordResults stores every run and its summary in the results database.
// Steps are not kept for sweep runs.
func recordResults(database *db.DB, cfg *config.FilterConfig, name string, dt float64, jobs []simulation.Job, results []simulation.Result, seeds []uint64, combos []combo) error {
	runs := db.NewRunStore(database)
	for i, res := range results {
		c := combos[i/len(seeds)]
		run := &db.Run{
			Terrain:          name,
			Dt:               dt,
			MeasurementVar:   c.MeasVar,
			ProcessVar:       c.ProcVar,
			InitialVar:       cfg.GetInitialVariance(),
			ProjectionSteps:  jobs[i].Config.ProjectionSteps,
			NoiseModel:       string(cfg.GetNoiseModel()),
			CovarianceUpdate: string(cfg.GetCovarianceUpdate()),
			Seed:             seeds[i%len(seeds)],
		}
		if err := runs.Insert(run); err != nil {
			return err
		}
		errMsg := ""
		if res.Err != nil {
			errMsg = res.Err.Error()
		}
		if err := runs.Finish(run.RunID, res.Summary, errMsg); err != nil {
			return err
		}
	}
	return nil
}

// resolveSeed picks the first noise seed: -seed when given explicitly,
// otherwise the seed of a config file named with -config, otherwise the
// -seed default. The shared defaults file does not override the flag default
// so sweeps stay reproducible out of the box.
func resolveSeed(cfg *config.FilterConfig, explicitConfig, seedSet bool, flagSeed uint64) uint64 {
	if !seedSet && explicitConfig && cfg.Seed != nil {
		return cfg.GetSeed()
	}
	return flagSeed
}

// repeatSeeds returns n consecutive seeds from base. Base 0 starts from the
// clock.
func repeatSeeds(base uint64, n int) []uint64 {
	if base == 0 {
		base = uint64(time.Now().UnixNano())
	}
	seeds := make([]uint64, n)
	for r := range seeds {
		seeds[r] = base + uint64(r)
	}
	return seeds
}

// sweepOutputs holds the writers a sweep reports to.
type sweepOutputs struct {
	Raw     io.Writer
	Summary io.Writer
	Chart   io.Writer // optional
}

// runSweep executes all jobs and writes the raw and summary tables.
func runSweep(ctx context.Context, jobs []simulation.Job, combos []combo, seeds []uint64, workers int, out sweepOutputs) ([]simulation.Result, error) {
	start := time.Now()
	results := simulation.RunBatch(ctx, jobs, workers)
	log.Printf("Completed %d runs in %v", len(results), time.Since(start).Round(time.Millisecond))

	rawW := csv.NewWriter(out.Raw)
	sumW := csv.NewWriter(out.Summary)
	if err := writeRawHeader(rawW); err != nil {
		return results, err
	}
	if err := writeSummaryHeader(sumW); err != nil {
		return results, err
	}

	var rows []report.SummaryRow
	repeats := len(seeds)
	for ci, c := range combos {
		group := results[ci*repeats : (ci+1)*repeats]
		for r, res := range group {
			if err := writeRawRow(rawW, c, r, seeds[r], res); err != nil {
				return results, err
			}
		}
		st := summarize(group)
		if err := writeSummaryRow(sumW, c, st); err != nil {
			return results, err
		}
		log.Printf("R=%g Q=%g: estimate RMSE %.4g±%.2g, projection RMSE %.4g±%.2g (%d/%d ok)",
			c.MeasVar, c.ProcVar, st.EstimateMean, st.EstimateStdDev,
			st.ProjectionMean, st.ProjectionStdDev, st.Runs-st.Failed, st.Runs)
		if st.HasRepresentative {
			rows = append(rows, report.SummaryRow{
				Label:   fmt.Sprintf("R=%g Q=%g", c.MeasVar, c.ProcVar),
				Summary: st.Representative,
			})
		}
	}
	rawW.Flush()
	sumW.Flush()
	if err := rawW.Error(); err != nil {
		return results, err
	}
	if err := sumW.Error(); err != nil {
		return results, err
	}

	if out.Chart != nil && len(rows) > 0 {
		if err := report.RenderSummaryChart(out.Chart, "Variance sweep", rows); err != nil {
			return results, fmt.Errorf("render chart: %w", err)
		}
	}
	return results, nil
}

func main() {
	terrainName := flag.String("terrain", config.DefaultTerrain, "Terrain profile name")
	terrainDir := flag.String("terrain-dir", config.DefaultTerrainDir, "Directory holding terrain profiles")
	configPath := flag.String("config", "", "Filter config JSON for the values not swept (default config/filter.defaults.json if present)")
	measList := flag.String("meas-var", "0.01", "Comma-separated measurement variances (e.g. 0.005,0.01,0.02) or range start:end:step")
	procList := flag.String("proc-var", "0.001,0.01,0.1", "Comma-separated process variances or range start:end:step")
	repeats := flag.Int("repeats", 10, "Noise seeds per parameter combination")
	seedFlag := flag.Uint64("seed", 1, "First noise seed; repeat r uses seed+r (0 seeds from the clock)")
	project := flag.Int("project", config.DefaultProjectionSteps, "Number of time steps to project ahead")
	workers := flag.Int("workers", 0, "Parallel runs (0 uses GOMAXPROCS)")
	output := flag.String("output", "", "Summary CSV filename (defaults to sweep-<terrain>-<timestamp>.csv)")
	chartPath := flag.String("chart", "", "Write an HTML summary chart to this path")
	dbPath := flag.String("db", "", "Record every run summary in this sqlite results database")
	flag.Parse()

	cfg, err := config.LoadBaseConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["project"] || cfg.ProjectionSteps == nil {
		cfg.SetProjectionSteps(*project)
	}
	if err := security.ValidateName(*terrainName); err != nil {
		log.Fatalf("Invalid -terrain: %v", err)
	}

	measVars, err := parseParamList(*measList)
	if err != nil {
		log.Fatalf("Invalid -meas-var: %v", err)
	}
	procVars, err := parseParamList(*procList)
	if err != nil {
		log.Fatalf("Invalid -proc-var: %v", err)
	}
	if len(measVars) == 0 || len(procVars) == 0 || *repeats < 1 {
		log.Fatal("Need at least one measurement variance, one process variance and one repeat")
	}

	var combos []combo
	for _, m := range measVars {
		for _, q := range procVars {
			combos = append(combos, combo{MeasVar: m, ProcVar: q})
		}
	}

	seeds := repeatSeeds(resolveSeed(cfg, *configPath != "", set["seed"], *seedFlag), *repeats)

	fsys := fsutil.OSFileSystem{}
	profile, err := terrain.ReadProfile(fsys, terrain.ProfilePath(*terrainDir, *terrainName))
	if err != nil {
		log.Fatalf("Failed to load terrain: %v", err)
	}
	log.Printf("Sweeping %d combinations x %d repeats over %s (%d samples)",
		len(combos), *repeats, *terrainName, profile.Len())

	jobs, err := buildJobs(cfg, profile, combos, seeds)
	if err != nil {
		log.Fatalf("Invalid sweep: %v", err)
	}

	filename := *output
	if filename == "" {
		filename = fmt.Sprintf("sweep-%s-%s.csv", security.SanitizeFilename(*terrainName), time.Now().Format("20060102-150405"))
	}
	f, err := os.Create(filename)
	if err != nil {
		log.Fatalf("Could not create output file %s: %v", filename, err)
	}
	defer f.Close()

	rawFilename := strings.TrimSuffix(filename, ".csv") + "-raw.csv"
	fRaw, err := os.Create(rawFilename)
	if err != nil {
		log.Fatalf("Could not create raw output file %s: %v", rawFilename, err)
	}
	defer fRaw.Close()

	out := sweepOutputs{Raw: fRaw, Summary: f}
	if *chartPath != "" {
		fc, err := os.Create(*chartPath)
		if err != nil {
			log.Fatalf("Could not create chart file %s: %v", *chartPath, err)
		}
		defer fc.Close()
		out.Chart = fc
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results, err := runSweep(ctx, jobs, combos, seeds, *workers, out)
	if err != nil {
		log.Fatalf("Sweep failed: %v", err)
	}

	if *dbPath != "" {
		database, err := db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to open results db: %v", err)
		}
		defer database.Close()
		if err := recordResults(database, cfg, *terrainName, profile.Dt, jobs, results, seeds, combos); err != nil {
			log.Fatalf("Failed to record results: %v", err)
		}
		log.Printf("Recorded %d runs in %s", len(results), *dbPath)
	}

	log.Printf("Wrote %s and %s", filename, rawFilename)
}
