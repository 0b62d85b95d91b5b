package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/terrain.report/internal/config"
	"github.com/banshee-data/terrain.report/internal/db"
	"github.com/banshee-data/terrain.report/internal/fsutil"
	"github.com/banshee-data/terrain.report/internal/terrain"
)

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, 0.01, *measVar)
	assert.Equal(t, 0.01, *procVar)
	assert.Equal(t, "zeros", *terrainName)
	assert.Equal(t, 4, *project)
	assert.Equal(t, "simple", *noiseModel)
	assert.Equal(t, "simple", *covUpdate)
	assert.Empty(t, *dbPath)
}

func TestApplyFlags(t *testing.T) {
	t.Run("empty config takes flag defaults", func(t *testing.T) {
		cfg := config.EmptyFilterConfig()
		applyFlags(cfg, nil)
		require.NoError(t, cfg.Validate())
		assert.Equal(t, 0.01, cfg.GetMeasurementVariance())
		assert.Equal(t, "zeros", cfg.GetTerrain())
		assert.Equal(t, 4, cfg.GetProjectionSteps())
	})

	t.Run("file values survive unset flags", func(t *testing.T) {
		cfg := config.EmptyFilterConfig()
		cfg.SetMeasurementVariance(0.5)
		cfg.SetTerrain("ramp")
		applyFlags(cfg, map[string]bool{"proc-var": true})
		assert.Equal(t, 0.5, cfg.GetMeasurementVariance())
		assert.Equal(t, "ramp", cfg.GetTerrain())
		assert.Equal(t, *procVar, cfg.GetProcessVariance())
	})

	t.Run("set flags override file values", func(t *testing.T) {
		cfg := config.EmptyFilterConfig()
		cfg.SetTerrain("ramp")
		cfg.SetProjectionSteps(10)
		applyFlags(cfg, map[string]bool{"terrain": true, "project": true})
		assert.Equal(t, *terrainName, cfg.GetTerrain())
		assert.Equal(t, *project, cfg.GetProjectionSteps())
	})
}

// writeTerrain stores a generated ramp under terrain/<name>.csv.
func writeTerrain(t *testing.T, fsys fsutil.FileSystem, name string, n int) {
	t.Helper()
	p, err := terrain.Generate(terrain.ShapeRamp, terrain.GenerateParams{Samples: n, Dt: 0.5, Base: 10, Slope: 0.2})
	require.NoError(t, err)
	require.NoError(t, terrain.WriteProfile(fsys, terrain.ProfilePath("terrain", name), p))
}

func testConfig(name string) *config.FilterConfig {
	cfg := config.EmptyFilterConfig()
	cfg.SetTerrain(name)
	cfg.SetSeed(42)
	return cfg
}

func TestRun_WritesResults(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	writeTerrain(t, fsys, "ramp", 30)

	sum, err := run(context.Background(), fsys, testConfig("ramp"), outputs{})
	require.NoError(t, err)
	assert.Equal(t, 30, sum.Samples)

	data, err := fsys.ReadFile(filepath.Join("results", "ramp.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 31)
	assert.Equal(t, "time,gt,rf,est_p,est_v,est_a,proj_p,proj_v,proj_a", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "0.5,10.1,"), "first row: %s", lines[1])
}

func TestRun_Reproducible(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	writeTerrain(t, fsys, "ramp", 20)

	read := func() []byte {
		_, err := run(context.Background(), fsys, testConfig("ramp"), outputs{})
		require.NoError(t, err)
		data, err := fsys.ReadFile(filepath.Join("results", "ramp.csv"))
		require.NoError(t, err)
		return data
	}
	first := read()
	if diff := cmp.Diff(string(first), string(read())); diff != "" {
		t.Errorf("same seed gave different results (-first +second):\n%s", diff)
	}
}

func TestRun_MissingTerrain(t *testing.T) {
	_, err := run(context.Background(), fsutil.NewMemoryFileSystem(), testConfig("nowhere"), outputs{})
	assert.Error(t, err)
}

func TestRun_RecordsAndRenders(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	writeTerrain(t, fsys, "ramp", 25)
	dir := t.TempDir()

	out := outputs{
		DBPath:    filepath.Join(dir, "results.db"),
		PlotPath:  filepath.Join(dir, "ramp.png"),
		ChartPath: "charts/ramp.html",
	}
	sum, err := run(context.Background(), fsys, testConfig("ramp"), out)
	require.NoError(t, err)

	database, err := db.NewDB(out.DBPath)
	require.NoError(t, err)
	defer database.Close()

	runs, err := db.NewRunStore(database).List("ramp", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, uint64(42), runs[0].Seed)
	assert.Equal(t, sum.Samples, runs[0].Summary.Samples)
	assert.Empty(t, runs[0].Error)

	steps, err := db.NewStepStore(database).ListByRun(runs[0].RunID)
	require.NoError(t, err)
	assert.Len(t, steps, 25)

	chart, err := fsys.ReadFile("charts/ramp.html")
	require.NoError(t, err)
	assert.True(t, bytes.Contains(chart, []byte("Terrain ramp")))
	assert.FileExists(t, out.PlotPath)
}

// closeFailFS fails Close on files created under charts/.
type closeFailFS struct {
	*fsutil.MemoryFileSystem
}

type closeFailWriter struct {
	io.WriteCloser
}

func (closeFailWriter) Close() error { return errors.New("disk full") }

func (f closeFailFS) Create(name string) (io.WriteCloser, error) {
	w, err := f.MemoryFileSystem.Create(name)
	if err != nil || !strings.HasPrefix(name, "charts/") {
		return w, err
	}
	return closeFailWriter{w}, nil
}

func TestRun_ChartCloseError(t *testing.T) {
	fsys := closeFailFS{fsutil.NewMemoryFileSystem()}
	writeTerrain(t, fsys, "ramp", 10)

	_, err := run(context.Background(), fsys, testConfig("ramp"), outputs{ChartPath: "charts/ramp.html"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close chart")
	assert.Contains(t, err.Error(), "disk full")
}
