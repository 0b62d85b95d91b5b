// Command terrain-gen writes synthetic ground-truth terrain profiles in the
// format terrain-kf reads: a dt row followed by one depth per row.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/banshee-data/terrain.report/internal/config"
	"github.com/banshee-data/terrain.report/internal/fsutil"
	"github.com/banshee-data/terrain.report/internal/security"
	"github.com/banshee-data/terrain.report/internal/terrain"
)

// genOptions is everything needed to write one or more profiles.
type genOptions struct {
	Shapes []terrain.Shape
	Name   string // only valid with a single shape; defaults to the shape name
	Dir    string
	Params terrain.GenerateParams
}

// parseShapes accepts "all" or a comma-separated list of shape names.
func parseShapes(s string) ([]terrain.Shape, error) {
	if s == "all" {
		return terrain.Shapes(), nil
	}
	known := map[terrain.Shape]bool{}
	for _, sh := range terrain.Shapes() {
		known[sh] = true
	}
	var out []terrain.Shape
	for _, p := range strings.Split(s, ",") {
		sh := terrain.Shape(strings.TrimSpace(p))
		if !known[sh] {
			return nil, fmt.Errorf("unknown shape '%s'", sh)
		}
		out = append(out, sh)
	}
	return out, nil
}

// generate writes each requested profile and returns the paths written.
func generate(fsys fsutil.FileSystem, o genOptions) ([]string, error) {
	if o.Name != "" {
		if len(o.Shapes) != 1 {
			return nil, fmt.Errorf("-name needs exactly one shape, got %d", len(o.Shapes))
		}
		if err := security.ValidateName(o.Name); err != nil {
			return nil, err
		}
	}
	var paths []string
	for _, sh := range o.Shapes {
		p, err := terrain.Generate(sh, o.Params)
		if err != nil {
			return paths, err
		}
		name := o.Name
		if name == "" {
			name = string(sh)
		}
		path := terrain.ProfilePath(o.Dir, name)
		if err := terrain.WriteProfile(fsys, path, p); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func main() {
	shapes := flag.String("shape", "all", "Shape(s) to generate: 'all' or a comma list of zeros,ramp,step,sine,ridge")
	name := flag.String("name", "", "Profile name (single shape only; defaults to the shape name)")
	dir := flag.String("dir", config.DefaultTerrainDir, "Output directory")
	samples := flag.Int("samples", 200, "Number of ground-truth samples")
	dt := flag.Float64("dt", 0.1, "Time step between samples (s)")
	base := flag.Float64("base", 20, "Depth at t=0 (m)")
	slope := flag.Float64("slope", 0.05, "Ramp rate (m/s)")
	amplitude := flag.Float64("amplitude", 2, "Step height, sine amplitude or ridge height (m)")
	period := flag.Float64("period", 10, "Sine period (s)")
	flag.Parse()

	list, err := parseShapes(*shapes)
	if err != nil {
		log.Fatalf("Invalid -shape: %v", err)
	}

	paths, err := generate(fsutil.OSFileSystem{}, genOptions{
		Shapes: list,
		Name:   *name,
		Dir:    *dir,
		Params: terrain.GenerateParams{
			Samples:   *samples,
			Dt:        *dt,
			Base:      *base,
			Slope:     *slope,
			Amplitude: *amplitude,
			Period:    *period,
		},
	})
	for _, p := range paths {
		log.Printf("Wrote %s", p)
	}
	if err != nil {
		log.Fatalf("Failed to generate terrain: %v", err)
	}
}
