// Package terrain reads and writes ground-truth terrain profiles and
// synthesises the noisy rangefinder readings fed to the filter.
//
// A profile file is a CSV whose first row holds the time step and whose
// remaining rows each hold one ground-truth depth. Depth is positive down
// (NED) with the sensor at the surface, so rangefinder readings and depths
// are directly comparable.
package terrain

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/terrain.report/internal/fsutil"
)

var (
	// ErrEmptyFile is returned when a profile has no time step row.
	ErrEmptyFile = errors.New("terrain: file has no time step row")
	// ErrMalformedRow is returned for rows that are empty or not numeric.
	ErrMalformedRow = errors.New("terrain: malformed row")
)

// Profile is a ground-truth depth series sampled every Dt seconds.
type Profile struct {
	Name   string
	Dt     float64
	Depths []float64
}

// Len returns the number of samples.
func (p *Profile) Len() int { return len(p.Depths) }

// TimeAt returns the time of sample i. The first sample is at Dt.
func (p *Profile) TimeAt(i int) float64 {
	return float64(i+1) * p.Dt
}

// ProfilePath returns dir/name.csv.
func ProfilePath(dir, name string) string {
	return filepath.Join(dir, name+".csv")
}

func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = ','
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true
	return cr
}

// ReadProfile reads a profile from fsys. Only the first field of each row
// is used. A file with a time step row but no samples yields an empty
// profile.
func ReadProfile(fsys fsutil.FileSystem, path string) (*Profile, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open terrain %s: %w", path, err)
	}
	defer f.Close()

	p, err := DecodeProfile(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return p, nil
}

// DecodeProfile parses profile CSV from r.
func DecodeProfile(r io.Reader) (*Profile, error) {
	cr := newCSVReader(r)

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("line 1: %w", err)
	}
	dt, err := parseField(header)
	if err != nil {
		return nil, fmt.Errorf("line 1: time step: %w", err)
	}
	if !(dt > 0) || math.IsInf(dt, 0) {
		return nil, fmt.Errorf("line 1: %w: time step must be positive, got %v", ErrMalformedRow, dt)
	}

	p := &Profile{Dt: dt}
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// csv.ParseError already carries the line number.
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		depth, err := parseField(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		p.Depths = append(p.Depths, depth)
	}
	return p, nil
}

func parseField(row []string) (float64, error) {
	if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
		return 0, fmt.Errorf("%w: empty first field", ErrMalformedRow)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(row[0]), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrMalformedRow, row[0])
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q is not finite", ErrMalformedRow, row[0])
	}
	return v, nil
}

// WriteProfile writes p in the format ReadProfile accepts.
func WriteProfile(fsys fsutil.FileSystem, path string, p *Profile) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create terrain dir: %w", err)
		}
	}
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create terrain %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{formatFloat(p.Dt)}); err != nil {
		f.Close()
		return err
	}
	for _, d := range p.Depths {
		if err := w.Write([]string{formatFloat(d)}); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("write terrain %s: %w", path, err)
	}
	return f.Close()
}

// ListProfiles returns the names (without .csv) of the profiles in dir.
func ListProfiles(fsys fsutil.FileSystem, dir string) ([]string, error) {
	files, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list terrain dir %s: %w", dir, err)
	}
	var names []string
	for _, f := range files {
		if filepath.Ext(f) == ".csv" {
			names = append(names, strings.TrimSuffix(f, ".csv"))
		}
	}
	return names, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
