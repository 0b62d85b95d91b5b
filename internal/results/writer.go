// Package results writes per-step filter output as CSV.
package results

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/banshee-data/terrain.report/internal/fsutil"
	"github.com/banshee-data/terrain.report/internal/simulation"
)

// Header is the column layout of a results file.
var Header = []string{"time", "gt", "rf", "est_p", "est_v", "est_a", "proj_p", "proj_v", "proj_a"}

// Writer is a simulation.Sink that writes one CSV row per step. Each row is
// flushed as it is written so a partially completed run still leaves a
// readable file.
type Writer struct {
	cw     *csv.Writer
	closer io.Closer
	rows   int
	closed bool
}

// NewWriter writes the header to w and returns a Writer over it.
func NewWriter(w io.Writer) (*Writer, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return nil, fmt.Errorf("write results header: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("write results header: %w", err)
	}
	wr := &Writer{cw: cw}
	if c, ok := w.(io.Closer); ok {
		wr.closer = c
	}
	return wr, nil
}

// Create creates path (and its directory) on fsys and returns a Writer that
// closes the file on Close.
func Create(fsys fsutil.FileSystem, path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create results dir: %w", err)
		}
	}
	f, err := fsys.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create results %s: %w", path, err)
	}
	w, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Path returns dir/name.csv, the results file for terrain name.
func Path(dir, name string) string {
	return filepath.Join(dir, name+".csv")
}

// WriteStep implements simulation.Sink.
func (w *Writer) WriteStep(s simulation.Step) error {
	row := []string{
		formatFloat(s.Time),
		formatFloat(s.Truth),
		formatFloat(s.Measurement),
		formatFloat(s.Estimate.Position()),
		formatFloat(s.Estimate.Velocity()),
		formatFloat(s.Estimate.Acceleration()),
		formatFloat(s.Projected.Position()),
		formatFloat(s.Projected.Velocity()),
		formatFloat(s.Projected.Acceleration()),
	}
	if err := w.cw.Write(row); err != nil {
		return fmt.Errorf("write results row %d: %w", s.Index, err)
	}
	w.cw.Flush()
	if err := w.cw.Error(); err != nil {
		return fmt.Errorf("write results row %d: %w", s.Index, err)
	}
	w.rows++
	return nil
}

// Rows returns the number of data rows written.
func (w *Writer) Rows() int { return w.rows }

// Close flushes and closes the underlying file if the Writer owns one.
// Calls after the first return nil.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.cw.Flush()
	err := w.cw.Error()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
