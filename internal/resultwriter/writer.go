package resultwriter

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/dmitriimaksimovdevelop/wult/internal/model"
)

// DatapointsFilename and InfoFilename name the two files a result
// directory holds, matching the source's "datapoints.csv"/"info.yml".
const (
	DatapointsFilename = "datapoints.csv"
	InfoFilename       = "info.yml"
)

// ErrResultExists is returned by New when outdir already holds a result
// (a datapoints.csv or info.yml), guarding against silently clobbering a
// previous run.
var ErrResultExists = fmt.Errorf("resultwriter: result directory already contains a result")

// ResultWriter owns a result directory: the YAML sidecar (written at
// start and again at close) and the lazily created CSV file. If zero
// rows were ever written, Close removes only the paths this run
// created — createdOutdir tells it whether that's the whole directory
// or just the sidecar/CSV files dropped into a pre-existing one.
type ResultWriter struct {
	outdir        string
	info          model.InfoSidecar
	csv           *CSVWriter
	createdOutdir bool
}

// New creates the result directory if it doesn't already exist
// (refusing to clobber an existing result) and writes the initial
// sidecar.
func New(outdir string, info model.InfoSidecar) (*ResultWriter, error) {
	if _, err := os.Stat(filepath.Join(outdir, DatapointsFilename)); err == nil {
		return nil, ErrResultExists
	}
	if _, err := os.Stat(filepath.Join(outdir, InfoFilename)); err == nil {
		return nil, ErrResultExists
	}
	_, statErr := os.Stat(outdir)
	preexisted := statErr == nil
	if err := os.MkdirAll(outdir, 0o755); err != nil {
		return nil, fmt.Errorf("resultwriter: creating %s: %w", outdir, err)
	}

	w := &ResultWriter{outdir: outdir, info: info, createdOutdir: !preexisted}
	if err := w.writeInfo(); err != nil {
		return nil, err
	}
	return w, nil
}

// writeInfo marshals the sidecar to a temp file in outdir and renames it
// onto InfoFilename, so a crash mid-write never leaves a torn info.yml
// (spec §5: the sidecar is written atomically).
func (w *ResultWriter) writeInfo() error {
	data, err := yaml.Marshal(w.info)
	if err != nil {
		return fmt.Errorf("resultwriter: marshaling sidecar: %w", err)
	}
	path := filepath.Join(w.outdir, InfoFilename)

	tmp, err := os.CreateTemp(w.outdir, InfoFilename+".tmp-*")
	if err != nil {
		return fmt.Errorf("resultwriter: creating temp sidecar: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("resultwriter: writing temp sidecar: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("resultwriter: closing temp sidecar: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("resultwriter: renaming sidecar into place: %w", err)
	}
	return nil
}

// EnsureCSV lazily creates the CSV file on the first call and pins
// header on it if it hasn't been pinned yet.
func (w *ResultWriter) EnsureCSV(header []string) (*CSVWriter, error) {
	if w.csv == nil {
		csv, err := NewCSVWriter(filepath.Join(w.outdir, DatapointsFilename))
		if err != nil {
			return nil, err
		}
		w.csv = csv
	}
	if err := w.csv.AddHeader(header); err != nil {
		return nil, err
	}
	return w.csv, nil
}

// UpdateInfo merges duration and overhead diagnostics into the sidecar
// ahead of the final write at Close.
func (w *ResultWriter) UpdateInfo(duration string, overhead *model.OverheadInfo) {
	w.info.Duration = duration
	w.info.Overhead = overhead
}

// Close flushes and closes the CSV file (if any was created), rewrites
// the sidecar with the final duration/overhead, and removes every path
// this run created if zero rows were ever written. A pre-existing
// outdir (and any content it already held — spec §4.G) is preserved;
// only the sidecar and, if created, the CSV file are removed in that
// case. An outdir this run created via MkdirAll is removed whole.
func (w *ResultWriter) Close() error {
	rows := 0
	if w.csv != nil {
		rows = w.csv.RowCount()
		if err := w.csv.Close(); err != nil {
			return err
		}
	}

	if rows > 0 {
		return w.writeInfo()
	}

	if w.createdOutdir {
		return os.RemoveAll(w.outdir)
	}

	if err := os.Remove(filepath.Join(w.outdir, InfoFilename)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("resultwriter: removing %s: %w", InfoFilename, err)
	}
	if w.csv != nil {
		if err := os.Remove(filepath.Join(w.outdir, DatapointsFilename)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("resultwriter: removing %s: %w", DatapointsFilename, err)
		}
	}
	return nil
}

// OutDir returns the result directory path.
func (w *ResultWriter) OutDir() string { return w.outdir }
