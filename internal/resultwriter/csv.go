// Package resultwriter implements component G of the measurement
// pipeline: it owns the result directory, the buffered CSV file, and the
// YAML sidecar written at run start and close, and removes the result
// directory if the run produced zero rows.
//
// Grounded on original_source/wultlibs/rawresultlibs/_CSV.py (WritableCSV)
// and original_source/wultlibs/result/WORawResult.py (_init_outdir,
// write_info, close).
package resultwriter

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// csvBufSize matches _CSV.py's WritableCSV._bufsize.
const csvBufSize = 1024

// HeaderMismatchError is returned when AddRow receives a row whose field
// count does not match the pinned header.
type HeaderMismatchError struct {
	Want, Got int
}

func (e *HeaderMismatchError) Error() string {
	return fmt.Sprintf("resultwriter: row has %d fields, header has %d", e.Got, e.Want)
}

// CSVWriter is an append-only, buffered CSV file with a header pinned on
// first write. Every subsequent row must have exactly len(header) fields.
type CSVWriter struct {
	path   string
	f      *os.File
	w      *bufio.Writer
	header []string
	rows   int
}

// NewCSVWriter creates (or truncates) the file at path and wraps it in a
// buffered writer sized to match the source's WritableCSV.
func NewCSVWriter(path string) (*CSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("resultwriter: creating %s: %w", path, err)
	}
	return &CSVWriter{path: path, f: f, w: bufio.NewWriterSize(f, csvBufSize)}, nil
}

// AddHeader pins the header row. Once a header is pinned, further calls
// are no-ops: a different header passed later is ignored, not compared.
func (c *CSVWriter) AddHeader(header []string) error {
	if c.header != nil {
		return nil
	}
	c.header = append([]string(nil), header...)
	if _, err := c.w.WriteString(strings.Join(header, ",") + "\n"); err != nil {
		return fmt.Errorf("resultwriter: writing header to %s: %w", c.path, err)
	}
	return nil
}

// AddRow appends one row. row must have exactly len(header) fields, in
// header order; formatting (including the two-decimal rule for
// "%"-suffixed fields) is the caller's responsibility.
func (c *CSVWriter) AddRow(row []string) error {
	if c.header == nil {
		return fmt.Errorf("resultwriter: AddRow called before AddHeader")
	}
	if len(row) != len(c.header) {
		return &HeaderMismatchError{Want: len(c.header), Got: len(row)}
	}
	if _, err := c.w.WriteString(strings.Join(row, ",") + "\n"); err != nil {
		return fmt.Errorf("resultwriter: writing row to %s: %w", c.path, err)
	}
	c.rows++
	return nil
}

// RowCount returns the number of data rows written so far (excludes the
// header).
func (c *CSVWriter) RowCount() int { return c.rows }

// Close flushes the buffer and closes the underlying file.
func (c *CSVWriter) Close() error {
	if err := c.w.Flush(); err != nil {
		c.f.Close()
		return fmt.Errorf("resultwriter: flushing %s: %w", c.path, err)
	}
	return c.f.Close()
}
