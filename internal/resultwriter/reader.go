package resultwriter

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/dmitriimaksimovdevelop/wult/internal/model"
)

// Result is a round-tripped result directory: the parsed sidecar plus
// the CSV header and raw string rows (spec §8's "wult show" surface).
type Result struct {
	Dir    string
	Info   model.InfoSidecar
	Header []string
	Rows   [][]string
}

// Read loads a result directory written by ResultWriter. Format version
// "1.2" results are readable (but New/Close never write that version);
// anything else is rejected.
func Read(dir string) (*Result, error) {
	infoData, err := os.ReadFile(filepath.Join(dir, InfoFilename))
	if err != nil {
		return nil, fmt.Errorf("resultwriter: reading %s: %w", InfoFilename, err)
	}
	var info model.InfoSidecar
	if err := yaml.Unmarshal(infoData, &info); err != nil {
		return nil, fmt.Errorf("resultwriter: parsing %s: %w", InfoFilename, err)
	}
	if info.FormatVersion != "1.3" && info.FormatVersion != "1.2" {
		return nil, fmt.Errorf("resultwriter: unsupported format version %q", info.FormatVersion)
	}

	f, err := os.Open(filepath.Join(dir, DatapointsFilename))
	if err != nil {
		return nil, fmt.Errorf("resultwriter: reading %s: %w", DatapointsFilename, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("resultwriter: parsing %s: %w", DatapointsFilename, err)
	}
	if len(records) == 0 {
		return &Result{Dir: dir, Info: info}, nil
	}

	return &Result{Dir: dir, Info: info, Header: records[0], Rows: records[1:]}, nil
}

// ColumnIndex returns the position of name in Header, or -1 if absent.
func (r *Result) ColumnIndex(name string) int {
	for i, h := range r.Header {
		if h == name {
			return i
		}
	}
	return -1
}
