package filtersink

import (
	"path/filepath"
	"testing"

	"github.com/dmitriimaksimovdevelop/wult/internal/model"
	"github.com/dmitriimaksimovdevelop/wult/internal/resultwriter"
)

func row(cc6, wake float64) model.ProcessedDatapoint {
	return model.ProcessedDatapoint{
		"CC6%":        model.FloatVal(cc6),
		"WakeLatency": model.FloatVal(wake),
	}
}

func newTestWriter(t *testing.T) *resultwriter.ResultWriter {
	t.Helper()
	dir := t.TempDir()
	w, err := resultwriter.New(filepath.Join(dir, "result"), model.InfoSidecar{ToolName: "wult"})
	if err != nil {
		t.Fatalf("resultwriter.New: %v", err)
	}
	return w
}

// TestFilterAcceptsOnlyMatchingRow mirrors spec.md scenario 6.
func TestFilterAcceptsOnlyMatchingRow(t *testing.T) {
	sink := New("CC6% > 0", "WakeLatency > 100", false)
	rw := newTestWriter(t)
	defer rw.Close()

	cases := []struct {
		dp   model.ProcessedDatapoint
		want bool
	}{
		{row(5, 50), true},
		{row(0, 10), false},
		{row(5, 200), false},
	}

	for i, c := range cases {
		got, err := sink.Add(rw, c.dp)
		if err != nil {
			t.Fatalf("case %d: Add: %v", i, err)
		}
		if got != c.want {
			t.Errorf("case %d: Add = %v, want %v", i, got, c.want)
		}
	}
}

func TestKeepFilteredWritesEveryRow(t *testing.T) {
	sink := New("CC6% > 0", "", true)
	rw := newTestWriter(t)
	defer rw.Close()

	passed, err := sink.Add(rw, row(0, 10))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if passed {
		t.Fatal("row should not pass the include predicate")
	}
	csv, err := rw.EnsureCSV(nil)
	if err != nil {
		t.Fatalf("EnsureCSV: %v", err)
	}
	if csv.RowCount() != 1 {
		t.Fatalf("RowCount = %d, want 1 (keepFiltered writes the filtered row)", csv.RowCount())
	}
}

func TestCC1PercentSubstitution(t *testing.T) {
	sink := New("CC1% > 50", "", false)
	rw := newTestWriter(t)
	defer rw.Close()

	dp := model.ProcessedDatapoint{"CC1Derived%": model.FloatVal(60)}
	passed, err := sink.Add(rw, dp)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !passed {
		t.Fatal("CC1% should have been substituted with CC1Derived% and passed")
	}
}

func TestUnknownMetricIsFilterExprError(t *testing.T) {
	sink := New("Bogus% > 0", "", false)
	rw := newTestWriter(t)
	defer rw.Close()

	_, err := sink.Add(rw, row(5, 50))
	if _, ok := err.(*FilterExprError); !ok {
		t.Fatalf("expected *FilterExprError, got %T: %v", err, err)
	}
}
