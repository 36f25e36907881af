package resultdiff

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/dmitriimaksimovdevelop/wult/internal/model"
	"github.com/dmitriimaksimovdevelop/wult/internal/resultwriter"
)

// writeResult builds a minimal result directory with the given
// ReqCState/WakeLatency/IntrLatency rows.
func writeResult(t *testing.T, dir string, rows [][3]string) {
	t.Helper()
	rw, err := resultwriter.New(dir, model.InfoSidecar{ToolName: "wult", FormatVersion: "1.3"})
	if err != nil {
		t.Fatalf("resultwriter.New: %v", err)
	}
	csv, err := rw.EnsureCSV([]string{"ReqCState", "WakeLatency", "IntrLatency"})
	if err != nil {
		t.Fatalf("EnsureCSV: %v", err)
	}
	for _, row := range rows {
		if err := csv.AddRow(row[:]); err != nil {
			t.Fatalf("AddRow: %v", err)
		}
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestCompareDetectsRegression(t *testing.T) {
	base := filepath.Join(t.TempDir(), "baseline")
	cur := filepath.Join(t.TempDir(), "current")

	writeResult(t, base, [][3]string{
		{"C6", "10.0", "5.0"},
		{"C6", "10.0", "5.0"},
		{"C6", "10.0", "5.0"},
	})
	writeResult(t, cur, [][3]string{
		{"C6", "20.0", "5.0"},
		{"C6", "20.0", "5.0"},
		{"C6", "20.0", "5.0"},
	})

	report, err := Compare(base, cur)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if report.Regressions == 0 {
		t.Fatal("expected at least one regression")
	}

	var found bool
	for _, c := range report.Changes {
		if c.CState == "C6" && c.Metric == "wake_latency_mean" {
			found = true
			if c.Direction != "regression" {
				t.Errorf("direction = %q, want regression", c.Direction)
			}
			if c.OldValue != 10.0 || c.NewValue != 20.0 {
				t.Errorf("old/new = %v/%v, want 10.0/20.0", c.OldValue, c.NewValue)
			}
		}
	}
	if !found {
		t.Fatal("expected a C6 wake_latency_mean change")
	}
}

func TestCompareUnchangedReportsNoRegressions(t *testing.T) {
	base := filepath.Join(t.TempDir(), "baseline")
	cur := filepath.Join(t.TempDir(), "current")

	rows := [][3]string{{"C1", "5.0", "2.0"}, {"C1", "5.1", "2.0"}}
	writeResult(t, base, rows)
	writeResult(t, cur, rows)

	report, err := Compare(base, cur)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if report.Regressions != 0 || report.Improvements != 0 {
		t.Fatalf("expected no changes, got regressions=%d improvements=%d", report.Regressions, report.Improvements)
	}
}

func TestFormatDiffIncludesCState(t *testing.T) {
	report := &DiffReport{
		Baseline: "/tmp/base", Current: "/tmp/cur",
		Regressions: 1,
		Changes: []MetricChange{
			{CState: "C6", Metric: "wake_latency_mean", OldValue: 10, NewValue: 20, DeltaPct: 100, Direction: "regression", Significance: "high"},
		},
	}
	out := FormatDiff(report)
	if !strings.Contains(out, "C6") || !strings.Contains(out, "wake_latency_mean") {
		t.Fatalf("FormatDiff output missing expected fields: %s", out)
	}
}
