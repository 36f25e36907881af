// Package resultdiff compares two wult result directories and reports
// per-C-state wake/interrupt latency regressions and improvements.
//
// Grounded on the teacher's internal/diff/diff.go (DiffReport,
// MetricChange, addChange's delta/significance rules, FormatDiff),
// retargeted from USE-method resource metrics to wult's latency
// summary statistics, per SPEC_FULL.md's supplemented "wult diff"
// feature (the full HTML report generator and its summary-statistics
// library are out of scope; this is the minimal comparison the
// original's CLI surface always ships).
package resultdiff

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/dmitriimaksimovdevelop/wult/internal/resultwriter"
)

// DiffReport is the comparison between a baseline and a current result.
type DiffReport struct {
	Baseline     string
	Current      string
	Changes      []MetricChange
	Regressions  int
	Improvements int
}

// MetricChange is a single latency statistic's difference between the
// two results, scoped to one requested C-state.
type MetricChange struct {
	CState       string
	Metric       string // "wake_latency_mean", "wake_latency_p99", "intr_latency_mean", "intr_latency_p99"
	OldValue     float64
	NewValue     float64
	Delta        float64
	DeltaPct     float64
	Direction    string // "regression", "improvement", "unchanged"
	Significance string // "high", "medium", "low"
}

// Compare reads both result directories and compares their per-C-state
// wake/interrupt latency statistics. Latency is always "higher is
// worse": a >5% increase is a regression, a >5% decrease an improvement.
func Compare(baselineDir, currentDir string) (*DiffReport, error) {
	baseline, err := resultwriter.Read(baselineDir)
	if err != nil {
		return nil, fmt.Errorf("resultdiff: reading baseline: %w", err)
	}
	current, err := resultwriter.Read(currentDir)
	if err != nil {
		return nil, fmt.Errorf("resultdiff: reading current: %w", err)
	}

	report := &DiffReport{Baseline: baselineDir, Current: currentDir}

	oldStats := perCState(baseline)
	newStats := perCState(current)

	seen := make(map[string]bool, len(oldStats)+len(newStats))
	for name := range oldStats {
		seen[name] = true
	}
	for name := range newStats {
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		o, haveOld := oldStats[name]
		n, haveNew := newStats[name]
		if !haveOld || !haveNew {
			continue
		}
		addChange(report, name, "wake_latency_mean", o.wakeMean, n.wakeMean)
		addChange(report, name, "wake_latency_p99", o.wakeP99, n.wakeP99)
		if o.haveIntr && n.haveIntr {
			addChange(report, name, "intr_latency_mean", o.intrMean, n.intrMean)
			addChange(report, name, "intr_latency_p99", o.intrP99, n.intrP99)
		}
	}

	for _, c := range report.Changes {
		switch c.Direction {
		case "regression":
			report.Regressions++
		case "improvement":
			report.Improvements++
		}
	}

	return report, nil
}

type cstateStats struct {
	wakeMean, wakeP99 float64
	intrMean, intrP99 float64
	haveIntr          bool
}

// perCState groups WakeLatency/IntrLatency by ReqCState and computes
// mean/p99 for each group (rows with no ReqCState column are pooled
// under "all").
func perCState(res *resultwriter.Result) map[string]cstateStats {
	csIdx := res.ColumnIndex("ReqCState")
	wakeIdx := res.ColumnIndex("WakeLatency")
	intrIdx := res.ColumnIndex("IntrLatency")

	wake := make(map[string][]float64)
	intr := make(map[string][]float64)

	for _, row := range res.Rows {
		name := "all"
		if csIdx >= 0 && csIdx < len(row) {
			name = row[csIdx]
		}
		if wakeIdx >= 0 && wakeIdx < len(row) {
			if v, err := strconv.ParseFloat(row[wakeIdx], 64); err == nil {
				wake[name] = append(wake[name], v)
			}
		}
		if intrIdx >= 0 && intrIdx < len(row) {
			if v, err := strconv.ParseFloat(row[intrIdx], 64); err == nil {
				intr[name] = append(intr[name], v)
			}
		}
	}

	out := make(map[string]cstateStats, len(wake))
	for name, vals := range wake {
		s := cstateStats{wakeMean: mean(vals), wakeP99: percentile(vals, 99)}
		if iv, ok := intr[name]; ok {
			s.intrMean, s.intrP99, s.haveIntr = mean(iv), percentile(iv, 99), true
		}
		out[name] = s
	}
	return out
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func percentile(vals []float64, p float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// addChange mirrors the teacher's addChange: skip negligible changes,
// classify direction at a 5% threshold (latency is always higher-is-
// worse), and bucket significance at 20%/50%.
func addChange(report *DiffReport, cstate, metric string, oldVal, newVal float64) {
	delta := newVal - oldVal
	deltaPct := 0.0
	if oldVal != 0 {
		deltaPct = (delta / math.Abs(oldVal)) * 100
	}
	if math.Abs(deltaPct) < 1.0 && math.Abs(delta) < 0.01 {
		return
	}

	direction := "unchanged"
	switch {
	case deltaPct > 5:
		direction = "regression"
	case deltaPct < -5:
		direction = "improvement"
	}

	significance := "low"
	absPct := math.Abs(deltaPct)
	switch {
	case absPct >= 50:
		significance = "high"
	case absPct >= 20:
		significance = "medium"
	}

	report.Changes = append(report.Changes, MetricChange{
		CState: cstate, Metric: metric,
		OldValue: oldVal, NewValue: newVal,
		Delta: delta, DeltaPct: deltaPct,
		Direction: direction, Significance: significance,
	})
}

// FormatDiff renders a DiffReport as a human-readable table, regressions
// first, grounded on the teacher's FormatDiff layout.
func FormatDiff(d *DiffReport) string {
	var sb strings.Builder

	sb.WriteString("=== wult diff ===\n")
	sb.WriteString(fmt.Sprintf("Baseline: %s\n", d.Baseline))
	sb.WriteString(fmt.Sprintf("Current:  %s\n\n", d.Current))
	sb.WriteString(fmt.Sprintf("Regressions: %d, Improvements: %d\n\n", d.Regressions, d.Improvements))

	if d.Regressions > 0 {
		sb.WriteString("Regressions:\n")
		for _, c := range d.Changes {
			if c.Direction == "regression" {
				writeChange(&sb, c)
			}
		}
		sb.WriteString("\n")
	}

	if d.Improvements > 0 {
		sb.WriteString("Improvements:\n")
		for _, c := range d.Changes {
			if c.Direction == "improvement" {
				writeChange(&sb, c)
			}
		}
	}

	return sb.String()
}

func writeChange(sb *strings.Builder, c MetricChange) {
	fmt.Fprintf(sb, "  [%s] %s/%s: %.2f -> %.2f (%+.1f%%)\n",
		strings.ToUpper(c.Significance), c.CState, c.Metric, c.OldValue, c.NewValue, c.DeltaPct)
}
