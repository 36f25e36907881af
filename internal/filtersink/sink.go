package filtersink

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/dmitriimaksimovdevelop/wult/internal/model"
	"github.com/dmitriimaksimovdevelop/wult/internal/resultwriter"
)

// FilterExprError wraps a compile- or evaluation-time failure in an
// include/exclude expression, naming the metrics present in the
// offending datapoint so the user can debug which name was misspelled.
type FilterExprError struct {
	Expr    string
	Metrics []string
	Err     error
}

func (e *FilterExprError) Error() string {
	return fmt.Sprintf("filtersink: expression %q failed (known metrics: %s): %v",
		e.Expr, strings.Join(e.Metrics, ", "), e.Err)
}

func (e *FilterExprError) Unwrap() error { return e.Err }

// Sink evaluates an include and an exclude predicate against each
// processed datapoint and appends accepted rows to a CSV with a header
// pinned on first write.
type Sink struct {
	includeExpr string
	excludeExpr string
	keepFiltered bool

	compiled  bool
	include   *node
	exclude   *node
	header    []string

	csv *resultwriter.CSVWriter
}

// New creates a Sink. includeExpr/excludeExpr may be empty (default
// true/false respectively). keepFiltered appends every row regardless of
// the predicate outcome, while Add still reports whether it passed.
func New(includeExpr, excludeExpr string, keepFiltered bool) *Sink {
	return &Sink{includeExpr: includeExpr, excludeExpr: excludeExpr, keepFiltered: keepFiltered}
}

// compile lazily parses both expressions against the first datapoint's
// field set, applying the CC1%→CC1Derived% substitution rewrite when the
// former is absent and the latter is present.
func (s *Sink) compile(dp model.ProcessedDatapoint) error {
	fields := make(map[string]bool, len(dp))
	for k := range dp {
		fields[k] = true
	}

	var err error
	if s.includeExpr != "" {
		s.include, err = s.compileOne(s.includeExpr, fields)
		if err != nil {
			return err
		}
	}
	if s.excludeExpr != "" {
		s.exclude, err = s.compileOne(s.excludeExpr, fields)
		if err != nil {
			return err
		}
	}

	s.header = make([]string, 0, len(dp))
	for k := range dp {
		s.header = append(s.header, k)
	}
	sort.Strings(s.header)

	s.compiled = true
	return nil
}

func (s *Sink) compileOne(expr string, fields map[string]bool) (*node, error) {
	n, err := parseExpr(expr)
	if err != nil {
		return nil, &FilterExprError{Expr: expr, Metrics: sortedKeys(fields), Err: err}
	}

	refs := map[string]bool{}
	metricNames(n, refs)
	if refs["CC1%"] && !fields["CC1%"] && fields["CC1Derived%"] {
		log.Printf("[filtersink] %q references CC1%%, which is absent from this result; "+
			"substituting CC1Derived%%", expr)
		n = substitute(n, "CC1%", "CC1Derived%")
	}

	return n, nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Add evaluates dp against the include/exclude predicates. It returns
// whether the row passed; passed rows (or every row, if keepFiltered is
// set) are appended to the CSV via the backing ResultWriter.
func (s *Sink) Add(rw *resultwriter.ResultWriter, dp model.ProcessedDatapoint) (bool, error) {
	if !s.compiled {
		if err := s.compile(dp); err != nil {
			return false, err
		}
	}

	passed, err := s.evaluate(dp)
	if err != nil {
		return false, err
	}

	if !passed && !s.keepFiltered {
		return false, nil
	}

	csv, err := rw.EnsureCSV(s.header)
	if err != nil {
		return false, err
	}
	row := make([]string, len(s.header))
	for i, name := range s.header {
		row[i] = formatField(name, dp[name])
	}
	if err := csv.AddRow(row); err != nil {
		return false, err
	}
	return passed, nil
}

func (s *Sink) evaluate(dp model.ProcessedDatapoint) (bool, error) {
	row := make(map[string]float64, len(dp))
	for k, v := range dp {
		row[k] = v.Float()
	}

	included := true
	if s.include != nil {
		v, err := eval(s.include, row)
		if err != nil {
			return false, &FilterExprError{Expr: s.includeExpr, Metrics: sortedKeys(boolSetFromFloat(row)), Err: err}
		}
		included = v != 0
	}

	excluded := false
	if s.exclude != nil {
		v, err := eval(s.exclude, row)
		if err != nil {
			return false, &FilterExprError{Expr: s.excludeExpr, Metrics: sortedKeys(boolSetFromFloat(row)), Err: err}
		}
		excluded = v != 0
	}

	return included && !excluded, nil
}

func boolSetFromFloat(row map[string]float64) map[string]bool {
	out := make(map[string]bool, len(row))
	for k := range row {
		out[k] = true
	}
	return out
}

// formatField renders a scalar for the CSV: two fractional digits for
// "%"-suffixed fields, the scalar's natural string form otherwise.
func formatField(name string, v model.Scalar) string {
	if strings.HasSuffix(name, "%") {
		return fmt.Sprintf("%.2f", v.Float())
	}
	return v.Str()
}
