package runloop

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitriimaksimovdevelop/wult/internal/cstate"
	"github.com/dmitriimaksimovdevelop/wult/internal/dpprocess"
	"github.com/dmitriimaksimovdevelop/wult/internal/filtersink"
	"github.com/dmitriimaksimovdevelop/wult/internal/model"
	"github.com/dmitriimaksimovdevelop/wult/internal/rawsource"
	"github.com/dmitriimaksimovdevelop/wult/internal/resultwriter"
	"github.com/dmitriimaksimovdevelop/wult/internal/tscrate"
)

// acceptedDatapoint builds a raw datapoint that survives the classifier
// (early-interrupts mode, so no ballot) and the transformer's
// overhead-compensation step untouched.
func acceptedDatapoint() model.RawDatapoint {
	return model.RawDatapoint{
		"ReqCState": model.IntVal(0),
		"TotCyc":    model.IntVal(1_000_000),
		"CC0Cyc":    model.IntVal(900_000),
		"LTime":     model.IntVal(1000),
		"TBI":       model.IntVal(500),
		"TAI":       model.IntVal(1200),
		"TIntr":     model.IntVal(1100),
		"IntrTS1":   model.IntVal(0),
		"IntrTS2":   model.IntVal(0),
		"AITS1":     model.IntVal(0),
		"AITS2":     model.IntVal(0),
	}
}

func newTestLoop(t *testing.T, src rawsource.RawSource, cfg Config) (*RunLoop, string) {
	t.Helper()

	dir, err := cstate.NewCStateDirectory(map[int]string{0: "C1"})
	if err != nil {
		t.Fatalf("NewCStateDirectory: %v", err)
	}
	cls := cstate.NewClassifier(dir, true) // early-interrupts: no ballot
	est := tscrate.NewEstimator(false, tscrate.DefaultHoldNs)
	xform := dpprocess.NewTransformer(est, model.Definitions{}, false)
	sink := filtersink.New("", "", false)

	outdir := filepath.Join(t.TempDir(), "result")
	rw, err := resultwriter.New(outdir, model.InfoSidecar{ToolName: "wult", FormatVersion: "1.3"})
	if err != nil {
		t.Fatalf("resultwriter.New: %v", err)
	}

	return New(src, est, cls, xform, sink, rw, nil, cfg), outdir
}

func TestRunStopsAtTargetCount(t *testing.T) {
	dps := make([]model.RawDatapoint, 5)
	for i := range dps {
		dps[i] = acceptedDatapoint()
	}
	src := rawsource.NewFixtureSource(dps, false)

	cfg := DefaultConfig()
	cfg.Count = 3
	cfg.ProgressEnabled = false
	loop, outdir := newTestLoop(t, src, cfg)

	result, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Collected != 3 {
		t.Fatalf("Collected = %d, want 3", result.Collected)
	}
	if !src.Started() || !src.Stopped() {
		t.Fatal("expected the source to be started and stopped")
	}
	if _, err := os.Stat(filepath.Join(outdir, resultwriter.DatapointsFilename)); err != nil {
		t.Fatalf("expected datapoints.csv to exist: %v", err)
	}
}

func TestRunStopsWhenSourceExhausted(t *testing.T) {
	dps := []model.RawDatapoint{acceptedDatapoint(), acceptedDatapoint()}
	src := rawsource.NewFixtureSource(dps, false)

	cfg := DefaultConfig()
	cfg.ProgressEnabled = false
	loop, _ := newTestLoop(t, src, cfg)

	result, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Collected != 1 {
		// The first datapoint is consumed by Prepare and never piped
		// through the pipeline, per spec §4.F step 2; only the second
		// one is processed as a "subsequent" datapoint.
		t.Fatalf("Collected = %d, want 1", result.Collected)
	}
}

// droppingSource sleeps before each Next call and always returns a
// datapoint the classifier's timing gate silently drops, so collected
// never advances and the producer watchdog eventually trips.
type droppingSource struct {
	sleep    time.Duration
	attempts int
	max      int
}

func (d *droppingSource) Prepare(ctx context.Context) error { return nil }
func (d *droppingSource) Start() error                      { return nil }
func (d *droppingSource) Stop() error                        { return nil }
func (d *droppingSource) Close() error                       { return nil }
func (d *droppingSource) TscNative() bool                    { return false }

func (d *droppingSource) Next() (model.RawDatapoint, bool, error) {
	if d.attempts == 0 {
		d.attempts++
		return acceptedDatapoint(), true, nil // consumed by Prepare, never processed
	}
	if d.attempts > d.max {
		return nil, false, nil
	}
	d.attempts++
	time.Sleep(d.sleep)

	// Deeper-than-C1 fixed rule forces IntrOff=true; AITS2 > IntrTS1
	// trips the timing gate and the datapoint never reaches the
	// transformer, so last_accepted_time never advances.
	return model.RawDatapoint{
		"ReqCState": model.IntVal(0),
		"AITS2":     model.IntVal(1000),
		"IntrTS1":   model.IntVal(0),
	}, true, nil
}

func TestNoProgressWatchdogTrips(t *testing.T) {
	dir, err := cstate.NewCStateDirectory(map[int]string{0: "C6"})
	if err != nil {
		t.Fatalf("NewCStateDirectory: %v", err)
	}
	cls := cstate.NewClassifier(dir, false)
	est := tscrate.NewEstimator(false, tscrate.DefaultHoldNs)
	xform := dpprocess.NewTransformer(est, model.Definitions{}, false)
	sink := filtersink.New("", "", false)

	outdir := filepath.Join(t.TempDir(), "result")
	rw, err := resultwriter.New(outdir, model.InfoSidecar{ToolName: "wult", FormatVersion: "1.3"})
	if err != nil {
		t.Fatalf("resultwriter.New: %v", err)
	}

	cfg := DefaultConfig()
	cfg.PerDatapointTimeout = 2 * time.Millisecond
	cfg.ProgressEnabled = false
	src := &droppingSource{sleep: 2 * time.Millisecond, max: 50}
	loop := New(src, est, cls, xform, sink, rw, nil, cfg)

	_, err = loop.Run(context.Background())
	if err == nil {
		t.Fatal("expected a NoProgressError")
	}
	var npe *NoProgressError
	if !errors.As(err, &npe) {
		t.Fatalf("error = %v, want *NoProgressError", err)
	}
	if !errors.Is(err, ErrNoProgress) {
		t.Fatal("expected errors.Is(err, ErrNoProgress) to hold")
	}
}

func TestRunRemovesEmptyResultDirOnAllDropped(t *testing.T) {
	// Every datapoint is dropped by the timing gate, so zero rows are
	// ever written and ResultWriter.Close should remove the directory.
	src := &droppingSource{sleep: 0, max: 3}
	dir, err := cstate.NewCStateDirectory(map[int]string{0: "C6"})
	if err != nil {
		t.Fatalf("NewCStateDirectory: %v", err)
	}
	cls := cstate.NewClassifier(dir, false)
	est := tscrate.NewEstimator(false, tscrate.DefaultHoldNs)
	xform := dpprocess.NewTransformer(est, model.Definitions{}, false)
	sink := filtersink.New("", "", false)

	outdir := filepath.Join(t.TempDir(), "result")
	rw, err := resultwriter.New(outdir, model.InfoSidecar{ToolName: "wult", FormatVersion: "1.3"})
	if err != nil {
		t.Fatalf("resultwriter.New: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Count = 0
	cfg.ProgressEnabled = false
	loop := New(src, est, cls, xform, sink, rw, nil, cfg)

	result, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Collected != 0 {
		t.Fatalf("Collected = %d, want 0", result.Collected)
	}
	if _, err := os.Stat(outdir); !os.IsNotExist(err) {
		t.Fatalf("expected %s to be removed, stat err = %v", outdir, err)
	}
}
