// Package runloop implements component F: the measurement loop that
// coordinates the raw producer, the TSC estimator, the C-state
// classifier, the transformer, and the filter sink, plus the producer
// watchdog and a single signal-watcher goroutine.
//
// Grounded on spec.md §4.F and, for the ambient stack, on the teacher's
// internal/orchestrator/orchestrator.go (Orchestrator.Run's
// context.WithCancel + signal.Notify(SIGINT, SIGTERM) pattern) and
// internal/output/progress.go (elapsed-time-prefixed stderr logging).
package runloop

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitriimaksimovdevelop/wult/internal/cstate"
	"github.com/dmitriimaksimovdevelop/wult/internal/dpprocess"
	"github.com/dmitriimaksimovdevelop/wult/internal/filtersink"
	"github.com/dmitriimaksimovdevelop/wult/internal/model"
	"github.com/dmitriimaksimovdevelop/wult/internal/observer"
	"github.com/dmitriimaksimovdevelop/wult/internal/rawsource"
	"github.com/dmitriimaksimovdevelop/wult/internal/resultwriter"
	"github.com/dmitriimaksimovdevelop/wult/internal/tscrate"
)

// DefaultPerDatapointTimeout is the default watchdog interval (spec
// §4.F: "default per-dp timeout is 10 s").
const DefaultPerDatapointTimeout = 10 * time.Second

// watchdogMultiplier is the factor applied to PerDatapointTimeout before
// a stall trips NoProgressError (spec §4.F step 4a: "1.5x").
const watchdogMultiplier = 1.5

// DefaultProgressPeriod is how often the progress line repaints.
const DefaultProgressPeriod = 1 * time.Second

// Config bounds a single measurement run. Built the way
// collector.CollectConfig is in the teacher: a plain struct with a
// DefaultConfig constructor supplying sane defaults, overridden field by
// field by the CLI layer.
type Config struct {
	// Count is the target datapoint count. Zero means unlimited (run
	// until the source is exhausted, the time limit expires, or the run
	// is cancelled) — a relaxation of spec §4.F's "N > 0" input to let a
	// streaming/native source run indefinitely under a time bound alone.
	Count int
	// Timeout is the wall-clock limit for the whole run. Zero means
	// unlimited.
	Timeout time.Duration
	// PerDatapointTimeout is the watchdog interval; 1.5x this value with
	// no accepted datapoint trips NoProgressError.
	PerDatapointTimeout time.Duration
	// ProgressPeriod is the minimum interval between progress repaints.
	ProgressPeriod time.Duration
	// ProgressEnabled turns the progress line on or off.
	ProgressEnabled bool
}

// DefaultConfig returns a Config with the spec's default watchdog and a
// one-second progress period, unlimited count and wall-clock time.
func DefaultConfig() Config {
	return Config{
		Count:               0,
		Timeout:             0,
		PerDatapointTimeout: DefaultPerDatapointTimeout,
		ProgressPeriod:      DefaultProgressPeriod,
		ProgressEnabled:     true,
	}
}

// Result summarizes a completed (or interrupted) run.
type Result struct {
	Collected int
	// MaxLatency is the largest accepted min(WakeLatency, IntrLatency)
	// value, in whatever unit the transformer emitted those fields in
	// (nanoseconds, or microseconds if the definitions dictionary
	// requested µs conversion for them).
	MaxLatency float64
	Duration   time.Duration
}

// RunLoop wires components A through G together for one measurement
// run. It is single-threaded and synchronous except for the one
// goroutine that watches for SIGINT/SIGTERM, exactly as spec §5 permits.
type RunLoop struct {
	src     rawsource.RawSource
	est     *tscrate.Estimator
	cls     *cstate.Classifier
	xform   *dpprocess.Transformer
	sink    *filtersink.Sink
	rw      *resultwriter.ResultWriter
	tracker *observer.PIDTracker

	cfg      Config
	progress *progressLine

	collected    int
	maxLatency   float64
	lastAccepted time.Time
}

// New creates a RunLoop. tracker may be nil to skip self-overhead
// diagnostics.
func New(src rawsource.RawSource, est *tscrate.Estimator, cls *cstate.Classifier,
	xform *dpprocess.Transformer, sink *filtersink.Sink, rw *resultwriter.ResultWriter,
	tracker *observer.PIDTracker, cfg Config) *RunLoop {

	if cfg.PerDatapointTimeout <= 0 {
		cfg.PerDatapointTimeout = DefaultPerDatapointTimeout
	}
	if cfg.ProgressPeriod <= 0 {
		cfg.ProgressPeriod = DefaultProgressPeriod
	}

	return &RunLoop{
		src: src, est: est, cls: cls, xform: xform, sink: sink, rw: rw, tracker: tracker,
		cfg:      cfg,
		progress: newProgressLine(cfg.ProgressEnabled, cfg.ProgressPeriod),
	}
}

// Run executes spec §4.F's algorithm end to end. Once the loop has
// started, it stops the raw source and closes the result writer on the
// way out, regardless of which path terminated the loop; a failure
// before that (preparing or starting the source, or a failed or empty
// first read) returns without stopping the source or closing the writer.
// Run never calls the raw source's Close.
func (r *RunLoop) Run(ctx context.Context) (Result, error) {
	if err := r.src.Prepare(ctx); err != nil {
		return Result{}, fmt.Errorf("runloop: preparing raw source: %w", err)
	}

	first, ok, err := r.src.Next()
	if err != nil {
		return Result{}, fmt.Errorf("runloop: reading first datapoint: %w", err)
	}
	if !ok {
		return Result{}, fmt.Errorf("runloop: raw source produced no datapoints")
	}
	r.xform.Prepare(first)

	if r.tracker != nil {
		r.tracker.SnapshotBefore()
	}
	if err := r.src.Start(); err != nil {
		return Result{}, fmt.Errorf("runloop: starting raw source: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	defer close(done)

	interrupted := false
	go func() {
		select {
		case sig := <-sigCh:
			log.Printf("[runloop] received %s, stopping gracefully", sig)
			interrupted = true
			cancel()
		case <-done:
		}
	}()

	start := time.Now()
	r.lastAccepted = start
	r.progress.begin(start)

	watchdog := time.Duration(watchdogMultiplier * float64(r.cfg.PerDatapointTimeout))

	var runErr error
loop:
	for {
		if r.cfg.Count > 0 && r.collected >= r.cfg.Count {
			break
		}
		if r.cfg.Timeout > 0 && time.Since(start) > r.cfg.Timeout {
			break
		}
		select {
		case <-runCtx.Done():
			break loop
		default:
		}

		if time.Since(r.lastAccepted) > watchdog {
			runErr = &NoProgressError{Elapsed: time.Since(r.lastAccepted), Timeout: r.cfg.PerDatapointTimeout}
			break
		}

		dp, ok, err := r.src.Next()
		if err != nil {
			runErr = fmt.Errorf("runloop: reading datapoint: %w", err)
			break
		}
		if !ok {
			break
		}

		if bdp, ready := r.est.Feed(dp); ready {
			if err := r.feedClassifier(bdp); err != nil {
				runErr = err
				break loop
			}
		}
		for _, held := range r.est.Drain() {
			if err := r.feedClassifier(held); err != nil {
				runErr = err
				break loop
			}
		}
		for _, held := range r.cls.Drain() {
			if err := r.feedTransformer(held); err != nil {
				runErr = err
				break loop
			}
		}
	}

	if stopErr := r.src.Stop(); stopErr != nil {
		log.Printf("[runloop] stopping raw source: %v", stopErr)
	}

	r.progress.tick(time.Now(), r.collected, r.maxLatency, true)

	duration := time.Since(start)
	r.finalizeSidecar(duration)
	if closeErr := r.rw.Close(); closeErr != nil {
		if runErr == nil {
			runErr = closeErr
		} else {
			log.Printf("[runloop] closing result writer: %v", closeErr)
		}
	}

	if runErr == nil && interrupted {
		runErr = ErrInterrupted
	}

	return Result{Collected: r.collected, MaxLatency: r.maxLatency, Duration: duration}, runErr
}

// feedClassifier pipes a datapoint that has already cleared the TSC
// estimator through the classifier and, if released, the transformer
// and sink.
func (r *RunLoop) feedClassifier(dp model.RawDatapoint) error {
	classified, ok, err := r.cls.Feed(dp)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return r.feedTransformer(classified)
}

// feedTransformer pipes a datapoint that has already cleared both the
// estimator and the classifier through the transformer and sink.
func (r *RunLoop) feedTransformer(dp model.RawDatapoint) error {
	out, err := r.xform.Process(dp)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return r.accept(out)
}

// accept runs a processed datapoint through the filter sink and, if it
// passes, updates the running counters and progress line.
func (r *RunLoop) accept(out model.ProcessedDatapoint) error {
	passed, err := r.sink.Add(r.rw, out)
	if err != nil {
		return err
	}
	if !passed {
		return nil
	}

	r.collected++
	r.lastAccepted = time.Now()

	lat := out["WakeLatency"].Float()
	if il, ok := out["IntrLatency"]; ok {
		if v := il.Float(); v < lat {
			lat = v
		}
	}
	if lat > r.maxLatency {
		r.maxLatency = lat
	}

	r.progress.tick(r.lastAccepted, r.collected, r.maxLatency, false)
	return nil
}

// finalizeSidecar records the run's duration and, if a PID tracker was
// supplied, its self-overhead diagnostics into the result sidecar ahead
// of ResultWriter.Close's final write.
func (r *RunLoop) finalizeSidecar(duration time.Duration) {
	if r.tracker == nil {
		r.rw.UpdateInfo(duration.String(), nil)
		return
	}
	summary := r.tracker.SnapshotAfter()
	r.rw.UpdateInfo(duration.String(), &model.OverheadInfo{
		CPUUserMs:       summary.CPUUserMs,
		CPUSystemMs:     summary.CPUSystemMs,
		MemoryRSSBytes:  summary.MemoryRSSBytes,
		ContextSwitches: summary.ContextSwitches,
	})
}
