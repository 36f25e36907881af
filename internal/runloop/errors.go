package runloop

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoProgress is the sentinel wrapped by NoProgressError, for callers
// that only want an errors.Is check.
var ErrNoProgress = errors.New("runloop: producer watchdog expired with no accepted datapoint")

// NoProgressError is returned when the producer keeps emitting
// datapoints but none of them survive the pipeline for longer than
// 1.5x the per-datapoint timeout (spec §4.F step 4a).
type NoProgressError struct {
	Elapsed time.Duration
	Timeout time.Duration
}

func (e *NoProgressError) Error() string {
	return fmt.Sprintf("%v: %s since the last accepted datapoint, watchdog is %s",
		ErrNoProgress, e.Elapsed.Round(time.Millisecond), e.Timeout)
}

func (e *NoProgressError) Unwrap() error { return ErrNoProgress }

// ErrInterrupted is returned when the run was stopped by SIGINT/SIGTERM
// rather than reaching its target count, time limit, or a fatal error —
// distinguishing a user-initiated stop from ordinary completion so the
// caller can choose an exit code accordingly.
var ErrInterrupted = errors.New("runloop: interrupted")
