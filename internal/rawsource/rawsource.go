// Package rawsource implements component A of the measurement pipeline:
// a lazy, single-pass, finite sequence of raw datapoints from the kernel
// producer, plus the three control operations (prepare/start/stop) that
// arm and disarm it.
package rawsource

import (
	"context"
	"fmt"

	"github.com/dmitriimaksimovdevelop/wult/internal/model"
)

// RawSource is the abstract contract every backend implements. The
// sequence may be empty; Next returning ok=false is terminal.
type RawSource interface {
	Prepare(ctx context.Context) error
	Start() error
	Stop() error
	Next() (model.RawDatapoint, bool, error)
	Close() error
	// TscNative reports whether this backend reports time in TSC cycles
	// (true) or nanoseconds (false); feeds tscrate.NewEstimator's flag.
	TscNative() bool
}

// ProducerError names a control-knob operation that failed against the
// kernel producer (a debugfs/tracefs write, or an eBPF attach call).
type ProducerError struct {
	Op   string
	Path string
	Err  error
}

func (e *ProducerError) Error() string {
	return fmt.Sprintf("rawsource: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ProducerError) Unwrap() error { return e.Err }

// ErrProducer wraps any other producer failure not tied to a specific
// knob while datapoints are being read (a read error on the helper's
// output, a malformed record, ...).
var ErrProducer = fmt.Errorf("rawsource: producer failure")

// ErrAlreadyBound is returned by Prepare when the producer's "enabled"
// knob already reads "1", meaning another run is using the device.
var ErrAlreadyBound = fmt.Errorf("rawsource: device is already bound by another run")
