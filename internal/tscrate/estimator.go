// Package tscrate implements component B of the measurement pipeline: it
// derives the TSC frequency from two in-band reads of a raw datapoint's
// "before idle" TSC/monotonic pair, then converts TSC cycles to
// nanoseconds for backends that report time in cycles rather than ns.
//
// Grounded on original_source/wultlibs/_WultDpProcess.py's _TSCRate class.
package tscrate

import (
	"fmt"
	"log"

	"github.com/dmitriimaksimovdevelop/wult/internal/model"
)

// ErrEstimation is returned when the TSC rate cannot be computed: either
// the derived MHz is non-positive or the estimator was asked to convert
// before a rate was ever established.
type ErrEstimation struct {
	MHz float64
}

func (e *ErrEstimation) Error() string {
	return fmt.Sprintf("tscrate: invalid TSC rate %.6f MHz", e.MHz)
}

// Estimator buffers raw datapoints until enough time has elapsed to
// compute cycles-per-nanosecond, then releases them via Drain.
type Estimator struct {
	tscNative bool
	holdNs    int64

	haveTsc1 bool
	tsc1     int64
	ts1      int64

	haveMHz bool
	mhz     float64

	queue []model.RawDatapoint
}

// DefaultHoldNs is the default TSC-calibration window (10 seconds),
// matching original_source's tsc_cal_time=10 default.
const DefaultHoldNs = 10_000_000_000

// NewEstimator creates an Estimator. tscNative selects whether this
// backend reports time in TSC cycles (requiring conversion) or
// nanoseconds (pass-through). holdNs is the minimum separation between
// the two calibration samples.
func NewEstimator(tscNative bool, holdNs int64) *Estimator {
	if holdNs <= 0 {
		holdNs = DefaultHoldNs
	}
	return &Estimator{tscNative: tscNative, holdNs: holdNs}
}

// Feed implements spec §4.B. If the backend is nanosecond-native, or the
// rate is already known, dp passes through unchanged. Otherwise dp is
// queued (SMI/NMI-tainted samples are queued but skipped for the rate
// arithmetic) and Feed returns false until the rate is established.
func (e *Estimator) Feed(dp model.RawDatapoint) (model.RawDatapoint, bool) {
	if !e.tscNative {
		return dp, true
	}
	if e.haveMHz {
		return dp, true
	}

	e.observe(dp)
	e.queue = append(e.queue, dp)
	return nil, false
}

func (e *Estimator) observe(dp model.RawDatapoint) {
	if dp["SMICnt"].Int() != 0 || dp["NMICnt"].Int() != 0 {
		log.Printf("[tscrate] SMI/NMI detected, skipping datapoint for rate calculation")
		return
	}

	tsc := dp["BICyc"].Int()
	ts := dp["BIMonotonic"].Int()

	if !e.haveTsc1 {
		e.tsc1, e.ts1 = tsc, ts
		e.haveTsc1 = true
		return
	}

	if ts-e.ts1 < e.holdNs {
		return
	}
	if ts == e.ts1 {
		log.Printf("[tscrate] monotonic time did not advance, skipping datapoint for rate calculation")
		return
	}

	e.mhz = float64(tsc-e.tsc1) * 1000.0 / float64(ts-e.ts1)
	e.haveMHz = true
	log.Printf("[tscrate] TSC rate is %.6f MHz", e.mhz)
}

// Drain yields and clears the held-back queue once the rate is known.
func (e *Estimator) Drain() []model.RawDatapoint {
	if !e.haveMHz {
		return nil
	}
	q := e.queue
	e.queue = nil
	return q
}

// CycToNs converts a cycle count to nanoseconds using the estimated rate.
func (e *Estimator) CycToNs(cyc int64) (int64, error) {
	if !e.haveMHz || e.mhz <= 0 {
		return 0, &ErrEstimation{MHz: e.mhz}
	}
	return int64(float64(cyc*1000) / e.mhz), nil
}

// MHz returns the estimated TSC rate and whether it has been established.
func (e *Estimator) MHz() (float64, bool) {
	return e.mhz, e.haveMHz
}

// TscNative reports whether this estimator was configured for a
// cycle-native backend (as opposed to pass-through nanosecond-native).
func (e *Estimator) TscNative() bool {
	return e.tscNative
}
