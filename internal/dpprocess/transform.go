// Package dpprocess implements component D of the measurement pipeline:
// per-datapoint time derivation, adjustment application, driver-overhead
// compensation, C-state residency derivation, and unit conversion.
//
// Grounded on original_source/wultlibs/_WultDpProcess.py's
// DatapointProcessor class (_process_time, _process_cstates,
// _finalize_dp) and spec.md §4.D.
package dpprocess

import (
	"fmt"
	"log"
	"strings"

	"github.com/dmitriimaksimovdevelop/wult/internal/model"
	"github.com/dmitriimaksimovdevelop/wult/internal/tscrate"
)

// ResidencyClampPct and ResidencyWarnPct bound the residency percentages
// computed in step 5: the raw hardware counters are known to drift above
// 100% of TotCyc, so the clamp masks it silently while the warn threshold
// flags readings too far off to trust.
const (
	ResidencyClampPct = 100.0
	ResidencyWarnPct  = 300.0
)

// NegativeTimeError is returned when a required non-negative time-valued
// field (LDist, SilentTime, IntrLatency, WakeLatency) comes out negative.
type NegativeTimeError struct {
	Metric string
	Value  int64
}

func (e *NegativeTimeError) Error() string {
	return fmt.Sprintf("dpprocess: negative %q value: %d", e.Metric, e.Value)
}

// ErrZeroTotCyc is returned when a datapoint's TotCyc field is zero.
var ErrZeroTotCyc = fmt.Errorf("dpprocess: TotCyc is zero")

// InvariantError is returned when a datapoint violates an invariant this
// package depends on (currently: TotCyc must be >= CC0Cyc).
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string { return "dpprocess: " + e.Msg }

// Transformer validates, adjusts, and enriches raw datapoints into
// processed datapoints. It must be prepared with the first raw datapoint
// before Process is called on any datapoint (including that first one).
type Transformer struct {
	est      *tscrate.Estimator
	defs     model.Definitions
	keepRaw  bool
	prepared bool

	usMetrics map[string]bool
	csNames   []string // e.g. "CC0", "CC1", "CC6", "PC2" — residency field prefixes

	warnedTDTOnce bool
}

// NewTransformer creates a Transformer bound to est (for cycle→ns
// conversion on TSC-native backends) and defs (the externally supplied
// definitions dictionary driving the microseconds set and field
// projection). keepRaw retains fields outside the definitions dictionary
// instead of dropping them at projection time.
func NewTransformer(est *tscrate.Estimator, defs model.Definitions, keepRaw bool) *Transformer {
	return &Transformer{est: est, defs: defs, keepRaw: keepRaw}
}

// Prepare captures the metric list and derived sets from the first raw
// datapoint: the microseconds unit set (from the definitions dictionary)
// and the C-state residency fields to emit (one per "<CsName>Cyc" field
// present).
func (t *Transformer) Prepare(dp model.RawDatapoint) {
	t.usMetrics = make(map[string]bool)
	for name, def := range t.defs {
		if def.Unit == "microsecond" {
			t.usMetrics[name] = true
		}
	}

	for name := range dp {
		if strings.HasSuffix(name, "Cyc") && (strings.HasPrefix(name, "CC") || strings.HasPrefix(name, "PC")) {
			t.csNames = append(t.csNames, strings.TrimSuffix(name, "Cyc"))
		}
	}
	t.prepared = true
}

// Process implements spec §4.D's 8-step contract. A nil, nil return means
// the datapoint was dropped for a sound reason (soft-fail, logged at
// debug level); errors are reserved for invariant violations the caller
// should treat as fatal.
func (t *Transformer) Process(dp model.RawDatapoint) (model.ProcessedDatapoint, error) {
	if !t.prepared {
		t.Prepare(dp)
	}

	ltime := dp["LTime"].Int()
	tbi := dp["TBI"].Int()
	tai := dp["TAI"].Int()
	tintr := dp["TIntr"].Int()

	silentTime := ltime - tbi
	wakeLatency := tai - ltime
	intrLatency := tintr - ltime

	if t.est.TscNative() {
		var err error
		silentTime, err = t.est.CycToNs(silentTime)
		if err != nil {
			return nil, err
		}
		wakeLatency, err = t.est.CycToNs(wakeLatency)
		if err != nil {
			return nil, err
		}
		intrLatency, err = t.est.CycToNs(intrLatency)
		if err != nil {
			return nil, err
		}
	}

	for _, m := range []struct {
		name string
		val  int64
	}{
		{"LDist", dp["LDist"].Int()},
		{"SilentTime", silentTime},
		{"IntrLatency", intrLatency},
		{"WakeLatency", wakeLatency},
	} {
		if m.val < 0 {
			return nil, &NegativeTimeError{Metric: m.name, Value: m.val}
		}
	}

	if v, ok := dp["TBIAdj"]; ok {
		silentTime -= v.Int()
		if tbi+v.Int() >= ltime {
			log.Printf("[dpprocess] TBI+TBIAdj >= LTime, dropping datapoint")
			return nil, nil
		}
	}
	if v, ok := dp["TAIAdj"]; ok {
		wakeLatency -= v.Int()
		if tai-v.Int() <= ltime {
			log.Printf("[dpprocess] TAI-TAIAdj <= LTime, dropping datapoint")
			return nil, nil
		}
	}
	if v, ok := dp["TIntrAdj"]; ok {
		intrLatency -= v.Int()
		if tintr-v.Int() <= ltime {
			log.Printf("[dpprocess] TIntr-TIntrAdj <= LTime, dropping datapoint")
			return nil, nil
		}
	}

	intrOff := dp["IntrOff"].Bool()
	if intrOff {
		overhead := dp["AITS2"].Int() - dp["AITS1"].Int()
		if overhead >= intrLatency {
			log.Printf("[dpprocess] overhead %d >= IntrLatency %d, dropping datapoint", overhead, intrLatency)
			return nil, nil
		}
		if wakeLatency >= intrLatency-overhead {
			log.Printf("[dpprocess] WakeLatency %d >= IntrLatency-overhead %d, dropping datapoint", wakeLatency, intrLatency-overhead)
			return nil, nil
		}
		intrLatency -= overhead
	} else {
		overhead := dp["IntrTS2"].Int() - dp["IntrTS1"].Int()
		if overhead >= wakeLatency {
			log.Printf("[dpprocess] overhead %d >= WakeLatency %d, dropping datapoint", overhead, wakeLatency)
			return nil, nil
		}
		if intrLatency >= wakeLatency-overhead {
			log.Printf("[dpprocess] IntrLatency %d >= WakeLatency-overhead %d, dropping datapoint", intrLatency, wakeLatency-overhead)
			return nil, nil
		}
		wakeLatency -= overhead

		if t.est.TscNative() {
			if !t.warnedTDTOnce {
				log.Printf("[dpprocess] a TSC-native backend cannot correctly measure interrupt-enabled C-states; dropping such datapoints")
				t.warnedTDTOnce = true
			}
			return nil, nil
		}
	}

	out := make(model.ProcessedDatapoint, len(dp))
	if t.keepRaw {
		for k, v := range dp {
			out[k] = v
		}
	}
	for k, v := range dp {
		if _, known := t.defs[k]; known {
			out[k] = v
		}
	}

	out["SilentTime"] = model.IntVal(silentTime)
	out["WakeLatency"] = model.IntVal(wakeLatency)
	out["IntrLatency"] = model.IntVal(intrLatency)
	out["IntrOff"] = model.BoolVal(intrOff)

	if err := t.residency(dp, out); err != nil {
		return nil, err
	}

	if t.est.TscNative() {
		// The TSC-native driver cannot reliably measure interrupt latency
		// for the surviving (IntrOff=true) datapoints either; its value
		// tracks an unrelated timer deadline, not the one wult armed.
		delete(out, "IntrLatency")
	}

	for name := range t.usMetrics {
		if v, ok := out[name]; ok {
			out[name] = model.FloatVal(v.Float() / 1000.0)
		}
	}

	return out, nil
}

func (t *Transformer) residency(dp model.RawDatapoint, out model.ProcessedDatapoint) error {
	totCyc := dp["TotCyc"].Int()
	if totCyc == 0 {
		return ErrZeroTotCyc
	}
	cc0 := dp["CC0Cyc"].Int()
	if totCyc < cc0 {
		return &InvariantError{Msg: fmt.Sprintf("TotCyc (%d) < CC0Cyc (%d)", totCyc, cc0)}
	}

	isPoll := dp["ReqCState"].Str() == "POLL"

	for _, name := range t.csNames {
		if isPoll && name != "CC0" {
			out[name+"%"] = model.FloatVal(0)
			continue
		}
		cyc := dp[name+"Cyc"].Int()
		pct := float64(cyc) / float64(totCyc) * 100
		if pct > ResidencyWarnPct {
			log.Printf("[dpprocess] %s residency %.2f%% of TotCyc looks implausible", name, pct)
		}
		if pct > ResidencyClampPct {
			pct = ResidencyClampPct
		}
		out[name+"%"] = model.FloatVal(pct)
	}

	hasCoreResidency := false
	var deeperSum int64
	for _, name := range t.csNames {
		if !strings.HasPrefix(name, "CC") {
			continue
		}
		hasCoreResidency = true
		if name == "CC1" {
			continue
		}
		deeperSum += dp[name+"Cyc"].Int()
	}

	if hasCoreResidency && !isPoll {
		cc1derived := (float64(totCyc) - float64(deeperSum)) / float64(totCyc) * 100
		if cc1derived < 0 {
			cc1derived = 0
		}
		out["CC1Derived%"] = model.FloatVal(cc1derived)
	} else {
		out["CC1Derived%"] = model.FloatVal(0)
	}

	return nil
}
