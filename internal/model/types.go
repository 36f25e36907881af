// Package model defines the shared data types flowing through the wult
// measurement pipeline: raw datapoints from the kernel producer, the
// derived directories/ballots the classifier and estimator build up, and
// the processed datapoints and sidecar metadata written to disk.
package model

import "strconv"

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func formatInt(i int64) string {
	return strconv.FormatInt(i, 10)
}

// Scalar is a datapoint field value: a 64-bit signed integer (cycle
// counters, nanosecond timestamps), a 64-bit float (residency
// percentages, microsecond durations after conversion), or a string.
// Raw datapoints off the wire are int/float only; the classifier
// overwrites ReqCState's integer index with its resolved name string in
// place, so the map stays uniform rather than splitting into two shapes.
type Scalar struct {
	I        int64
	F        float64
	S        string
	IsFloat  bool
	IsString bool
}

// IntVal wraps an integer scalar.
func IntVal(v int64) Scalar { return Scalar{I: v} }

// FloatVal wraps a float scalar.
func FloatVal(v float64) Scalar { return Scalar{F: v, IsFloat: true} }

// StrVal wraps a string scalar (used only for ReqCState once resolved).
func StrVal(v string) Scalar { return Scalar{S: v, IsString: true} }

// BoolVal wraps a boolean as an int scalar (0/1); used for IntrOff.
func BoolVal(v bool) Scalar {
	if v {
		return IntVal(1)
	}
	return IntVal(0)
}

// Bool returns the scalar as a boolean (non-zero integer is true).
func (s Scalar) Bool() bool { return s.Int() != 0 }

// Float returns the scalar as a float64 regardless of its underlying kind.
func (s Scalar) Float() float64 {
	if s.IsFloat {
		return s.F
	}
	return float64(s.I)
}

// Int returns the scalar as an int64 regardless of its underlying kind.
func (s Scalar) Int() int64 {
	if s.IsFloat {
		return int64(s.F)
	}
	return s.I
}

// Str returns the scalar's string form, formatting numeric scalars when
// they are not already strings.
func (s Scalar) Str() string {
	if s.IsString {
		return s.S
	}
	if s.IsFloat {
		return formatFloat(s.F)
	}
	return formatInt(s.I)
}

// RawDatapoint is an unordered field-name-to-scalar mapping produced by a
// RawSource. It matches the "dynamic dictionary as record" wire shape and
// stays map-typed through the whole pipeline.
type RawDatapoint map[string]Scalar

// ProcessedDatapoint is a RawDatapoint that has been validated, adjusted,
// and had its synthetic fields (SilentTime, WakeLatency, IntrLatency,
// IntrOff, residency percentages, CC1Derived%) attached, then projected
// down to the definitions dictionary's field set.
type ProcessedDatapoint map[string]Scalar

// CStateDirectory maps the OS idle-state index (as reported in a raw
// datapoint's ReqCState field) to the requestable C-state name.
type CStateDirectory struct {
	IdxToName map[int]string
}

// Name resolves idx through the directory. ok is false for an unknown index.
func (d *CStateDirectory) Name(idx int) (string, bool) {
	name, ok := d.IdxToName[idx]
	return name, ok
}

// IntrOrderBallot accumulates votes on whether a single requestable
// C-state is entered with interrupts disabled, plus the raw datapoints
// held back while the vote is undecided.
type IntrOrderBallot struct {
	OnVotes  int // TIntr < TAI
	OffVotes int
	OnQueue  []RawDatapoint
	OffQueue []RawDatapoint
}

// IntrOffMap records, per requestable C-state name, whether it is entered
// with interrupts disabled. Populated incrementally by the classifier.
type IntrOffMap map[string]bool

// Definitions maps a metric name to the unit its value is expressed in.
// wult only reads the unit field and the key set; everything else in the
// upstream definitions dictionary (title, descr, short_unit, ...) is an
// external collaborator's concern and flows through to the sidecar
// consumer unchanged, outside this pipeline's scope.
type Definitions map[string]FieldDef

// FieldDef is one entry of the definitions dictionary.
type FieldDef struct {
	Type string // "int" or "float"
	Unit string // "nanosecond", "microsecond", "percent", ...
}

// InfoSidecar is the YAML document written to <outdir>/info.yml.
type InfoSidecar struct {
	ToolName      string `yaml:"toolname"`
	ToolVer       string `yaml:"toolver"`
	FormatVersion string `yaml:"format_version"`
	ReportID      string `yaml:"reportid"`
	CPU           int    `yaml:"cpu"`
	DevID         string `yaml:"devid,omitempty"`
	DevDescr      string `yaml:"devdescr,omitempty"`
	Resolution    int64  `yaml:"resolution,omitempty"`
	Date          string `yaml:"date,omitempty"`
	Duration      string `yaml:"duration,omitempty"`
	EarlyIntr     bool   `yaml:"early_intr,omitempty"`
	Overhead      *OverheadInfo `yaml:"overhead,omitempty"`
}

// OverheadInfo is the self-overhead diagnostics enrichment appended to
// the sidecar at run close (see internal/observer).
type OverheadInfo struct {
	CPUUserMs       int64 `yaml:"cpu_user_ms"`
	CPUSystemMs     int64 `yaml:"cpu_system_ms"`
	MemoryRSSBytes  int64 `yaml:"memory_rss_bytes"`
	ContextSwitches int64 `yaml:"context_switches"`
}

// FormatVersion is the sidecar format version this implementation writes.
// Results tagged "1.2" may be read but are never written.
const FormatVersion = "1.3"
