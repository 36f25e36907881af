package rawsource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dmitriimaksimovdevelop/wult/internal/executor"
	"github.com/dmitriimaksimovdevelop/wult/internal/model"
)

// Debugfs knob filenames, grounded on
// original_source/wultlibs/EventsProvider.py's start()/_set_launch_distance().
const (
	knobEnabled      = "enabled"
	knobLdistFromNs  = "ldist_from_nsec"
	knobLdistToNs    = "ldist_to_nsec"
	knobLdistMinNs   = "ldist_min_nsec"
	knobLdistMaxNs   = "ldist_max_nsec"
	knobResolutionNs = "resolution_nsec"
)

// DebugfsSource reads one line-oriented key=value record per raw
// datapoint from a companion helper process that bridges a tracefs/
// debugfs-style mount point, and arms/disarms the producer by writing
// its control knobs directly.
//
// Grounded on original_source/wultlibs/EventsProvider.py (control-knob
// sequencing) and internal/executor's BCCExecutor (security-checked
// helper process spawning), adapted to streaming output via
// executor.StreamExecutor.
type DebugfsSource struct {
	mountPoint  string
	helperTool  string
	helperArgs  []string
	ldistMinNs  int64
	ldistMaxNs  int64
	wantLdistNs int64

	exec   *executor.StreamExecutor
	handle *executor.StreamHandle

	onPID func(pid int) // optional, for PIDTracker registration
}

// NewDebugfsSource creates a DebugfsSource bound to mountPoint (the
// producer's debugfs/tracefs directory) with the given launch distance
// (nanoseconds) and helper binary to spawn for the datapoint stream.
func NewDebugfsSource(mountPoint, helperTool string, helperArgs []string, wantLdistNs int64, onPID func(int)) *DebugfsSource {
	return &DebugfsSource{
		mountPoint:  mountPoint,
		helperTool:  helperTool,
		helperArgs:  helperArgs,
		wantLdistNs: wantLdistNs,
		exec:        executor.NewStreamExecutor(),
		onPID:       onPID,
	}
}

func (d *DebugfsSource) knobPath(name string) string {
	return filepath.Join(d.mountPoint, name)
}

func (d *DebugfsSource) readKnob(name string) (int64, error) {
	path := d.knobPath(name)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, &ProducerError{Op: "read", Path: path, Err: err}
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, &ProducerError{Op: "parse", Path: path, Err: err}
	}
	return v, nil
}

func (d *DebugfsSource) writeKnob(name, value string) error {
	path := d.knobPath(name)
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
		return &ProducerError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// Prepare detects a concurrent run, clamps the requested launch distance
// to the producer's supported range, and spawns the companion helper
// process that streams datapoint records.
func (d *DebugfsSource) Prepare(ctx context.Context) error {
	enabled, err := d.readKnob(knobEnabled)
	if err != nil {
		return err
	}
	if enabled == 1 {
		return ErrAlreadyBound
	}

	d.ldistMinNs, err = d.readKnob(knobLdistMinNs)
	if err != nil {
		return err
	}
	d.ldistMaxNs, err = d.readKnob(knobLdistMaxNs)
	if err != nil {
		return err
	}

	ldist := d.wantLdistNs
	if ldist < d.ldistMinNs {
		ldist = d.ldistMinNs
	}
	if ldist > d.ldistMaxNs {
		ldist = d.ldistMaxNs
	}
	if err := d.writeKnob(knobLdistFromNs, strconv.FormatInt(ldist, 10)); err != nil {
		return err
	}
	if err := d.writeKnob(knobLdistToNs, strconv.FormatInt(ldist, 10)); err != nil {
		return err
	}

	handle, err := d.exec.Start(d.helperTool, d.helperArgs)
	if err != nil {
		return fmt.Errorf("rawsource: starting debugfs helper: %w", err)
	}
	d.handle = handle
	if d.onPID != nil {
		d.onPID(handle.PID())
	}
	return nil
}

// Start arms the producer by writing "1" to the enabled knob.
func (d *DebugfsSource) Start() error {
	return d.writeKnob(knobEnabled, "1")
}

// Stop disarms the producer by writing "0" to the enabled knob.
func (d *DebugfsSource) Stop() error {
	return d.writeKnob(knobEnabled, "0")
}

// Next reads and parses the next "key=value key=value ..." record from
// the helper process's stdout.
func (d *DebugfsSource) Next() (model.RawDatapoint, bool, error) {
	if !d.handle.Scan() {
		if err := d.handle.Err(); err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrProducer, err)
		}
		return nil, false, nil
	}
	dp, err := parseRecord(d.handle.Text())
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrProducer, err)
	}
	return dp, true, nil
}

// Close stops the helper process (best effort) and releases its handle.
func (d *DebugfsSource) Close() error {
	if d.handle == nil {
		return nil
	}
	return d.handle.Stop(context.Background())
}

// TscNative is false: the debugfs backend reports time in nanoseconds.
func (d *DebugfsSource) TscNative() bool { return false }

// DeviceInfo is the static identification data a probe tool prints
// before any datapoint streaming begins, destined for the result
// sidecar's DevID/DevDescr/Resolution fields.
type DeviceInfo struct {
	DevID      string
	DevDescr   string
	Resolution int64
}

// ProbeDevice runs a short, bounded-duration helper invocation to
// collect static device identification — separate from the long-lived
// streaming helper Prepare starts, which never terminates on its own.
// Grounded on the teacher's BCCExecutor.Run, the bounded-duration
// sibling of executor.StreamExecutor's unbounded line-at-a-time
// streaming used for the datapoint feed itself.
func (d *DebugfsSource) ProbeDevice(ctx context.Context, probeTool string, probeArgs []string, timeout time.Duration) (DeviceInfo, error) {
	bcc := executor.NewBCCExecutor(false)
	raw, err := bcc.Run(ctx, probeTool, probeArgs, timeout)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("rawsource: probing device info: %w", err)
	}
	return parseDeviceInfo(raw.Stdout), nil
}

// parseDeviceInfo decodes the same "key=value key=value ..." shape as
// parseRecord, but into a DeviceInfo rather than a RawDatapoint — the
// probe tool's output describes the device once, not a per-wake event.
func parseDeviceInfo(stdout string) DeviceInfo {
	var info DeviceInfo
	for _, line := range strings.Split(stdout, "\n") {
		for _, f := range strings.Fields(line) {
			kv := strings.SplitN(f, "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch kv[0] {
			case "devid":
				info.DevID = kv[1]
			case "devdescr":
				info.DevDescr = kv[1]
			case "resolution_nsec":
				if v, err := strconv.ParseInt(kv[1], 10, 64); err == nil {
					info.Resolution = v
				}
			}
		}
	}
	return info
}

// parseRecord decodes one "key=value" line into a RawDatapoint. A value
// containing "." is parsed as a float; otherwise as an int.
func parseRecord(line string) (model.RawDatapoint, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty record")
	}
	dp := make(model.RawDatapoint, len(fields))
	for _, f := range fields {
		kv := strings.SplitN(f, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("malformed field %q", f)
		}
		key, raw := kv[0], kv[1]
		if strings.Contains(raw, ".") {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", key, err)
			}
			dp[key] = model.FloatVal(v)
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		dp[key] = model.IntVal(v)
	}
	return dp, nil
}
