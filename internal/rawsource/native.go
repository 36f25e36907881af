package rawsource

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/cilium/ebpf/ringbuf"

	"github.com/dmitriimaksimovdevelop/wult/internal/ebpf"
	"github.com/dmitriimaksimovdevelop/wult/internal/model"
)

// nativeRecord is the fixed binary layout wult's CO-RE object writes into
// its ring buffer, one per wake event. Field order and widths must match
// the BPF object's struct exactly.
type nativeRecord struct {
	ReqCState   int32
	SMICnt      int32
	NMICnt      int32
	_           int32 // padding to keep int64 fields 8-byte aligned
	TotCyc      int64
	CC0Cyc      int64
	BICyc       int64
	BIMonotonic int64
	LTime       int64
	TBI         int64
	TAI         int64
	TIntr       int64
	AITS1       int64
	AITS2       int64
	IntrTS1     int64
	IntrTS2     int64
}

// NativeSource reads datapoints from a cilium/ebpf ring buffer populated
// by a CO-RE program loaded via internal/ebpf's BTF-aware loader.
//
// Grounded on internal/ebpf/loader.go (adapted from kprobe attachment to
// ring-buffer reading) and internal/ebpf/btf.go (CO-RE availability
// detection, kept as-is).
type NativeSource struct {
	loader  *ebpf.Loader
	spec    ebpf.ProgramSpec
	program *ebpf.LoadedProgram
	reader  *ringbuf.Reader
}

// NewNativeSource creates a NativeSource for the given program spec
// (normally ebpf.NativePrograms[0]).
func NewNativeSource(spec ebpf.ProgramSpec, verbose bool) *NativeSource {
	return &NativeSource{loader: ebpf.NewLoader(verbose), spec: spec}
}

// Prepare loads the CO-RE object and opens the ring buffer reader. wult's
// native backend has no launch-distance knobs to push (the timer period
// is baked into the compiled object); "prepare" here is solely the
// load+attach step.
func (n *NativeSource) Prepare(ctx context.Context) error {
	prog, err := n.loader.TryLoad(ctx, &n.spec)
	if err != nil {
		return &ProducerError{Op: "load", Path: n.spec.ObjectFile, Err: err}
	}
	n.program = prog

	reader, err := prog.RingBufReader()
	if err != nil {
		prog.Close()
		return &ProducerError{Op: "open-ringbuf", Path: n.spec.RingBufMap, Err: err}
	}
	n.reader = reader
	return nil
}

// Start is a no-op: the compiled object begins emitting records as soon
// as it's loaded and attached, in Prepare.
func (n *NativeSource) Start() error { return nil }

// Stop closes the ring buffer reader, which unblocks any pending Read
// with ringbuf.ErrClosed.
func (n *NativeSource) Stop() error {
	if n.reader == nil {
		return nil
	}
	return n.reader.Close()
}

// Next blocks until the next ring buffer record is available, decodes
// it, and returns the corresponding RawDatapoint.
func (n *NativeSource) Next() (model.RawDatapoint, bool, error) {
	rec, err := n.reader.Read()
	if err != nil {
		if err == ringbuf.ErrClosed {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrProducer, err)
	}

	var r nativeRecord
	if err := binary.Read(bytes.NewReader(rec.RawSample), binary.LittleEndian, &r); err != nil {
		return nil, false, fmt.Errorf("%w: decoding ring buffer record: %v", ErrProducer, err)
	}

	dp := model.RawDatapoint{
		"ReqCState":   model.IntVal(int64(r.ReqCState)),
		"SMICnt":      model.IntVal(int64(r.SMICnt)),
		"NMICnt":      model.IntVal(int64(r.NMICnt)),
		"TotCyc":      model.IntVal(r.TotCyc),
		"CC0Cyc":      model.IntVal(r.CC0Cyc),
		"BICyc":       model.IntVal(r.BICyc),
		"BIMonotonic": model.IntVal(r.BIMonotonic),
		"LTime":       model.IntVal(r.LTime),
		"TBI":         model.IntVal(r.TBI),
		"TAI":         model.IntVal(r.TAI),
		"TIntr":       model.IntVal(r.TIntr),
		"AITS1":       model.IntVal(r.AITS1),
		"AITS2":       model.IntVal(r.AITS2),
		"IntrTS1":     model.IntVal(r.IntrTS1),
		"IntrTS2":     model.IntVal(r.IntrTS2),
	}
	return dp, true, nil
}

// Close releases the BPF collection and any attached link.
func (n *NativeSource) Close() error {
	if n.program != nil {
		return n.program.Close()
	}
	return nil
}

// TscNative is true: wult's native backend timestamps with the raw TSC,
// requiring tscrate conversion downstream.
func (n *NativeSource) TscNative() bool { return true }
