package rawsource

import (
	"context"

	"github.com/dmitriimaksimovdevelop/wult/internal/model"
)

// FixtureSource is an in-memory RawSource backed by a fixed slice of
// datapoints, used by this package's own tests and importable by
// dpprocess/cstate/tscrate/runloop tests that need a stand-in producer.
type FixtureSource struct {
	dps       []model.RawDatapoint
	pos       int
	tscNative bool

	started bool
	stopped bool
}

// NewFixtureSource creates a FixtureSource that replays dps in order.
func NewFixtureSource(dps []model.RawDatapoint, tscNative bool) *FixtureSource {
	return &FixtureSource{dps: dps, tscNative: tscNative}
}

func (f *FixtureSource) Prepare(ctx context.Context) error { return nil }

func (f *FixtureSource) Start() error {
	f.started = true
	return nil
}

func (f *FixtureSource) Stop() error {
	f.stopped = true
	return nil
}

func (f *FixtureSource) Next() (model.RawDatapoint, bool, error) {
	if f.pos >= len(f.dps) {
		return nil, false, nil
	}
	dp := f.dps[f.pos]
	f.pos++
	return dp, true, nil
}

func (f *FixtureSource) Close() error { return nil }

func (f *FixtureSource) TscNative() bool { return f.tscNative }

// Started and Stopped report whether Start/Stop were ever called, for
// assertions in RunLoop tests.
func (f *FixtureSource) Started() bool { return f.started }
func (f *FixtureSource) Stopped() bool { return f.stopped }
