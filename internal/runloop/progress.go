package runloop

import (
	"fmt"
	"os"
	"time"
)

// progressLine prints a period-gated, single-line progress update to
// stderr. It combines the teacher's output.Progress elapsed-time prefix
// convention with original_source's WultProgressLine period gate: a
// repaint happens only after period has elapsed since the last one, plus
// one unconditional final repaint on exit (suppressed if nothing was
// ever printed).
type progressLine struct {
	enabled bool
	period  time.Duration

	start   time.Time
	last    time.Time
	printed bool
}

func newProgressLine(enabled bool, period time.Duration) *progressLine {
	return &progressLine{enabled: enabled, period: period}
}

func (p *progressLine) begin(now time.Time) {
	p.start = now
	p.last = now
}

// tick repaints the line if enough time has passed since the last
// repaint, or unconditionally when final is true (and something was
// printed before).
func (p *progressLine) tick(now time.Time, collected int, maxLatency float64, final bool) {
	if !p.enabled {
		return
	}
	if final {
		if !p.printed {
			return
		}
	} else if now.Sub(p.last) < p.period {
		return
	}

	p.last = now
	p.printed = true
	elapsed := now.Sub(p.start).Round(time.Second)
	fmt.Fprintf(os.Stderr, "[%s] collected %d datapoints, max latency %.2f\n", elapsed, collected, maxLatency)
}
