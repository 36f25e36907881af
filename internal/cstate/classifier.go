// Package cstate implements component C of the measurement pipeline: it
// resolves a raw datapoint's requested C-state index to a name, then
// decides whether that C-state is entered with interrupts enabled or
// disabled — either by a fixed rule (POLL, early-interrupts mode, states
// deeper than C1) or by majority vote for the ambiguous C1/C1E family.
//
// Grounded on original_source/wultlibs/_WultDpProcess.py's _CStates class.
package cstate

import (
	"fmt"
	"log"

	"github.com/dmitriimaksimovdevelop/wult/internal/model"
)

// ErrNoEnabledCStates is returned by NewCStateDirectory when the
// index→name listing is empty, i.e. every C-state for the measured CPU is
// disabled in the OS idle subsystem.
var ErrNoEnabledCStates = fmt.Errorf("cstate: no enabled C-states for the measured CPU")

// BadCStateIndexError is returned when a raw datapoint's ReqCState index
// does not resolve through the directory.
type BadCStateIndexError struct {
	Index     int
	Known     map[int]string
	Datapoint model.RawDatapoint
}

func (e *BadCStateIndexError) Error() string {
	return fmt.Sprintf("cstate: unknown C-state index %d (known: %v)", e.Index, e.Known)
}

// ambiguousCStateNames are the requestable C-states whose interrupt-order
// is learned by ballot rather than fixed by rule. Every production
// platform seen in the wild only needs to disambiguate the C1 family;
// everything deeper is fixed at IntrOff=true without voting.
var ambiguousCStateNames = map[string]bool{
	"C1":      true,
	"C1E":     true,
	"C1_ACPI": true,
}

func isDeeperThanC1(name string) bool {
	return name != "POLL" && !ambiguousCStateNames[name]
}

// NewCStateDirectory builds a CStateDirectory from the OS idle subsystem's
// index→name listing for the measured CPU. Fails if every state is
// disabled (an empty mapping).
func NewCStateDirectory(idx2name map[int]string) (*model.CStateDirectory, error) {
	if len(idx2name) == 0 {
		return nil, ErrNoEnabledCStates
	}
	return &model.CStateDirectory{IdxToName: idx2name}, nil
}

// Classifier decides, per raw datapoint, whether the requested C-state was
// entered with interrupts enabled or disabled.
type Classifier struct {
	dir       *model.CStateDirectory
	earlyIntr bool

	intrOff model.IntrOffMap
	ballots map[string]*model.IntrOrderBallot
	pending []model.RawDatapoint
}

// NewClassifier creates a Classifier. earlyIntr mirrors the "early
// interrupts" run mode, which forces IntrOff=false for every state.
func NewClassifier(dir *model.CStateDirectory, earlyIntr bool) *Classifier {
	return &Classifier{
		dir:       dir,
		earlyIntr: earlyIntr,
		intrOff:   make(model.IntrOffMap),
		ballots:   make(map[string]*model.IntrOrderBallot),
	}
}

// Feed implements spec §4.C. ok is false while a datapoint is held back in
// an undecided ballot; it is never held back for any other reason (fixed
// rules always decide immediately, possibly dropping via the timing gate).
func (c *Classifier) Feed(dp model.RawDatapoint) (model.RawDatapoint, bool, error) {
	idx := int(dp["ReqCState"].Int())
	name, ok := c.dir.Name(idx)
	if !ok {
		return nil, false, &BadCStateIndexError{Index: idx, Known: c.dir.IdxToName, Datapoint: dp}
	}
	dp["ReqCState"] = model.StrVal(name)

	if c.earlyIntr {
		dp["IntrOff"] = model.BoolVal(false)
		return dp, true, nil
	}

	if name == "POLL" {
		dp["IntrOff"] = model.BoolVal(false)
		return dp, true, nil
	}

	if isDeeperThanC1(name) {
		dp["IntrOff"] = model.BoolVal(true)
		c.intrOff[name] = true
		if gateDrops(dp, true) {
			return nil, false, nil
		}
		return dp, true, nil
	}

	if decided, ok := c.intrOff[name]; ok {
		dp["IntrOff"] = model.BoolVal(decided)
		if gateDrops(dp, decided) {
			return nil, false, nil
		}
		return dp, true, nil
	}

	return c.vote(name, dp)
}

func (c *Classifier) vote(name string, dp model.RawDatapoint) (model.RawDatapoint, bool, error) {
	b, ok := c.ballots[name]
	if !ok {
		b = &model.IntrOrderBallot{}
		c.ballots[name] = b
	}

	if dp["TIntr"].Int() < dp["TAI"].Int() {
		b.OnVotes++
		b.OnQueue = append(b.OnQueue, dp)
	} else {
		b.OffVotes++
		b.OffQueue = append(b.OffQueue, dp)
	}

	ratio := float64(b.OnVotes+1) / float64(b.OffVotes+1)
	var decided bool
	switch {
	case ratio > 100:
		decided = false
	case 1/ratio > 100:
		decided = true
	default:
		return nil, false, nil
	}

	c.intrOff[name] = decided
	log.Printf("[cstate] %s interrupt order decided: IntrOff=%v (on=%d off=%d)",
		name, decided, b.OnVotes, b.OffVotes)
	delete(c.ballots, name)

	winning := b.OnQueue
	if decided {
		winning = b.OffQueue
	}
	for _, queued := range winning {
		queued["IntrOff"] = model.BoolVal(decided)
		if !gateDrops(queued, decided) {
			c.pending = append(c.pending, queued)
		}
	}
	return nil, false, nil
}

// Drain yields every datapoint released by a ballot settling during the
// most recent Feed call, and clears the pending list. Call after every
// Feed. Ordering across C-states is unspecified; arrival order within a
// C-state is preserved.
func (c *Classifier) Drain() []model.RawDatapoint {
	out := c.pending
	c.pending = nil
	return out
}

// gateDrops implements the timing sanity gate from spec §4.C: if IntrOff
// is true and AITS2 > IntrTS1 the after-idle handler ran after the
// interrupt handler, which is impossible with interrupts disabled; the
// symmetric check applies when IntrOff is false.
func gateDrops(dp model.RawDatapoint, intrOff bool) bool {
	if intrOff {
		if dp["AITS2"].Int() > dp["IntrTS1"].Int() {
			log.Printf("[cstate] dropping datapoint: AITS2 > IntrTS1 with IntrOff=true")
			return true
		}
		return false
	}
	if dp["IntrTS2"].Int() > dp["AITS1"].Int() {
		log.Printf("[cstate] dropping datapoint: IntrTS2 > AITS1 with IntrOff=false")
		return true
	}
	return false
}
