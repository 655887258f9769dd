// Package purge implements the incremental destruction pipeline: the
// two-phase, resumable teardown that turns the cycle's unreachable set
// back into free registry slots.
//
// Per cycle the pipeline is a state machine
//
//	Idle -> Unhashing -> AwaitingFinish -> Freeing -> Idle
//
// Unhashing and Freeing are time-sliced: they process a fixed number of
// objects between clock checks and resume from a saved cursor on the
// next tick. AwaitingFinish is usually waiting on external asynchronous
// teardown rather than doing CPU work, so with no time limit it spins
// with a yield between passes instead of returning.
package purge

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/joshuapare/gckit/gc/registry"
	"github.com/joshuapare/gckit/pkg/types"
)

// State identifies the pipeline phase.
type State int

const (
	// StateIdle means no destruction work is outstanding.
	StateIdle State = iota
	// StateUnhashing is the begin-teardown pass over the unreachable set.
	StateUnhashing
	// StateAwaitingFinish polls asynchronous teardown completion.
	StateAwaitingFinish
	// StateFreeing deallocates objects whose teardown finished.
	StateFreeing
)

// String names the state for logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateUnhashing:
		return "Unhashing"
	case StateAwaitingFinish:
		return "AwaitingFinish"
	case StateFreeing:
		return "Freeing"
	default:
		return "Unknown"
	}
}

// Polling the clock per object is too slow, so the time-sliced passes
// check it once per batch.
const (
	destroyGranularity = 10
	deleteGranularity  = 100
)

// DefaultStallWarnAfter is how long AwaitingFinish tolerates zero
// progress before raising a diagnostic.
const DefaultStallWarnAfter = 10 * time.Second

// Config tunes a pipeline.
type Config struct {
	// StallWarnAfter bounds zero-progress waiting in AwaitingFinish.
	// Zero means DefaultStallWarnAfter.
	StallWarnAfter time.Duration
	// StallFatal escalates a progress stall from a non-fatal diagnostic
	// to types.Fatalf. Off by default; resource-constrained hosts turn
	// it on.
	StallFatal bool
	// OnPreUnhash and OnPostUnhash run before the first and after the
	// last begin-teardown batch of a cycle.
	OnPreUnhash  func()
	OnPostUnhash func()
	// Logger receives phase progress at debug level. Nil discards.
	Logger *slog.Logger
}

// Pipeline drives destruction of one cycle's unreachable set at a time.
type Pipeline struct {
	objects *registry.Table
	cfg     Config

	state    State
	doomed   []types.Index // the cycle's unreachable set
	pending  []types.Index // teardown started, completion not yet observed
	unhashed int           // resume cursor into doomed
	freed    int           // resume cursor into doomed

	stallSince   time.Time
	stallPending int
	stallWarned  bool
}

// New creates an idle pipeline over the registry the orchestrator owns.
func New(objects *registry.Table, cfg Config) *Pipeline {
	if cfg.StallWarnAfter <= 0 {
		cfg.StallWarnAfter = DefaultStallWarnAfter
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{objects: objects, cfg: cfg, state: StateIdle}
}

// State returns the current phase.
func (p *Pipeline) State() State { return p.state }

// IsIdle reports whether the previous cycle's destruction has fully
// completed. The orchestrator refuses to start a new mark phase until
// this is true.
func (p *Pipeline) IsIdle() bool { return p.state == StateIdle }

// PendingCount returns the number of objects whose asynchronous teardown
// has been started but not yet observed complete.
func (p *Pipeline) PendingCount() int { return len(p.pending) }

// Begin hands the pipeline a new cycle's unreachable set. Fatal if the
// previous cycle has not reached Idle; overlapping destruction cycles
// would corrupt the pending list.
func (p *Pipeline) Begin(doomed []types.Index) {
	if p.state != StateIdle {
		types.Fatalf("purge: new destruction cycle started in state %s", p.state)
	}
	p.doomed = doomed
	p.pending = p.pending[:0]
	p.unhashed = 0
	p.freed = 0
	p.stallSince = time.Time{}
	p.stallWarned = false
	if len(doomed) == 0 {
		return
	}
	p.state = StateUnhashing
	p.cfg.Logger.Debug("purge cycle started", "unreachable", len(doomed))
}

// Tick drives the pipeline under a time budget and reports whether it
// reached Idle. limit <= 0 means unbounded: the tick runs the whole
// pipeline to completion, spin-waiting on asynchronous teardown.
func (p *Pipeline) Tick(limit time.Duration) bool {
	deadline := time.Time{}
	if limit > 0 {
		deadline = time.Now().Add(limit)
	}

	for {
		switch p.state {
		case StateIdle:
			return true

		case StateUnhashing:
			if !p.unhash(deadline) {
				return false
			}
			p.state = StateAwaitingFinish

		case StateAwaitingFinish:
			if !p.awaitFinish(deadline) {
				return false
			}
			p.state = StateFreeing

		case StateFreeing:
			if !p.free(deadline) {
				return false
			}
			p.state = StateIdle
			p.doomed = nil
			p.cfg.Logger.Debug("purge cycle finished")
			return true
		}
	}
}

// UnhashNow drives the begin-teardown pass to completion synchronously,
// leaving completion polling and freeing for incremental ticks.
func (p *Pipeline) UnhashNow() {
	if p.state != StateUnhashing {
		return
	}
	p.unhash(time.Time{})
	p.state = StateAwaitingFinish
}

// unhash runs the begin-teardown pass from the saved cursor. Returns
// false when the time budget ran out first.
func (p *Pipeline) unhash(deadline time.Time) bool {
	if p.unhashed == 0 && p.cfg.OnPreUnhash != nil {
		p.cfg.OnPreUnhash()
	}
	processed := 0
	for p.unhashed < len(p.doomed) {
		if processed >= destroyGranularity {
			processed = 0
			if !deadline.IsZero() && !time.Now().Before(deadline) {
				return false
			}
		}
		idx := p.doomed[p.unhashed]
		p.unhashed++
		processed++

		it := p.objects.Item(idx)
		if !it.IsAllocated() || !it.IsUnreachable() {
			continue
		}
		it.ClearFlags(types.FlagHadReferenceKilled)
		if payload := it.Payload(); payload != nil {
			payload.BeginTeardown()
			it.SetFlags(types.FlagTeardownStarted)
			p.pending = append(p.pending, idx)
		} else {
			// No asynchronous teardown: straight to freeable.
			it.SetFlags(types.FlagTeardownStarted | types.FlagTeardownFinished)
		}
	}
	p.cfg.Logger.Debug("unhash pass complete", "pending", len(p.pending))
	if p.cfg.OnPostUnhash != nil {
		p.cfg.OnPostUnhash()
	}
	return true
}

// awaitFinish polls pending teardowns, finishing and dropping each one
// that reports complete. With no deadline it loops with a yield until
// the pending list drains, raising a stall diagnostic when repeated
// passes make no progress.
func (p *Pipeline) awaitFinish(deadline time.Time) bool {
	for len(p.pending) > 0 {
		for i := 0; i < len(p.pending); {
			idx := p.pending[i]
			it := p.objects.Item(idx)
			payload := it.Payload()
			if payload.IsTeardownComplete() {
				payload.FinishTeardown()
				it.SetFlags(types.FlagTeardownFinished)
				p.pending[i] = p.pending[len(p.pending)-1]
				p.pending = p.pending[:len(p.pending)-1]
				continue
			}
			i++
		}

		p.checkStall()
		if len(p.pending) == 0 {
			break
		}
		if !deadline.IsZero() {
			if !time.Now().Before(deadline) {
				return false
			}
		}
		runtime.Gosched()
	}
	p.stallSince = time.Time{}
	return true
}

// checkStall distinguishes a genuine hang from normal asynchronous
// latency: the diagnostic fires only when the same objects stay pending
// with zero progress for the configured window.
func (p *Pipeline) checkStall() {
	if len(p.pending) == 0 {
		return
	}
	if p.stallSince.IsZero() || len(p.pending) != p.stallPending {
		p.stallSince = time.Now()
		p.stallPending = len(p.pending)
		p.stallWarned = false
		return
	}
	if time.Since(p.stallSince) < p.cfg.StallWarnAfter {
		return
	}
	if p.cfg.StallFatal {
		types.Fatalf("purge: teardown stalled, %d objects pending for %s",
			len(p.pending), p.cfg.StallWarnAfter)
	}
	if !p.stallWarned {
		p.stallWarned = true
		p.cfg.Logger.Warn("teardown making no progress",
			"pending", len(p.pending), "waited", p.cfg.StallWarnAfter)
		types.Ensuref(false, "purge: teardown stalled, %d objects pending", len(p.pending))
	}
}

// free deallocates every doomed object whose teardown finished, from the
// saved cursor.
func (p *Pipeline) free(deadline time.Time) bool {
	processed := 0
	freed := 0
	for p.freed < len(p.doomed) {
		if processed >= deleteGranularity {
			processed = 0
			if !deadline.IsZero() && !time.Now().Before(deadline) {
				p.cfg.Logger.Debug("free pass yielded", "freed", freed)
				return false
			}
		}
		idx := p.doomed[p.freed]
		p.freed++
		processed++

		it := p.objects.Item(idx)
		if !it.IsAllocated() || !it.IsUnreachable() {
			continue
		}
		if !it.HasAnyFlags(types.FlagTeardownFinished) {
			types.Fatalf("purge: freeing object %d before teardown finished", idx)
		}
		p.objects.Free(idx)
		freed++
	}
	p.cfg.Logger.Debug("free pass complete", "freed", freed)
	return true
}
