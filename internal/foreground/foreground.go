// Package foreground keeps the daemon at raised scheduling priority while it
// is streaming key reports, and drops back once activity has been quiet for
// a grace period.
package foreground

import (
	"log/slog"
	"sync"
	"time"
)

// DemoteGrace is how long the policy waits after the last activity before
// demoting.
const DemoteGrace = 2 * time.Second

// Elevator raises and restores the process priority.
type Elevator interface {
	Promote() error
	Demote() error
}

// Timer is the subset of *time.Timer the policy uses.
type Timer interface {
	Stop() bool
}

// Clock schedules the demotion callback.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Policy tracks the elevated flag and the pending demotion.
type Policy struct {
	mu       sync.Mutex
	elevator Elevator
	clock    Clock
	grace    time.Duration
	log      *slog.Logger

	elevated bool
	timer    Timer
	gen      uint64 // bumped on every cancel so stale timer callbacks are ignored
}

// Option configures a Policy.
type Option func(*Policy)

// WithClock replaces the wall clock used for the grace timer.
func WithClock(c Clock) Option {
	return func(p *Policy) { p.clock = c }
}

// WithGrace overrides DemoteGrace.
func WithGrace(d time.Duration) Option {
	return func(p *Policy) { p.grace = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Policy) { p.log = l }
}

// NewPolicy returns a policy in the demoted state.
func NewPolicy(e Elevator, opts ...Option) *Policy {
	p := &Policy{
		elevator: e,
		clock:    realClock{},
		grace:    DemoteGrace,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.elevator == nil {
		p.elevator = NopElevator{}
	}
	return p
}

// Elevate promotes immediately and cancels any pending demotion.
func (p *Policy) Elevate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cancelLocked()
	if p.elevated {
		return
	}
	if err := p.elevator.Promote(); err != nil {
		p.log.Warn("promote failed", "error", err)
	}
	p.elevated = true
	p.log.Debug("elevated")
}

// ScheduleDemote (re)starts the grace timer. If nothing calls Elevate or
// ScheduleDemote before it fires, the policy demotes.
func (p *Policy) ScheduleDemote() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cancelLocked()
	gen := p.gen
	p.timer = p.clock.AfterFunc(p.grace, func() { p.fire(gen) })
}

func (p *Policy) fire(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.gen {
		return
	}
	p.timer = nil
	p.demoteLocked()
}

// Stop cancels the pending demotion and demotes right away.
func (p *Policy) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cancelLocked()
	p.demoteLocked()
}

// Elevated reports the current state.
func (p *Policy) Elevated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.elevated
}

// Pending reports whether a demotion timer is armed.
func (p *Policy) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timer != nil
}

func (p *Policy) cancelLocked() {
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Policy) demoteLocked() {
	if !p.elevated {
		return
	}
	if err := p.elevator.Demote(); err != nil {
		p.log.Warn("demote failed", "error", err)
	}
	p.elevated = false
	p.log.Debug("demoted")
}

// NopElevator only flips the policy flag.
type NopElevator struct{}

func (NopElevator) Promote() error { return nil }
func (NopElevator) Demote() error { return nil }
