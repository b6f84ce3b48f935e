// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package restart implements the bounded rolling-window restart policy.
//
// Both consumers of restart decisions — the in-process recovery manager
// and the standalone lookout watchdog — share this one implementation,
// so the "how many restarts are allowed, and when does the counter
// reset" rules cannot drift between them.
//
// # Policy
//
// A subject (normally a service name) gets at most MaxRestarts restart
// grants within a rolling window of Window duration. The window opens
// on the first grant; once it has elapsed the counter resets to zero
// and the next grant starts a fresh window at attempt 1. At most one
// grant per subject is outstanding at a time: Begin refuses a second
// grant until the first one's Done is called.
//
//	policy := restart.NewPolicy(restart.Config{})
//	grant, err := policy.Begin("backend")
//	switch {
//	case errors.Is(err, restart.ErrRestartInFlight):
//	    // another restart is already running, skip
//	case errors.Is(err, restart.ErrExhausted):
//	    // window budget used up, escalate
//	default:
//	    defer grant.Done()
//	    // execute the restart action (attempt grant.Attempt of max)
//	}
//
// # Thread Safety
//
// Policy is safe for concurrent use across subjects and for concurrent
// Begin calls on the same subject.
package restart

import (
	"errors"
	"sync"
	"time"
)

// Defaults mirror the watchdog deployment values.
const (
	// DefaultMaxRestarts is the restart budget per window.
	DefaultMaxRestarts = 3

	// DefaultWindow is the rolling-window length.
	DefaultWindow = 300 * time.Second
)

// ErrExhausted is returned by Begin when the subject has used its full
// restart budget for the current window. The caller should escalate to
// a human; automatic restarts resume after the window elapses.
var ErrExhausted = errors.New("restart budget exhausted for current window")

// ErrRestartInFlight is returned by Begin while a previous grant for
// the same subject has not been released with Done. Exactly one restart
// per subject runs at a time.
var ErrRestartInFlight = errors.New("restart already in flight")

// Config configures a Policy.
type Config struct {
	// MaxRestarts is the number of grants allowed per window.
	// Default: DefaultMaxRestarts.
	MaxRestarts int

	// Window is the rolling-window length. Default: DefaultWindow.
	Window time.Duration

	// Now supplies the clock, for deterministic tests.
	// Default: time.Now.
	Now func() time.Time
}

// State is a point-in-time view of one subject's policy state.
type State struct {
	// Attempts is the number of grants issued in the current window.
	Attempts int

	// WindowStart is when the current window opened. Zero when no
	// window is open (no attempts yet, or the window has rolled over).
	WindowStart time.Time

	// InFlight reports whether a grant is outstanding.
	InFlight bool
}

// subjectState is the mutable per-subject record. windowStart is the
// timestamp of the first grant in the current window.
type subjectState struct {
	attempts    int
	windowStart time.Time
	inFlight    bool
}

// Policy tracks rolling-window restart budgets for any number of
// subjects.
type Policy struct {
	maxRestarts int
	window      time.Duration
	now         func() time.Time

	mu       sync.Mutex
	subjects map[string]*subjectState
}

// NewPolicy creates a Policy, applying defaults for zero-value fields.
func NewPolicy(cfg Config) *Policy {
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = DefaultMaxRestarts
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Policy{
		maxRestarts: cfg.MaxRestarts,
		window:      cfg.Window,
		now:         cfg.Now,
		subjects:    map[string]*subjectState{},
	}
}

// MaxRestarts returns the per-window budget.
func (p *Policy) MaxRestarts() int { return p.maxRestarts }

// Window returns the rolling-window length.
func (p *Policy) Window() time.Duration { return p.window }

// Begin requests a restart grant for subject.
//
// Outcomes, in precedence order:
//  1. ErrRestartInFlight when a previous grant has not been released.
//  2. ErrExhausted when the current window's budget is used up.
//  3. A *Grant otherwise; the attempt counter is incremented before
//     the restart action runs, so the budget holds even if the action
//     hangs. Callers must release the grant with Done.
//
// An elapsed window is rolled over lazily here: the counter drops to
// zero and the grant becomes attempt 1 of a fresh window.
func (p *Policy) Begin(subject string) (*Grant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.subject(subject)
	p.rollWindowLocked(st)

	if st.inFlight {
		return nil, ErrRestartInFlight
	}
	if st.attempts >= p.maxRestarts {
		return nil, ErrExhausted
	}

	if st.attempts == 0 {
		st.windowStart = p.now()
	}
	st.attempts++
	st.inFlight = true

	return &Grant{
		Subject: subject,
		Attempt: st.attempts,
		policy:  p,
	}, nil
}

// Lookup returns the subject's current state, rolling over an elapsed
// window first so Attempts reflects the live budget.
func (p *Policy) Lookup(subject string) State {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.subject(subject)
	p.rollWindowLocked(st)
	return State{
		Attempts:    st.attempts,
		WindowStart: st.windowStart,
		InFlight:    st.inFlight,
	}
}

// WindowRemaining returns how long until the subject's current window
// elapses and its counter resets. Zero when no window is open.
func (p *Policy) WindowRemaining(subject string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.subject(subject)
	p.rollWindowLocked(st)
	if st.attempts == 0 {
		return 0
	}
	remaining := p.window - p.now().Sub(st.windowStart)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset clears the subject's window state. This is the manual-
// intervention hook: an operator acknowledging an exhausted service
// re-arms its restart budget immediately instead of waiting out the
// window. An in-flight grant is not interrupted.
func (p *Policy) Reset(subject string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.subject(subject)
	st.attempts = 0
	st.windowStart = time.Time{}
}

// Snapshot returns the state of every subject the policy has seen.
func (p *Policy) Snapshot() map[string]State {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]State, len(p.subjects))
	for name, st := range p.subjects {
		p.rollWindowLocked(st)
		out[name] = State{
			Attempts:    st.attempts,
			WindowStart: st.windowStart,
			InFlight:    st.inFlight,
		}
	}
	return out
}

// subject returns the record for subject, creating it on first use.
// Caller holds p.mu.
func (p *Policy) subject(name string) *subjectState {
	st, ok := p.subjects[name]
	if !ok {
		st = &subjectState{}
		p.subjects[name] = st
	}
	return st
}

// rollWindowLocked resets the counter when the window has elapsed.
// The in-flight flag is a physical gate on the restart action and
// survives the rollover. Caller holds p.mu.
func (p *Policy) rollWindowLocked(st *subjectState) {
	if st.attempts == 0 {
		return
	}
	if p.now().Sub(st.windowStart) >= p.window {
		st.attempts = 0
		st.windowStart = time.Time{}
	}
}

// release clears the in-flight flag for subject.
func (p *Policy) release(subject string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subject(subject).inFlight = false
}

// Grant is an authorization for exactly one restart attempt.
type Grant struct {
	// Subject is the service the grant was issued for.
	Subject string

	// Attempt is the 1-based attempt number within the window.
	Attempt int

	policy *Policy
	once   sync.Once
}

// Done releases the grant, allowing the next Begin for the subject to
// proceed. Safe to call more than once.
func (g *Grant) Done() {
	g.once.Do(func() {
		g.policy.release(g.Subject)
	})
}
