// Package alert implements the fall alert latch and the dispatcher that
// delivers an alert when the latch engages.
package alert

import (
	"fmt"
	"sync"
	"time"

	"github.com/ayusman/guardian/internal/detector"
)

// DefaultCooldown is how long a latch stays engaged after the last FALL label.
const DefaultCooldown = 5 * time.Second

// Phase is the latch phase.
type Phase int

const (
	Idle Phase = iota
	Latched
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Latched:
		return "latched"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is the alert latch state. ExpiresAt is only meaningful while Latched.
type State struct {
	Phase     Phase
	ExpiresAt time.Time
}

// IsLatched reports whether s is latched at now.
func (s State) IsLatched(now time.Time) bool {
	return s.Phase == Latched && now.Before(s.ExpiresAt)
}

// Evaluate advances the latch for one frame. It returns the next state and
// whether an alert should be dispatched. Dispatch is signalled only when the
// latch engages; a FALL while already engaged extends the expiry silently.
func Evaluate(s State, now time.Time, det detector.Detection, cooldown time.Duration) (State, bool) {
	active := s.IsLatched(now)

	if det.HasFall() {
		next := State{Phase: Latched, ExpiresAt: now.Add(cooldown)}
		return next, !active
	}

	if s.Phase == Latched && !active {
		return State{Phase: Idle}, false
	}
	return s, false
}

// Latch holds a State shared between the frame loop and out-of-band resets.
type Latch struct {
	cooldown time.Duration

	mu    sync.Mutex
	state State
}

// NewLatch creates an idle latch. A non-positive cooldown uses DefaultCooldown.
func NewLatch(cooldown time.Duration) *Latch {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Latch{cooldown: cooldown}
}

// Cooldown returns the configured cooldown.
func (l *Latch) Cooldown() time.Duration {
	return l.cooldown
}

// Observe applies Evaluate to the held state.
func (l *Latch) Observe(now time.Time, det detector.Detection) (State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next, dispatch := Evaluate(l.state, now, det, l.cooldown)
	l.state = next
	return next, dispatch
}

// Reset forces the latch to Idle regardless of the remaining cooldown.
// It reports whether the latch was engaged.
func (l *Latch) Reset() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	was := l.state.Phase == Latched
	l.state = State{Phase: Idle}
	return was
}

// Snapshot returns the state as seen at now. An expired latch reads as Idle.
func (l *Latch) Snapshot(now time.Time) State {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.Phase == Latched && !l.state.IsLatched(now) {
		return State{Phase: Idle}
	}
	return l.state
}
