// Package session defines the pooled resource handle: one browser execution
// context paired with an access token and an immutable fingerprint profile.
//
// The pool is the sole mutator of a session's lifecycle state. Other
// components observe state but never transition it directly; escalation is
// expressed by destroying a session and creating a new one, because engine
// and fingerprint are frozen at creation.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/korvuslabs/prowl/internal/classify"
	"github.com/korvuslabs/prowl/internal/fingerprint"
)

// Engine identifies the underlying browser engine. The three engines have
// distinct network and JS fingerprints, which is what makes switching
// between them a useful escalation step.
type Engine string

const (
	EngineChromium Engine = "chromium"
	EngineFirefox  Engine = "firefox"
	EngineWebkit   Engine = "webkit"
)

// Valid reports whether e is a known engine.
func (e Engine) Valid() bool {
	switch e {
	case EngineChromium, EngineFirefox, EngineWebkit:
		return true
	}
	return false
}

// Visibility selects headless or headed rendering. Headed sessions render
// through a virtual display surface; both are invisible to the caller.
type Visibility string

const (
	VisibilityHeadless Visibility = "headless"
	VisibilityHeaded   Visibility = "headed"
)

// State is the session lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateInUse
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInUse:
		return "in_use"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// allowed enumerates the legal lifecycle transitions. Close is additionally
// permitted from any state to support pool shutdown.
var allowed = map[State][]State{
	StateIdle:     {StateInUse, StateClosed},
	StateInUse:    {StateIdle, StateDegraded, StateClosed},
	StateDegraded: {StateClosed},
	StateClosed:   {},
}

// Egress describes an optional network egress proxy for a session.
type Egress struct {
	Server   string
	Username string
	Password string
}

// Runtime is the live browser execution context behind a session. Creating
// and destroying one is expensive (hundreds of milliseconds), which is the
// whole reason sessions are pooled.
type Runtime interface {
	// Fetch performs one upstream request through the browser context and
	// returns the observable raw result for classification.
	Fetch(ctx context.Context, url string) (classify.RawResult, error)
	Close(ctx context.Context) error
}

// Spec describes the configuration a session is created with. Every field
// is fixed for the session's lifetime.
type Spec struct {
	Engine          Engine
	Visibility      Visibility
	Fingerprint     fingerprint.Profile
	AccessToken     string
	Proxy           *Egress
	IgnoreTLSErrors bool
}

// Session is one logical pooled resource. All state mutation goes through
// the Mark* methods, which enforce the lifecycle state machine.
type Session struct {
	id       string
	ownerKey string
	spec     Spec
	runtime  Runtime
	created  time.Time

	mu       sync.Mutex
	state    State
	lastUsed time.Time
}

// New creates a session in the Idle state wrapping the given runtime.
func New(ownerKey string, spec Spec, rt Runtime) *Session {
	now := time.Now()
	return &Session{
		id:       uuid.New().String(),
		ownerKey: ownerKey,
		spec:     spec,
		runtime:  rt,
		created:  now,
		state:    StateIdle,
		lastUsed: now,
	}
}

func (s *Session) ID() string                       { return s.id }
func (s *Session) OwnerKey() string                 { return s.ownerKey }
func (s *Session) Engine() Engine                   { return s.spec.Engine }
func (s *Session) Visibility() Visibility           { return s.spec.Visibility }
func (s *Session) Fingerprint() fingerprint.Profile { return s.spec.Fingerprint }
func (s *Session) AccessToken() string              { return s.spec.AccessToken }
func (s *Session) Proxy() *Egress                   { return s.spec.Proxy }
func (s *Session) Runtime() Runtime                 { return s.runtime }
func (s *Session) CreatedAt() time.Time             { return s.created }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastUsed returns the time of the most recent acquire.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// IdleLongerThan reports whether an Idle session has not been used for more
// than d as of now.
func (s *Session) IdleLongerThan(d time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateIdle && now.Sub(s.lastUsed) > d
}

// transition moves the session to next, enforcing the state machine.
// An illegal transition is a programming error and fails loudly.
func (s *Session) transition(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ok := range allowed[s.state] {
		if ok == next {
			s.state = next
			return nil
		}
	}
	return classify.InvariantViolationf(
		"illegal session transition %s -> %s for session %s", s.state, next, s.id)
}

// MarkInUse transitions Idle -> InUse and stamps lastUsed.
func (s *Session) MarkInUse() error {
	if err := s.transition(StateInUse); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
	return nil
}

// MarkIdle transitions InUse -> Idle after a healthy release.
func (s *Session) MarkIdle() error { return s.transition(StateIdle) }

// MarkDegraded transitions InUse -> Degraded after a session-invalidating
// failure. A degraded session is never reused and is destroyed on the next
// housekeeping pass.
func (s *Session) MarkDegraded() error { return s.transition(StateDegraded) }

// Close force-transitions to Closed from any state and releases the
// underlying browser context. It is idempotent: closing a closed session is
// a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.mu.Unlock()

	if s.runtime == nil {
		return nil
	}
	return s.runtime.Close(ctx)
}
