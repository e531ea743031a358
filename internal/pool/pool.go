// Package pool owns session lifecycle: per-owner capacity, reuse of idle
// sessions, eviction of degraded and stale ones, and graceful drain.
package pool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/korvuslabs/prowl/api/schemas"
	"github.com/korvuslabs/prowl/internal/classify"
	"github.com/korvuslabs/prowl/internal/config"
	"github.com/korvuslabs/prowl/internal/metrics"
	"github.com/korvuslabs/prowl/internal/session"
)

// Factory creates a ready session for an owner. Implementations launch real
// browser contexts, so the pool always calls New outside its own lock.
type Factory interface {
	New(ctx context.Context, ownerKey string, spec session.Spec) (*session.Session, error)
}

type ownerEntry struct {
	sessions map[string]*session.Session
	// reserved counts capacity claimed for sessions still being launched.
	// A reservation holds the owner's slot while the factory runs unlocked.
	reserved int
}

func (e *ownerEntry) total() int { return len(e.sessions) + e.reserved }

// busy counts the sessions holding a capacity slot: those exclusively in use
// plus reservations for launches still in flight. Idle and degraded sessions
// do not occupy a slot, so an escalating retry can always obtain a fresh
// posture even while its burned sessions await destruction.
func (e *ownerEntry) busy() int {
	n := e.reserved
	for _, s := range e.sessions {
		if s.State() == session.StateInUse {
			n++
		}
	}
	return n
}

// Pool is the per-owner session pool. All exported methods are safe for
// concurrent use.
type Pool struct {
	logger  *zap.Logger
	cfg     config.SessionConfig
	factory Factory

	mu        sync.Mutex
	owners    map[string]*ownerEntry
	failures  map[schemas.ErrorKind]int64
	closed    bool
	started   time.Time
	lastSweep time.Time
	// released is closed and replaced whenever capacity may have freed.
	released chan struct{}
}

// New builds an empty pool. Call Run to start the background sweeper.
func New(logger *zap.Logger, cfg config.SessionConfig, factory Factory) *Pool {
	return &Pool{
		logger:   logger.Named("session_pool"),
		cfg:      cfg,
		factory:  factory,
		owners:   make(map[string]*ownerEntry),
		failures: make(map[schemas.ErrorKind]int64),
		started:  time.Now(),
		released: make(chan struct{}),
	}
}

// Acquire returns an exclusive session for ownerKey matching the spec's
// engine and visibility. An idle match is reused; otherwise a new session
// is created if the owner's concurrent use (InUse plus launches in flight)
// is under the cap. At capacity the call fails immediately with a
// CapacityError, or waits up to acquire_wait_timeout when one is
// configured.
func (p *Pool) Acquire(ctx context.Context, ownerKey string, spec session.Spec) (*session.Session, error) {
	var deadline <-chan time.Time
	if p.cfg.AcquireWaitTimeout > 0 {
		t := time.NewTimer(p.cfg.AcquireWaitTimeout)
		defer t.Stop()
		deadline = t.C
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, classify.CapacityErrorf("session pool is shut down")
		}
		entry, ok := p.owners[ownerKey]
		if !ok {
			entry = &ownerEntry{sessions: make(map[string]*session.Session)}
			p.owners[ownerKey] = entry
		}

		// Reuse an idle session with the same identity posture. The
		// fingerprint and engine of a session never change, so an
		// escalated attempt that needs a different engine must miss here
		// and create a fresh one.
		for _, s := range entry.sessions {
			if s.State() != session.StateIdle {
				continue
			}
			if s.Engine() != spec.Engine || s.Visibility() != spec.Visibility {
				continue
			}
			if err := s.MarkInUse(); err != nil {
				continue
			}
			p.updateGaugesLocked()
			p.mu.Unlock()
			return s, nil
		}

		if entry.busy() < p.cfg.MaxPerOwner {
			// The cap bounds concurrent use, not the total footprint. When
			// creation would grow the owner past the cap in total sessions,
			// reclaim a degraded or idle one now instead of waiting for the
			// sweeper.
			var evicted *session.Session
			if entry.total() >= p.cfg.MaxPerOwner {
				evicted = p.evictLocked(entry)
			}
			entry.reserved++
			p.mu.Unlock()
			if evicted != nil {
				if err := evicted.Close(ctx); err != nil {
					p.logger.Warn("Failed to close evicted session",
						zap.String("session_id", evicted.ID()), zap.Error(err))
				}
				metrics.SessionsDestroyed.WithLabelValues("evicted").Inc()
			}
			return p.create(ctx, ownerKey, entry, spec)
		}

		metrics.AcquireRejections.Inc()
		if deadline == nil {
			p.mu.Unlock()
			return nil, classify.CapacityErrorf(
				"owner %q is at its session cap (%d)", ownerKey, p.cfg.MaxPerOwner)
		}
		wake := p.released
		p.mu.Unlock()

		select {
		case <-wake:
			// A session may have freed; re-check under the lock.
		case <-deadline:
			return nil, classify.CapacityErrorf(
				"owner %q is at its session cap (%d) and no session freed in time",
				ownerKey, p.cfg.MaxPerOwner)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// evictLocked removes one reclaimable session from the entry, preferring a
// degraded one over an idle one. Returns nil when every session is in use.
func (p *Pool) evictLocked(entry *ownerEntry) *session.Session {
	var idle *session.Session
	for id, s := range entry.sessions {
		switch s.State() {
		case session.StateDegraded:
			delete(entry.sessions, id)
			return s
		case session.StateIdle:
			if idle == nil {
				idle = s
			}
		}
	}
	if idle != nil {
		delete(entry.sessions, idle.ID())
	}
	return idle
}

// create runs the factory outside the pool lock with the owner's slot held
// by a reservation.
func (p *Pool) create(ctx context.Context, ownerKey string, entry *ownerEntry, spec session.Spec) (*session.Session, error) {
	s, err := p.factory.New(ctx, ownerKey, spec)

	p.mu.Lock()
	entry.reserved--
	if err != nil {
		p.broadcastLocked()
		p.mu.Unlock()
		return nil, err
	}
	if p.closed {
		p.mu.Unlock()
		_ = s.Close(context.Background())
		return nil, classify.CapacityErrorf("session pool is shut down")
	}
	entry.sessions[s.ID()] = s
	if err := s.MarkInUse(); err != nil {
		delete(entry.sessions, s.ID())
		p.mu.Unlock()
		_ = s.Close(context.Background())
		return nil, err
	}
	p.updateGaugesLocked()
	p.mu.Unlock()

	metrics.SessionsCreated.WithLabelValues(string(s.Engine())).Inc()
	p.logger.Info("Session created",
		zap.String("session_id", s.ID()),
		zap.String("owner", ownerKey),
		zap.String("engine", string(s.Engine())),
		zap.String("visibility", string(s.Visibility())),
	)
	return s, nil
}

// Release returns a session to the pool. A nil failure marks it idle and
// reusable. A failure that invalidates the session identity marks it
// degraded so the sweeper destroys it; other failures leave the session
// reusable. Releasing a session that is not in use is an invariant
// violation and is reported, not silently absorbed.
func (p *Pool) Release(s *session.Session, failure *classify.Outcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if failure != nil {
		p.failures[failure.Kind]++
	}

	var err error
	if failure != nil && failure.SessionInvalidating() {
		err = s.MarkDegraded()
	} else {
		err = s.MarkIdle()
	}
	if err != nil {
		return classify.InvariantViolationf(
			"release of session %s in state %s: %v", s.ID(), s.State(), err)
	}
	p.updateGaugesLocked()
	p.broadcastLocked()
	return nil
}

// Sweep destroys degraded sessions and idle sessions past the idle timeout.
// It returns the number of sessions destroyed.
func (p *Pool) Sweep(ctx context.Context) int {
	now := time.Now()

	type victim struct {
		s      *session.Session
		reason string
	}
	var victims []victim

	p.mu.Lock()
	for owner, entry := range p.owners {
		for id, s := range entry.sessions {
			switch {
			case s.State() == session.StateDegraded:
				victims = append(victims, victim{s, "degraded"})
				delete(entry.sessions, id)
			case s.State() == session.StateIdle && s.IdleLongerThan(p.cfg.IdleTimeout, now):
				victims = append(victims, victim{s, "idle_timeout"})
				delete(entry.sessions, id)
			}
		}
		if entry.total() == 0 {
			delete(p.owners, owner)
		}
	}
	p.lastSweep = now
	p.updateGaugesLocked()
	if len(victims) > 0 {
		p.broadcastLocked()
	}
	p.mu.Unlock()

	for _, v := range victims {
		if err := v.s.Close(ctx); err != nil {
			p.logger.Warn("Failed to close swept session",
				zap.String("session_id", v.s.ID()), zap.Error(err))
		}
		metrics.SessionsDestroyed.WithLabelValues(v.reason).Inc()
		p.logger.Debug("Session swept",
			zap.String("session_id", v.s.ID()),
			zap.String("owner", v.s.OwnerKey()),
			zap.String("reason", v.reason),
		)
	}
	return len(victims)
}

// Run sweeps on the configured interval until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown stops admissions, waits up to drain_timeout for in-use sessions
// to be released, then closes every remaining session. In-flight work that
// does not finish in time has its session force-closed underneath it.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	// Wake blocked acquirers so they fail with the shutdown error instead of
	// sleeping out their wait timeout.
	p.broadcastLocked()
	p.mu.Unlock()

	drainCtx, cancel := context.WithTimeout(ctx, p.cfg.DrainTimeout)
	defer cancel()

	for {
		p.mu.Lock()
		busy := 0
		for _, entry := range p.owners {
			busy += entry.reserved
			for _, s := range entry.sessions {
				if s.State() == session.StateInUse {
					busy++
				}
			}
		}
		if busy == 0 {
			p.mu.Unlock()
			break
		}
		wake := p.released
		p.mu.Unlock()

		select {
		case <-wake:
		case <-drainCtx.Done():
			p.logger.Warn("Drain timeout elapsed with sessions still in use",
				zap.Int("in_use", busy))
		}
		if drainCtx.Err() != nil {
			break
		}
	}

	p.mu.Lock()
	var all []*session.Session
	for _, entry := range p.owners {
		for _, s := range entry.sessions {
			all = append(all, s)
		}
	}
	p.owners = make(map[string]*ownerEntry)
	p.updateGaugesLocked()
	p.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range all {
		s := s
		g.Go(func() error {
			metrics.SessionsDestroyed.WithLabelValues("shutdown").Inc()
			return s.Close(gctx)
		})
	}
	err := g.Wait()
	p.logger.Info("Session pool shut down", zap.Int("closed", len(all)))
	return err
}

// Stats reports a point-in-time snapshot of the pool for the session-stats
// query.
func (p *Pool) Stats() schemas.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := schemas.PoolStats{
		FailuresByKind: make(map[schemas.ErrorKind]int64, len(p.failures)),
		MaxPerOwner:    p.cfg.MaxPerOwner,
		IdleTimeoutSec: int(p.cfg.IdleTimeout.Seconds()),
	}
	for kind, n := range p.failures {
		stats.FailuresByKind[kind] = n
	}
	for owner, entry := range p.owners {
		os := schemas.OwnerSessionStats{Owner: owner}
		for _, s := range entry.sessions {
			switch s.State() {
			case session.StateIdle:
				os.Idle++
			case session.StateInUse:
				os.InUse++
			case session.StateDegraded:
				os.Degraded++
			}
		}
		stats.TotalSessions += len(entry.sessions)
		stats.Owners = append(stats.Owners, os)
	}
	return stats
}

// Per-session memory estimates in MB. Headed sessions carry a rendering
// surface on top of the browser process.
const (
	headedSessionMB   = 400
	headlessSessionMB = 300
)

// Health reports liveness for the health-check endpoint. The sweeper counts
// as alive until it has missed two consecutive intervals.
func (p *Pool) Health() schemas.HealthStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	var total, memory int
	for _, entry := range p.owners {
		for _, s := range entry.sessions {
			total++
			if s.Visibility() == session.VisibilityHeaded {
				memory += headedSessionMB
			} else {
				memory += headlessSessionMB
			}
		}
	}

	last := p.lastSweep
	if last.IsZero() {
		last = p.started
	}
	alive := p.cfg.SweepInterval <= 0 || time.Since(last) < 2*p.cfg.SweepInterval

	status := "ok"
	if p.closed || !alive {
		status = "degraded"
	}
	return schemas.HealthStatus{
		Status:            status,
		TotalSessions:     total,
		EstimatedMemoryMB: memory,
		SweepAlive:        alive,
	}
}

func (p *Pool) broadcastLocked() {
	close(p.released)
	p.released = make(chan struct{})
}

func (p *Pool) updateGaugesLocked() {
	counts := map[session.State]int{}
	for _, entry := range p.owners {
		for _, s := range entry.sessions {
			counts[s.State()]++
		}
	}
	for _, st := range []session.State{session.StateIdle, session.StateInUse, session.StateDegraded} {
		metrics.SessionsActive.WithLabelValues(st.String()).Set(float64(counts[st]))
	}
}
