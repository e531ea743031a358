// Package executor runs platform operations against pooled sessions, with
// classified-failure retries and attempt-indexed stealth escalation.
package executor

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/korvuslabs/prowl/api/schemas"
	"github.com/korvuslabs/prowl/internal/classify"
	"github.com/korvuslabs/prowl/internal/config"
	"github.com/korvuslabs/prowl/internal/fingerprint"
	"github.com/korvuslabs/prowl/internal/humanoid"
	"github.com/korvuslabs/prowl/internal/metrics"
	"github.com/korvuslabs/prowl/internal/session"
)

// Operation is one logical platform request. Do performs the fetch against
// an exclusive session; RequiredField names the top-level JSON field a
// successful body must carry.
type Operation interface {
	Name() string
	RequiredField() string
	Do(ctx context.Context, s *session.Session) (classify.RawResult, error)
}

// SessionPool is the slice of the pool the executor needs.
type SessionPool interface {
	Acquire(ctx context.Context, ownerKey string, spec session.Spec) (*session.Session, error)
	Release(s *session.Session, failure *classify.Outcome) error
}

// ProxyRotation is the slice of the proxy manager the executor needs. May
// be backed by nil when rotation is disabled.
type ProxyRotation interface {
	Get() *session.Egress
	ReportSuccess(server string, latency time.Duration)
	ReportFailure(server string)
}

// Executor drives the retry loop. Safe for concurrent use.
type Executor struct {
	logger       *zap.Logger
	retryCfg     config.RetryConfig
	stealthCfg   config.StealthConfig
	pool         SessionPool
	fingerprints *fingerprint.Generator
	pacer        *humanoid.Pacer
	proxies      ProxyRotation    // nil when rotation is disabled
	engines      []session.Engine // nil means all engines are launchable
}

// Option customizes an Executor.
type Option func(*Executor)

// WithEngines restricts escalation to the engines the browser driver can
// actually launch.
func WithEngines(engines ...session.Engine) Option {
	return func(e *Executor) { e.engines = engines }
}

// New builds an executor. proxies may be nil.
func New(
	logger *zap.Logger,
	retryCfg config.RetryConfig,
	stealthCfg config.StealthConfig,
	p SessionPool,
	fp *fingerprint.Generator,
	pacer *humanoid.Pacer,
	proxies ProxyRotation,
	opts ...Option,
) *Executor {
	e := &Executor{
		logger:       logger.Named("executor"),
		retryCfg:     retryCfg,
		stealthCfg:   stealthCfg,
		pool:         p,
		fingerprints: fp,
		pacer:        pacer,
		proxies:      proxies,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is a finished request: the raw upstream result plus how many
// attempts it took.
type Result struct {
	Raw      classify.RawResult
	Attempts int
}

// Execute runs op for ownerKey, escalating the session posture between
// attempts per the plan. Every acquired session is released exactly once on
// every exit path, including cancellation. Capacity rejections propagate
// immediately and are never retried.
func (e *Executor) Execute(ctx context.Context, ownerKey, accessToken string, op Operation) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.RequestDuration.WithLabelValues(op.Name()).Observe(time.Since(start).Seconds())
	}()

	plan := Plan(e.preferredEngine(), e.baseVisibility(), e.retryCfg.MaxRetries, e.engines)

	bo := newBackOff(e.retryCfg)

	res := Result{}
	var lastFailure *classify.Outcome

	for attempt, step := range plan {
		if attempt > 0 {
			metrics.RequestRetries.Inc()
			metrics.Escalations.WithLabelValues(string(step.Engine)).Inc()
			e.logger.Info("Escalating request posture",
				zap.String("operation", op.Name()),
				zap.String("owner", ownerKey),
				zap.Int("attempt", attempt+1),
				zap.String("engine", string(step.Engine)),
				zap.String("visibility", string(step.Visibility)),
				zap.Bool("proxy", step.UseProxy),
			)
			if err := sleep(ctx, bo.NextBackOff()); err != nil {
				return res, lastFailure
			}
		}
		res.Attempts = attempt + 1

		raw, failure := e.attempt(ctx, ownerKey, accessToken, op, step)
		res.Raw = raw
		if failure == nil {
			return res, nil
		}
		lastFailure = failure
		metrics.RequestFailures.WithLabelValues(string(failure.Kind)).Inc()

		if failure.Kind == schemas.KindCapacityError {
			return res, failure
		}
		if !failure.Retryable() || ctx.Err() != nil {
			return res, failure
		}
		e.logger.Warn("Attempt failed, retrying",
			zap.String("operation", op.Name()),
			zap.String("owner", ownerKey),
			zap.Int("attempt", attempt+1),
			zap.String("kind", string(failure.Kind)),
		)
	}
	return res, lastFailure
}

// attempt performs one acquire-fetch-release cycle under the step's posture.
func (e *Executor) attempt(ctx context.Context, ownerKey, accessToken string, op Operation, step Step) (classify.RawResult, *classify.Outcome) {
	profile, err := e.fingerprints.Generate()
	if err != nil {
		return classify.RawResult{}, classify.AsOutcome(err)
	}

	spec := session.Spec{
		Engine:      step.Engine,
		Visibility:  step.Visibility,
		Fingerprint: profile,
		AccessToken: accessToken,
	}
	if step.UseProxy && e.proxies != nil {
		spec.Proxy = e.proxies.Get()
	}

	s, err := e.pool.Acquire(ctx, ownerKey, spec)
	if err != nil {
		if out := classify.AsOutcome(err); out != nil {
			return classify.RawResult{}, out
		}
		return classify.RawResult{}, classify.FromTransportError(err)
	}

	fetchStart := time.Now()
	raw, failure := e.fetch(ctx, s, op)

	if releaseErr := e.pool.Release(s, failure); releaseErr != nil {
		e.logger.Error("Session release failed",
			zap.String("session_id", s.ID()),
			zap.Error(releaseErr),
		)
	}
	if spec.Proxy != nil {
		if failure == nil {
			e.proxies.ReportSuccess(spec.Proxy.Server, time.Since(fetchStart))
		} else {
			e.proxies.ReportFailure(spec.Proxy.Server)
		}
	}
	return raw, failure
}

func (e *Executor) fetch(ctx context.Context, s *session.Session, op Operation) (classify.RawResult, *classify.Outcome) {
	if err := e.pacer.Wait(ctx); err != nil {
		return classify.RawResult{}, classify.FromTransportError(err)
	}
	raw, err := op.Do(ctx, s)
	if err != nil {
		if out := classify.AsOutcome(err); out != nil {
			return raw, out
		}
		return raw, classify.FromTransportError(err)
	}
	return raw, classify.Classify(raw, op.RequiredField())
}

func (e *Executor) preferredEngine() session.Engine {
	if e.stealthCfg.RandomizeEngine {
		engines := e.engines
		if len(engines) == 0 {
			engines = []session.Engine{session.EngineChromium, session.EngineFirefox, session.EngineWebkit}
		}
		return engines[rand.Intn(len(engines))]
	}
	eng := session.Engine(e.stealthCfg.Engine)
	if !eng.Valid() {
		eng = session.EngineChromium
	}
	return eng
}

func (e *Executor) baseVisibility() session.Visibility {
	if e.stealthCfg.Headless {
		return session.VisibilityHeadless
	}
	return session.VisibilityHeaded
}

// newBackOff builds the inter-attempt delay schedule: the configured base
// doubling each attempt, randomized by the configured jitter fraction.
// Reset is required after overriding InitialInterval or the first delay
// would use the library default.
func newBackOff(cfg config.RetryConfig) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BackoffBase
	bo.RandomizationFactor = cfg.JitterFraction
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
