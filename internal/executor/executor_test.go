package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/korvuslabs/prowl/api/schemas"
	"github.com/korvuslabs/prowl/internal/classify"
	"github.com/korvuslabs/prowl/internal/config"
	"github.com/korvuslabs/prowl/internal/fingerprint"
	"github.com/korvuslabs/prowl/internal/humanoid"
	"github.com/korvuslabs/prowl/internal/metrics"
	"github.com/korvuslabs/prowl/internal/pool"
	"github.com/korvuslabs/prowl/internal/session"
)

type nopRuntime struct{}

func (nopRuntime) Fetch(ctx context.Context, url string) (classify.RawResult, error) {
	return classify.RawResult{}, nil
}
func (nopRuntime) Close(ctx context.Context) error { return nil }

// fakePool records every acquire and release so tests can assert the
// executor's session discipline.
type fakePool struct {
	mu         sync.Mutex
	acquired   []session.Spec
	sessions   []*session.Session
	releases   []*classify.Outcome
	acquireErr error
}

func (p *fakePool) Acquire(ctx context.Context, ownerKey string, spec session.Spec) (*session.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	s := session.New(ownerKey, spec, nopRuntime{})
	if err := s.MarkInUse(); err != nil {
		return nil, err
	}
	p.acquired = append(p.acquired, spec)
	p.sessions = append(p.sessions, s)
	return s, nil
}

func (p *fakePool) Release(s *session.Session, failure *classify.Outcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releases = append(p.releases, failure)
	if failure != nil && failure.SessionInvalidating() {
		return s.MarkDegraded()
	}
	return s.MarkIdle()
}

type fakeProxies struct {
	mu        sync.Mutex
	gets      int
	successes int
	failures  int
}

func (f *fakeProxies) Get() *session.Egress {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	return &session.Egress{Server: "http://proxy.example.com:8080"}
}

func (f *fakeProxies) ReportSuccess(server string, latency time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes++
}

func (f *fakeProxies) ReportFailure(server string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures++
}

// scriptedOp returns one raw result per attempt, in order.
type scriptedOp struct {
	mu      sync.Mutex
	results []classify.RawResult
	errs    []error
	calls   int
	block   func(ctx context.Context) // optional hook before returning
}

func (o *scriptedOp) Name() string          { return "trending" }
func (o *scriptedOp) RequiredField() string { return "itemList" }

func (o *scriptedOp) Do(ctx context.Context, s *session.Session) (classify.RawResult, error) {
	o.mu.Lock()
	i := o.calls
	o.calls++
	o.mu.Unlock()
	if o.block != nil {
		o.block(ctx)
	}
	var err error
	if i < len(o.errs) {
		err = o.errs[i]
	}
	var raw classify.RawResult
	if i < len(o.results) {
		raw = o.results[i]
	}
	return raw, err
}

func newTestExecutor(p SessionPool, proxies ProxyRotation) *Executor {
	return New(
		zap.NewNop(),
		config.RetryConfig{MaxRetries: 3, BackoffBase: time.Millisecond, JitterFraction: 0},
		config.StealthConfig{Level: config.StealthNone, Headless: true, Engine: "chromium"},
		p,
		fingerprint.New(1),
		humanoid.New(config.StealthNone, 1),
		proxies,
	)
}

var successBody = classify.RawResult{StatusCode: 200, Body: `{"itemList":[{"id":"1"}]}`}
var botBody = classify.RawResult{StatusCode: 200, Body: `<html>captcha required</html>`}

func TestExecuteSucceedsFirstAttempt(t *testing.T) {
	p := &fakePool{}
	op := &scriptedOp{results: []classify.RawResult{successBody}}

	res, err := newTestExecutor(p, nil).Execute(context.Background(), "owner-a", "tok", op)
	require.NoError(t, err)
	assert.Equal(t, successBody, res.Raw)
	assert.Equal(t, 1, res.Attempts)
	require.Len(t, p.acquired, 1)
	assert.Equal(t, session.EngineChromium, p.acquired[0].Engine)
	assert.Equal(t, "tok", p.acquired[0].AccessToken)
	require.Len(t, p.releases, 1)
	assert.Nil(t, p.releases[0])
}

func TestExecuteEscalatesThroughLadder(t *testing.T) {
	p := &fakePool{}
	proxies := &fakeProxies{}
	op := &scriptedOp{results: []classify.RawResult{botBody, botBody, successBody}}

	res, err := newTestExecutor(p, proxies).Execute(context.Background(), "owner-a", "", op)
	require.NoError(t, err)
	assert.Equal(t, successBody, res.Raw)
	assert.Equal(t, 3, res.Attempts)

	require.Len(t, p.acquired, 3)
	assert.Equal(t, session.EngineChromium, p.acquired[0].Engine)
	assert.Equal(t, session.VisibilityHeadless, p.acquired[0].Visibility)
	assert.Nil(t, p.acquired[0].Proxy)

	assert.Equal(t, session.EngineWebkit, p.acquired[1].Engine)
	assert.Equal(t, session.VisibilityHeadless, p.acquired[1].Visibility)

	assert.Equal(t, session.EngineFirefox, p.acquired[2].Engine)
	assert.Equal(t, session.VisibilityHeaded, p.acquired[2].Visibility)
	require.NotNil(t, p.acquired[2].Proxy, "final attempt should route through the proxy")

	// Each attempt carries its own freshly generated fingerprint.
	for _, spec := range p.acquired {
		assert.NotEmpty(t, spec.Fingerprint.UserAgent)
	}

	assert.Equal(t, 1, proxies.gets)
	assert.Equal(t, 1, proxies.successes)
	assert.Equal(t, 0, proxies.failures)
}

// launchFactory realizes sessions instantly for tests that drive a real pool.
type launchFactory struct{}

func (launchFactory) New(ctx context.Context, ownerKey string, spec session.Spec) (*session.Session, error) {
	return session.New(ownerKey, spec, nopRuntime{}), nil
}

func newRealPool(maxPerOwner int) *pool.Pool {
	return pool.New(zap.NewNop(), config.SessionConfig{
		MaxPerOwner:   maxPerOwner,
		IdleTimeout:   300 * time.Second,
		SweepInterval: 60 * time.Second,
		DrainTimeout:  time.Second,
	}, launchFactory{})
}

func TestExecuteEscalatesThroughRealPool(t *testing.T) {
	// Two bot detections burn two sessions before the sweeper could run.
	// The final rung must still get its fresh posture at the default cap.
	sessions := newRealPool(2)
	op := &scriptedOp{results: []classify.RawResult{botBody, botBody, successBody}}

	res, err := newTestExecutor(sessions, nil).Execute(context.Background(), "owner-a", "", op)
	require.NoError(t, err)
	assert.Equal(t, successBody, res.Raw)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, op.calls)
}

func TestBackOffDoublesBase(t *testing.T) {
	bo := newBackOff(config.RetryConfig{
		MaxRetries:     3,
		BackoffBase:    time.Second,
		JitterFraction: 0,
	})
	assert.Equal(t, time.Second, bo.NextBackOff())
	assert.Equal(t, 2*time.Second, bo.NextBackOff())
	assert.Equal(t, 4*time.Second, bo.NextBackOff())
}

func TestCapacityRejectionCountedOnce(t *testing.T) {
	sessions := newRealPool(1)
	held, err := sessions.Acquire(context.Background(), "owner-a", session.Spec{
		Engine:     session.EngineChromium,
		Visibility: session.VisibilityHeadless,
	})
	require.NoError(t, err)
	defer func() { _ = sessions.Release(held, nil) }()

	before := testutil.ToFloat64(metrics.AcquireRejections)
	_, err = newTestExecutor(sessions, nil).Execute(context.Background(), "owner-a", "", &scriptedOp{})
	require.Error(t, err)
	require.Equal(t, schemas.KindCapacityError, classify.AsOutcome(err).Kind)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.AcquireRejections))
}

func TestExecuteReleasesEverySession(t *testing.T) {
	p := &fakePool{}
	op := &scriptedOp{results: []classify.RawResult{botBody, botBody, botBody}}

	_, err := newTestExecutor(p, nil).Execute(context.Background(), "owner-a", "", op)
	require.Error(t, err)
	assert.Len(t, p.releases, len(p.acquired))
	for _, s := range p.sessions {
		assert.NotEqual(t, session.StateInUse, s.State())
	}
}

func TestNotFoundIsNotRetried(t *testing.T) {
	p := &fakePool{}
	notFound := classify.RawResult{StatusCode: 200, Body: `{"statusCode": -1, "userInfo": {}}`}
	op := &scriptedOp{results: []classify.RawResult{notFound}}

	_, err := newTestExecutor(p, nil).Execute(context.Background(), "owner-a", "", op)
	require.Error(t, err)
	out := classify.AsOutcome(err)
	require.NotNil(t, out)
	assert.Equal(t, schemas.KindNotFound, out.Kind)
	assert.Len(t, p.acquired, 1, "terminal failures must not be retried")
}

func TestCapacityErrorPropagatesImmediately(t *testing.T) {
	p := &fakePool{acquireErr: classify.CapacityErrorf("owner at cap")}
	op := &scriptedOp{}

	_, err := newTestExecutor(p, nil).Execute(context.Background(), "owner-a", "", op)
	require.Error(t, err)
	out := classify.AsOutcome(err)
	require.NotNil(t, out)
	assert.Equal(t, schemas.KindCapacityError, out.Kind)
	assert.Zero(t, op.calls, "operation must not run without a session")
}

func TestCancellationStopsRetriesAndReleases(t *testing.T) {
	p := &fakePool{}
	ctx, cancel := context.WithCancel(context.Background())
	op := &scriptedOp{
		errs:  []error{errors.New("net::ERR_ABORTED")},
		block: func(context.Context) { cancel() },
	}

	_, err := newTestExecutor(p, nil).Execute(ctx, "owner-a", "", op)
	require.Error(t, err)
	assert.Equal(t, 1, op.calls)
	require.Len(t, p.releases, 1)
	assert.NotEqual(t, session.StateInUse, p.sessions[0].State())
}

func TestBotDetectionDegradesSessionAndReportsProxy(t *testing.T) {
	p := &fakePool{}
	proxies := &fakeProxies{}
	op := &scriptedOp{results: []classify.RawResult{botBody, botBody, botBody}}

	_, err := newTestExecutor(p, proxies).Execute(context.Background(), "owner-a", "", op)
	require.Error(t, err)
	out := classify.AsOutcome(err)
	require.NotNil(t, out)
	assert.Equal(t, schemas.KindBotDetected, out.Kind)

	for _, s := range p.sessions {
		assert.Equal(t, session.StateDegraded, s.State())
	}
	assert.Equal(t, 1, proxies.failures, "proxied attempt failure must be reported")
}
