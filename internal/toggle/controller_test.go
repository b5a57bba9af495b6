package toggle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudradar/livemap/internal/retry"
	"github.com/cloudradar/livemap/pkg/logger"
)

type fakeAPI struct {
	mutex sync.Mutex

	replicas      int
	applyOnSet    bool
	setErr        error
	authErr       error
	publicErr     error
	publicCalls   int
	authCalls     int
	setTargets    []int
	lastCreds     Credentials
	pollsToApply  int
	pendingTarget *int
}

func (f *fakeAPI) FetchToggleStatus(ctx context.Context) (*Status, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.publicCalls++
	if f.publicErr != nil {
		return nil, f.publicErr
	}
	return &Status{Replicas: f.replicas}, nil
}

func (f *fakeAPI) FetchToggleStatusAuthenticated(ctx context.Context, creds Credentials) (*Status, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.authCalls++
	f.lastCreds = creds
	if f.authErr != nil {
		return nil, f.authErr
	}
	if f.pendingTarget != nil {
		if f.pollsToApply <= 1 {
			f.replicas = *f.pendingTarget
			f.pendingTarget = nil
		} else {
			f.pollsToApply--
		}
	}
	return &Status{Replicas: f.replicas}, nil
}

func (f *fakeAPI) SetToggle(ctx context.Context, target int, creds Credentials) (*Status, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.setTargets = append(f.setTargets, target)
	f.lastCreds = creds
	if f.setErr != nil {
		return nil, f.setErr
	}
	if f.applyOnSet {
		t := target
		f.pendingTarget = &t
	}
	return &Status{Replicas: f.replicas}, nil
}

type staticPrompter struct {
	creds Credentials
	calls int
}

func (p *staticPrompter) Prompt(ctx context.Context) (Credentials, error) {
	p.calls++
	return p.creds, nil
}

func testOptions() Options {
	return Options{
		PollInterval:   5 * time.Millisecond,
		Timeout:        60 * time.Millisecond,
		ResyncInterval: 10 * time.Millisecond,
		Retry:          retry.Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2},
	}
}

func withCreds() *MemoryCredentials {
	store := &MemoryCredentials{}
	store.Set(Credentials{Username: "admin", Password: "secret"})
	return store
}

func TestConverged(t *testing.T) {
	assert.True(t, Converged(0, 0))
	assert.True(t, Converged(1, 1))
	assert.True(t, Converged(3, 1))
	assert.False(t, Converged(0, 1))
	assert.False(t, Converged(2, 0))
}

func TestRequestConvergesOnFirstPoll(t *testing.T) {
	api := &fakeAPI{applyOnSet: true, pollsToApply: 1}
	c := NewController(api, withCreds(), nil, testOptions(), logger.Nop())

	var states []State
	var mu sync.Mutex
	c.OnChange(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	})

	err := c.Request(context.Background(), 1)
	require.NoError(t, err)

	state := c.State()
	assert.Equal(t, KnownOn, state.Known)
	assert.Nil(t, state.PendingTarget)
	assert.False(t, state.Loading)
	require.NotNil(t, state.ObservedReplicas)
	assert.Equal(t, 1, *state.ObservedReplicas)
	assert.Equal(t, []int{1}, api.setTargets)
	assert.Equal(t, "admin", api.lastCreds.Username)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, states)
	first := states[0]
	assert.Equal(t, KnownOn, first.Known, "optimistic state is shown before the backend answers")
	require.NotNil(t, first.PendingTarget)
	assert.Equal(t, 1, *first.PendingTarget)
	assert.True(t, first.Loading)
}

func TestRequestConvergesAfterSeveralPolls(t *testing.T) {
	api := &fakeAPI{replicas: 1, applyOnSet: true, pollsToApply: 3}
	c := NewController(api, withCreds(), nil, testOptions(), logger.Nop())

	require.NoError(t, c.Request(context.Background(), 0))
	assert.Equal(t, KnownOff, c.State().Known)
	assert.Equal(t, 3, api.authCalls)
}

func TestRequestTimesOut(t *testing.T) {
	api := &fakeAPI{replicas: 0}
	store := withCreds()
	c := NewController(api, store, nil, testOptions(), logger.Nop())

	started := time.Now()
	err := c.Request(context.Background(), 1)
	elapsed := time.Since(started)

	var timeout *ConvergenceTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 1, timeout.Target)
	require.NotNil(t, timeout.LastObserved)
	assert.Equal(t, 0, *timeout.LastObserved)
	assert.Contains(t, err.Error(), "target 1")
	assert.GreaterOrEqual(t, elapsed, testOptions().Timeout)

	_, ok := store.Get()
	assert.False(t, ok, "credentials are cleared after a failure")

	state := c.State()
	assert.Nil(t, state.PendingTarget)
	assert.False(t, state.Loading)
	assert.Equal(t, KnownOff, state.Known, "public resync restores the real state")
	assert.NotEmpty(t, state.Error)
	assert.GreaterOrEqual(t, api.publicCalls, 1)
}

func TestRequestTimeoutDoesNotOvershoot(t *testing.T) {
	opts := testOptions()
	opts.Timeout = 100 * time.Millisecond
	opts.PollInterval = 90 * time.Millisecond
	api := &fakeAPI{replicas: 0}
	c := NewController(api, withCreds(), nil, opts, logger.Nop())

	started := time.Now()
	err := c.Request(context.Background(), 1)
	elapsed := time.Since(started)

	var timeout *ConvergenceTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.GreaterOrEqual(t, elapsed, opts.Timeout)
	assert.Less(t, elapsed, opts.Timeout+opts.PollInterval/2, "the last wait is cut to the deadline")
	assert.Equal(t, 2, api.authCalls)
}

// hangingAPI never answers authenticated polls
type hangingAPI struct {
	*fakeAPI
}

func (h hangingAPI) FetchToggleStatusAuthenticated(ctx context.Context, creds Credentials) (*Status, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRequestTimeoutBoundsSlowPolls(t *testing.T) {
	opts := testOptions()
	api := hangingAPI{&fakeAPI{replicas: 0}}
	c := NewController(api, withCreds(), nil, opts, logger.Nop())

	started := time.Now()
	err := c.Request(context.Background(), 1)
	elapsed := time.Since(started)

	var timeout *ConvergenceTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Nil(t, timeout.LastObserved)
	assert.Less(t, elapsed, opts.Timeout+time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err = NewController(api, withCreds(), nil, opts, logger.Nop()).Request(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.As(err, &timeout), "cancellation is not a timeout")
}

func TestRequestUnauthorized(t *testing.T) {
	api := &fakeAPI{replicas: 1, setErr: ErrUnauthorized, publicErr: errors.New("down")}
	store := withCreds()
	c := NewController(api, store, nil, testOptions(), logger.Nop())

	err := c.Request(context.Background(), 0)
	require.ErrorIs(t, err, ErrUnauthorized)

	state := c.State()
	assert.Equal(t, KnownUnknown, state.Known)
	assert.Nil(t, state.PendingTarget)
	assert.False(t, state.Loading)
	assert.Contains(t, state.Error, "unauthorized")

	_, ok := store.Get()
	assert.False(t, ok)
}

func TestRequestWithoutCredentials(t *testing.T) {
	t.Run("no prompter", func(t *testing.T) {
		api := &fakeAPI{replicas: 0}
		c := NewController(api, nil, nil, testOptions(), logger.Nop())

		err := c.Request(context.Background(), 1)
		require.ErrorIs(t, err, ErrNoCredentials)
		assert.Empty(t, api.setTargets)
		assert.Equal(t, KnownOff, c.State().Known)
	})

	t.Run("prompter supplies credentials", func(t *testing.T) {
		api := &fakeAPI{applyOnSet: true, pollsToApply: 1}
		prompter := &staticPrompter{creds: Credentials{Username: "ops", Password: "pw"}}
		store := &MemoryCredentials{}
		c := NewController(api, store, prompter, testOptions(), logger.Nop())

		require.NoError(t, c.Request(context.Background(), 1))
		assert.Equal(t, 1, prompter.calls)
		assert.Equal(t, "ops", api.lastCreds.Username)

		cached, ok := store.Get()
		require.True(t, ok)
		assert.Equal(t, "ops", cached.Username)
	})
}

func TestRequestRejectsInvalidTarget(t *testing.T) {
	c := NewController(&fakeAPI{}, withCreds(), nil, testOptions(), logger.Nop())
	assert.Error(t, c.Request(context.Background(), 2))
	assert.Equal(t, KnownUnknown, c.State().Known)
}

func TestSyncFallsBackToPublicStatus(t *testing.T) {
	api := &fakeAPI{replicas: 1, authErr: ErrUnauthorized}
	store := withCreds()
	c := NewController(api, store, nil, testOptions(), logger.Nop())

	require.NoError(t, c.Sync(context.Background()))
	assert.Equal(t, KnownOn, c.State().Known)
	assert.Equal(t, 1, api.publicCalls)

	_, ok := store.Get()
	assert.False(t, ok)
}

func TestRunRetriesInitialLoadThenResyncs(t *testing.T) {
	api := &fakeAPI{replicas: 1, publicErr: errors.New("down")}
	c := NewController(api, nil, nil, testOptions(), logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	assert.Eventually(t, func() bool {
		api.mutex.Lock()
		defer api.mutex.Unlock()
		return api.publicCalls >= 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, KnownUnknown, c.State().Known)

	api.mutex.Lock()
	api.publicErr = nil
	api.mutex.Unlock()

	assert.Eventually(t, func() bool { return c.State().Known == KnownOn }, time.Second, 2*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
