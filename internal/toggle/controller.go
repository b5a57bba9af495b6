package toggle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloudradar/livemap/internal/retry"
	"github.com/cloudradar/livemap/pkg/logger"
)

// Options tunes the controller timings
type Options struct {
	PollInterval   time.Duration
	Timeout        time.Duration
	ResyncInterval time.Duration
	Retry          retry.Config
}

// DefaultOptions returns the production timings
func DefaultOptions() Options {
	return Options{
		PollInterval:   2 * time.Second,
		Timeout:        30 * time.Second,
		ResyncInterval: 30 * time.Second,
		Retry:          retry.DefaultConfig(),
	}
}

// failureSyncTimeout bounds the best-effort resync after a failed change
const failureSyncTimeout = 5 * time.Second

// Controller drives the ingester on/off switch. A change is shown optimistically,
// applied, then polled until the backend agrees or the timeout expires.
type Controller struct {
	api      API
	creds    CredentialStore
	prompter Prompter
	opts     Options
	logger   *logger.Logger

	mutex    sync.Mutex
	state    State
	applying bool
	onChange func(State)
}

// NewController creates a controller. prompter may be nil.
func NewController(api API, creds CredentialStore, prompter Prompter, opts Options, log *logger.Logger) *Controller {
	if creds == nil {
		creds = &MemoryCredentials{}
	}
	defaults := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.ResyncInterval <= 0 {
		opts.ResyncInterval = defaults.ResyncInterval
	}
	return &Controller{
		api:      api,
		creds:    creds,
		prompter: prompter,
		opts:     opts,
		logger:   log.Named("toggle"),
		state:    State{Known: KnownUnknown},
	}
}

// OnChange registers a callback receiving every state change
func (c *Controller) OnChange(fn func(State)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.onChange = fn
}

// State returns a copy of the current state
func (c *Controller) State() State {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state.clone()
}

func (c *Controller) update(fn func(s *State)) {
	c.mutex.Lock()
	fn(&c.state)
	snapshot := c.state.clone()
	notify := c.onChange
	c.mutex.Unlock()

	if notify != nil {
		notify(snapshot)
	}
}

// Request switches the ingester on (1) or off (0) and waits for convergence
func (c *Controller) Request(ctx context.Context, target int) error {
	if target != 0 && target != 1 {
		return fmt.Errorf("invalid toggle target %d", target)
	}

	c.mutex.Lock()
	if c.applying {
		c.mutex.Unlock()
		return ErrBusy
	}
	c.applying = true
	c.mutex.Unlock()

	c.update(func(s *State) {
		t := target
		s.Known = knownFor(target)
		s.PendingTarget = &t
		s.Loading = true
		s.Error = ""
	})

	defer func() {
		c.mutex.Lock()
		c.applying = false
		c.mutex.Unlock()
		c.update(func(s *State) {
			s.PendingTarget = nil
			s.Loading = false
		})
	}()

	c.logger.Info("Applying ingester toggle", logger.Int("target", target))

	if err := c.apply(ctx, target); err != nil {
		c.fail(ctx, err)
		return err
	}

	c.logger.Info("Ingester toggle converged", logger.Int("target", target))
	return nil
}

func (c *Controller) apply(ctx context.Context, target int) error {
	creds, err := c.credentials(ctx)
	if err != nil {
		return err
	}

	if _, err := c.api.SetToggle(ctx, target, creds); err != nil {
		return fmt.Errorf("failed to set ingester replicas: %w", err)
	}

	return c.await(ctx, target, creds)
}

func (c *Controller) credentials(ctx context.Context) (Credentials, error) {
	if creds, ok := c.creds.Get(); ok {
		return creds, nil
	}
	if c.prompter == nil {
		return Credentials{}, ErrNoCredentials
	}

	creds, err := c.prompter.Prompt(ctx)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to obtain credentials: %w", err)
	}
	if creds.Username == "" {
		return Credentials{}, ErrNoCredentials
	}
	c.creds.Set(creds)
	return creds, nil
}

// await polls until the observed state matches target. Polls and waits are
// bounded by one deadline starting with the first poll.
func (c *Controller) await(ctx context.Context, target int, creds Credentials) error {
	deadline := time.Now().Add(c.opts.Timeout)
	pollCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var lastObserved *int
	timedOut := func() error {
		return &ConvergenceTimeoutError{Target: target, LastObserved: lastObserved, Timeout: c.opts.Timeout}
	}

	for {
		status, err := c.api.FetchToggleStatusAuthenticated(pollCtx, creds)
		if err != nil {
			if ctx.Err() == nil && pollCtx.Err() != nil {
				return timedOut()
			}
			return fmt.Errorf("failed to poll ingester status: %w", err)
		}

		observed := status.Replicas
		lastObserved = &observed
		c.update(func(s *State) {
			v := observed
			s.ObservedReplicas = &v
		})

		if Converged(observed, target) {
			return nil
		}

		wait := min(c.opts.PollInterval, time.Until(deadline))
		if wait <= 0 {
			return timedOut()
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("toggle polling cancelled: %w", ctx.Err())
		case <-timer.C:
		}
		if !time.Now().Before(deadline) {
			return timedOut()
		}
	}
}

func (c *Controller) fail(ctx context.Context, err error) {
	c.logger.Warn("Ingester toggle failed", logger.Error(err))

	c.creds.Clear()
	c.update(func(s *State) {
		if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNoCredentials) {
			s.Known = KnownUnknown
		}
		s.Error = err.Error()
	})

	syncCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureSyncTimeout)
	defer cancel()
	if syncErr := c.resync(syncCtx); syncErr != nil {
		c.logger.Warn("Failed to resync ingester status after toggle failure", logger.Error(syncErr))
	}
}

// Sync refreshes the displayed state without prompting. It is skipped while
// a change is being applied.
func (c *Controller) Sync(ctx context.Context) error {
	c.mutex.Lock()
	applying := c.applying
	c.mutex.Unlock()
	if applying {
		return nil
	}
	return c.resync(ctx)
}

func (c *Controller) resync(ctx context.Context) error {
	status, err := c.fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to sync ingester status: %w", err)
	}

	c.update(func(s *State) {
		v := status.Replicas
		s.ObservedReplicas = &v
		s.Known = knownFor(status.Replicas)
	})
	return nil
}

// fetch uses cached credentials when present and falls back to the public status
func (c *Controller) fetch(ctx context.Context) (*Status, error) {
	creds, ok := c.creds.Get()
	if !ok {
		return c.api.FetchToggleStatus(ctx)
	}

	status, err := c.api.FetchToggleStatusAuthenticated(ctx, creds)
	if errors.Is(err, ErrUnauthorized) {
		c.logger.Warn("Cached admin credentials rejected, falling back to public status")
		c.creds.Clear()
		return c.api.FetchToggleStatus(ctx)
	}
	return status, err
}

// Run loads the initial state with retries, then resyncs periodically until ctx is done
func (c *Controller) Run(ctx context.Context) error {
	if err := retry.Do(ctx, c.opts.Retry, c.Sync); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("Initial ingester status load failed", logger.Error(err))
	}

	ticker := time.NewTicker(c.opts.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.Sync(ctx); err != nil {
				c.logger.Debug("Periodic ingester status sync failed", logger.Error(err))
			}
		}
	}
}
