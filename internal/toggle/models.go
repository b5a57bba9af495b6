package toggle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrUnauthorized is returned by API implementations when credentials are rejected
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNoCredentials means a change was requested without credentials
	ErrNoCredentials = errors.New("credentials required")
	// ErrBusy means another change is still being applied
	ErrBusy = errors.New("a toggle change is already in progress")
)

// Known is the displayed on/off state
type Known string

const (
	KnownUnknown Known = "unknown"
	KnownOn      Known = "on"
	KnownOff     Known = "off"
)

func knownFor(replicas int) Known {
	if replicas > 0 {
		return KnownOn
	}
	return KnownOff
}

// Status is the scale status reported by the admin endpoint
type Status struct {
	Replicas int `json:"replicas"`
}

// Credentials for the admin endpoint
type Credentials struct {
	Username string
	Password string
}

// API is the admin endpoint controlling the ingester
type API interface {
	FetchToggleStatus(ctx context.Context) (*Status, error)
	FetchToggleStatusAuthenticated(ctx context.Context, creds Credentials) (*Status, error)
	SetToggle(ctx context.Context, target int, creds Credentials) (*Status, error)
}

// CredentialStore caches admin credentials between requests
type CredentialStore interface {
	Get() (Credentials, bool)
	Set(creds Credentials)
	Clear()
}

// Prompter asks an operator for credentials
type Prompter interface {
	Prompt(ctx context.Context) (Credentials, error)
}

// MemoryCredentials keeps credentials in process memory
type MemoryCredentials struct {
	mutex sync.Mutex
	creds *Credentials
}

func (m *MemoryCredentials) Get() (Credentials, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.creds == nil {
		return Credentials{}, false
	}
	return *m.creds, true
}

func (m *MemoryCredentials) Set(creds Credentials) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.creds = &creds
}

func (m *MemoryCredentials) Clear() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.creds = nil
}

// State is what the presentation layer shows for the toggle
type State struct {
	Known            Known  `json:"known"`
	ObservedReplicas *int   `json:"observedReplicas"`
	PendingTarget    *int   `json:"pendingTarget"`
	Loading          bool   `json:"loading"`
	Error            string `json:"error,omitempty"`
}

func (s State) clone() State {
	out := s
	if s.ObservedReplicas != nil {
		v := *s.ObservedReplicas
		out.ObservedReplicas = &v
	}
	if s.PendingTarget != nil {
		v := *s.PendingTarget
		out.PendingTarget = &v
	}
	return out
}

// ConvergenceTimeoutError is returned when the observed state never reached the target
type ConvergenceTimeoutError struct {
	Target       int
	LastObserved *int
	Timeout      time.Duration
}

func (e *ConvergenceTimeoutError) Error() string {
	last := "none"
	if e.LastObserved != nil {
		last = fmt.Sprintf("%d", *e.LastObserved)
	}
	return fmt.Sprintf("ingester did not reach target %d within %s (last observed replicas: %s)", e.Target, e.Timeout, last)
}

// Converged reports whether observed replicas match a 0/1 target
func Converged(observed, target int) bool {
	on := 0
	if observed > 0 {
		on = 1
	}
	return on == target
}
