// Package authstate holds the app's authentication state: who is signed in,
// their profile, consent flags, and whether onboarding is still pending. It
// tolerates being offline by trusting a recently cached session for a grace
// period.
package authstate

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"recenter-local/internal/identity"
	"recenter-local/internal/metrics"
	"recenter-local/internal/securestore"
)

// offlineGrace is how long a cached session keeps the user signed in when
// the provider cannot be reached
const offlineGrace = 24 * time.Hour

const notConfiguredMessage = "The identity provider is not configured. Set IDENTITY_URL and IDENTITY_ANON_KEY before signing in."

// Status is the top-level authentication state
type Status string

const (
	StatusLoading         Status = "loading"
	StatusUnauthenticated Status = "unauthenticated"
	StatusAuthenticated   Status = "authenticated"
)

// PendingAction names the sign-in flow currently in flight, or "" when idle
type PendingAction string

const (
	PendingNone     PendingAction = ""
	PendingPassword PendingAction = "password"
	PendingSignUp   PendingAction = "signup"
	PendingEmail    PendingAction = "email"
	PendingOAuth    PendingAction = "oauth"
)

// Consents holds the user's recorded consent decisions
type Consents struct {
	TermsAccepted bool
	Analytics     bool
}

// Snapshot is an immutable copy of the auth state at one point in time
type Snapshot struct {
	Status          Status
	User            *identity.User
	Profile         *identity.Profile
	Consents        Consents
	NeedsOnboarding bool
	Initialized     bool
	Pending         PendingAction
	Error           string
	ProfileError    string
}

// Clock abstracts time for the offline grace check
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// BrowserOpener launches the system browser for an OAuth flow and blocks
// until the provider redirects back, returning the callback URL
type BrowserOpener interface {
	OpenAuthSession(authURL, redirectURI string) (string, error)
}

// ErrBrowserCancelled is returned by a BrowserOpener when the user dismisses
// the browser without completing the flow
var ErrBrowserCancelled = errors.New("sign-in was cancelled")

// Store is the authoritative container for auth state. All mutations go
// through its methods; readers get consistent copies via Snapshot or
// Subscribe.
type Store struct {
	client  *identity.Client
	secure  securestore.Store
	browser BrowserOpener
	logger  *slog.Logger
	clock   Clock

	locale   string
	timezone string

	mu          sync.Mutex
	snap        Snapshot
	subscribers map[int]func(Snapshot)
	nextSubID   int
	hooked      bool
}

// NewStore creates an auth state store. browser may be nil when no OAuth
// flow is available (headless runs).
func NewStore(client *identity.Client, secure securestore.Store, browser BrowserOpener, logger *slog.Logger) *Store {
	timezone := time.Local.String()
	if timezone == "Local" {
		timezone = "UTC"
	}

	return &Store{
		client:  client,
		secure:  secure,
		browser: browser,
		logger:  logger,
		clock:   systemClock{},
		locale:  "en-US",

		timezone: timezone,
		snap: Snapshot{
			Status:          StatusLoading,
			NeedsOnboarding: true,
		},
		subscribers: make(map[int]func(Snapshot)),
	}
}

// Snapshot returns a copy of the current state
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Subscribe registers a callback invoked with every state change and
// returns a function that removes it. The callback runs synchronously on
// the mutating goroutine and must not call back into the store.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// SetError sets or clears the user-visible error message
func (s *Store) SetError(message string) {
	s.update(func(snap *Snapshot) {
		snap.Error = message
	})
}

// update applies a mutation under the lock and notifies subscribers with
// the resulting snapshot
func (s *Store) update(mutate func(*Snapshot)) {
	s.mu.Lock()
	mutate(&s.snap)
	snap := s.snap
	subscribers := make([]func(Snapshot), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subscribers = append(subscribers, fn)
	}
	s.mu.Unlock()

	setStatusGauge(snap.Status)
	for _, fn := range subscribers {
		fn(snap)
	}
}

func setStatusGauge(status Status) {
	for _, candidate := range []Status{StatusLoading, StatusUnauthenticated, StatusAuthenticated} {
		value := 0.0
		if candidate == status {
			value = 1.0
		}
		metrics.AuthStatus.WithLabelValues(string(candidate)).Set(value)
	}
}

func computeNeedsOnboarding(onboardingCompleted bool, consents Consents) bool {
	if onboardingCompleted {
		return false
	}
	return !consents.TermsAccepted
}
