package authstate

import (
	"context"

	"golang.org/x/sync/errgroup"

	"recenter-local/internal/identity"
	"recenter-local/internal/metrics"
)

// Initialize restores auth state from the secure store and the provider.
// It is idempotent; calls after the first are no-ops. Initialize itself
// never fails the app: provider errors degrade to cached or unauthenticated
// state instead of propagating.
func (s *Store) Initialize(ctx context.Context) {
	s.mu.Lock()
	if s.snap.Initialized {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.update(func(snap *Snapshot) {
		snap.Status = StatusLoading
		snap.Error = ""
	})

	var (
		consents            Consents
		cachedProfile       *identity.Profile
		cachedSess          *cachedSession
		onboardingCompleted bool
	)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		consents, err = s.loadConsents()
		return err
	})
	g.Go(func() error {
		var err error
		cachedProfile, err = s.loadProfileCache()
		return err
	})
	g.Go(func() error {
		var err error
		cachedSess, err = s.loadSessionCache()
		return err
	})
	g.Go(func() error {
		var err error
		onboardingCompleted, err = s.loadOnboardingStatus()
		return err
	})
	if err := g.Wait(); err != nil {
		// A broken secure store only costs us the cached state
		s.logger.Warn("failed to load cached auth state", "error", err)
	}

	s.update(func(snap *Snapshot) {
		snap.Consents = consents
		snap.NeedsOnboarding = computeNeedsOnboarding(onboardingCompleted, consents)
		if cachedProfile != nil {
			snap.Profile = cachedProfile
		}
	})

	if !s.client.Configured() {
		metrics.AuthOperationsTotal.WithLabelValues(metrics.AuthOpInitialize, metrics.AuthOutcomeNotConfigured).Inc()
		s.update(func(snap *Snapshot) {
			snap.Status = StatusUnauthenticated
			snap.Error = notConfiguredMessage
			snap.Initialized = true
		})
		return
	}

	session, err := s.client.GetSession(ctx)
	switch {
	case err == nil && session != nil && session.User != nil:
		if err := s.persistSessionCache(session.User); err != nil {
			s.logger.Warn("failed to cache session", "error", err)
		}
		s.update(func(snap *Snapshot) {
			snap.User = session.User
			snap.Status = StatusAuthenticated
		})
		s.bootstrapProfile(ctx, session.User.ID)
		metrics.AuthOperationsTotal.WithLabelValues(metrics.AuthOpInitialize, metrics.AuthOutcomeOK).Inc()

	case err == nil && s.sessionFresh(cachedSess):
		// No live session but the cached one is inside the grace window
		s.update(func(snap *Snapshot) {
			snap.User = cachedSess.User
			snap.Status = StatusAuthenticated
		})
		metrics.AuthOperationsTotal.WithLabelValues(metrics.AuthOpInitialize, metrics.AuthOutcomeOfflineCache).Inc()

	case err == nil:
		s.update(func(snap *Snapshot) {
			snap.Status = StatusUnauthenticated
		})
		metrics.AuthOperationsTotal.WithLabelValues(metrics.AuthOpInitialize, metrics.AuthOutcomeOK).Inc()

	case s.sessionFresh(cachedSess):
		s.logger.Warn("session restore failed, using cached session", "error", err)
		s.update(func(snap *Snapshot) {
			snap.User = cachedSess.User
			snap.Status = StatusAuthenticated
			snap.Error = ""
		})
		metrics.AuthOperationsTotal.WithLabelValues(metrics.AuthOpInitialize, metrics.AuthOutcomeOfflineCache).Inc()

	default:
		s.logger.Warn("session restore failed", "error", err)
		s.update(func(snap *Snapshot) {
			snap.Status = StatusUnauthenticated
			snap.Error = err.Error()
		})
		metrics.AuthOperationsTotal.WithLabelValues(metrics.AuthOpInitialize, metrics.AuthOutcomeError).Inc()
	}

	s.update(func(snap *Snapshot) {
		snap.Initialized = true
	})

	s.hookEvents(ctx)
}

// hookEvents subscribes to provider auth events exactly once
func (s *Store) hookEvents(ctx context.Context) {
	s.mu.Lock()
	if s.hooked {
		s.mu.Unlock()
		return
	}
	s.hooked = true
	s.mu.Unlock()

	s.client.OnAuthStateChange(func(event string, session *identity.Session) {
		var user *identity.User
		if session != nil {
			user = session.User
		}
		if err := s.persistSessionCache(user); err != nil {
			s.logger.Warn("failed to cache session", "error", err)
		}

		s.update(func(snap *Snapshot) {
			snap.User = user
			if user != nil {
				snap.Status = StatusAuthenticated
			} else {
				snap.Status = StatusUnauthenticated
			}
		})

		if user != nil {
			s.bootstrapProfile(ctx, user.ID)
		} else {
			if err := s.persistProfileCache(nil); err != nil {
				s.logger.Warn("failed to clear cached profile", "error", err)
			}
			s.update(func(snap *Snapshot) {
				snap.Profile = nil
			})
		}
	})
}

// bootstrapProfile loads or creates the remote profile and caches it.
// Access-denied errors are swallowed: the provider's row policies hide the
// table from some roles and the app works without a profile.
func (s *Store) bootstrapProfile(ctx context.Context, userID string) {
	profile, err := s.client.EnsureProfile(ctx, userID, s.locale, s.timezone)
	if err != nil {
		suppressed := identity.ErrorCode(err) == identity.CodeAccessDenied
		if !suppressed {
			s.logger.Warn("failed to load profile", "error", err)
		}
		s.update(func(snap *Snapshot) {
			if suppressed {
				snap.ProfileError = ""
			} else {
				snap.ProfileError = err.Error()
			}
		})
		return
	}

	if err := s.persistProfileCache(profile); err != nil {
		s.logger.Warn("failed to cache profile", "error", err)
	}
	s.update(func(snap *Snapshot) {
		snap.Profile = profile
		snap.ProfileError = ""
	})
}

// ReloadProfile refetches the signed-in user's profile
func (s *Store) ReloadProfile(ctx context.Context) {
	if !s.client.Configured() {
		s.update(func(snap *Snapshot) {
			snap.ProfileError = notConfiguredMessage
		})
		return
	}

	snap := s.Snapshot()
	if snap.User == nil {
		return
	}

	s.update(func(snap *Snapshot) {
		snap.ProfileError = ""
	})

	metrics.AuthOperationsTotal.WithLabelValues(metrics.AuthOpReloadProfile, metrics.AuthOutcomeOK).Inc()
	s.bootstrapProfile(ctx, snap.User.ID)
}

// ConsentUpdate is a partial update; nil fields are left unchanged
type ConsentUpdate struct {
	TermsAccepted *bool
	Analytics     *bool
}

// SetConsents persists updated consent flags. Accepting the terms also
// marks onboarding complete; onboarding never reopens once completed.
func (s *Store) SetConsents(update ConsentUpdate) error {
	next := s.Snapshot().Consents
	if update.TermsAccepted != nil {
		next.TermsAccepted = *update.TermsAccepted
	}
	if update.Analytics != nil {
		next.Analytics = *update.Analytics
	}

	if err := s.persistConsents(next); err != nil {
		return err
	}
	if next.TermsAccepted {
		if err := s.persistOnboardingStatus(true); err != nil {
			return err
		}
	}

	s.update(func(snap *Snapshot) {
		snap.Consents = next
		if next.TermsAccepted {
			snap.NeedsOnboarding = false
		}
	})
	return nil
}

// CompleteOnboarding marks onboarding as done regardless of consent state
func (s *Store) CompleteOnboarding() error {
	if err := s.persistOnboardingStatus(true); err != nil {
		return err
	}
	s.update(func(snap *Snapshot) {
		snap.NeedsOnboarding = false
	})
	return nil
}
