package authstate

import (
	"encoding/json"
	"fmt"

	"recenter-local/internal/identity"
	"recenter-local/internal/securestore"
)

// cachedSession is the last confirmed sign-in, kept so the app can stay
// usable offline for a bounded window
type cachedSession struct {
	User       *identity.User `json:"user"`
	LastSeenAt int64          `json:"lastSeenAt"`
}

func parseBool(value string) bool { return value == "1" }

func serializeBool(value bool) string {
	if value {
		return "1"
	}
	return "0"
}

// loadConsents reads the stored consent flags. The terms flag honors the
// legacy privacy key so users who consented under the old key name are not
// re-prompted.
func (s *Store) loadConsents() (Consents, error) {
	terms, err := s.secure.Get(securestore.KeyConsentTerms)
	if err != nil {
		return Consents{}, fmt.Errorf("reading terms consent: %w", err)
	}
	privacyLegacy, err := s.secure.Get(securestore.KeyConsentPrivacy)
	if err != nil {
		return Consents{}, fmt.Errorf("reading legacy privacy consent: %w", err)
	}
	analytics, err := s.secure.Get(securestore.KeyConsentAnalytics)
	if err != nil {
		return Consents{}, fmt.Errorf("reading analytics consent: %w", err)
	}

	return Consents{
		TermsAccepted: parseBool(terms) || parseBool(privacyLegacy),
		Analytics:     parseBool(analytics),
	}, nil
}

// persistConsents writes all consent keys, mirroring the terms flag into
// the legacy privacy key
func (s *Store) persistConsents(consents Consents) error {
	if err := s.secure.Set(securestore.KeyConsentTerms, serializeBool(consents.TermsAccepted)); err != nil {
		return fmt.Errorf("persisting terms consent: %w", err)
	}
	if err := s.secure.Set(securestore.KeyConsentPrivacy, serializeBool(consents.TermsAccepted)); err != nil {
		return fmt.Errorf("persisting legacy privacy consent: %w", err)
	}
	if err := s.secure.Set(securestore.KeyConsentAnalytics, serializeBool(consents.Analytics)); err != nil {
		return fmt.Errorf("persisting analytics consent: %w", err)
	}
	return nil
}

func (s *Store) loadOnboardingStatus() (bool, error) {
	value, err := s.secure.Get(securestore.KeyOnboardingComplete)
	if err != nil {
		return false, fmt.Errorf("reading onboarding status: %w", err)
	}
	return parseBool(value), nil
}

func (s *Store) persistOnboardingStatus(completed bool) error {
	if completed {
		return s.secure.Set(securestore.KeyOnboardingComplete, serializeBool(true))
	}
	return s.secure.Delete(securestore.KeyOnboardingComplete)
}

// loadProfileCache returns the cached profile or nil. An unparseable cache
// entry is discarded rather than surfaced.
func (s *Store) loadProfileCache() (*identity.Profile, error) {
	raw, err := s.secure.Get(securestore.KeyCachedProfile)
	if err != nil {
		return nil, fmt.Errorf("reading cached profile: %w", err)
	}
	if raw == "" {
		return nil, nil
	}

	var profile identity.Profile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		s.logger.Warn("discarding unparseable cached profile", "error", err)
		_ = s.secure.Delete(securestore.KeyCachedProfile)
		return nil, nil
	}
	return &profile, nil
}

func (s *Store) persistProfileCache(profile *identity.Profile) error {
	if profile == nil {
		return s.secure.Delete(securestore.KeyCachedProfile)
	}
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encoding cached profile: %w", err)
	}
	return s.secure.Set(securestore.KeyCachedProfile, string(data))
}

// loadSessionCache returns the cached session or nil. Entries without a
// user id are treated as corrupt and discarded.
func (s *Store) loadSessionCache() (*cachedSession, error) {
	raw, err := s.secure.Get(securestore.KeyCachedSession)
	if err != nil {
		return nil, fmt.Errorf("reading cached session: %w", err)
	}
	if raw == "" {
		return nil, nil
	}

	var cached cachedSession
	if err := json.Unmarshal([]byte(raw), &cached); err == nil && cached.User != nil && cached.User.ID != "" {
		return &cached, nil
	}

	s.logger.Warn("discarding unparseable cached session")
	_ = s.secure.Delete(securestore.KeyCachedSession)
	return nil, nil
}

// persistSessionCache records the user and the time they were last seen
// with a live session. A nil user clears the cache.
func (s *Store) persistSessionCache(user *identity.User) error {
	if user == nil {
		return s.secure.Delete(securestore.KeyCachedSession)
	}

	payload := cachedSession{
		User:       user,
		LastSeenAt: s.clock.Now().UnixMilli(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding cached session: %w", err)
	}
	return s.secure.Set(securestore.KeyCachedSession, string(data))
}

// sessionFresh reports whether a cached session is inside the offline
// grace window
func (s *Store) sessionFresh(cached *cachedSession) bool {
	if cached == nil {
		return false
	}
	age := s.clock.Now().UnixMilli() - cached.LastSeenAt
	return age < offlineGrace.Milliseconds()
}
