// Package securestore provides the small string-keyed credential store the
// auth layer persists cached identity and consent flags into.
package securestore

import "sync"

// Keys owned by the auth and navigation layers. Consent flags are stored as
// "0"/"1" strings; the profile and session entries are JSON blobs.
const (
	KeyCachedProfile      = "auth.profile"
	KeyCachedSession      = "auth.last_session"
	KeyIdentitySession    = "identity.session"
	KeyConsentTerms       = "consent.terms"
	KeyConsentPrivacy     = "consent.privacy"
	KeyConsentAnalytics   = "consent.analytics"
	KeyOnboardingComplete = "onboarding.completed"
	KeyLastActiveTab      = "nav.last_tab"
	KeySettings           = "recenter.settings.v1"
)

// Store is a process-wide key-value store for small secrets. Reads of
// missing keys return an empty string without an error; writes are
// last-write-wins per key.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// MemoryStore is an in-memory Store, used in tests
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key], nil
}

func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}
