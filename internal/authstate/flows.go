package authstate

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"recenter-local/internal/identity"
	"recenter-local/internal/metrics"
)

// SignUpParams are the inputs to SignUpWithEmail
type SignUpParams struct {
	FirstName     string
	Email         string
	Password      string
	TermsAccepted bool
}

// SignInWithPassword authenticates with an email and password. Validation
// and provider failures are recorded in the snapshot error and returned.
func (s *Store) SignInWithPassword(ctx context.Context, email, password string) error {
	if !s.client.Configured() {
		return s.failOp(metrics.AuthOpPasswordSignIn, metrics.AuthOutcomeNotConfigured, errors.New(notConfiguredMessage))
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return s.failOp(metrics.AuthOpPasswordSignIn, metrics.AuthOutcomeError, errors.New("email and password are required"))
	}

	s.beginPending(PendingPassword)
	session, err := s.client.SignInWithPassword(ctx, email, password)
	s.endPending()

	if err != nil {
		return s.failOp(metrics.AuthOpPasswordSignIn, metrics.AuthOutcomeError, err)
	}

	s.adoptSession(session)
	s.ReloadProfile(ctx)
	metrics.AuthOperationsTotal.WithLabelValues(metrics.AuthOpPasswordSignIn, metrics.AuthOutcomeOK).Inc()
	return nil
}

// SignUpWithEmail registers a new account. The terms must be accepted up
// front; on success the consent is persisted and the display name is
// written to the new profile.
func (s *Store) SignUpWithEmail(ctx context.Context, params SignUpParams) error {
	if !s.client.Configured() {
		return s.failOp(metrics.AuthOpSignUp, metrics.AuthOutcomeNotConfigured, errors.New(notConfiguredMessage))
	}

	firstName := strings.TrimSpace(params.FirstName)
	email := strings.ToLower(strings.TrimSpace(params.Email))

	if firstName == "" {
		return s.failOp(metrics.AuthOpSignUp, metrics.AuthOutcomeError, errors.New("first name is required"))
	}
	if email == "" {
		return s.failOp(metrics.AuthOpSignUp, metrics.AuthOutcomeError, errors.New("email is required"))
	}
	if params.Password == "" {
		return s.failOp(metrics.AuthOpSignUp, metrics.AuthOutcomeError, errors.New("password is required"))
	}
	if !params.TermsAccepted {
		return s.failOp(metrics.AuthOpSignUp, metrics.AuthOutcomeError, errors.New("please accept the terms before continuing"))
	}

	s.beginPending(PendingSignUp)
	session, user, err := s.client.SignUp(ctx, email, params.Password, map[string]any{
		"first_name": firstName,
	})
	s.endPending()

	if err != nil {
		return s.failOp(metrics.AuthOpSignUp, metrics.AuthOutcomeError, err)
	}

	if user != nil && user.ID != "" {
		accepted := true
		if err := s.SetConsents(ConsentUpdate{TermsAccepted: &accepted}); err != nil {
			s.logger.Warn("failed to persist consent after sign-up", "error", err)
		}

		if _, err := s.client.EnsureProfile(ctx, user.ID, s.locale, s.timezone); err != nil {
			if identity.ErrorCode(err) != identity.CodeAccessDenied {
				s.logger.Warn("sign-up profile bootstrap failed", "error", err)
			}
		} else if err := s.client.UpdateProfile(ctx, user.ID, map[string]any{"display_name": firstName}); err != nil {
			if identity.ErrorCode(err) != identity.CodeAccessDenied {
				s.logger.Warn("failed to set display name", "error", err)
			}
		}
	}

	// session is nil when the provider requires email confirmation
	if session != nil && session.User != nil {
		s.adoptSession(session)
		s.ReloadProfile(ctx)
	}

	metrics.AuthOperationsTotal.WithLabelValues(metrics.AuthOpSignUp, metrics.AuthOutcomeOK).Inc()
	return nil
}

// SignInWithMagicLink emails the user a one-time sign-in link
func (s *Store) SignInWithMagicLink(ctx context.Context, email string) error {
	if !s.client.Configured() {
		return s.failOp(metrics.AuthOpMagicLink, metrics.AuthOutcomeNotConfigured, errors.New(notConfiguredMessage))
	}
	if email == "" {
		return s.failOp(metrics.AuthOpMagicLink, metrics.AuthOutcomeError, errors.New("email is required"))
	}

	s.beginPending(PendingEmail)
	err := s.client.SignInWithOtp(ctx, email)
	s.endPending()

	if err != nil {
		return s.failOp(metrics.AuthOpMagicLink, metrics.AuthOutcomeError, err)
	}

	metrics.AuthOperationsTotal.WithLabelValues(metrics.AuthOpMagicLink, metrics.AuthOutcomeOK).Inc()
	return nil
}

// SignInWithOAuth runs a browser-based OAuth flow with the given provider.
// A cancelled browser session leaves the user signed out with a friendly
// error rather than failing hard.
func (s *Store) SignInWithOAuth(ctx context.Context, provider string) error {
	if !s.client.Configured() {
		return s.failOp(metrics.AuthOpOAuth, metrics.AuthOutcomeNotConfigured, errors.New(notConfiguredMessage))
	}
	if s.browser == nil {
		return s.failOp(metrics.AuthOpOAuth, metrics.AuthOutcomeError, errors.New("no browser available for sign-in"))
	}

	authURL, err := s.client.AuthorizeURL(provider)
	if err != nil {
		return s.failOp(metrics.AuthOpOAuth, metrics.AuthOutcomeError, err)
	}

	s.beginPending(PendingOAuth)
	callbackURL, err := s.browser.OpenAuthSession(authURL, s.client.RedirectURI())
	if err != nil {
		s.endPending()
		if errors.Is(err, ErrBrowserCancelled) {
			return s.failOp(metrics.AuthOpOAuth, metrics.AuthOutcomeError, ErrBrowserCancelled)
		}
		return s.failOp(metrics.AuthOpOAuth, metrics.AuthOutcomeError, fmt.Errorf("authentication did not complete: %w", err))
	}

	err = s.HandleRedirect(ctx, callbackURL)
	s.endPending()
	if err != nil {
		return s.failOp(metrics.AuthOpOAuth, metrics.AuthOutcomeError, err)
	}

	accepted := true
	if err := s.SetConsents(ConsentUpdate{TermsAccepted: &accepted}); err != nil {
		s.logger.Warn("failed to persist consent after OAuth sign-in", "error", err)
	}

	metrics.AuthOperationsTotal.WithLabelValues(metrics.AuthOpOAuth, metrics.AuthOutcomeOK).Inc()
	return nil
}

// HandleRedirect completes a sign-in from an auth callback URL, accepting
// either implicit-flow tokens or an authorization code
func (s *Store) HandleRedirect(ctx context.Context, rawURL string) error {
	params := parseAuthParams(rawURL)

	if errParam := params["error"]; errParam != "" {
		message := params["error_description"]
		if message == "" {
			message = errParam
		}
		return s.fail(errors.New(message))
	}

	var session *identity.Session
	var err error
	switch {
	case params["access_token"] != "" && params["refresh_token"] != "":
		session, err = s.client.SetSession(ctx, params["access_token"], params["refresh_token"])
	case params["code"] != "":
		session, err = s.client.ExchangeCodeForSession(ctx, params["code"])
	default:
		return s.fail(errors.New("no session information returned"))
	}
	if err != nil {
		return s.fail(err)
	}

	s.adoptSession(session)
	s.ReloadProfile(ctx)
	return nil
}

// SignOut ends the session. Remote revocation is best effort; local state
// is always cleared so sign-out works offline.
func (s *Store) SignOut(ctx context.Context) {
	if s.client.Configured() {
		if err := s.client.SignOut(ctx); err != nil {
			s.logger.Warn("remote sign-out failed", "error", err)
		}
	}

	if err := s.persistSessionCache(nil); err != nil {
		s.logger.Warn("failed to clear cached session", "error", err)
	}
	if err := s.persistProfileCache(nil); err != nil {
		s.logger.Warn("failed to clear cached profile", "error", err)
	}

	s.update(func(snap *Snapshot) {
		snap.User = nil
		snap.Profile = nil
		snap.Status = StatusUnauthenticated
		snap.Error = ""
	})
	metrics.AuthOperationsTotal.WithLabelValues(metrics.AuthOpSignOut, metrics.AuthOutcomeOK).Inc()
}

// parseAuthParams extracts callback parameters from either the query string
// or the URL fragment, where implicit-flow providers put tokens
func parseAuthParams(rawURL string) map[string]string {
	normalized := rawURL
	if i := strings.Index(normalized, "#"); i >= 0 {
		normalized = normalized[:i] + "?" + normalized[i+1:]
	}

	result := map[string]string{}
	i := strings.Index(normalized, "?")
	if i < 0 {
		return result
	}

	values, err := url.ParseQuery(normalized[i+1:])
	if err != nil {
		return result
	}
	for key := range values {
		result[key] = values.Get(key)
	}
	return result
}

// adoptSession records a confirmed live session in the snapshot and the
// offline cache
func (s *Store) adoptSession(session *identity.Session) {
	if session == nil || session.User == nil {
		return
	}
	if err := s.persistSessionCache(session.User); err != nil {
		s.logger.Warn("failed to cache session", "error", err)
	}
	s.update(func(snap *Snapshot) {
		snap.User = session.User
		snap.Status = StatusAuthenticated
		snap.Error = ""
	})
}

func (s *Store) beginPending(action PendingAction) {
	s.update(func(snap *Snapshot) {
		snap.Pending = action
		snap.Error = ""
	})
}

func (s *Store) endPending() {
	s.update(func(snap *Snapshot) {
		snap.Pending = PendingNone
	})
}

// fail records an error in the snapshot and returns it
func (s *Store) fail(err error) error {
	s.update(func(snap *Snapshot) {
		snap.Error = err.Error()
	})
	return err
}

func (s *Store) failOp(op, outcome string, err error) error {
	metrics.AuthOperationsTotal.WithLabelValues(op, outcome).Inc()
	return s.fail(err)
}
