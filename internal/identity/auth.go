package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"recenter-local/internal/metrics"
	"recenter-local/internal/securestore"
)

// GetSession returns the active session, restoring it from the secure store
// on first use and refreshing the access token when it is within five
// minutes of expiry. Returns (nil, nil) when no one is signed in.
func (c *Client) GetSession(ctx context.Context) (*Session, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadSessionLocked(); err != nil {
		return nil, err
	}
	if c.session == nil {
		return nil, nil
	}

	if time.Now().Add(tokenBuffer).Unix() >= c.session.ExpiresAt && c.session.RefreshToken != "" {
		c.logger.Info("refreshing access token")
		refreshed, err := c.grantToken(ctx, metrics.IdentityOpRefreshToken, "refresh_token", map[string]string{
			"refresh_token": c.session.RefreshToken,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to refresh token: %w", err)
		}
		if err := c.adoptSessionLocked(refreshed); err != nil {
			return nil, err
		}
		c.emitLocked(EventTokenRefreshed, refreshed)
	}

	session := *c.session
	return &session, nil
}

// SetSession installs a session from externally obtained tokens, fetching
// the user record when the token response did not include one
func (c *Client) SetSession(ctx context.Context, accessToken, refreshToken string) (*Session, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	session := &Session{AccessToken: accessToken, RefreshToken: refreshToken}

	user, err := c.fetchUser(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user for session: %w", err)
	}
	session.User = user

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.adoptSessionLocked(session); err != nil {
		return nil, err
	}
	c.emitLocked(EventSignedIn, session)

	out := *c.session
	return &out, nil
}

// ExchangeCodeForSession redeems an OAuth authorization code
func (c *Client) ExchangeCodeForSession(ctx context.Context, code string) (*Session, error) {
	session, err := c.grantToken(ctx, metrics.IdentityOpExchangeCode, "pkce", map[string]string{
		"auth_code": code,
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.adoptSessionLocked(session); err != nil {
		return nil, err
	}
	c.emitLocked(EventSignedIn, session)

	out := *c.session
	return &out, nil
}

// SignInWithPassword authenticates with an email and password
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	session, err := c.grantToken(ctx, metrics.IdentityOpPassword, "password", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.adoptSessionLocked(session); err != nil {
		return nil, err
	}
	c.emitLocked(EventSignedIn, session)

	out := *c.session
	return &out, nil
}

// signUpResponse covers both shapes the signup endpoint returns: a full
// session when auto-confirm is on, or just the user when email confirmation
// is pending
type signUpResponse struct {
	Session
	ID    string `json:"id"`
	Email string `json:"email"`
}

// SignUp registers a new account. The returned session is nil when the
// provider requires email confirmation before issuing tokens; the user is
// returned either way.
func (c *Client) SignUp(ctx context.Context, email, password string, userMetadata map[string]any) (*Session, *User, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
	}
	if len(userMetadata) > 0 {
		body["data"] = userMetadata
	}

	var resp signUpResponse
	if err := c.doJSON(ctx, metrics.IdentityOpSignUp, http.MethodPost, c.authURL("/signup", nil), body, nil, &resp); err != nil {
		return nil, nil, err
	}

	if resp.AccessToken == "" {
		user := &User{ID: resp.ID, Email: resp.Email}
		return nil, user, nil
	}

	session := resp.Session
	fillExpiry(&session)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.adoptSessionLocked(&session); err != nil {
		return nil, nil, err
	}
	c.emitLocked(EventSignedIn, &session)

	out := *c.session
	return &out, out.User, nil
}

// SignInWithOtp sends a magic link to the given email, creating the account
// if it does not exist yet
func (c *Client) SignInWithOtp(ctx context.Context, email string) error {
	query := url.Values{}
	if c.redirectURI != "" {
		query.Set("redirect_to", c.redirectURI)
	}
	body := map[string]any{
		"email":       email,
		"create_user": true,
	}
	return c.doJSON(ctx, metrics.IdentityOpOTP, http.MethodPost, c.authURL("/otp", query), body, nil, nil)
}

// AuthorizeURL builds the browser URL that starts an OAuth flow with the
// given provider
func (c *Client) AuthorizeURL(provider string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	query := url.Values{}
	query.Set("provider", provider)
	if c.redirectURI != "" {
		query.Set("redirect_to", c.redirectURI)
	}
	query.Set("prompt", "consent select_account")
	query.Set("access_type", "offline")
	query.Set("include_granted_scopes", "true")

	return c.authURL("/authorize", query), nil
}

// SignOut revokes the session with the provider and clears it locally. The
// local session is cleared even when the revocation request fails, so a
// device that is offline can still sign out.
func (c *Client) SignOut(ctx context.Context) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	c.mu.Lock()
	_ = c.loadSessionLocked()
	session := c.session
	c.mu.Unlock()

	var remoteErr error
	if session != nil && session.AccessToken != "" {
		remoteErr = c.doJSON(ctx, metrics.IdentityOpSignOut, http.MethodPost, c.authURL("/logout", nil), nil, map[string]string{
			"Authorization": "Bearer " + session.AccessToken,
		}, nil)
	}

	c.mu.Lock()
	c.session = nil
	c.loaded = true
	clearErr := c.store.Delete(securestore.KeyIdentitySession)
	c.emitLocked(EventSignedOut, nil)
	c.mu.Unlock()

	if remoteErr != nil {
		return fmt.Errorf("failed to revoke session: %w", remoteErr)
	}
	if clearErr != nil {
		return fmt.Errorf("failed to clear stored session: %w", clearErr)
	}
	return nil
}

// grantToken calls the token endpoint with the given grant type
func (c *Client) grantToken(ctx context.Context, op, grantType string, body map[string]string) (*Session, error) {
	query := url.Values{}
	query.Set("grant_type", grantType)

	var session Session
	if err := c.doJSON(ctx, op, http.MethodPost, c.authURL("/token", query), body, nil, &session); err != nil {
		return nil, err
	}
	fillExpiry(&session)
	return &session, nil
}

// fetchUser loads the account record for an access token
func (c *Client) fetchUser(ctx context.Context, accessToken string) (*User, error) {
	var user User
	err := c.doJSON(ctx, metrics.IdentityOpSetSession, http.MethodGet, c.authURL("/user", nil), nil, map[string]string{
		"Authorization": "Bearer " + accessToken,
	}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// adoptSessionLocked installs and persists a session. Caller holds c.mu.
func (c *Client) adoptSessionLocked(session *Session) error {
	fillExpiry(session)
	c.session = session
	c.loaded = true

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := c.store.Set(securestore.KeyIdentitySession, string(data)); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

// loadSessionLocked restores the persisted session on first access. Caller
// holds c.mu.
func (c *Client) loadSessionLocked() error {
	if c.loaded {
		return nil
	}
	c.loaded = true

	raw, err := c.store.Get(securestore.KeyIdentitySession)
	if err != nil {
		return fmt.Errorf("failed to read stored session: %w", err)
	}
	if raw == "" {
		return nil
	}

	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		c.logger.Warn("discarding unparseable stored session", "error", err)
		_ = c.store.Delete(securestore.KeyIdentitySession)
		return nil
	}
	c.session = &session
	return nil
}

// emitLocked releases c.mu around the listener callbacks so a listener can
// call back into the client
func (c *Client) emitLocked(event string, session *Session) {
	c.mu.Unlock()
	defer c.mu.Lock()
	c.emit(event, session)
}

// fillExpiry derives ExpiresAt when the token response only carried
// expires_in or a JWT exp claim
func fillExpiry(session *Session) {
	if session.ExpiresAt != 0 {
		return
	}
	if session.ExpiresIn > 0 {
		session.ExpiresAt = time.Now().Unix() + session.ExpiresIn
		return
	}
	if exp, ok := tokenExpiry(session.AccessToken); ok {
		session.ExpiresAt = exp
	}
}

// tokenExpiry reads the exp claim without verifying the signature. The
// provider signs tokens with a key the app never holds; expiry is only used
// to schedule refreshes, not to grant access.
func tokenExpiry(accessToken string) (int64, bool) {
	if accessToken == "" {
		return 0, false
	}

	parser := jwt.NewParser()
	claims := jwt.RegisteredClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, &claims); err != nil {
		return 0, false
	}
	if claims.ExpiresAt == nil {
		return 0, false
	}
	return claims.ExpiresAt.Unix(), true
}
