// Package identity is a client for the hosted identity provider: a GoTrue
// style auth API under /auth/v1 and a PostgREST data API under /rest/v1.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"recenter-local/internal/metrics"
	"recenter-local/internal/securestore"
)

const (
	authPath       = "/auth/v1"
	restPath       = "/rest/v1"
	requestTimeout = 15 * time.Second
	tokenBuffer    = 5 * time.Minute // Refresh tokens 5 minutes before expiry
)

// ErrNotConfigured is returned by every operation when the provider URL or
// anon key is missing from the environment.
var ErrNotConfigured = errors.New("identity provider is not configured: set IDENTITY_URL and IDENTITY_ANON_KEY")

// Provider error codes surfaced in HTTPError.Code
const (
	CodeProfileNotFound = "PGRST116"
	CodeAccessDenied    = "42501"
)

// Auth state change events
const (
	EventSignedIn       = "SIGNED_IN"
	EventSignedOut      = "SIGNED_OUT"
	EventTokenRefreshed = "TOKEN_REFRESHED"
)

// User is the identity provider's account record
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// Session holds the tokens for an authenticated user. ExpiresAt is unix
// seconds.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	User         *User  `json:"user,omitempty"`
}

// Profile is a row in the remote profiles table
type Profile struct {
	ID          string  `json:"id"`
	DisplayName *string `json:"display_name"`
	Locale      string  `json:"locale,omitempty"`
	Timezone    string  `json:"timezone,omitempty"`
}

// HTTPError is a non-2xx response from the provider
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity request failed with status %d (code %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("identity request failed with status %d: %s", e.StatusCode, e.Message)
}

// ErrorCode extracts the provider error code from an error chain, or ""
func ErrorCode(err error) string {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}
	return ""
}

// Client is an identity provider API client. The zero value is not usable;
// construct with New. A client built from an empty base URL or anon key is
// valid but returns ErrNotConfigured from every operation, mirroring how the
// app runs fully offline without provider credentials.
type Client struct {
	baseURL     string
	anonKey     string
	redirectURI string
	httpClient  *http.Client
	logger      *slog.Logger
	store       securestore.Store

	mu      sync.Mutex
	session *Session
	loaded  bool

	listenerMu sync.Mutex
	listeners  []func(event string, session *Session)
}

// NewClient creates a new identity provider client. The store persists the
// active session across restarts.
func NewClient(baseURL, anonKey, redirectURI string, store securestore.Store, logger *slog.Logger) *Client {
	return &Client{
		baseURL:     baseURL,
		anonKey:     anonKey,
		redirectURI: redirectURI,
		httpClient:  &http.Client{Timeout: requestTimeout},
		logger:      logger,
		store:       store,
	}
}

// Configured reports whether the client has provider credentials
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.anonKey != ""
}

// RedirectURI returns the configured OAuth callback URI
func (c *Client) RedirectURI() string {
	return c.redirectURI
}

// OnAuthStateChange registers a callback invoked after every sign-in,
// sign-out, and token refresh. Callbacks run synchronously on the goroutine
// that triggered the change.
func (c *Client) OnAuthStateChange(fn func(event string, session *Session)) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Client) emit(event string, session *Session) {
	c.listenerMu.Lock()
	listeners := make([]func(string, *Session), len(c.listeners))
	copy(listeners, c.listeners)
	c.listenerMu.Unlock()

	for _, fn := range listeners {
		fn(event, session)
	}
}

// doJSON performs a provider request and decodes the JSON response into out
// (when out is non-nil). Idempotent GETs are retried once on transport errors
// and 5xx responses; everything else gets a single attempt.
func (c *Client) doJSON(ctx context.Context, op, method, rawURL string, body any, headers map[string]string, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	attempts := 1
	if method == http.MethodGet {
		attempts = 2
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			c.logger.Info("retrying identity request", "operation", op)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("apikey", c.anonKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		// The anon key is the default bearer; callers override it with a
		// user access token via headers
		req.Header.Set("Authorization", "Bearer "+c.anonKey)
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		duration := time.Since(start)

		if err != nil {
			lastErr = fmt.Errorf("identity request failed: %w", err)
			metrics.IdentityRequestsTotal.WithLabelValues(op, "error").Inc()
			c.logger.Error("identity request failed", "operation", op, "error", err, "duration_ms", duration.Milliseconds())
			continue
		}

		statusLabel := strconv.Itoa(resp.StatusCode)
		metrics.IdentityRequestsTotal.WithLabelValues(op, statusLabel).Inc()
		metrics.IdentityRequestDuration.WithLabelValues(op, statusLabel).Observe(duration.Seconds())
		c.logger.Info("identity_request", "operation", op, "method", method, "status", resp.StatusCode, "duration_ms", duration.Milliseconds())

		if resp.StatusCode >= 500 && method == http.MethodGet {
			resp.Body.Close()
			lastErr = &HTTPError{StatusCode: resp.StatusCode, Message: "server error"}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			defer resp.Body.Close()
			return parseErrorResponse(resp)
		}

		if out == nil {
			resp.Body.Close()
			return nil
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}

	return lastErr
}

// parseErrorResponse extracts the provider's error code and message. GoTrue
// and PostgREST use different field names, so try the lot.
func parseErrorResponse(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(resp.Body)

	var parsed struct {
		Code             any    `json:"code"`
		Message          string `json:"message"`
		Msg              string `json:"msg"`
		ErrorField       string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	_ = json.Unmarshal(bodyBytes, &parsed)

	message := parsed.Message
	if message == "" {
		message = parsed.Msg
	}
	if message == "" {
		message = parsed.ErrorDescription
	}
	if message == "" {
		message = parsed.ErrorField
	}
	if message == "" {
		message = string(bodyBytes)
	}

	var code string
	switch v := parsed.Code.(type) {
	case string:
		code = v
	case float64:
		// GoTrue reports the HTTP status as a numeric code; not useful
	}

	return &HTTPError{StatusCode: resp.StatusCode, Code: code, Message: message}
}

func (c *Client) authURL(endpoint string, query url.Values) string {
	u := c.baseURL + authPath + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) restURL(table string, query url.Values) string {
	u := c.baseURL + restPath + "/" + table
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}
