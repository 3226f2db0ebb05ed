package identity

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"recenter-local/internal/metrics"
)

// GetProfile fetches the profiles row for a user. Returns (nil, nil) when
// the row does not exist.
func (c *Client) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	query := url.Values{}
	query.Set("id", "eq."+userID)
	query.Set("select", "*")

	headers, err := c.bearerHeaders(ctx)
	if err != nil {
		return nil, err
	}

	var rows []Profile
	if err := c.doJSON(ctx, metrics.IdentityOpGetProfile, http.MethodGet, c.restURL("profiles", query), nil, headers, &rows); err != nil {
		if ErrorCode(err) == CodeProfileNotFound {
			return nil, nil
		}
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// EnsureProfile fetches the user's profile, creating it with the given
// locale and timezone when it does not exist yet
func (c *Client) EnsureProfile(ctx context.Context, userID, locale, timezone string) (*Profile, error) {
	profile, err := c.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		return profile, nil
	}

	payload := map[string]any{
		"id":           userID,
		"display_name": nil,
		"locale":       locale,
		"timezone":     timezone,
	}

	headers, err := c.bearerHeaders(ctx)
	if err != nil {
		return nil, err
	}
	headers["Prefer"] = "return=representation"

	var inserted []Profile
	if err := c.doJSON(ctx, metrics.IdentityOpUpsertProf, http.MethodPost, c.restURL("profiles", nil), payload, headers, &inserted); err != nil {
		return nil, err
	}
	if len(inserted) == 0 {
		return nil, fmt.Errorf("profile insert returned no rows")
	}
	return &inserted[0], nil
}

// UpdateProfile applies a partial update to the user's profile row
func (c *Client) UpdateProfile(ctx context.Context, userID string, updates map[string]any) error {
	query := url.Values{}
	query.Set("id", "eq."+userID)

	headers, err := c.bearerHeaders(ctx)
	if err != nil {
		return err
	}

	return c.doJSON(ctx, metrics.IdentityOpUpsertProf, http.MethodPatch, c.restURL("profiles", query), updates, headers, nil)
}

// PushRecords upserts a batch of rows into the given remote table. Conflicts
// on the primary key are merged so re-pushing a record the remote already
// has is harmless.
func (c *Client) PushRecords(ctx context.Context, table string, records any) error {
	headers, err := c.bearerHeaders(ctx)
	if err != nil {
		return err
	}
	headers["Prefer"] = "resolution=merge-duplicates"

	return c.doJSON(ctx, metrics.IdentityOpPushRecords, http.MethodPost, c.restURL(table, nil), records, headers, nil)
}

// bearerHeaders returns the Authorization header for data requests, using
// the signed-in user's access token when one is available
func (c *Client) bearerHeaders(ctx context.Context) (map[string]string, error) {
	session, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{}
	if session != nil && session.AccessToken != "" {
		headers["Authorization"] = "Bearer " + session.AccessToken
	}
	return headers, nil
}
