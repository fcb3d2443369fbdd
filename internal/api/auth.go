package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Login authenticates with username and password and stores the issued tokens.
func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	body, err := c.doWithRetry(ctx, http.MethodPost, "/api/auth/login",
		loginRequest{Username: username, Password: password}, "")
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	var s Session
	if err := decodeEnvelope(body, &s); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if s.AccessToken == "" {
		return nil, errors.New("login: response missing access token")
	}

	c.setTokens(tokens{
		access:    s.AccessToken,
		refresh:   s.RefreshToken,
		expiresAt: c.expiry(s.ExpiresIn),
	})

	c.logger.Info("logged in",
		"username", s.User.Username,
		"role", s.User.Role,
		"expires_in", s.ExpiresIn,
	)
	if s.User.MustChangePassword {
		c.logger.Warn("password change required", "username", s.User.Username)
	}

	return &s, nil
}

// Refresh exchanges the refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	t := c.currentTokens()
	if t.refresh == "" {
		return "", ErrNoRefreshToken
	}
	return c.refresh(ctx, t)
}

// refresh replaces the stale access token in seen. Concurrent callers share
// one request, and a caller whose token was already replaced gets the new one.
// Tokens are cleared when the server rejects the refresh token.
func (c *Client) refresh(ctx context.Context, seen tokens) (string, error) {
	v, err, _ := c.refreshGroup.Do(seen.refresh, func() (any, error) {
		switch t := c.currentTokens(); {
		case t.access == "":
			return "", ErrNotAuthenticated
		case t.access != seen.access:
			return t.access, nil
		}

		body, err := c.doWithRetry(ctx, http.MethodPost, "/api/auth/refresh", nil, seen.refresh)
		if err == nil {
			var d refreshData
			if err = decodeEnvelope(body, &d); err == nil && d.AccessToken == "" {
				err = errors.New("response missing access token")
			}
			if err == nil {
				c.mu.Lock()
				c.tokens.access = d.AccessToken
				c.tokens.expiresAt = c.expiry(d.ExpiresIn)
				c.mu.Unlock()

				c.logger.Debug("access token refreshed", "expires_in", d.ExpiresIn)
				return d.AccessToken, nil
			}
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			c.logger.Warn("refresh rejected, clearing tokens", "error", err)
			c.clearTokens()
		}
		return "", err
	})
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	return v.(string), nil
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &u); err != nil {
		return nil, fmt.Errorf("get current user: %w", err)
	}
	return &u, nil
}

// Logout ends the session. Local tokens are cleared even if the request fails.
func (c *Client) Logout(ctx context.Context) error {
	defer c.clearTokens()

	if err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	c.logger.Info("logged out")
	return nil
}

// ChangePassword changes the current user's password. The server invalidates
// the session, so tokens are cleared on success.
func (c *Client) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	req := changePasswordRequest{OldPassword: oldPassword, NewPassword: newPassword}
	if err := c.do(ctx, http.MethodPost, "/api/auth/change-password", req, nil); err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	c.clearTokens()
	c.logger.Info("password changed, login required")
	return nil
}

// AccessToken returns a valid access token, refreshing it first when it is
// close to expiry. It satisfies realtime.TokenSource.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	t := c.currentTokens()
	if t.access == "" {
		return "", ErrNotAuthenticated
	}

	if !t.expiresAt.IsZero() && c.now().Add(refreshSkew).After(t.expiresAt) && t.refresh != "" {
		return c.refresh(ctx, t)
	}
	return t.access, nil
}
