package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/rickgao/wallet-notify/internal/version"
)

// APIError represents an error from the dashboard API.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dashboard api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// IsUnauthorized returns true for a rejected or expired token.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// doRequest performs an HTTP request with an optional JSON body and bearer token.
func (c *Client) doRequest(ctx context.Context, method, path string, payload any, bearer string) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.StatusCode, respBody),
			Body:       respBody,
		}
	}

	return respBody, nil
}

// errorMessage extracts a human readable message from an error response.
func errorMessage(status int, body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		var detail string
		if len(eb.Detail) > 0 && json.Unmarshal(eb.Detail, &detail) == nil && detail != "" {
			return detail
		}
		if eb.Message != "" {
			return eb.Message
		}
	}
	return http.StatusText(status)
}

// doWithRetry performs a request with exponential backoff retry.
func (c *Client) doWithRetry(ctx context.Context, method, path string, payload any, bearer string) ([]byte, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
			c.logger.Debug("retrying request",
				"attempt", attempt,
				"backoff", jitter,
				"path", path,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		body, err := c.doRequest(ctx, method, path, payload, bearer)
		if err == nil {
			return body, nil
		}

		lastErr = err

		// Check if error is retryable
		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// do performs an authenticated request and decodes the envelope data into result.
// A 401 triggers one token refresh and one retry.
func (c *Client) do(ctx context.Context, method, path string, payload, result any) error {
	t := c.currentTokens()
	if t.access == "" {
		return ErrNotAuthenticated
	}

	body, err := c.doWithRetry(ctx, method, path, payload, t.access)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.IsUnauthorized() && t.refresh != "" {
		c.logger.Info("access token rejected, refreshing", "path", path)
		access, rerr := c.refresh(ctx, t)
		if rerr != nil {
			return fmt.Errorf("refresh after 401: %w", rerr)
		}
		body, err = c.doWithRetry(ctx, method, path, payload, access)
	}
	if err != nil {
		return err
	}

	return decodeEnvelope(body, result)
}

// decodeEnvelope unwraps {success, message, data}. result may be nil.
func decodeEnvelope(body []byte, result any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = "request failed"
		}
		return &APIError{StatusCode: http.StatusOK, Message: msg, Body: body}
	}

	if result == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, result); err != nil {
		return fmt.Errorf("unmarshal response data: %w", err)
	}
	return nil
}
