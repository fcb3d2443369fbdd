package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// refreshSkew is how early AccessToken refreshes a token that is about to expire.
const refreshSkew = 30 * time.Second

// Client provides access to the dashboard REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	maxRetries   int
	retryBackoff time.Duration

	mu     sync.Mutex
	tokens tokens

	// Collapses concurrent refreshes into one request.
	refreshGroup singleflight.Group
}

// tokens is the current credential pair.
type tokens struct {
	access    string
	refresh   string
	expiresAt time.Time // zero when unknown
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       slog.Default(),
		now:          time.Now,
		maxRetries:   3,
		retryBackoff: time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTokens seeds the client with a previously issued token pair.
func WithTokens(access, refresh string) ClientOption {
	return func(c *Client) {
		c.tokens = tokens{access: access, refresh: refresh}
	}
}

// Authenticated reports whether the client holds an access token.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens.access != ""
}

func (c *Client) currentTokens() tokens {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens
}

func (c *Client) setTokens(t tokens) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = t
}

func (c *Client) clearTokens() {
	c.setTokens(tokens{})
}

// expiry converts an expires_in value to an absolute time.
func (c *Client) expiry(expiresIn int) time.Time {
	if expiresIn <= 0 {
		return time.Time{}
	}
	return c.now().Add(time.Duration(expiresIn) * time.Second)
}
