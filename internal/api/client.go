package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"argenie/companion/internal/domain"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const tokenPath = "/livekit/token"

var (
	// ErrMissingToken is returned when a successful response carries no token.
	ErrMissingToken = errors.New("token missing from response")
	// ErrTokenExpired is returned when the backend hands out an expired token.
	ErrTokenExpired = errors.New("token already expired")
)

// TokenError reports a non-2xx answer from the token endpoint.
type TokenError struct {
	StatusCode int
	Body       string
}

func (e *TokenError) Error() string {
	return "Token API error: " + e.Body
}

func (e *TokenError) temporary() bool {
	switch e.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Client fetches room tokens from the companion backend.
type Client struct {
	baseURL       string
	http          *http.Client
	maxRetries    uint64
	retryInterval time.Duration
	now           func() time.Time
	log           zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetry bounds how often a transient failure is retried and how long
// the first pause is. Pauses grow exponentially.
func WithRetry(maxRetries int, initial time.Duration) Option {
	return func(c *Client) {
		if maxRetries < 0 {
			maxRetries = 0
		}
		c.maxRetries = uint64(maxRetries)
		if initial > 0 {
			c.retryInterval = initial
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// NewClient creates a token client for the backend rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		http:          http.DefaultClient,
		maxRetries:    2,
		retryInterval: 500 * time.Millisecond,
		now:           time.Now,
		log:           log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("module", "api").Logger()
	return c
}

// FetchToken requests a room token for req. Network errors and gateway
// failures are retried; everything else fails on the first answer.
func (c *Client) FetchToken(ctx context.Context, req domain.JoinRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal token request: %w", err)
	}

	var token string
	op := func() error {
		t, err := c.requestToken(ctx, body)
		if err != nil {
			return err
		}
		token = t
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warn().Err(err).Dur("retry_in", wait).Msg("token request failed")
	}

	if err := backoff.RetryNotify(op, c.backOff(ctx), notify); err != nil {
		return "", err
	}

	claims, err := ParseClaims(token)
	if err != nil {
		c.log.Debug().Err(err).Msg("token is not a JWT, passing through")
		return token, nil
	}
	if claims.Expired(c.now()) {
		return "", ErrTokenExpired
	}
	c.log.Info().
		Str("identity", claims.Subject).
		Str("room", claims.Room()).
		Msg("token obtained")
	return token, nil
}

func (c *Client) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)
}

func (c *Client) requestToken(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("create http request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", backoff.Permanent(fmt.Errorf("http request: %w", ctx.Err()))
		}
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		tokenErr := &TokenError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
		if tokenErr.temporary() {
			return "", tokenErr
		}
		return "", backoff.Permanent(tokenErr)
	}

	var tr tokenResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return "", backoff.Permanent(fmt.Errorf("unmarshal response: %w", err))
	}
	if tr.Token == "" {
		return "", backoff.Permanent(ErrMissingToken)
	}
	return tr.Token, nil
}
