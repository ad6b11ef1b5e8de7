package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"wallet-migrator/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Client provides a standardized JSON-RPC client with rate limiting, retries, and structured logging
type Client struct {
	Endpoint    string
	ApiKey      string
	RateLimiter *rate.Limiter
	MaxRetries  int
	RetryDelay  time.Duration
	HTTPTimeout time.Duration
	Logger      *zerolog.Logger
	HTTPClient  *http.Client

	nextID atomic.Uint64
}

// NewClient creates a new RPC client with the given configuration
func NewClient(endpoint, apiKey string, rateLimit float64, maxRetries int, retryDelay, httpTimeout time.Duration, logger *zerolog.Logger) *Client {
	if maxRetries < 1 {
		maxRetries = 1
	}
	limit := rate.Limit(rateLimit)
	if rateLimit <= 0 {
		limit = rate.Inf
	}
	return &Client{
		Endpoint:    endpoint,
		ApiKey:      apiKey,
		RateLimiter: rate.NewLimiter(limit, 1),
		MaxRetries:  maxRetries,
		RetryDelay:  retryDelay,
		HTTPTimeout: httpTimeout,
		Logger:      logger,
		HTTPClient: &http.Client{
			Timeout: httpTimeout,
			Transport: &CustomTransport{
				Base:   http.DefaultTransport,
				ApiKey: apiKey,
			},
		},
	}
}

// CustomTransport adds API key authentication to HTTP requests
type CustomTransport struct {
	Base   http.RoundTripper
	ApiKey string
}

func (t *CustomTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Content-Type", "application/json")
	if t.ApiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.ApiKey)
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// Call performs an RPC call with rate limiting and retries, decoding the result into result.
// Only transport failures are retried; a JSON-RPC error is returned as *models.RPCError.
func (c *Client) Call(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	if params == nil {
		params = []interface{}{}
	}

	c.Logger.Debug().
		Str("endpoint", c.Endpoint).
		Str("method", method).
		Msg("Making RPC call")

	request := models.RPCRequest{
		Jsonrpc: "2.0",
		ID:      strconv.FormatUint(c.nextID.Add(1), 10),
		Method:  method,
		Params:  params,
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	var response models.RPCResponse
	err = c.retry(ctx, func() error {
		if err := c.RateLimiter.Wait(ctx); err != nil {
			return permanent(fmt.Errorf("rate limit error: %w", err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
		if err != nil {
			return permanent(err)
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("HTTP error: %d - %s", resp.StatusCode, resp.Status)
		}
		if resp.StatusCode != http.StatusOK {
			return permanent(fmt.Errorf("HTTP error: %d - %s", resp.StatusCode, resp.Status))
		}

		response = models.RPCResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
			return permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	})
	if err != nil {
		c.Logger.Error().
			Err(err).
			Str("method", method).
			Msg("RPC call failed")
		return err
	}

	if response.Error != nil {
		return response.Error
	}
	if result == nil || len(response.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(response.Result, result); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// retry executes a function with retry logic, stopping early on permanent errors
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i < c.MaxRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if i == c.MaxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.RetryDelay):
		}
	}
	return err
}

// Close closes the HTTP client connections
func (c *Client) Close() {
	if c.HTTPClient != nil {
		c.HTTPClient.CloseIdleConnections()
	}
}

// permanentError stops the retry loop
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }

func (p *permanentError) Unwrap() error { return p.err }

func permanent(err error) error {
	return &permanentError{err: err}
}
