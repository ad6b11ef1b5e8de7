package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrConflict     = errors.New("wallet already deprecated in favour of another address")
	ErrUnauthorized = errors.New("backend rejected credentials")
	ErrRejected     = errors.New("backend rejected request")
	ErrUnavailable  = errors.New("backend unavailable")
)

// Client calls the migration backend's wallet and KYC endpoints
type Client struct {
	BaseURL     string
	AccessToken string
	HTTPClient  *http.Client
	Logger      *zerolog.Logger
}

func NewClient(baseURL, accessToken string, timeout time.Duration, logger *zerolog.Logger) *Client {
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		AccessToken: accessToken,
		HTTPClient:  &http.Client{Timeout: timeout},
		Logger:      logger,
	}
}

// MigrationStatus reports whether the user's migration has been finalized.
func (c *Client) MigrationStatus(ctx context.Context, userID string) (bool, error) {
	var out MigrationStatusResponse
	q := url.Values{"userId": {userID}}
	if err := c.do(ctx, http.MethodGet, PathMigrationStatus+"?"+q.Encode(), nil, nil, &out); err != nil {
		return false, err
	}
	return out.MigrationCompleted, nil
}

// Deprecate records the old wallet as replaced by the new one. The backend
// treats repeated calls for the same pair as a no-op.
func (c *Client) Deprecate(ctx context.Context, req DeprecateRequest) (*DeprecateResponse, error) {
	headers := map[string]string{HeaderWalletAddress: req.NewAddress}
	var out DeprecateResponse
	if err := c.do(ctx, http.MethodPost, PathDeprecate, headers, req, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, fmt.Errorf("%w: deprecate returned success=false", ErrRejected)
	}
	return &out, nil
}

func (c *Client) KYCStatus(ctx context.Context, walletAddress string) (bool, error) {
	var out KYCStatusResponse
	q := url.Values{"walletAddress": {walletAddress}}
	if err := c.do(ctx, http.MethodGet, PathKYCStatus+"?"+q.Encode(), nil, nil, &out); err != nil {
		return false, err
	}
	return out.Verified, nil
}

func (c *Client) UpdateWalletAddress(ctx context.Context, req UpdateWalletAddressRequest) (*UpdateWalletAddressResponse, error) {
	headers := map[string]string{HeaderWalletAddress: req.NewWalletAddress}
	var out UpdateWalletAddressResponse
	if err := c.do(ctx, http.MethodPost, PathUpdateWalletAddress, headers, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		c.Logger.Warn().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Str("body", string(respBody)).
			Msg("Backend request failed")
		return statusError(resp.StatusCode, respBody)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func statusError(status int, body []byte) error {
	var payload ErrorResponse
	_ = json.Unmarshal(body, &payload)
	msg := payload.Error
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %d %s", ErrUnauthorized, status, msg)
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %d %s", ErrUnavailable, status, msg)
	default:
		return fmt.Errorf("%w: %d %s", ErrRejected, status, msg)
	}
}

// IsTransient reports whether a failed call is worth repeating as-is.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
