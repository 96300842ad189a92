// Package client is a typed HTTP client for the keygate license API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/toolboxhq/keygate/internal/model"
	"github.com/toolboxhq/keygate/internal/service"
)

// DefaultTimeout bounds every request made by a Client.
const DefaultTimeout = 10 * time.Second

// Client talks to a keygate server. All methods honour ctx and map failures
// onto the service sentinel errors: business outcomes (not found, inactive,
// owner mismatch, expired, invalid input) come back as themselves and
// everything else wraps service.ErrTransport.
type Client struct {
	baseURL  string
	http     *http.Client
	adminKey string
	token    string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout. A client passed to WithHTTPClient
// is copied, not modified.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		hc := *c.http
		hc.Timeout = d
		c.http = &hc
	}
}

// WithAdminKey sends key as X-API-Key on every request.
func WithAdminKey(key string) Option {
	return func(c *Client) { c.adminKey = key }
}

// WithToken sends a bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New returns a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server address the client was built for.
func (c *Client) BaseURL() string { return c.baseURL }

// Error is a non-2xx response. It unwraps to the matching service sentinel,
// or to service.ErrTransport when the response carries no known reason.
type Error struct {
	Status  int
	Message string
	Reason  string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("keygate: HTTP %d", e.Status)
	}
	return fmt.Sprintf("keygate: HTTP %d: %s", e.Status, e.Message)
}

func (e *Error) Unwrap() error {
	if err := service.FromReason(e.Reason); err != nil {
		return err
	}
	return service.ErrTransport
}

// ---------------------------------------------------------------------------
// Licenses
// ---------------------------------------------------------------------------

// GenerateLicense issues a license on the server. An empty tier takes the
// server's default.
func (c *Client) GenerateLicense(ctx context.Context, email, name, tier string) (*model.License, error) {
	var resp struct {
		LicenseData *model.License `json:"license_data"`
	}
	body := map[string]string{"email": email, "name": name, "license_type": tier}
	if err := c.do(ctx, http.MethodPost, "/generate-license", body, &resp); err != nil {
		return nil, err
	}
	if resp.LicenseData == nil {
		return nil, fmt.Errorf("%w: response has no license_data", service.ErrTransport)
	}
	return resp.LicenseData, nil
}

// LicenseVerification is the server's answer to a successful verification.
type LicenseVerification struct {
	Message     string    `json:"message"`
	LicenseType string    `json:"license_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	UsageCount  int64     `json:"usage_count"`
}

// VerifyLicense verifies key for email, counting a use on success.
func (c *Client) VerifyLicense(ctx context.Context, key, email string) (*LicenseVerification, error) {
	var resp LicenseVerification
	body := map[string]string{"license_key": key, "email": email}
	if err := c.do(ctx, http.MethodPost, "/verify-license", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LicenseInfo returns the full stored record.
func (c *Client) LicenseInfo(ctx context.Context, key string) (*model.License, error) {
	var resp struct {
		LicenseData *model.License `json:"license_data"`
	}
	if err := c.do(ctx, http.MethodGet, "/license-info/"+url.PathEscape(key), nil, &resp); err != nil {
		return nil, err
	}
	if resp.LicenseData == nil {
		return nil, fmt.Errorf("%w: response has no license_data", service.ErrTransport)
	}
	return resp.LicenseData, nil
}

// RevokeLicense deactivates a license.
func (c *Client) RevokeLicense(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodPost, "/revoke-license", map[string]string{"license_key": key}, nil)
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// GenerateAPIKey issues a key for svc and returns the raw key, which the
// server shows only once, together with its record.
func (c *Client) GenerateAPIKey(ctx context.Context, svc string) (string, *model.APIKey, error) {
	var resp struct {
		APIKey  string        `json:"api_key"`
		KeyData *model.APIKey `json:"key_data"`
	}
	if err := c.do(ctx, http.MethodPost, "/generate-api-key", map[string]string{"service": svc}, &resp); err != nil {
		return "", nil, err
	}
	if resp.APIKey == "" || resp.KeyData == nil {
		return "", nil, fmt.Errorf("%w: response has no api_key", service.ErrTransport)
	}
	return resp.APIKey, resp.KeyData, nil
}

// APIKeyVerification is the server's answer to a successful API key check.
type APIKeyVerification struct {
	Message    string     `json:"message"`
	Service    string     `json:"service"`
	UsageCount int64      `json:"usage_count"`
	LastUsed   *time.Time `json:"last_used"`
}

// VerifyAPIKey checks raw and counts a use on success.
func (c *Client) VerifyAPIKey(ctx context.Context, raw string) (*APIKeyVerification, error) {
	var resp APIKeyVerification
	if err := c.do(ctx, http.MethodPost, "/verify-api-key", map[string]string{"api_key": raw}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// APIUsage is an API key's usage report. LastUsed is "Never" for unused keys.
type APIUsage struct {
	APIKey     string    `json:"api_key"`
	Service    string    `json:"service"`
	UsageCount int64     `json:"usage_count"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsed   string    `json:"last_used"`
}

// APIUsage reports raw's counters without counting a use.
func (c *Client) APIUsage(ctx context.Context, raw string) (*APIUsage, error) {
	var resp APIUsage
	if err := c.do(ctx, http.MethodGet, "/api-usage/"+url.PathEscape(raw), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RevokeAPIKey deactivates an API key.
func (c *Client) RevokeAPIKey(ctx context.Context, raw string) error {
	return c.do(ctx, http.MethodPost, "/revoke-api-key", map[string]string{"api_key": raw}, nil)
}

// ---------------------------------------------------------------------------
// System
// ---------------------------------------------------------------------------

// Stats returns the server's aggregate counts.
func (c *Client) Stats(ctx context.Context) (*model.Stats, error) {
	var st model.Stats
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// LimitsReport is the feature-gate view for one email.
type LimitsReport struct {
	Email    string              `json:"email"`
	Limits   model.Limits        `json:"limits"`
	Features model.FeatureStatus `json:"features"`
	Decision *model.Decision     `json:"decision,omitempty"`
}

// Limits returns the caps and feature status for email.
func (c *Client) Limits(ctx context.Context, email string) (*LimitsReport, error) {
	q := url.Values{}
	if email != "" {
		q.Set("email", email)
	}
	return c.limits(ctx, q)
}

// Check asks the server whether count items of kind may be processed.
func (c *Client) Check(ctx context.Context, email, kind string, count int) (model.Decision, error) {
	q := url.Values{"kind": {kind}, "count": {strconv.Itoa(count)}}
	if email != "" {
		q.Set("email", email)
	}
	rep, err := c.limits(ctx, q)
	if err != nil {
		return model.Decision{}, err
	}
	if rep.Decision == nil {
		return model.Decision{}, fmt.Errorf("%w: response has no decision", service.ErrTransport)
	}
	return *rep.Decision, nil
}

func (c *Client) limits(ctx context.Context, q url.Values) (*LimitsReport, error) {
	path := "/limits"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var rep LimitsReport
	if err := c.do(ctx, http.MethodGet, path, nil, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// Health is the server's health report.
type Health struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Services  map[string]string `json:"services"`
}

// Health fetches /health. An unhealthy server answers 503 with a report;
// that report is returned along with an error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	err := c.do(ctx, http.MethodGet, "/health", nil, &h)
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable && h.Status != "" {
		return &h, err
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

// do sends a JSON request and decodes a 2xx JSON response into out. On a
// non-2xx response the error envelope becomes an *Error; a 503 body is also
// decoded into out so health reports survive.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", service.ErrTransport, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.adminKey != "" {
		req.Header.Set("X-API-Key", c.adminKey)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", service.ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", service.ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusServiceUnavailable && out != nil {
			json.Unmarshal(raw, out)
		}
		return decodeError(resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", service.ErrTransport, err)
	}
	return nil
}

func decodeError(status int, raw []byte) error {
	var env model.ErrorResponse
	apiErr := &Error{Status: status}
	if err := json.Unmarshal(raw, &env); err == nil {
		apiErr.Message = env.Error.Message
		if reason, ok := env.Error.Context["reason"].(string); ok {
			apiErr.Reason = reason
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
