// Package authority is the HTTP client for the remote authority that
// registers this access point and pushes client authorization events.
package authority

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// MaxResponseSize caps any response body read from the authority.
const MaxResponseSize = 256 * 1024

// DefaultUserAgent identifies the gateway to the authority.
const DefaultUserAgent = "wifiLazooo-router"

// ErrTransport wraps failures to reach the authority at all.
var ErrTransport = errors.New("authority unreachable")

// ErrResponseTooLarge is returned when a body exceeds MaxResponseSize.
var ErrResponseTooLarge = errors.New("authority response too large")

// StatusError is an answer from the authority with an unexpected status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("authority returned status %d", e.Code)
	}
	return fmt.Sprintf("authority returned status %d: %s", e.Code, e.Body)
}

// IsRejection reports whether the authority answered with an unexpected status.
func IsRejection(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

// IsTransport reports whether err means the authority could not be reached.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// Client talks to the remote authority.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client

	retryAttempts uint
	retryDelay    time.Duration
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithTimeout sets the HTTP client timeout. It bounds the long poll.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithInsecureTLS disables certificate verification.
func WithInsecureTLS() ClientOption {
	return func(c *Client) {
		c.httpClient.Transport = &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // operator opt-in
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithUserAgent overrides DefaultUserAgent.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// WithRetry sets how one-shot auxiliary calls are retried.
func WithRetry(attempts uint, delay time.Duration) ClientOption {
	return func(c *Client) {
		c.retryAttempts = attempts
		c.retryDelay = delay
	}
}

// NewClient creates a client for the authority at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		userAgent:     DefaultUserAgent,
		httpClient:    &http.Client{Timeout: 60 * time.Second},
		retryAttempts: 3,
		retryDelay:    time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retryAttempts == 0 {
		c.retryAttempts = 1
	}
	return c
}

type registerRequest struct {
	APID string `json:"apId"`
}

type registerResponse struct {
	APToken string `json:"apToken"`
}

// Register announces the access point and returns its AP token. An empty
// token in a 2xx answer is reported as a rejection.
func (c *Client) Register(ctx context.Context, apID string) (string, error) {
	var resp registerResponse
	if err := c.do(ctx, http.MethodPost, "/register", registerRequest{APID: apID}, &resp); err != nil {
		return "", err
	}
	if resp.APToken == "" {
		return "", &StatusError{Code: http.StatusOK, Body: "empty apToken"}
	}
	return resp.APToken, nil
}

// Events long-polls for pending events. Each element is returned undecoded
// so that one malformed event cannot spoil the batch. Any status other than
// 200 is a rejection of apToken, including the other 2xx codes.
func (c *Client) Events(ctx context.Context, apToken string) ([]json.RawMessage, error) {
	path := "/events?tokenAP=" + url.QueryEscape(apToken)
	code, body, err := c.send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, &StatusError{Code: code, Body: strings.TrimSpace(string(body))}
	}
	var batch []json.RawMessage
	if err := decode(body, &batch); err != nil {
		return nil, err
	}
	return batch, nil
}

type inactiveRequest struct {
	UserToken string `json:"userToken"`
}

// UserInactive reports that a user's session ended locally. Transport
// errors and 5xx answers are retried.
func (c *Client) UserInactive(ctx context.Context, userToken string) error {
	return retry.Do(
		func() error {
			return c.do(ctx, http.MethodPost, "/user/inactive", inactiveRequest{UserToken: userToken}, nil)
		},
		retry.Context(ctx),
		retry.Attempts(c.retryAttempts),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
	)
}

type canNavigateResponse struct {
	CanNavigate bool `json:"canNavigate"`
}

// CanNavigate asks whether the client with mac may browse.
func (c *Client) CanNavigate(ctx context.Context, mac string) (bool, error) {
	var resp canNavigateResponse
	err := retry.Do(
		func() error {
			return c.do(ctx, http.MethodGet, "/user/mac/"+url.PathEscape(mac)+"/cannavigate", nil, &resp)
		},
		retry.Context(ctx),
		retry.Attempts(c.retryAttempts),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
	)
	if err != nil {
		return false, err
	}
	return resp.CanNavigate, nil
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return IsTransport(err)
}

// do performs an HTTP request and decodes the JSON response into result.
// Any 2xx status is success.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	code, respBody, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	if code < 200 || code >= 300 {
		return &StatusError{Code: code, Body: strings.TrimSpace(string(respBody))}
	}
	if result == nil {
		return nil
	}
	return decode(respBody, result)
}

// send performs an HTTP request and returns the status and the capped body.
func (c *Client) send(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read response: %w", ErrTransport, err)
	}
	if len(respBody) > MaxResponseSize {
		return 0, nil, ErrResponseTooLarge
	}
	return resp.StatusCode, respBody, nil
}

func decode(body []byte, result any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
