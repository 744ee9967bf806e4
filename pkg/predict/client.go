// Package predict is an HTTP client for the prediction service used to
// personalize workflow actions and score client engagement.
package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

const (
	// DefaultTimeout bounds a single request.
	DefaultTimeout = 10 * time.Second

	// UserAgent is sent with every request.
	UserAgent = "CareFlow/1.0"
)

// DefaultRetryBackoffs are the waits before the 2nd and 3rd attempts.
var DefaultRetryBackoffs = []time.Duration{
	500 * time.Millisecond,
	1 * time.Second,
}

var (
	// ErrUnauthorized is returned on HTTP 401/403. Not retried.
	ErrUnauthorized = errors.New("prediction service rejected credentials")
	// ErrUnknownModel is returned on HTTP 404. Not retried.
	ErrUnknownModel = errors.New("unknown prediction model")
)

// Result is the answer of a prediction model.
type Result struct {
	Prediction map[string]any `json:"prediction"`
	Confidence float64        `json:"confidence"`
	Factors    []string       `json:"factors"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Client calls POST {baseURL}/v1/predict/{model}.
type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	backoffs []time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithRetryBackoffs replaces the retry schedule. len(backoffs)+1 attempts are made.
func WithRetryBackoffs(backoffs ...time.Duration) Option {
	return func(c *Client) {
		c.backoffs = backoffs
	}
}

// NewClient creates a prediction client. proxyURL is optional and accepts
// socks5://, socks5h://, http:// and https:// URLs.
func NewClient(baseURL, apiKey, proxyURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL cannot be empty")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	httpClient, err := createHTTPClient(proxyURL, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	c := &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		apiKey:   apiKey,
		http:     httpClient,
		backoffs: DefaultRetryBackoffs,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Predict runs model against payload. Network errors, 429 and 5xx are retried.
func (c *Client) Predict(ctx context.Context, model string, payload map[string]any) (*Result, error) {
	if model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v1/predict/%s", c.baseURL, url.PathEscape(model))

	var lastErr error
	for attempt := 0; attempt <= len(c.backoffs); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoffs[attempt-1]):
			}
		}

		result, retry, err := c.do(ctx, endpoint, body)
		if err == nil {
			return result, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = fmt.Errorf("attempt %d: %w", attempt+1, err)
	}

	return nil, fmt.Errorf("all retry attempts exhausted: %w", lastErr)
}

func (c *Client) do(ctx context.Context, endpoint string, body []byte) (*Result, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	respBody, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var result Result
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, false, fmt.Errorf("invalid response format: %w", err)
		}
		return &result, false, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, false, fmt.Errorf("%w (HTTP %d): %s", ErrUnauthorized, resp.StatusCode, errorMessage(respBody))
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownModel, errorMessage(respBody))
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, fmt.Errorf("rate limited (HTTP 429): %s", errorMessage(respBody))
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("server error (HTTP %d): %s", resp.StatusCode, errorMessage(respBody))
	default:
		return nil, false, fmt.Errorf("client error (HTTP %d): %s", resp.StatusCode, errorMessage(respBody))
	}
}

func errorMessage(body []byte) string {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return string(body)
}

func createHTTPClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}

		switch parsed.Scheme {
		case "socks5", "socks5h":
			dialer, err := socks5Dialer(parsed)
			if err != nil {
				return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
			}
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				transport.DialContext = cd.DialContext
			} else {
				transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
					return dialer.Dial(network, addr)
				}
			}
		case "http", "https":
			transport.Proxy = http.ProxyURL(parsed)
		default:
			return nil, fmt.Errorf("unsupported proxy scheme: %s (supported: socks5, http, https)", parsed.Scheme)
		}
	}

	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

func socks5Dialer(parsed *url.URL) (proxy.Dialer, error) {
	var auth *proxy.Auth
	if parsed.User != nil {
		password, _ := parsed.User.Password()
		auth = &proxy.Auth{User: parsed.User.Username(), Password: password}
	}

	host := parsed.Host
	if parsed.Port() == "" {
		host = net.JoinHostPort(parsed.Hostname(), "1080")
	}
	return proxy.SOCKS5("tcp", host, auth, proxy.Direct)
}
