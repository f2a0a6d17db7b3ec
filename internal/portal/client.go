package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Retry and backoff constants.
const (
	maxRetries       = 3
	baseBackoff      = 1 * time.Second
	maxBackoff       = 30 * time.Second
	backoffFactor    = 2.0
	jitterFraction   = 0.25
	maxResponseBytes = 8 << 20

	// DefaultBaseURL is the portal's v3 API root.
	DefaultBaseURL = "https://api.ecoledirecte.com/v3"

	// DefaultUserAgent mimics a desktop browser; the portal rejects
	// unknown agents on the login endpoint.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// Envelope is the portal's response wrapper. Every endpoint answers with a
// numeric status code, an optional rolled token and an endpoint-specific
// data payload.
type Envelope struct {
	Code    int             `json:"code"`
	Token   string          `json:"token"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client is an HTTP client for the portal API. It posts form-encoded JSON
// payloads, retries network errors and 5xx responses with exponential
// backoff, and decodes the response envelope.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Tests override it to
	// avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a portal client. baseURL is typically DefaultBaseURL.
func NewClient(baseURL string, httpClient *http.Client, userAgent string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		userAgent:  userAgent,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// Post sends payload as the form field "data" to path. A non-empty token
// is sent in the X-Token header. The envelope is returned whatever its
// code; callers interpret codes because their meaning differs per endpoint.
func (c *Client) Post(ctx context.Context, path, token string, payload any) (*Envelope, error) {
	body, err := encodeForm(payload)
	if err != nil {
		return nil, err
	}

	var attempt int

	for {
		env, retryable, err := c.postOnce(ctx, path, token, body)
		if err == nil {
			return env, nil
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: request canceled: %w", ErrTransport, ctx.Err())
		}

		if !retryable || attempt >= maxRetries {
			if attempt > 0 {
				c.logger.Error("portal request failed after retries",
					slog.String("path", path),
					slog.Int("attempts", attempt+1),
				)
			}

			return nil, err
		}

		backoff := c.calcBackoff(attempt)
		c.logger.Warn("retrying portal request",
			slog.String("path", path),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
			return nil, fmt.Errorf("%w: request canceled: %w", ErrTransport, sleepErr)
		}

		attempt++
	}
}

// postOnce executes a single request. The bool reports whether a failure
// is worth retrying.
func (c *Client) postOnce(ctx context.Context, path, token, body string) (*Envelope, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("portal: creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.userAgent)

	if token != "" {
		req.Header.Set("X-Token", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%w: POST %s: %w", ErrTransport, redactPath(path), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, true, fmt.Errorf("%w: reading %s: %w", ErrTransport, redactPath(path), err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, true, fmt.Errorf("%w: POST %s: HTTP %d", ErrTransport, redactPath(path), resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("%w: POST %s: HTTP %d", ErrTransport, redactPath(path), resp.StatusCode)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false, fmt.Errorf("%w: decoding %s: %w", ErrMalformedResponse, redactPath(path), err)
	}

	c.logger.Debug("portal request succeeded",
		slog.String("path", redactPath(path)),
		slog.Int("code", env.Code),
	)

	return &env, false, nil
}

// encodeForm renders payload as the portal's "data=<json>" form body.
func encodeForm(payload any) (string, error) {
	if payload == nil {
		payload = struct{}{}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("portal: encoding payload: %w", err)
	}

	return "data=" + url.QueryEscape(string(raw)), nil
}

// decodeData unmarshals env.Data into v, mapping failures to
// ErrMalformedResponse.
func decodeData(env *Envelope, v any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("%w: missing data", ErrMalformedResponse)
	}

	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	return nil
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// redactPath drops the query string for logging.
func redactPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}

	return path
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsTransient reports whether err is a transport failure an outer
// supervisor may retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransport)
}
