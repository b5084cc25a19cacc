// Package binance is the REST surface of the venue connection. Every call is
// admitted through the REST rate-limit channel; signed calls take their
// timestamp from the clock synchronizer so that local clock drift does not
// trip the venue's recv window.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gelinger777/binancelink/internal/crypto"
	"github.com/gelinger777/binancelink/internal/ratelimit"
)

const (
	// maxRateLimitedAttempts bounds retries after HTTP 429. The remote
	// limiter may be skewed against the local one, so a handful of
	// re-acquired tokens is cheaper than failing the call.
	maxRateLimitedAttempts = 10

	// codeTimestampRejected is the venue error for a request timestamp
	// outside the recv window. It triggers one forced clock resync and one
	// retry.
	codeTimestampRejected = -1021

	defaultRecvWindow = 5 * time.Second
)

// RequestTimestamper supplies the timestamp basis for signed requests. The
// clock synchronizer implements it.
type RequestTimestamper interface {
	Timestamp(ctx context.Context) (time.Time, error)
	Resync(ctx context.Context) error
}

// APIError is a non-2xx venue response. Status is the HTTP status, Code the
// venue error code from the JSON body (0 when absent).
type APIError struct {
	Status  int
	Code    int
	Message string
	Body    []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: HTTP %d code %d: %s", e.Status, e.Code, e.Message)
}

// Client is the venue REST client.
type Client struct {
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	clock      RequestTimestamper
	recvWindow time.Duration
	logger     *slog.Logger
}

// NewClient creates a venue REST client.
//
// baseURL is the API root, e.g. "https://api.binance.com". The clock
// timestamper is attached afterwards with SetClock because the synchronizer
// itself probes server time through this client.
func NewClient(baseURL string, auth *crypto.HMACAuth, limiter *ratelimit.Limiter, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		auth:    auth,
		limiter: limiter,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		recvWindow: defaultRecvWindow,
		logger:     logger.With(slog.String("component", "binance")),
	}
}

// SetClock attaches the timestamp source for signed requests.
func (c *Client) SetClock(clock RequestTimestamper) {
	c.clock = clock
}

// SetRecvWindow overrides the signed-request recv window.
func (c *Client) SetRecvWindow(w time.Duration) {
	if w > 0 {
		c.recvWindow = w
	}
}

// ServerTime returns the venue's current time from the unsigned time
// endpoint. It implements clock.ServerClock.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v3/time", nil, authNone)
	if err != nil {
		return time.Time{}, fmt.Errorf("binance: server time: %w", err)
	}

	var resp serverTimeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return time.Time{}, fmt.Errorf("binance: decode server time: %w", err)
	}
	return time.UnixMilli(resp.ServerTime), nil
}

// --------------------------------------------------------------------------
// Request executor
// --------------------------------------------------------------------------

type authLevel int

const (
	authNone   authLevel = iota // public endpoint
	authAPIKey                  // X-MBX-APIKEY header only (listen-key endpoints)
	authSigned                  // header + timestamp + HMAC signature
)

// do admits the request through the REST rate-limit channel and sends it,
// retrying on remote throttling and once on timestamp rejection.
//
// Retry policy:
//   - HTTP 429: re-acquire a token and retry, up to maxRateLimitedAttempts.
//   - timestamp rejection: force a clock resync, retry exactly once.
//   - any other non-2xx: surfaced immediately.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, level authLevel) ([]byte, error) {
	rateLimited := 0
	resynced := false

	for {
		if err := c.limiter.Acquire(ctx, ratelimit.ChannelRest); err != nil {
			return nil, fmt.Errorf("acquire rest token: %w", err)
		}

		body, err := c.send(ctx, method, path, params, level)
		if err == nil {
			return body, nil
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			return nil, err
		}

		switch {
		case apiErr.Status == http.StatusTooManyRequests && rateLimited < maxRateLimitedAttempts-1:
			rateLimited++
			c.logger.Warn("venue throttled request, retrying",
				slog.String("path", path),
				slog.Int("attempt", rateLimited),
			)
			continue

		case apiErr.Code == codeTimestampRejected && !resynced && c.clock != nil:
			resynced = true
			c.logger.Warn("request timestamp rejected, resyncing clock",
				slog.String("path", path),
			)
			if rerr := c.clock.Resync(ctx); rerr != nil {
				return nil, fmt.Errorf("resync after timestamp rejection: %w", rerr)
			}
			continue

		default:
			return nil, err
		}
	}
}

// send performs one HTTP round trip. Signed requests are stamped and signed
// immediately before transmission so retries never reuse a stale timestamp.
func (c *Client) send(ctx context.Context, method, path string, params url.Values, level authLevel) ([]byte, error) {
	query := url.Values{}
	for k, vs := range params {
		query[k] = vs
	}

	if level == authSigned {
		if !c.auth.Configured() {
			return nil, errors.New("binance: API credentials not configured")
		}
		ts, err := c.clock.Timestamp(ctx)
		if err != nil {
			return nil, fmt.Errorf("request timestamp: %w", err)
		}
		query.Set("timestamp", strconv.FormatInt(ts.UnixMilli(), 10))
		query.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))
	}

	encoded := query.Encode()
	if level == authSigned {
		// The signature covers the query string exactly as transmitted and
		// must itself be the last parameter.
		encoded += "&signature=" + c.auth.Sign(encoded)
	}

	fullURL := c.baseURL + path
	if encoded != "" {
		fullURL += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if level != authNone {
		req.Header.Set("X-MBX-APIKEY", c.auth.Key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

// newAPIError extracts the venue error envelope from a non-2xx body. The
// body is kept verbatim for callers that need the raw payload.
func newAPIError(status int, body []byte) *APIError {
	var envelope struct {
		Code    int    `json:"code"`
		Message string `json:"msg"`
	}
	_ = json.Unmarshal(body, &envelope)

	return &APIError{
		Status:  status,
		Code:    envelope.Code,
		Message: envelope.Message,
		Body:    body,
	}
}
