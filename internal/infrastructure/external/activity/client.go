// Package activity implements the HTTP client for the external activity log
// service, the collaborator that owns study time and daily activity.
//
// The client satisfies progress.ActivitySource. Its signals are non-critical:
// callers wrap it in a circuit breaker and fall back to zero on failure.
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alem-hub/achievement-engine/internal/domain/progress"
	"github.com/alem-hub/achievement-engine/pkg/retry"
	"github.com/alem-hub/achievement-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the activity client.
type ClientConfig struct {
	// BaseURL is the activity service base URL, without trailing slash.
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration

	RateLimiter RateLimiterConfig

	// MaxAttempts includes the first attempt.
	MaxAttempts  int
	InitialDelay time.Duration

	// StreakLookback caps how many active days are requested.
	StreakLookback int

	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:        baseURL,
		Timeout:        3 * time.Second,
		RateLimiter:    DefaultRateLimiterConfig(),
		MaxAttempts:    2,
		InitialDelay:   100 * time.Millisecond,
		StreakLookback: 366,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// StatusError is a non-2xx answer from the activity service.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("activity service: status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("activity service: status %d", e.Code)
}

// isRetryable reports whether another attempt may succeed.
func isRetryable(err error) bool {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the activity service client. It is safe for concurrent use.
type Client struct {
	config      ClientConfig
	httpClient  *http.Client
	rateLimiter *RateLimiter
	retrier     *retry.Retrier
	logger      *slog.Logger
}

var _ progress.ActivitySource = (*Client)(nil)

// NewClient creates a new activity client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.StreakLookback <= 0 {
		config.StreakLookback = 366
	}
	c := &Client{
		config:      config,
		httpClient:  &http.Client{Timeout: config.Timeout},
		rateLimiter: NewRateLimiter(config.RateLimiter),
		logger:      config.Logger.With("component", "activity_client"),
	}
	c.retrier = retry.New(
		retry.WithMaxAttempts(config.MaxAttempts),
		retry.WithInitialDelay(config.InitialDelay),
		retry.WithRetryIf(isRetryable),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			c.logger.Debug("retrying activity request", "attempt", attempt, "delay", delay, "error", err)
		}),
	)
	return c
}

type studyTimeResponse struct {
	UserID  string  `json:"user_id"`
	Minutes float64 `json:"minutes"`
}

type activeDaysResponse struct {
	UserID string   `json:"user_id"`
	Days   []string `json:"days"`
}

// StudyHours returns the user's logged study time in hours. A user the
// service has never seen has studied zero hours.
func (c *Client) StudyHours(ctx context.Context, userID string) (float64, error) {
	path := fmt.Sprintf("/v1/users/%s/study-time", url.PathEscape(userID))

	var resp studyTimeResponse
	found, err := c.get(ctx, path, nil, &resp)
	if err != nil || !found {
		return 0, err
	}
	return resp.Minutes / 60, nil
}

// CurrentStreak fetches the user's active days up to today and counts the
// consecutive run ending today or yesterday.
func (c *Client) CurrentStreak(ctx context.Context, userID string, today time.Time) (int, error) {
	path := fmt.Sprintf("/v1/users/%s/active-days", url.PathEscape(userID))
	query := url.Values{
		"until": {today.Format(timeutil.DateLayout)},
		"limit": {strconv.Itoa(c.config.StreakLookback)},
	}

	var resp activeDaysResponse
	found, err := c.get(ctx, path, query, &resp)
	if err != nil || !found {
		return 0, err
	}

	days := make([]time.Time, 0, len(resp.Days))
	for _, s := range resp.Days {
		d, err := time.Parse(timeutil.DateLayout, s)
		if err != nil {
			return 0, fmt.Errorf("parse active day %q: %w", s, err)
		}
		days = append(days, d)
	}
	return progress.Streak(days, today), nil
}

// Ping checks that the service answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doSingleRequest(ctx, "/healthz", nil, nil)
	return err
}

// get performs a rate limited GET with retries. found is false on 404.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) (bool, error) {
	found := true
	err := c.retrier.Do(ctx, func(ctx context.Context) error {
		if err := c.rateLimiter.Allow(ctx); err != nil {
			return err
		}
		ok, err := c.doSingleRequest(ctx, path, query, result)
		if err != nil {
			var rl *RateLimitError
			if errors.As(err, &rl) {
				c.rateLimiter.RecordRateLimitHit(rl.RetryAfter)
			}
			return err
		}
		found = ok
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("GET %s: %w", path, err)
	}
	return found, nil
}

// doSingleRequest performs one HTTP request.
func (c *Client) doSingleRequest(ctx context.Context, path string, query url.Values, result any) (bool, error) {
	fullURL := c.config.BaseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return false, &RateLimitError{RetryAfter: retryAfter}
	case resp.StatusCode >= 400:
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &apiErr)
		return false, &StatusError{Code: resp.StatusCode, Message: apiErr.Message}
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return false, fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return true, nil
}
