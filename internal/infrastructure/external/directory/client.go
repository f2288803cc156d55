// Package directory implements the user-directory API client used to put
// names and avatars on leaderboard rows.
package directory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/microlearn/gamification-engine/internal/domain/leaderboard"
	"github.com/microlearn/gamification-engine/internal/domain/shared"
	"github.com/microlearn/gamification-engine/pkg/circuitbreaker"
	"github.com/microlearn/gamification-engine/pkg/logger"
	"github.com/microlearn/gamification-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the directory client.
type ClientConfig struct {
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Timeout bounds one HTTP attempt. The caller's deadline still applies.
	Timeout time.Duration

	// MaxAttempts includes the first attempt.
	MaxAttempts int

	// RequestsPerSecond paces calls; Burst is the bucket size.
	RequestsPerSecond float64
	Burst             int

	// MaxBatch splits larger lookups into several requests.
	MaxBatch int

	// BreakerThreshold consecutive failures open the circuit for
	// BreakerTimeout. Zero keeps the breaker defaults.
	BreakerThreshold int
	BreakerTimeout   time.Duration

	Logger *logger.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:           baseURL,
		Timeout:           2 * time.Second,
		MaxAttempts:       2,
		RequestsPerSecond: 20,
		Burst:             5,
		MaxBatch:          100,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client implements leaderboard.UserDirectory over HTTP.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *circuitbreaker.CircuitBreaker
	retrier    *retry.Retrier
	log        *logger.Logger
}

// NewClient creates a new directory client.
func NewClient(config ClientConfig) *Client {
	d := DefaultClientConfig(config.BaseURL)
	if config.Timeout <= 0 {
		config.Timeout = d.Timeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = d.MaxAttempts
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = d.RequestsPerSecond
	}
	if config.Burst <= 0 {
		config.Burst = d.Burst
	}
	if config.MaxBatch <= 0 {
		config.MaxBatch = d.MaxBatch
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	log := config.Logger.With(logger.Component("directory_client"))

	var breakerOpts []circuitbreaker.Option
	if config.BreakerThreshold > 0 {
		breakerOpts = append(breakerOpts, circuitbreaker.WithFailureThreshold(config.BreakerThreshold))
	}
	if config.BreakerTimeout > 0 {
		breakerOpts = append(breakerOpts, circuitbreaker.WithTimeout(config.BreakerTimeout))
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		breaker: circuitbreaker.DirectoryBreaker(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}, breakerOpts...),
		retrier: retry.DirectoryRetrier(
			retry.WithMaxAttempts(config.MaxAttempts),
			retry.WithRetryIf(isRetryable),
		),
		log: log,
	}
}

// Breaker exposes the circuit breaker state for health reporting.
func (c *Client) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRE FORMAT
// ══════════════════════════════════════════════════════════════════════════════

type batchRequest struct {
	IDs []string `json:"ids"`
}

type batchResponse struct {
	Users []leaderboard.Profile `json:"users"`
}

// statusError is a non-2xx response.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("directory returned status %d: %s", e.Code, e.Body)
}

// ══════════════════════════════════════════════════════════════════════════════
// LOOKUP
// ══════════════════════════════════════════════════════════════════════════════

// LookupProfiles resolves profiles for userIDs. Unknown ids are absent from
// the result. Failures wrap shared.ErrServiceUnavailable.
func (c *Client) LookupProfiles(ctx context.Context, userIDs []string) (map[string]leaderboard.Profile, error) {
	out := make(map[string]leaderboard.Profile, len(userIDs))
	ids := dedupe(userIDs)

	for start := 0; start < len(ids); start += c.config.MaxBatch {
		end := min(start+c.config.MaxBatch, len(ids))
		users, err := c.lookupBatch(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			if u.UserID != "" {
				out[u.UserID] = u
			}
		}
	}
	return out, nil
}

func (c *Client) lookupBatch(ctx context.Context, ids []string) ([]leaderboard.Profile, error) {
	var users []leaderboard.Profile
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			var err error
			users, err = c.post(ctx, ids)
			return err
		})
	})
	if err == nil {
		return users, nil
	}

	c.log.Warn("directory lookup failed", logger.Int("ids", len(ids)), logger.Err(err))
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, shared.WrapError("directory", "LookupProfiles", shared.ErrTimeout, "user directory request timed out", err)
	}
	return nil, shared.WrapError("directory", "LookupProfiles", shared.ErrServiceUnavailable, "user directory is unavailable", err)
}

func (c *Client) post(ctx context.Context, ids []string) ([]leaderboard.Profile, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(batchRequest{IDs: ids})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/users/batch", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{Code: resp.StatusCode, Body: truncate(string(respBody), 200)}
	}

	var decoded batchResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, retry.Permanent(fmt.Errorf("unmarshal response: %w", err))
	}
	return decoded.Users, nil
}

// isRetryable retries transport failures, 429 and 5xx. Context errors are not
// retried since the caller's deadline is gone.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return true
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
