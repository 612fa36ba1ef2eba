package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/retailhub/lottery-sync/internal/domain"
	"github.com/retailhub/lottery-sync/internal/ratelimiter"
)

const maxResponseBytes = 4 << 20

// Config configures an HTTPClient. The base URL is injected so tests can
// point the client at a local server.
type Config struct {
	BaseURL             string
	APIKey              string
	StoreID             string
	Timeout             time.Duration
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// HTTPClient implements Client over HTTPS with bearer authentication. Every
// request passes through a per-direction rate limiter and a circuit breaker.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	storeID    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	limiters   *ratelimiter.DirectionLimiters
	logger     *zap.Logger
}

func NewHTTPClient(cfg Config, limiters *ratelimiter.DirectionLimiters, logger *zap.Logger) *HTTPClient {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = time.Minute
	}
	if limiters == nil {
		limiters = ratelimiter.New(0)
	}

	c := &HTTPClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		storeID:    cfg.StoreID,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiters:   limiters,
		logger:     logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "cloud-sync",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: isBreakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return c
}

// BreakerState reports the circuit breaker state ("closed", "open", "half-open").
func (c *HTTPClient) BreakerState() string {
	return c.breaker.State().String()
}

func (c *HTTPClient) StartSync(ctx context.Context) (*StartSyncResponse, error) {
	var out StartSyncResponse
	if err := c.do(ctx, domain.DirectionPush, http.MethodPost, EndpointStart, nil, struct{}{}, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) PushBatch(ctx context.Context, sessionID string, items []PushItem) (*PushBatchResponse, error) {
	body := struct {
		SessionID string     `json:"session_id"`
		Items     []PushItem `json:"items"`
	}{sessionID, items}

	var out PushBatchResponse
	if err := c.do(ctx, domain.DirectionPush, http.MethodPost, EndpointBatch, nil, body, batchKey(items), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pull fetches one page. The limit is clamped to MaxPullLimit whatever the
// caller asks for.
func (c *HTTPClient) Pull(ctx context.Context, req PullRequest) (*PullResponse, error) {
	if !req.Action.IsValid() {
		return nil, domain.ErrUnknownPullAction
	}
	if req.Limit <= 0 || req.Limit > MaxPullLimit {
		req.Limit = MaxPullLimit
	}

	q := url.Values{}
	q.Set("session_id", req.SessionID)
	q.Set("since_sequence", strconv.FormatInt(req.SinceSequence, 10))
	q.Set("limit", strconv.Itoa(req.Limit))

	var out PullResponse
	if err := c.do(ctx, domain.DirectionPull, http.MethodGet, PullEndpoint(req.Action), q, nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) CompleteSync(ctx context.Context, req CompleteSyncRequest) error {
	return c.do(ctx, domain.DirectionPush, http.MethodPost, EndpointComplete, nil, req, "", nil)
}

func (c *HTTPClient) PrepareDayClose(ctx context.Context, req PrepareDayCloseRequest) (*PrepareDayCloseResponse, error) {
	var out PrepareDayCloseResponse
	if err := c.do(ctx, domain.DirectionPush, http.MethodPost, DayCloseEndpoint(req.DayID, "prepare-close"), nil, req, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) CommitDayClose(ctx context.Context, req CommitDayCloseRequest) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, domain.DirectionPush, http.MethodPost, DayCloseEndpoint(req.DayID, "commit-close"), nil, req, req.IdempotencyKey, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) CancelDayClose(ctx context.Context, req CancelDayCloseRequest) error {
	return c.do(ctx, domain.DirectionPush, http.MethodPost, DayCloseEndpoint(req.DayID, "cancel-close"), nil, req, "", nil)
}

// do waits for the direction's rate limiter, then runs the request through
// the circuit breaker.
func (c *HTTPClient) do(ctx context.Context, dir domain.Direction, method, path string, query url.Values, body any, idemKey string, out any) error {
	if err := c.limiters.Wait(ctx, dir); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.roundTrip(ctx, method, path, query, body, idemKey, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func (c *HTTPClient) roundTrip(ctx context.Context, method, path string, query url.Values, body any, idemKey string, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("X-Store-ID", c.storeID)
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode >= 300 || decodeErr != nil || !env.Success {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Code:       env.Error,
			Message:    env.Message,
			RetryAfter: resp.Header.Get("Retry-After"),
			Body:       string(raw),
		}
		if apiErr.Message == "" {
			apiErr.Message = env.Error
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		if resp.StatusCode < 300 && decodeErr != nil {
			apiErr.Message = "invalid response envelope: " + decodeErr.Error()
		}
		return apiErr
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}
	return nil
}

// isBreakerSuccess counts client errors as successes: a rejected request
// proves the service is up. Rate limiting and server errors trip the breaker.
func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 &&
			apiErr.StatusCode != http.StatusTooManyRequests
	}
	return errors.Is(err, context.Canceled)
}

// batchKey derives the batch Idempotency-Key from its items' keys so a
// retried batch with the same content carries the same key.
func batchKey(items []PushItem) string {
	h := sha256.New()
	for _, it := range items {
		h.Write([]byte(it.IdempotencyKey))
		h.Write([]byte{0x00})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// compile-time check that HTTPClient implements Client
var _ Client = (*HTTPClient)(nil)
