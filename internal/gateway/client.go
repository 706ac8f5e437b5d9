package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"fintrack/internal/apperr"
	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/metrics"
)

// HeaderRequestID carries a per-request correlation id.
const HeaderRequestID = "X-Request-ID"

// Config holds client configuration.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second; 0 disables limiting
	Burst     int
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client talks to the finance REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	limiter    *rate.Limiter
	logger     *log.Logger
	metrics    *metrics.Collector
}

// New creates a new API client. tokens may be nil for unauthenticated use.
func New(cfg Config, tokens TokenSource, logger *log.Logger, m *metrics.Collector) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if tokens == nil {
		tokens = StaticToken("")
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		tokens:     tokens,
		limiter:    limiter,
		logger:     log.OrDiscard(logger).WithComponent(log.ComponentGateway),
		metrics:    m,
	}
}

// API returns every resource port backed by this client.
func (c *Client) API() *API {
	return &API{
		Auth:            &authAPI{c: c},
		Balance:         NewSingle[core.Balance](c, "Balance"),
		Credits:         NewCollection[core.Credit, core.CreditInput](c, "Credits", "Credit"),
		Spendings:       NewCollection[core.Spending, core.SpendingInput](c, "Spendings", "Spending"),
		Categories:      NewCollection[core.Category, core.CategoryInput](c, "Categories", "Category"),
		Goals:           NewCollection[core.Goal, core.GoalInput](c, "Goals", "Goal"),
		CurrentGoal:     &currentGoal{Single: NewSingle[core.Goal](c, "CurrentGoal")},
		Recommendations: NewList[core.Recommendation](c, "Recommendations"),
		Reminders:       NewList[core.Reminder](c, "Reminder"),
	}
}

type request struct {
	method   string
	path     string
	resource string
	body     any
	// anonymous requests skip the Authorization header (login, signup)
	anonymous bool
}

// errorBody is the API's failure shape.
type errorBody struct {
	Error  *string `json:"error"`
	Status int     `json:"status"`
}

// do performs one round trip and returns the raw body of a successful
// response. Failures are *apperr.RemoteError or *apperr.TransportError.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &apperr.TransportError{Err: fmt.Errorf("rate limit: %w", err)}
		}
	}

	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(HeaderRequestID, requestID)
	if r.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if !r.anonymous {
		if tok := ResolveToken(ctx, c.tokens); tok != "" {
			httpReq.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.ObserveRequest(r.method, r.resource, 0, time.Since(start))
		c.logger.WarnContext(ctx, "request failed",
			log.FieldMethod, r.method,
			log.FieldPath, r.path,
			log.FieldRequestID, requestID,
			log.FieldError, err.Error())
		return nil, &apperr.TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	c.metrics.ObserveRequest(r.method, r.resource, resp.StatusCode, elapsed)
	if err != nil {
		return nil, &apperr.TransportError{Err: fmt.Errorf("read response: %w", err)}
	}

	c.logger.DebugContext(ctx, "request completed",
		log.FieldMethod, r.method,
		log.FieldPath, r.path,
		log.FieldRequestID, requestID,
		log.FieldStatusCode, resp.StatusCode,
		log.FieldDuration, elapsed.Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, normalizeError(resp.StatusCode, respBody)
	}
	// Some endpoints report failures inside a 200 body.
	if rerr := embeddedError(respBody); rerr != nil {
		return nil, rerr
	}
	return respBody, nil
}

func normalizeError(httpStatus int, body []byte) *apperr.RemoteError {
	re := &apperr.RemoteError{Status: httpStatus}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error != nil {
		re.Message = *eb.Error
		if eb.Status != 0 {
			re.Status = eb.Status
		}
		return re
	}
	re.Message = strings.TrimSpace(string(body))
	if len(re.Message) > 200 {
		re.Message = re.Message[:200]
	}
	return re
}

func embeddedError(body []byte) *apperr.RemoteError {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil || eb.Error == nil || eb.Status == 0 {
		return nil
	}
	if eb.Status >= 200 && eb.Status < 300 {
		return nil
	}
	return &apperr.RemoteError{Message: *eb.Error, Status: eb.Status}
}

var errMissingKey = errors.New("missing envelope key")

// decodeEnvelope extracts the value stored under key in a
// {"<Resource>": value} body.
func decodeEnvelope[T any](body []byte, key string) (T, error) {
	var zero T
	var env map[string]json.RawMessage
	if err := json.Unmarshal(body, &env); err != nil {
		return zero, &apperr.TransportError{Err: fmt.Errorf("decode envelope: %w", err)}
	}
	raw, ok := env[key]
	if !ok {
		return zero, &apperr.TransportError{Err: fmt.Errorf("%w %q", errMissingKey, key)}
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, &apperr.TransportError{Err: fmt.Errorf("decode %s: %w", key, err)}
	}
	return out, nil
}

// call performs r and decodes the envelope value under key.
func call[T any](ctx context.Context, c *Client, r request, key string) (T, error) {
	body, err := c.do(ctx, r)
	if err != nil {
		var zero T
		return zero, err
	}
	return decodeEnvelope[T](body, key)
}
