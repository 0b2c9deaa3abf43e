// Package backend implements the resilient HTTP client for the
// document-analysis backend: per-request deadlines, exponential-backoff
// retry on transient failures, interceptor chains, and bearer-token
// auth with a single refresh attempt on 401.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/marchuk/docdeck/internal/metrics"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = 1 * time.Second
	defaultMultiplier = 2.0
)

// defaultRetryableStatus is the set of statuses worth retrying:
// request timeout, rate limiting, and transient server-side failures.
var defaultRetryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// RetryPolicy controls how transient failures are retried. The delay
// before attempt i is BaseDelay × Multiplier^i, growing monotonically.
type RetryPolicy struct {
	MaxRetries      int
	BaseDelay       time.Duration
	Multiplier      float64
	RetryableStatus map[int]bool
}

// DefaultRetryPolicy returns the client-wide retry defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      defaultMaxRetries,
		BaseDelay:       defaultRetryDelay,
		Multiplier:      defaultMultiplier,
		RetryableStatus: defaultRetryableStatus,
	}
}

// Delay returns the backoff before retrying after the given attempt
// (0-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt)))
}

func (p RetryPolicy) retryable(status int) bool {
	set := p.RetryableStatus
	if set == nil {
		set = defaultRetryableStatus
	}
	return set[status]
}

// Request describes one logical call. It flows through the request
// interceptor chain, which may add or replace fields but never
// redirects control flow.
type Request struct {
	Method string
	Path   string // joined to the client base URL
	Header http.Header

	// JSON, when non-nil, is marshalled as the request body with
	// Content-Type application/json. Body takes precedence when both
	// are set (multipart uploads set Body and a Content-Type header).
	JSON any
	Body io.Reader

	// Timeout overrides the client default when > 0.
	Timeout time.Duration
	// Retry overrides the client retry policy when non-nil.
	Retry *RetryPolicy

	SkipAuth  bool
	SkipRetry bool
}

// Response is the final outcome of a successful request.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the response body as JSON into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}

// IsJSON reports whether the response Content-Type indicates JSON.
func (r *Response) IsJSON() bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// TokenSource supplies bearer tokens and performs a refresh when the
// backend rejects the current one.
type TokenSource interface {
	// Token returns the current access token, or "" when not logged in.
	Token(ctx context.Context) (string, error)
	// Refresh exchanges the refresh token for a new access token.
	Refresh(ctx context.Context) (string, error)
}

// RequestInterceptor runs before send and may mutate the request.
type RequestInterceptor func(ctx context.Context, req *Request) error

// ResponseInterceptor observes the final response before it is
// returned to the caller.
type ResponseInterceptor func(ctx context.Context, req *Request, resp *Response)

// ErrorInterceptor may rewrite the final error before it propagates.
type ErrorInterceptor func(ctx context.Context, req *Request, err *Error) *Error

// Client issues requests against a single backend base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	retry      RetryPolicy
	timeout    time.Duration
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger

	reqInterceptors  []RequestInterceptor
	respInterceptors []ResponseInterceptor
	errInterceptors  []ErrorInterceptor

	// sleep is swapped out by tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithTokenSource enables bearer auth and 401 refresh handling.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithTimeout replaces the default per-request deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPClient replaces the underlying transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithCircuitBreaker wraps each send in a circuit breaker so a dead
// backend trips fast instead of burning full retry budgets per call.
func WithCircuitBreaker() Option {
	return func(c *Client) {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "docdeck-backend",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			Timeout: 15 * time.Second,
		})
	}
}

// WithRequestInterceptor appends an interceptor run before each send.
func WithRequestInterceptor(ri RequestInterceptor) Option {
	return func(c *Client) { c.reqInterceptors = append(c.reqInterceptors, ri) }
}

// WithResponseInterceptor appends an interceptor run on each final
// response.
func WithResponseInterceptor(ri ResponseInterceptor) Option {
	return func(c *Client) { c.respInterceptors = append(c.respInterceptors, ri) }
}

// WithErrorInterceptor appends an interceptor run on each final error.
func WithErrorInterceptor(ei ErrorInterceptor) Option {
	return func(c *Client) { c.errInterceptors = append(c.errInterceptors, ei) }
}

// New creates a client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			// Deadlines are enforced per attempt via context.
			Timeout: 0,
		},
		retry:   DefaultRetryPolicy(),
		timeout: defaultTimeout,
		logger:  slog.Default(),
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Do executes one logical request. Transient failures are retried with
// exponential backoff; the outcome is exactly one of: success,
// cancellation, timeout, or an exhausted-retries error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	// Buffer the body once so retries and the 401 replay can resend it.
	body, contentType, encErr := encodeBody(req)
	if encErr != nil {
		return nil, &Error{Kind: KindValidation, Message: encErr.Error(), Err: encErr}
	}
	resp, err := c.do(ctx, req, body, contentType, true)
	if err != nil {
		var be *Error
		if !errors.As(err, &be) {
			be = &Error{Kind: KindNetwork, Message: err.Error(), Err: err}
		}
		for _, ei := range c.errInterceptors {
			be = ei(ctx, &req, be)
		}
		metrics.RequestsTotal.WithLabelValues(req.Method, outcomeLabel(be.Kind)).Inc()
		return nil, be
	}
	metrics.RequestsTotal.WithLabelValues(req.Method, "success").Inc()
	return resp, nil
}

// JSON executes the request and decodes a JSON response into out.
// Pass nil to discard the body.
func (c *Client) JSON(ctx context.Context, req Request, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	return resp.Decode(out)
}

func (c *Client) do(ctx context.Context, req Request, body []byte, contentType string, allowRefresh bool) (*Response, error) {
	if err := ctx.Err(); err != nil {
		// Already cancelled: skip retries entirely, never classify as
		// retryable.
		return nil, &Error{Kind: KindCancelled, Message: "request cancelled before send", Err: err}
	}

	for _, ri := range c.reqInterceptors {
		if err := ri(ctx, &req); err != nil {
			return nil, &Error{Kind: KindValidation, Message: err.Error(), Err: err}
		}
	}

	if c.tokens != nil && !req.SkipAuth {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, &Error{Kind: KindValidation, Message: fmt.Sprintf("loading credentials: %v", err), Err: err}
		}
		if token != "" {
			if req.Header == nil {
				req.Header = http.Header{}
			}
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	policy := c.retry
	if req.Retry != nil {
		policy = *req.Retry
	}
	maxRetries := policy.MaxRetries
	if req.SkipRetry {
		maxRetries = 0
	}

	for attempt := 0; ; attempt++ {
		resp, attemptErr := c.send(ctx, req, body, contentType)
		if attemptErr == nil {
			if resp.Status == http.StatusUnauthorized && allowRefresh && c.tokens != nil && !req.SkipAuth {
				c.logger.Debug("access token rejected, refreshing once", "path", req.Path)
				if _, err := c.tokens.Refresh(ctx); err != nil {
					c.observeResponse(ctx, &req, resp)
					return nil, httpError(resp)
				}
				return c.do(ctx, req, body, contentType, false)
			}
			if resp.Status >= 200 && resp.Status < 300 {
				c.observeResponse(ctx, &req, resp)
				return resp, nil
			}
			if !policy.retryable(resp.Status) || attempt >= maxRetries {
				// No more attempts follow, so this non-2xx response is
				// final and interceptors get to see it.
				c.observeResponse(ctx, &req, resp)
				return nil, httpError(resp)
			}
			attemptErr = httpError(resp)
		} else if attemptErr.Kind != KindNetwork || attempt >= maxRetries {
			// Timeouts and cancellation are terminal; only
			// connection-level failures are retried.
			return nil, attemptErr
		}

		delay := policy.Delay(attempt)
		c.logger.Warn("retrying backend request",
			"method", req.Method, "path", req.Path,
			"attempt", attempt+1, "delay", delay, "error", attemptErr.Message)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, &Error{Kind: KindCancelled, Message: "request cancelled during retry backoff", Err: err}
		}
		metrics.RetriesTotal.Inc()
	}
}

// observeResponse runs the response interceptor chain. It is called
// exactly once per logical request, on the final response: success,
// a non-retryable status, or the last attempt of a retried one.
func (c *Client) observeResponse(ctx context.Context, req *Request, resp *Response) {
	for _, ri := range c.respInterceptors {
		ri(ctx, req, resp)
	}
}

// send issues a single attempt with its own deadline.
func (c *Client) send(ctx context.Context, req Request, body []byte, contentType string) (*Response, *Error) {
	timeout := c.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, c.baseURL+req.Path, reader)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Message: fmt.Sprintf("building request: %v", err), Err: err}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	doOnce := func() (*http.Response, error) { return c.httpClient.Do(httpReq) }

	var httpResp *http.Response
	if c.breaker != nil {
		v, berr := c.breaker.Execute(func() (any, error) { return doOnce() })
		if berr != nil {
			err = berr
		} else {
			httpResp = v.(*http.Response)
		}
	} else {
		httpResp, err = doOnce()
	}

	if err != nil {
		return nil, classifySendError(ctx, attemptCtx, err, time.Since(started))
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, classifySendError(ctx, attemptCtx, err, time.Since(started))
	}

	return &Response{
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Body:   data,
	}, nil
}

// classifySendError distinguishes caller cancellation from a deadline
// fired by this attempt from a genuine connection failure.
func classifySendError(parent, attempt context.Context, err error, elapsed time.Duration) *Error {
	switch {
	case parent.Err() != nil:
		return &Error{Kind: KindCancelled, Message: "request cancelled", Err: err}
	case errors.Is(attempt.Err(), context.DeadlineExceeded):
		return &Error{
			Kind:    KindTimeout,
			Message: fmt.Sprintf("request timed out after %dms", elapsed.Milliseconds()),
			Elapsed: elapsed,
			Err:     err,
		}
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		return &Error{Kind: KindNetwork, Message: "backend circuit open", Err: err}
	default:
		return &Error{Kind: KindNetwork, Message: fmt.Sprintf("backend unreachable: %v", err), Err: err}
	}
}

// httpError synthesizes a structured error from a non-2xx response,
// preferring the server-provided message when the body carries one.
func httpError(resp *Response) *Error {
	msg := http.StatusText(resp.Status)
	if resp.IsJSON() {
		var body struct {
			Error   string `json:"error"`
			Message string `json:"message"`
			Detail  string `json:"detail"`
		}
		if err := json.Unmarshal(resp.Body, &body); err == nil {
			switch {
			case body.Error != "":
				msg = body.Error
			case body.Message != "":
				msg = body.Message
			case body.Detail != "":
				msg = body.Detail
			}
		}
	}
	return &Error{Kind: KindHTTP, Status: resp.Status, Message: msg}
}

// encodeBody buffers the request body so retries can replay it.
func encodeBody(req Request) ([]byte, string, error) {
	switch {
	case req.Body != nil:
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, "", fmt.Errorf("reading request body: %w", err)
		}
		return data, "", nil
	case req.JSON != nil:
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, "", fmt.Errorf("marshalling request body: %w", err)
		}
		return data, "application/json", nil
	default:
		return nil, "", nil
	}
}

func outcomeLabel(kind ErrorKind) string {
	switch kind {
	case KindHTTP:
		return "http_error"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	default:
		return "validation"
	}
}
