// Package httpclient defines the instrumented HTTP collaborator
// contract §6 of the system asks for, plus a net/http-backed
// implementation. Grounded on the teacher's internal/docker/
// http_client.go transport-tuning shape (pooled, timeout-configured
// *http.Transport) and tools/http_transport_diagnostic.go's use of the
// same transport knobs for request-level diagnostics; rate governance
// is new, wired to golang.org/x/time/rate.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"structlog/pkg/logctx"
	"structlog/pkg/record"
	"structlog/pkg/structlog"
)

// Request is one outbound HTTP call.
type Request struct {
	URL         string
	Method      string
	Headers     map[string]string
	Body        []byte
	QueryParams map[string]string
}

// Response is the result of a Request.
type Response struct {
	StatusCode int
	Data       []byte
	Headers    map[string][]string
}

// Client is the collaborator contract. A caller that wants a different
// transport (e.g. a test double) implements this directly.
type Client interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// Config tunes the connection pool, timeouts, and rate limit of an
// HTTPClient.
type Config struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
	RequestTimeout      time.Duration

	// RateLimit bounds requests per second; 0 disables limiting.
	RateLimit float64
	// RateBurst is the token bucket burst size. Default 1.
	RateBurst int
}

func (c *Config) applyDefaults() {
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 100
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = 10
	}
	if c.IdleConnTimeout <= 0 {
		c.IdleConnTimeout = 90 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.TLSHandshakeTimeout <= 0 {
		c.TLSHandshakeTimeout = 10 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
}

// HTTPClient implements Client over net/http, logging request
// lifecycle through a bound *structlog.Logger and propagating the
// current logctx frame's correlation/transaction ids as headers.
type HTTPClient struct {
	config  Config
	logger  *structlog.Logger
	client  *http.Client
	limiter *rate.Limiter
}

// New constructs an HTTPClient. logger may be nil to disable lifecycle
// logging.
func New(config Config, logger *structlog.Logger) *HTTPClient {
	config.applyDefaults()

	dialer := &net.Dialer{Timeout: config.DialTimeout}
	transport := &http.Transport{
		MaxIdleConns:        config.MaxIdleConns,
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,
		TLSHandshakeTimeout: config.TLSHandshakeTimeout,
		DialContext:         dialer.DialContext,
	}

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst)
	}

	return &HTTPClient{
		config:  config,
		logger:  logger,
		client:  &http.Client{Transport: transport, Timeout: config.RequestTimeout},
		limiter: limiter,
	}
}

// CorrelationHeader is the HTTP header carrying the current logctx
// frame's correlation id.
const CorrelationHeader = "X-Correlation-Id"

// TransactionHeader is the HTTP header carrying the current logctx
// frame's transaction id.
const TransactionHeader = "X-Transaction-Id"

// Do executes req, honoring the configured rate limit and logging
// http.request.start / http.request.end (or http.request.error)
// through the bound logger.
func (c *HTTPClient) Do(ctx context.Context, req Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("httpclient: rate limit: %w", err)
		}
	}

	httpReq, err := c.build(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if c.logger != nil {
		c.logger.InfoCtx(ctx, "http.request.start", record.F("method", httpReq.Method), record.F("url", req.URL))
	}

	resp, err := c.client.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		if c.logger != nil {
			c.logger.ErrorCtx(ctx, "http.request.error", record.F("error", err.Error()), record.F("durationMs", duration.Milliseconds()))
		}
		return nil, fmt.Errorf("httpclient: do: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if c.logger != nil {
			c.logger.ErrorCtx(ctx, "http.request.error", record.F("error", err.Error()), record.F("durationMs", duration.Milliseconds()))
		}
		return nil, fmt.Errorf("httpclient: read body: %w", err)
	}

	if c.logger != nil {
		c.logger.InfoCtx(ctx, "http.request.end", record.F("statusCode", resp.StatusCode), record.F("durationMs", duration.Milliseconds()))
	}

	return &Response{StatusCode: resp.StatusCode, Data: data, Headers: resp.Header}, nil
}

func (c *HTTPClient) build(ctx context.Context, req Request) (*http.Request, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("httpclient: parse url: %w", err)
	}
	if len(req.QueryParams) > 0 {
		q := u.Query()
		for k, v := range req.QueryParams {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("httpclient: build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if cid := logctx.GetCorrelationID(ctx); cid != "" {
		httpReq.Header.Set(CorrelationHeader, cid)
	}
	if tid := logctx.GetTransactionID(ctx); tid != "" {
		httpReq.Header.Set(TransactionHeader, tid)
	}
	return httpReq, nil
}
