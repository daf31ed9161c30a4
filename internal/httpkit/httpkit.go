// Package httpkit builds the outbound HTTP clients used by the model
// providers, capability adapters, and push sinks. Every client shares the
// same dial/TLS/header timeouts and a User-Agent. Rate limiting and
// retries are opt-in per client.
package httpkit

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/nugget/aline-bot/internal/buildinfo"
)

// Transport defaults.
const (
	DefaultDialTimeout         = 10 * time.Second
	DefaultKeepAlive           = 30 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second

	// DefaultResponseHeader bounds the wait for response headers after
	// the request is written.
	DefaultResponseHeader = 15 * time.Second

	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultMaxIdleConns        = 20
	DefaultMaxIdleConnsPerHost = 5
)

// MaxRetryAfter caps how long a throttled request waits on the server's
// Retry-After before it is sent again.
const MaxRetryAfter = 10 * time.Second

// ClientOption configures a client built by NewClient.
type ClientOption func(*clientConfig)

type clientConfig struct {
	timeout    time.Duration
	userAgent  string
	transport  *http.Transport
	limiter    *rate.Limiter
	retryCount int
	retryDelay time.Duration
	throttle   bool
	logger     *slog.Logger
}

// WithTimeout sets the overall request timeout. Zero disables it.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.timeout = d }
}

// WithTransport overrides the default transport.
func WithTransport(t *http.Transport) ClientOption {
	return func(c *clientConfig) { c.transport = t }
}

// WithRateLimit makes every attempt, retries included, wait on l before
// it is sent. Waiting honours the request context.
func WithRateLimit(l *rate.Limiter) ClientOption {
	return func(c *clientConfig) { c.limiter = l }
}

// WithRetry sends a request up to count more times, delay apart, when
// it failed to connect (EHOSTUNREACH, ENETUNREACH, ECONNREFUSED).
// Requests with a body are only retried when the body can be rewound.
func WithRetry(count int, delay time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.retryCount = count
		c.retryDelay = delay
	}
}

// WithThrottleRetry extends WithRetry to 429 and 503 responses. The wait
// is the server's Retry-After, capped at MaxRetryAfter, when it sends one.
// Only use it where a repeated request is safe, such as LINE pushes
// carrying a retry key.
func WithThrottleRetry() ClientOption {
	return func(c *clientConfig) { c.throttle = true }
}

// WithLogger sets a logger for retry diagnostics.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *clientConfig) { c.logger = l }
}

// NewTransport creates an http.Transport with the package defaults.
func NewTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeader,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		ForceAttemptHTTP2:     true,
	}
}

// NewClient builds an *http.Client that sends buildinfo.UserAgent on
// requests without one. The default timeout is 30 seconds.
func NewClient(opts ...ClientOption) *http.Client {
	cfg := &clientConfig{
		timeout:   30 * time.Second,
		userAgent: buildinfo.UserAgent(),
	}
	for _, o := range opts {
		o(cfg)
	}

	var base http.RoundTripper = NewTransport()
	if cfg.transport != nil {
		base = cfg.transport
	}
	rt := &transport{
		base:     base,
		ua:       cfg.userAgent,
		limiter:  cfg.limiter,
		retries:  cfg.retryCount,
		delay:    cfg.retryDelay,
		throttle: cfg.throttle,
		logger:   cfg.logger,
	}
	if rt.logger == nil {
		rt.logger = slog.Default()
	}
	return &http.Client{Timeout: cfg.timeout, Transport: rt}
}

// transport applies the User-Agent, the rate limit and the retry policy
// around base.
type transport struct {
	base     http.RoundTripper
	ua       string
	limiter  *rate.Limiter
	retries  int
	delay    time.Duration
	throttle bool
	logger   *slog.Logger
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	replayable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil

	for attempt := 0; ; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("retry: rewind body: %w", err)
			}
			req = req.Clone(req.Context())
			req.Body = body
		}
		if t.limiter != nil {
			if err := t.limiter.Wait(req.Context()); err != nil {
				return nil, fmt.Errorf("rate limit: %w", err)
			}
		}

		resp, err := t.base.RoundTrip(req)
		wait, retry := t.delay, false
		switch {
		case err != nil:
			retry = isRetryableError(err)
		case t.throttle && isThrottled(resp.StatusCode):
			retry = true
			if ra, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
				wait = ra
			}
		}
		if !retry || !replayable || attempt >= t.retries {
			return resp, err
		}
		if resp != nil {
			DrainAndClose(resp.Body, 4096)
		}

		t.logger.Debug("retrying request",
			"method", req.Method,
			"host", req.URL.Host,
			"attempt", attempt+1,
			"wait", wait,
			"error", err,
		)
		timer := time.NewTimer(wait)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}
}

func isThrottled(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}

// retryAfter parses a Retry-After value in seconds or as an HTTP date.
func retryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(v); err == nil {
		d = time.Until(at)
	} else {
		return 0, false
	}
	return min(max(d, 0), MaxRetryAfter), true
}

// isRetryableError reports whether err is a connect-time failure, where
// no bytes reached the server.
func isRetryableError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EHOSTUNREACH, syscall.ENETUNREACH, syscall.ECONNREFUSED:
			return true
		}
	}
	return false
}

// DrainAndClose reads up to limit bytes from rc and closes it so the
// connection returns to the pool.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	rc.Close()
}

// ReadErrorBody reads up to limit bytes from rc for an error message,
// then drains and closes the rest.
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	DrainAndClose(rc, 1024)
	if err != nil {
		return fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return string(body)
}
