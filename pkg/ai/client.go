// Package ai provides the shared HTTP client pool, the request cache,
// and provider routing for model inference.
package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/net/http2"

	"github.com/samplemind/samplemind-core/pkg/logging"
	"github.com/samplemind/samplemind-core/pkg/metrics"
	"github.com/samplemind/samplemind-core/pkg/smerrors"
)

// ClientConfig tunes the shared pool.
type ClientConfig struct {
	MaxConnections int           `json:"max_connections"`
	MaxKeepalive   int           `json:"max_keepalive"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	MaxRetries     int           `json:"max_retries"`
	RetryBaseDelay time.Duration `json:"retry_base_delay"`
	RetryMaxDelay  time.Duration `json:"retry_max_delay"`
}

// DefaultClientConfig returns production defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		MaxConnections: 100,
		MaxKeepalive:   50,
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    30 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: time.Second,
		RetryMaxDelay:  10 * time.Second,
	}
}

// Response is a completed, fully read HTTP exchange.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StreamChunk is one piece of a streaming response body. A non-nil Err
// terminates the stream.
type StreamChunk struct {
	Data []byte
	Err  error
}

// Client is the process-wide HTTP/2 client with per-host circuit
// breakers and transport-level retries.
type Client struct {
	config  *ClientConfig
	http    *http.Client
	logger  *logging.Logger
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error

	mutex    sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

var (
	poolMutex sync.Mutex
	pool      *Client
)

// InitClientPool creates the shared client if it does not exist yet and
// returns it. Later calls return the existing client unchanged.
func InitClientPool(config *ClientConfig, logger *logging.Logger, m *metrics.Metrics) *Client {
	poolMutex.Lock()
	defer poolMutex.Unlock()
	if pool == nil {
		pool = newClient(config, logger, m)
	}
	return pool
}

// ClientPool returns the shared client, initializing with defaults if
// InitClientPool was never called.
func ClientPool() *Client {
	poolMutex.Lock()
	defer poolMutex.Unlock()
	if pool == nil {
		pool = newClient(nil, nil, nil)
	}
	return pool
}

// ShutdownClientPool closes idle connections and discards the singleton.
func ShutdownClientPool() {
	poolMutex.Lock()
	defer poolMutex.Unlock()
	if pool != nil {
		pool.http.CloseIdleConnections()
		pool = nil
	}
}

func newClient(config *ClientConfig, logger *logging.Logger, m *metrics.Metrics) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	if logger == nil {
		logger = logging.NewLogger(nil, nil)
	}
	if m == nil {
		m = metrics.Nop()
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: config.ConnectTimeout}).DialContext,
		TLSHandshakeTimeout:   config.ConnectTimeout,
		ResponseHeaderTimeout: config.ReadTimeout,
		MaxConnsPerHost:       config.MaxConnections,
		MaxIdleConns:          config.MaxKeepalive,
		MaxIdleConnsPerHost:   config.MaxKeepalive,
		IdleConnTimeout:       90 * time.Second,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		logger.Warn("http/2 configuration failed, falling back to http/1.1", "error", err)
	}

	return &Client{
		config:   config,
		http:     &http.Client{Transport: transport},
		logger:   logger.WithComponent("ai.client"),
		metrics:  m,
		sleep:    sleepCtx,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Do performs a request with body reading included. Transport failures
// are retried with exponential backoff; HTTP statuses, including 5xx,
// surface to the caller without retry.
func (c *Client) Do(ctx context.Context, method, rawURL string, payload []byte, headers map[string]string) (*Response, error) {
	delay := c.config.RetryBaseDelay
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, delay); err != nil {
				return nil, lastErr
			}
			delay *= 2
			if delay > c.config.RetryMaxDelay {
				delay = c.config.RetryMaxDelay
			}
		}

		resp, err := c.roundTrip(ctx, method, rawURL, payload, headers)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !smerrors.IsRetryable(err) {
			return nil, err
		}
		c.logger.Warn("retrying ai request", "method", method, "target", sanitizeURL(rawURL), "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

func (c *Client) roundTrip(ctx context.Context, method, rawURL string, payload []byte, headers map[string]string) (*Response, error) {
	result, err := c.breaker(rawURL).Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(payload))
		if err != nil {
			return nil, smerrors.Wrap(err, smerrors.KindInvalidInput, "ai", "building request for "+sanitizeURL(rawURL))
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, classifyTransport(err, rawURL)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, classifyTransport(err, rawURL)
		}
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, smerrors.Wrap(err, smerrors.KindTransient, "ai", "circuit open for "+sanitizeURL(rawURL))
		}
		return nil, err
	}
	return result.(*Response), nil
}

// DoStream issues the request and yields body chunks as they arrive.
// The returned channel closes when the body ends or errors.
func (c *Client) DoStream(ctx context.Context, method, rawURL string, payload []byte, headers map[string]string) (<-chan StreamChunk, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(payload))
	if err != nil {
		return nil, smerrors.Wrap(err, smerrors.KindInvalidInput, "ai", "building request for "+sanitizeURL(rawURL))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(err, rawURL)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, statusError(resp.StatusCode, rawURL)
	}

	out := make(chan StreamChunk, 4)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		buf := make([]byte, 4096)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case out <- StreamChunk{Data: chunk}:
				case <-ctx.Done():
					return
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				select {
				case out <- StreamChunk{Err: classifyTransport(err, rawURL)}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) breaker(rawURL string) *gobreaker.CircuitBreaker {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if cb, ok := c.breakers[host]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    host,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	c.breakers[host] = cb
	return cb
}

// StatusError carries a surfaced HTTP status.
type StatusError struct {
	StatusCode int
	Target     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ai request to %s returned status %d", e.Target, e.StatusCode)
}

func statusError(code int, rawURL string) error {
	err := &StatusError{StatusCode: code, Target: sanitizeURL(rawURL)}
	if code >= 500 {
		return smerrors.Wrap(err, smerrors.KindUpstream, "ai", "server error")
	}
	return smerrors.Wrap(err, smerrors.KindInvalidInput, "ai", "request rejected")
}

func classifyTransport(err error, rawURL string) error {
	return smerrors.Wrap(err, smerrors.KindTransient, "ai", "transport failure for "+sanitizeURL(rawURL))
}

// sanitizeURL strips credentials and query strings before an URL can
// reach a log line or error message.
func sanitizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url"
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
