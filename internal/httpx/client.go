package httpx

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/devtaskhq/devtask/internal/logging"
	"github.com/devtaskhq/devtask/internal/metrics"
	"github.com/devtaskhq/devtask/internal/resilience"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "devtask-http/1.0"
)

// Config tunes one outbound HTTP client.
type Config struct {
	// BaseURL prefixes relative request paths. Optional.
	BaseURL string
	// UserAgent overrides the default User-Agent header.
	UserAgent string
	// Timeout caps each request end to end.
	Timeout time.Duration
	// RequestsPerSecond paces outbound calls; zero or negative disables pacing.
	RequestsPerSecond float64
	// Burst is the limiter bucket size.
	Burst int
	// RetryMax bounds transport-level retries for connection errors and 5xx
	// responses. Feature-level retry policy lives in the resilience layer.
	RetryMax int
}

// Client wraps resty with a retrying transport, token-bucket rate limiting,
// and per-request correlation IDs. It deliberately knows nothing about
// circuit breakers: callers route requests through the resilience manager,
// which owns breaking and feature retry budgets.
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
}

// New builds the client. The retryable transport absorbs transient transport
// flakiness (connection resets, 5xx bursts) with short jittered waits; the
// resilience executor above it decides whether the operation as a whole is
// worth retrying.
func New(cfg Config, log *logging.Logger, m *metrics.Metrics) *Client {
	if log == nil {
		log = logging.NewNop()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = 250 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = nil

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent).
		SetTransport(&retryablehttp.RoundTripper{Client: retryClient})

	rc.JSONMarshal = sonic.Marshal
	rc.JSONUnmarshal = sonic.Unmarshal

	rc.OnBeforeRequest(func(c *resty.Client, r *resty.Request) error {
		r.SetHeader("X-Request-ID", uuid.NewString())
		return nil
	})

	if m != nil {
		rc.OnAfterResponse(func(c *resty.Client, resp *resty.Response) error {
			m.RecordHTTPRequest(hostOf(resp.Request.URL), resp.Status(), resp.Time())
			return nil
		})
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{resty: rc, limiter: limiter}
}

// R creates a request bound to ctx after the rate limiter admits it.
func (c *Client) R(ctx context.Context) (*resty.Request, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return c.resty.R().SetContext(ctx), nil
}

// SetHeader adds a default header to every request.
func (c *Client) SetHeader(key, value string) {
	c.resty.SetHeader(key, value)
}

// SetBearerAuth configures bearer token authentication.
func (c *Client) SetBearerAuth(token string) {
	c.resty.SetAuthToken(token)
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.resty.BaseURL
}

// CheckStatus converts a non-2xx response into a StatusError so the
// resilience layer classifies by code instead of message text.
func CheckStatus(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	return &resilience.StatusError{
		Code: resp.StatusCode(),
		Err:  fmt.Errorf("%s %s: %s", resp.Request.Method, resp.Request.URL, resp.Status()),
	}
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}
