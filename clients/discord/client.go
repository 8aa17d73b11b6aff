package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"athena/core"
	"athena/services/scopelock"
)

const (
	maxTransientAttempts = 4
	backoffBase          = 250 * time.Millisecond
	globalLockKey        = "global"
	bucketSweepInterval  = time.Minute
)

// DefaultAPIURL is the REST base URL used when none is configured
var DefaultAPIURL = strings.TrimSuffix(discordgo.EndpointAPI, "/")

var userAgent = "DiscordBot (https://github.com/bwmarrin/discordgo, v" + discordgo.VERSION + ")"

// APIError is a non-retryable rejection from the Discord API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discord api returned status %d: %s", e.StatusCode, e.Body)
}

// Route identifies a REST call. Bucket names the rate-limit bucket the call is
// accounted against; calls sharing a bucket share a budget. Interaction responses
// are not counted against the bot's global budget.
type Route struct {
	Method      string
	Path        string
	Bucket      string
	Interaction bool
}

func (r Route) String() string {
	return r.Method + " " + r.Path
}

// Response is a successful API response
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

type rateLimitBody struct {
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
	Global     bool    `json:"global"`
}

// Client is a rate-limited Discord REST client. Every call waits for budget on
// its route bucket and on the bot's global budget. Budget accounting for a bucket
// is serialized through a scope lock manager keyed by bucket name.
type Client struct {
	httpClient *http.Client
	baseURL    string
	botToken   string

	locks     *scopelock.Manager
	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time

	// guarded by the global lock key
	globalStart        time.Time
	globalCount        int
	globalBlockedUntil time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

// WithClock replaces the wall clock and sleeping, for tests
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		c.now = now
		c.sleep = sleep
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(baseURL, botToken string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	c := &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		botToken:   botToken,
		locks:      scopelock.NewManager(),
		buckets:    make(map[string]*bucket),
		now:        time.Now,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send issues a call and returns its response. A rate-limit rejection is retried
// exactly once after the delay the platform asked for; network failures and 5xx
// responses are retried with exponential backoff.
func (c *Client) Send(ctx context.Context, route Route, payload any) (*Response, error) {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", route, err)
		}
		body = encoded
	}

	rateLimitRetried := false
	transientAttempts := 0
	for {
		resp, err := c.attempt(ctx, route, body)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			transientAttempts++
			if transientAttempts >= maxTransientAttempts {
				return nil, fmt.Errorf("%w: %s after %d attempts: %v", core.ErrAPIUnavailable, route, transientAttempts, err)
			}
			if err := c.backoff(ctx, route, transientAttempts, err); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if rateLimitRetried {
				log.Warn().Stringer("route", route).Msg("❌ Rate limited again after retry")
				return nil, fmt.Errorf("%w: %s", core.ErrRateLimited, route)
			}
			rateLimitRetried = true

			retryAfter := c.retryAfter(resp)
			log.Warn().Stringer("route", route).Dur("retry_after", retryAfter).Msg("⚠️ Rate limited by Discord, retrying once")
			if err := c.sleep(ctx, retryAfter); err != nil {
				return nil, err
			}

		case resp.StatusCode >= http.StatusInternalServerError:
			transientAttempts++
			statusErr := &APIError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
			if transientAttempts >= maxTransientAttempts {
				return nil, fmt.Errorf("%w: %s after %d attempts: %v", core.ErrAPIUnavailable, route, transientAttempts, statusErr)
			}
			if err := c.backoff(ctx, route, transientAttempts, statusErr); err != nil {
				return nil, err
			}

		case resp.StatusCode >= http.StatusBadRequest:
			return nil, &APIError{StatusCode: resp.StatusCode, Body: string(resp.Body)}

		default:
			return resp, nil
		}
	}
}

func (c *Client) backoff(ctx context.Context, route Route, attempt int, cause error) error {
	delay := backoffBase << (attempt - 1)
	log.Warn().Err(cause).Stringer("route", route).Int("attempt", attempt).Dur("backoff", delay).
		Msg("⚠️ Transient Discord API failure, backing off")
	return c.sleep(ctx, delay)
}

// retryAfter reads the delay from a 429 response body, falling back to headers.
func (c *Client) retryAfter(resp *Response) time.Duration {
	var body rateLimitBody
	if err := json.Unmarshal(resp.Body, &body); err == nil && body.RetryAfter > 0 {
		return secondsToDuration(body.RetryAfter)
	}
	if h := parseRateLimitHeaders(resp.Header); h.present {
		return h.resetAfter
	}
	return time.Second
}

// attempt performs a single request once budget is available. Transport failures
// are returned as errors; every HTTP status is returned as a response.
func (c *Client) attempt(ctx context.Context, route Route, body []byte) (*Response, error) {
	if !route.Interaction {
		if err := c.waitGlobal(ctx); err != nil {
			return nil, err
		}
	}
	reservation, err := c.reserve(ctx, route.Bucket)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, route, body)
	if err != nil {
		c.complete(reservation, rateLimitHeaders{}, false)
		return nil, err
	}

	headers := parseRateLimitHeaders(resp.Header)
	if resp.StatusCode == http.StatusTooManyRequests {
		var limited rateLimitBody
		_ = json.Unmarshal(resp.Body, &limited)
		if limited.Global || headers.global {
			c.blockGlobal(ctx, c.retryAfter(resp))
		}
	}
	c.complete(reservation, headers, true)
	return resp, nil
}

func (c *Client) do(ctx context.Context, route Route, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, route.Method, c.baseURL+route.Path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", route, err)
	}
	req.Header.Set("Authorization", "Bot "+c.botToken)
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s: %w", route, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", route, err)
	}

	log.Debug().Stringer("route", route).Int("status", httpResp.StatusCode).Msg("📋 Discord API call completed")
	return &Response{StatusCode: httpResp.StatusCode, Body: respBody, Header: httpResp.Header}, nil
}

type reservation struct {
	key    string
	bucket *bucket
	probe  bool
}

// bucketFor returns the bucket for key. Callers hold the key's scope lock, which
// is also what sweep takes before dropping a bucket.
func (c *Client) bucketFor(key string) *bucket {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buckets[key]
	if !ok {
		b = newBucket()
		c.buckets[key] = b
	}
	return b
}

// sweep drops buckets with nothing in flight whose window has passed. It runs at
// most once per bucketSweepInterval.
func (c *Client) sweep(ctx context.Context) {
	now := c.now()
	c.mu.Lock()
	if now.Sub(c.lastSweep) < bucketSweepInterval {
		c.mu.Unlock()
		return
	}
	c.lastSweep = now
	keys := make([]string, 0, len(c.buckets))
	for key := range c.buckets {
		keys = append(keys, key)
	}
	c.mu.Unlock()

	evicted := 0
	for _, key := range keys {
		guard, err := c.locks.AcquireKeys(ctx, key)
		if err != nil {
			return
		}
		c.mu.Lock()
		if b, ok := c.buckets[key]; ok && b.idle(now) {
			delete(c.buckets, key)
			evicted++
		}
		c.mu.Unlock()
		guard.Release()
	}

	if evicted > 0 {
		log.Debug().Int("evicted", evicted).Int("remaining", len(keys)-evicted).Msg("📋 Dropped idle rate-limit buckets")
	}
}

// reserve blocks until the bucket has budget. A bucket whose state is unknown,
// because it was never used or its window has passed, admits a single probe
// request once earlier requests have been accounted; everyone else waits for the
// probe's response to learn the new budget.
func (c *Client) reserve(ctx context.Context, key string) (*reservation, error) {
	c.sweep(ctx)
	for {
		guard, err := c.locks.AcquireKeys(ctx, key)
		if err != nil {
			return nil, err
		}
		b := c.bucketFor(key)

		now := c.now()
		if b.known && !now.Before(b.resetAt) {
			b.known = false
		}

		switch {
		case b.known && b.remaining > 0:
			b.remaining--
			b.inflight++
			guard.Release()
			return &reservation{key: key, bucket: b}, nil

		case b.known:
			wait := b.resetAt.Sub(now)
			guard.Release()
			log.Debug().Str("bucket", key).Dur("wait", wait).Msg("📋 Route budget exhausted, waiting for reset")
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}

		case b.probing || b.inflight > 0:
			changed := b.changed
			guard.Release()
			select {
			case <-changed:
			case <-ctx.Done():
				return nil, ctx.Err()
			}

		default:
			b.probing = true
			b.inflight++
			guard.Release()
			return &reservation{key: key, bucket: b, probe: true}, nil
		}
	}
}

// complete accounts a finished request against its bucket
func (c *Client) complete(res *reservation, headers rateLimitHeaders, responded bool) {
	guard, err := c.locks.AcquireKeys(context.Background(), res.key)
	if err != nil {
		return
	}
	defer guard.Release()

	b := res.bucket
	b.inflight--
	if res.probe {
		b.probing = false
	}
	if responded {
		b.apply(headers, c.now())
	}
	b.broadcast()
}

func (c *Client) waitGlobal(ctx context.Context) error {
	for {
		guard, err := c.locks.AcquireKeys(ctx, globalLockKey)
		if err != nil {
			return err
		}

		now := c.now()
		var wait time.Duration
		switch {
		case now.Before(c.globalBlockedUntil):
			wait = c.globalBlockedUntil.Sub(now)
		case now.Sub(c.globalStart) >= globalWindow:
			c.globalStart = now
			c.globalCount = 1
		case c.globalCount < globalLimit:
			c.globalCount++
		default:
			wait = c.globalStart.Add(globalWindow).Sub(now)
		}
		guard.Release()

		if wait == 0 {
			return nil
		}
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (c *Client) blockGlobal(ctx context.Context, d time.Duration) {
	guard, err := c.locks.AcquireKeys(context.WithoutCancel(ctx), globalLockKey)
	if err != nil {
		return
	}
	defer guard.Release()

	until := c.now().Add(d)
	if until.After(c.globalBlockedUntil) {
		c.globalBlockedUntil = until
	}
}

// decode unmarshals a JSON response body into out
func decode(resp *Response, out any) error {
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("failed to decode discord response: %w", err)
	}
	return nil
}

// IsAPIError reports whether err is an APIError with the given status code
func IsAPIError(err error, statusCode int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == statusCode
}
