package discord

import (
	"math"
	"net/http"
	"strconv"
	"time"
)

const (
	// globalLimit is Discord's per-bot request budget across all routes
	globalLimit  = 50
	globalWindow = time.Second

	// staleTolerance absorbs jitter between reset times computed from responses of the same window
	staleTolerance = 50 * time.Millisecond

	// unlimitedWindow is how long a route that returned no budget headers is treated as unrestricted
	unlimitedWindow = time.Second
)

// bucket is the budget of one route. All fields are guarded by the route's scope lock.
type bucket struct {
	known     bool
	limit     int
	remaining int
	resetAt   time.Time
	// inflight counts reservations whose response has not been accounted yet
	inflight int
	probing  bool
	// changed is closed and replaced whenever a response is accounted
	changed chan struct{}
}

func newBucket() *bucket {
	return &bucket{changed: make(chan struct{})}
}

// rateLimitHeaders is the budget metadata Discord attaches to REST responses.
type rateLimitHeaders struct {
	present    bool
	limit      int
	remaining  int
	resetAfter time.Duration
	global     bool
}

func parseRateLimitHeaders(header http.Header) rateLimitHeaders {
	h := rateLimitHeaders{
		global: header.Get("X-RateLimit-Global") == "true",
	}

	remaining, err := strconv.Atoi(header.Get("X-RateLimit-Remaining"))
	if err != nil {
		return h
	}
	resetAfter, err := strconv.ParseFloat(header.Get("X-RateLimit-Reset-After"), 64)
	if err != nil {
		return h
	}
	limit, err := strconv.Atoi(header.Get("X-RateLimit-Limit"))
	if err != nil {
		limit = remaining + 1
	}

	h.present = true
	h.limit = limit
	h.remaining = remaining
	h.resetAfter = secondsToDuration(resetAfter)
	return h
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(math.Ceil(seconds * float64(time.Second)))
}

// apply merges budget metadata from a response into the bucket. Responses of the
// current window can only lower the remaining budget; responses describing an
// older window are ignored.
func (b *bucket) apply(h rateLimitHeaders, now time.Time) {
	if !h.present {
		if !b.known {
			b.known = true
			b.limit = 0
			b.remaining = math.MaxInt
			b.resetAt = now.Add(unlimitedWindow)
		}
		return
	}

	resetAt := now.Add(h.resetAfter)
	switch {
	case b.known && resetAt.Before(b.resetAt.Add(-staleTolerance)):
		return
	case !b.known || resetAt.After(b.resetAt.Add(staleTolerance)):
		// A new window: requests still in flight may land in it too
		b.known = true
		b.limit = h.limit
		b.remaining = max(h.remaining-b.inflight, 0)
		b.resetAt = resetAt
	default:
		b.limit = h.limit
		b.remaining = min(b.remaining, h.remaining)
	}
}

// idle reports whether the bucket holds nothing worth keeping at now
func (b *bucket) idle(now time.Time) bool {
	return b.inflight == 0 && !b.probing && !now.Before(b.resetAt)
}

// broadcast wakes every request waiting for this bucket to change
func (b *bucket) broadcast() {
	close(b.changed)
	b.changed = make(chan struct{})
}
