package xhttp

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPThrottle keeps one token bucket per remote IP. Idle buckets are evicted lazily.
type IPThrottle struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
}

func NewIPThrottle(perSecond float64, burst int) *IPThrottle {
	return &IPThrottle{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idle:     3 * time.Minute,
		now:      time.Now,
	}
}

func (t *IPThrottle) Allow(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	v, ok := t.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.visitors[ip] = v
	}
	v.lastSeen = now

	if len(t.visitors) > 1024 {
		for k, other := range t.visitors {
			if now.Sub(other.lastSeen) > t.idle {
				delete(t.visitors, k)
			}
		}
	}
	return v.limiter.AllowN(now, 1)
}

// ThrottleMiddleware answers 429 once a remote IP exhausts its bucket.
func ThrottleMiddleware(t *IPThrottle) MiddlewareFunc {
	return func(next RequestHandler) RequestHandler {
		return func(ctx *RequestCtx) {
			if shouldSkip(string(ctx.Path())) || t.Allow(ctx.RemoteIP().String()) {
				next(ctx)
				return
			}
			ctx.Response.Header.Set("Retry-After", "1")
			ctx.SetContentType("application/json")
			ctx.SetStatusCode(StatusTooManyRequests)
			ctx.SetBodyString(`{"error":{"code":"rate_limited","kind":"rate_limited","message":"too many requests"}}`)
		}
	}
}
