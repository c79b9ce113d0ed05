package ratelimit

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/batimat/api/internal/platform/httpx"
	"github.com/batimat/api/internal/platform/requestctx"
)

const defaultIdleAfter = 10 * time.Minute

// Limiter enforces a token bucket per client address.
type Limiter struct {
	limit      rate.Limit
	burst      int
	trustProxy bool
	idleAfter  time.Duration
	now        func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithTrustedProxy makes the limiter key clients on the first X-Forwarded-For hop.
func WithTrustedProxy(trust bool) Option {
	return func(l *Limiter) { l.trustProxy = trust }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New allows perMinute requests per client with the given burst.
func New(perMinute, burst int, opts ...Option) *Limiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	if burst <= 0 {
		burst = 1
	}
	l := &Limiter{
		limit:     rate.Limit(float64(perMinute) / 60),
		burst:     burst,
		idleAfter: defaultIdleAfter,
		now:       time.Now,
		visitors:  make(map[string]*visitor),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Middleware records the client key on the request context and rejects clients over budget with 429.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := l.clientKey(r)
		ctx := requestctx.WithClientKey(r.Context(), key)

		reservation := l.visitor(key).ReserveN(l.now(), 1)
		if delay := reservation.DelayFrom(l.now()); delay > 0 {
			reservation.CancelAt(l.now())
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Sweep forgets clients idle for longer than the idle window and returns how many were dropped.
func (l *Limiter) Sweep() int {
	cutoff := l.now().Add(-l.idleAfter)
	l.mu.Lock()
	defer l.mu.Unlock()
	dropped := 0
	for key, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, key)
			dropped++
		}
	}
	return dropped
}

// Run sweeps idle clients every interval until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

func (l *Limiter) visitor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = l.now()
	return v.limiter
}

func (l *Limiter) clientKey(r *http.Request) string {
	if l.trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return host
}
