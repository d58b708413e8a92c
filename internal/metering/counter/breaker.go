package counter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"formgate/internal/metering/metrics"
)

// Breaker decorates a Store with a consecutive-failure circuit breaker.
// After threshold consecutive transport errors the circuit opens for the
// cooldown window: Enabled() short-circuits to false and every call returns
// ErrUnavailable without attempting I/O. Once the cooldown elapses the
// failure counter resets and normal attempts resume. Failure and recovery
// events are logged at most once per throttle window so an outage cannot
// storm the logs.
type Breaker struct {
	inner   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	threshold   int
	cooldown    time.Duration
	logThrottle time.Duration

	mu          sync.Mutex
	failures    int
	openUntil   time.Time
	degraded    bool
	lastFailLog time.Time
	lastOpenLog time.Time
}

type BreakerOption func(*Breaker)

func WithBreakerLogger(logger *slog.Logger) BreakerOption {
	return func(b *Breaker) {
		b.logger = logger
	}
}

func WithBreakerMetrics(m *metrics.Metrics) BreakerOption {
	return func(b *Breaker) {
		b.metrics = m
	}
}

func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) {
		b.now = now
	}
}

func WithFailureThreshold(n int) BreakerOption {
	return func(b *Breaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

func WithCooldown(d time.Duration) BreakerOption {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

func WithLogThrottle(d time.Duration) BreakerOption {
	return func(b *Breaker) {
		if d > 0 {
			b.logThrottle = d
		}
	}
}

func NewBreaker(inner Store, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		inner:       inner,
		logger:      slog.Default(),
		now:         time.Now,
		threshold:   5,
		cooldown:    time.Minute,
		logThrottle: time.Minute,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if !b.allow() {
		return 0, ErrUnavailable
	}
	v, err := b.inner.Incr(ctx, key, ttl)
	if err != nil {
		b.recordFailure(err)
		return 0, ErrUnavailable
	}
	b.recordSuccess()
	return v, nil
}

func (b *Breaker) Get(ctx context.Context, key string) (int64, bool, error) {
	if !b.allow() {
		return 0, false, ErrUnavailable
	}
	v, ok, err := b.inner.Get(ctx, key)
	if err != nil {
		b.recordFailure(err)
		return 0, false, ErrUnavailable
	}
	b.recordSuccess()
	return v, ok, nil
}

func (b *Breaker) Del(ctx context.Context, key string) (int64, error) {
	if !b.allow() {
		return 0, ErrUnavailable
	}
	n, err := b.inner.Del(ctx, key)
	if err != nil {
		b.recordFailure(err)
		return 0, ErrUnavailable
	}
	b.recordSuccess()
	return n, nil
}

func (b *Breaker) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if !b.allow() {
		return false, ErrUnavailable
	}
	ok, err := b.inner.Expire(ctx, key, ttl)
	if err != nil {
		b.recordFailure(err)
		return false, ErrUnavailable
	}
	b.recordSuccess()
	return ok, nil
}

func (b *Breaker) SetNX(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	if !b.allow() {
		return false, ErrUnavailable
	}
	ok, err := b.inner.SetNX(ctx, key, value, ttl)
	if err != nil {
		b.recordFailure(err)
		return false, ErrUnavailable
	}
	b.recordSuccess()
	return ok, nil
}

func (b *Breaker) Enabled() bool {
	return b.inner.Enabled() && b.allow()
}

func (b *Breaker) Close() error {
	return b.inner.Close()
}

// allow reports whether a call should reach the backend. When an open
// circuit's cooldown has elapsed, the failure counter resets and attempts
// resume.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openUntil.IsZero() {
		return true
	}
	if b.now().Before(b.openUntil) {
		return false
	}
	b.openUntil = time.Time{}
	b.failures = 0
	return true
}

func (b *Breaker) recordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.CounterStoreFailures.Inc()
	}

	b.failures++
	now := b.now()
	if now.Sub(b.lastFailLog) >= b.logThrottle {
		b.lastFailLog = now
		b.logger.Warn("counter store call failed", "error", err, "consecutive_failures", b.failures)
	}

	if b.failures >= b.threshold && b.openUntil.IsZero() {
		b.openUntil = now.Add(b.cooldown)
		b.degraded = true
		if b.metrics != nil {
			b.metrics.BreakerOpens.Inc()
		}
		if now.Sub(b.lastOpenLog) >= b.logThrottle {
			b.lastOpenLog = now
			b.logger.Error("counter store circuit opened",
				"failures", b.failures,
				"cooldown", b.cooldown,
			)
		}
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.degraded {
		b.degraded = false
		b.logger.Info("counter store recovered")
	}
	b.failures = 0
}
