package counter

import (
	"context"
	"sync"
	"time"
)

// Local is the in-process counter provider. It is only sound for
// single-process deployments; multi-process installations must configure the
// redis provider instead.
type Local struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	now     func() time.Time
	ops     int
}

type localEntry struct {
	value     int64
	expiresAt time.Time // zero means no expiry
}

// purgeEvery bounds how much garbage accumulates between full sweeps.
const purgeEvery = 1024

type LocalOption func(*Local)

// WithClock overrides the time source. Tests use this to verify TTL
// behavior without sleeping.
func WithClock(now func() time.Time) LocalOption {
	return func(l *Local) {
		l.now = now
	}
}

func NewLocal(opts ...LocalOption) *Local {
	l := &Local{
		entries: make(map[string]*localEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Local) Incr(_ context.Context, key string, ttlOnFirstWrite time.Duration) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybePurge()

	e := l.live(key)
	if e == nil {
		e = &localEntry{}
		if ttlOnFirstWrite > 0 {
			e.expiresAt = l.now().Add(ttlOnFirstWrite)
		}
		l.entries[key] = e
	}
	e.value++
	return e.value, nil
}

func (l *Local) Get(_ context.Context, key string) (int64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.live(key)
	if e == nil {
		return 0, false, nil
	}
	return e.value, true, nil
}

func (l *Local) Del(_ context.Context, key string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.live(key) == nil {
		return 0, nil
	}
	delete(l.entries, key)
	return 1, nil
}

func (l *Local) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.live(key)
	if e == nil {
		return false, nil
	}
	e.expiresAt = l.now().Add(ttl)
	return true, nil
}

func (l *Local) SetNX(_ context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybePurge()

	if l.live(key) != nil {
		return false, nil
	}
	e := &localEntry{value: value}
	if ttl > 0 {
		e.expiresAt = l.now().Add(ttl)
	}
	l.entries[key] = e
	return true, nil
}

func (l *Local) Enabled() bool { return true }

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]*localEntry)
	return nil
}

// live returns the entry for key, dropping it first if it has expired.
// Must be called with l.mu held.
func (l *Local) live(key string) *localEntry {
	e, ok := l.entries[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !l.now().Before(e.expiresAt) {
		delete(l.entries, key)
		return nil
	}
	return e
}

// maybePurge sweeps expired entries every purgeEvery mutations so the map
// stays bounded even for keys that are never read again.
// Must be called with l.mu held.
func (l *Local) maybePurge() {
	l.ops++
	if l.ops%purgeEvery != 0 {
		return
	}
	now := l.now()
	for k, e := range l.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(l.entries, k)
		}
	}
}
