// Package ratelimit provides an AIMD-adaptive token bucket the Scheduler
// uses to bound admission throughput, optionally coordinated across a
// cluster. Grounded on features/model/middleware/ratelimit.go's
// AdaptiveRateLimiter, generalized from a per-model-request token-cost
// estimate to a caller-supplied admission cost (the Scheduler passes 1 per
// task by default, or a larger cost for priority-weighted admission).
package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"goa.design/pulse/rmap"
)

// AdaptiveLimiter enforces a budget of admission units per second, backing
// off under observed pressure and recovering linearly otherwise. It is
// process-local unless constructed with NewClusterLimiter.
type AdaptiveLimiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	current float64
	min     float64
	max     float64

	recoveryRate float64

	onBackoff func(newRate float64)
	onProbe   func(newRate float64)
}

// clusterMap is the subset of rmap.Map a cluster-coordinated limiter needs.
type clusterMap interface {
	Get(key string) (string, bool)
	SetIfNotExists(ctx context.Context, key, value string) (bool, error)
	TestAndSet(ctx context.Context, key, test, value string) (string, error)
	Subscribe() <-chan rmap.EventKind
}

type rmapClusterMap struct {
	m *rmap.Map
}

func (m *rmapClusterMap) Get(key string) (string, bool) { return m.m.Get(key) }

func (m *rmapClusterMap) SetIfNotExists(ctx context.Context, key, value string) (bool, error) {
	return m.m.SetIfNotExists(ctx, key, value)
}

func (m *rmapClusterMap) TestAndSet(ctx context.Context, key, test, value string) (string, error) {
	return m.m.TestAndSet(ctx, key, test, value)
}

func (m *rmapClusterMap) Subscribe() <-chan rmap.EventKind { return m.m.Subscribe() }

// NewLimiter builds a process-local AdaptiveLimiter starting at initialRate
// admission units per second, never exceeding maxRate. A non-positive
// initialRate defaults to 100/s; maxRate below initialRate is clamped up to
// it.
func NewLimiter(initialRate, maxRate float64) *AdaptiveLimiter {
	if initialRate <= 0 {
		initialRate = 100
	}
	if maxRate <= 0 || maxRate < initialRate {
		maxRate = initialRate
	}
	min := initialRate * 0.1
	if min < 1 {
		min = 1
	}
	recovery := initialRate * 0.05
	if recovery < 1 {
		recovery = 1
	}
	return &AdaptiveLimiter{
		limiter:      rate.NewLimiter(rate.Limit(initialRate), int(initialRate)),
		current:      initialRate,
		min:          min,
		max:          maxRate,
		recoveryRate: recovery,
	}
}

// NewClusterLimiter builds an AdaptiveLimiter whose budget is coordinated
// across a Pulse-backed cluster via m under key: every process backs off or
// probes the shared value in lockstep, reconciling through m.Subscribe.
// m == nil or key == "" falls back to a process-local limiter.
func NewClusterLimiter(ctx context.Context, m *rmap.Map, key string, initialRate, maxRate float64) *AdaptiveLimiter {
	var cm clusterMap
	if m != nil {
		cm = &rmapClusterMap{m: m}
	}
	return newClusterLimiter(ctx, cm, key, initialRate, maxRate)
}

func newClusterLimiter(ctx context.Context, m clusterMap, key string, initialRate, maxRate float64) *AdaptiveLimiter {
	if key == "" || m == nil {
		return NewLimiter(initialRate, maxRate)
	}

	if _, ok := m.Get(key); !ok {
		if _, err := m.SetIfNotExists(ctx, key, strconv.Itoa(int(initialRate))); err != nil {
			return NewLimiter(initialRate, maxRate)
		}
	}

	shared := initialRate
	if cur, ok := m.Get(key); ok {
		if v, err := strconv.ParseFloat(cur, 64); err == nil && v > 0 {
			shared = v
		}
	}

	l := NewLimiter(shared, maxRate)
	min, max, step := l.min, l.max, l.recoveryRate

	l.setClusterCallbacks(
		func(_ float64) { go globalBackoff(context.Background(), m, key, min) },
		func(_ float64) { go globalProbe(context.Background(), m, key, step, max) },
	)

	ch := m.Subscribe()
	go func() {
		for range ch {
			cur, ok := m.Get(key)
			if !ok {
				continue
			}
			v, err := strconv.ParseFloat(cur, 64)
			if err != nil || v <= 0 {
				continue
			}
			l.replaceRate(v)
		}
	}()

	return l
}

// Wait blocks until cost admission units are available, or ctx is done.
func (l *AdaptiveLimiter) Wait(ctx context.Context, cost int) error {
	if cost <= 0 {
		cost = 1
	}
	return l.limiter.WaitN(ctx, cost)
}

// Allow reports whether cost admission units are immediately available,
// consuming them if so, without blocking.
func (l *AdaptiveLimiter) Allow(cost int) bool {
	if cost <= 0 {
		cost = 1
	}
	return l.limiter.AllowN(time.Now(), cost)
}

// Observe adjusts the budget after an admitted unit of work completes:
// limited reports that the executor signalled back-pressure (e.g.
// event.ErrRateLimited), triggering a halving backoff; otherwise the budget
// probes upward by its recovery step.
func (l *AdaptiveLimiter) Observe(limited bool) {
	if limited {
		l.backoff()
		return
	}
	l.probe()
}

// CurrentRate reports the limiter's current admission-units-per-second
// budget, for metrics and tests.
func (l *AdaptiveLimiter) CurrentRate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

func (l *AdaptiveLimiter) backoff() {
	l.mu.Lock()
	newRate := l.current * 0.5
	if newRate < l.min {
		newRate = l.min
	}
	if newRate == l.current {
		l.mu.Unlock()
		return
	}
	l.current = newRate
	l.limiter.SetLimit(rate.Limit(newRate))
	l.limiter.SetBurst(int(newRate))
	cb := l.onBackoff
	l.mu.Unlock()
	if cb != nil {
		cb(newRate)
	}
}

func (l *AdaptiveLimiter) probe() {
	l.mu.Lock()
	newRate := l.current + l.recoveryRate
	if newRate > l.max {
		newRate = l.max
	}
	if newRate == l.current {
		l.mu.Unlock()
		return
	}
	l.current = newRate
	l.limiter.SetLimit(rate.Limit(newRate))
	l.limiter.SetBurst(int(newRate))
	cb := l.onProbe
	l.mu.Unlock()
	if cb != nil {
		cb(newRate)
	}
}

func (l *AdaptiveLimiter) replaceRate(newRate float64) {
	l.mu.Lock()
	if newRate < l.min {
		newRate = l.min
	}
	if newRate > l.max {
		newRate = l.max
	}
	if newRate == l.current {
		l.mu.Unlock()
		return
	}
	l.current = newRate
	l.limiter.SetLimit(rate.Limit(newRate))
	l.limiter.SetBurst(int(newRate))
	l.mu.Unlock()
}

func (l *AdaptiveLimiter) setClusterCallbacks(onBackoff, onProbe func(newRate float64)) {
	l.mu.Lock()
	l.onBackoff = onBackoff
	l.onProbe = onProbe
	l.mu.Unlock()
}

func globalBackoff(ctx context.Context, m clusterMap, key string, floor float64) {
	const maxAttempts = 3
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	for i := 0; i < maxAttempts; i++ {
		curStr, ok := m.Get(key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 {
			return
		}
		next := cur * 0.5
		if next < floor {
			next = floor
		}
		prev, err := m.TestAndSet(ctx, key, curStr, strconv.Itoa(int(next)))
		if err != nil || prev == curStr {
			return
		}
	}
}

func globalProbe(ctx context.Context, m clusterMap, key string, step, ceiling float64) {
	const maxAttempts = 3
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	for i := 0; i < maxAttempts; i++ {
		curStr, ok := m.Get(key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 {
			return
		}
		if cur >= ceiling {
			return
		}
		next := cur + step
		if next > ceiling {
			next = ceiling
		}
		prev, err := m.TestAndSet(ctx, key, curStr, strconv.Itoa(int(next)))
		if err != nil || prev == curStr {
			return
		}
	}
}
