package ratelimit

import (
	"sync"
	"time"
)

// Limiter is an in-memory sliding window counter keyed by caller.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string][]time.Time
}

func NewLimiter() *Limiter {
	return &Limiter{
		buckets: map[string][]time.Time{},
	}
}

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Rule is one window of a multi-window budget, e.g. requests per minute.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

func (l *Limiter) Allow(key string, limit int, window time.Duration, now time.Time) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	res := l.check(key, limit, window, now)
	if res.Allowed && limit > 0 {
		l.record(key, now)
		res.Remaining--
		res.ResetAt = l.buckets[key][0].Add(window)
	}
	return res
}

// AllowAll admits a call only if every rule has room, and then counts it
// against all of them. The first rejecting rule's result is returned.
func (l *Limiter) AllowAll(now time.Time, rules ...Rule) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, r := range rules {
		if res := l.check(r.Key, r.Limit, r.Window, now); !res.Allowed {
			return res
		}
	}
	out := Result{Allowed: true}
	for _, r := range rules {
		if r.Limit <= 0 {
			continue
		}
		l.record(r.Key, now)
		remaining := r.Limit - len(l.buckets[r.Key])
		if out.Limit == 0 || remaining < out.Remaining {
			out.Limit = r.Limit
			out.Remaining = remaining
			out.ResetAt = l.buckets[r.Key][0].Add(r.Window)
		}
	}
	return out
}

// Prune drops buckets with no hits inside maxWindow.
func (l *Limiter) Prune(maxWindow time.Duration, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := now.Add(-maxWindow)
	for key, history := range l.buckets {
		if len(history) == 0 || history[len(history)-1].Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

func (l *Limiter) check(key string, limit int, window time.Duration, now time.Time) Result {
	if limit <= 0 {
		return Result{Allowed: true}
	}
	history := l.trim(key, window, now)
	res := Result{
		Allowed:   len(history) < limit,
		Limit:     limit,
		Remaining: limit - len(history),
	}
	if len(history) > 0 {
		res.ResetAt = history[0].Add(window)
	}
	if !res.Allowed {
		res.Remaining = 0
	}
	return res
}

func (l *Limiter) record(key string, now time.Time) {
	l.buckets[key] = append(l.buckets[key], now)
}

func (l *Limiter) trim(key string, window time.Duration, now time.Time) []time.Time {
	cutoff := now.Add(-window)
	history := l.buckets[key]
	trimmed := history[:0]
	for _, ts := range history {
		if !ts.Before(cutoff) {
			trimmed = append(trimmed, ts)
		}
	}
	l.buckets[key] = trimmed
	return trimmed
}
