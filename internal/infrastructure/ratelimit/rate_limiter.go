package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	ActionSendMessage  = "send_message"
	ActionUpdateStatus = "update_status"
	ActionHTTP         = "http"
)

// Policy is the bucket shape for one action: Burst tokens refilled at one
// token per Every.
type Policy struct {
	Every time.Duration
	Burst int
}

var defaultPolicy = Policy{Every: 3 * time.Second, Burst: 20}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per (key, action) pair. Keys are user
// ids for authenticated actions and client IPs for the HTTP middleware.
type RateLimiter struct {
	policies map[string]Policy
	buckets  map[string]*bucket
	mutex    sync.Mutex
	now      func() time.Time
}

func NewRateLimiter(policies map[string]Policy) *RateLimiter {
	p := make(map[string]Policy, len(policies))
	for action, policy := range policies {
		p[action] = policy
	}
	return &RateLimiter{
		policies: p,
		buckets:  make(map[string]*bucket),
		now:      time.Now,
	}
}

// PerMinute is a policy allowing n actions per minute with a burst of n.
func PerMinute(n int) Policy {
	if n <= 0 {
		n = 1
	}
	return Policy{Every: time.Minute / time.Duration(n), Burst: n}
}

// Allow consumes a token for key/action. When the bucket is empty it returns
// false and how long until the next token.
func (rl *RateLimiter) Allow(key, action string) (bool, time.Duration) {
	b := rl.bucket(key, action)

	now := rl.now()
	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Tokens reports the tokens left for key/action, or -1 for an unseen pair.
func (rl *RateLimiter) Tokens(key, action string) float64 {
	rl.mutex.Lock()
	b, ok := rl.buckets[key+":"+action]
	rl.mutex.Unlock()
	if !ok {
		return -1
	}
	return b.limiter.TokensAt(rl.now())
}

func (rl *RateLimiter) bucket(key, action string) *bucket {
	id := key + ":" + action

	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	b, ok := rl.buckets[id]
	if !ok {
		policy, found := rl.policies[action]
		if !found {
			policy = defaultPolicy
		}
		b = &bucket{limiter: rate.NewLimiter(rate.Every(policy.Every), policy.Burst)}
		rl.buckets[id] = b
	}
	b.lastSeen = rl.now()
	return b
}

// Cleanup drops buckets idle for longer than idle.
func (rl *RateLimiter) Cleanup(idle time.Duration) int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	removed := 0
	for id, b := range rl.buckets {
		if now.Sub(b.lastSeen) > idle {
			delete(rl.buckets, id)
			removed++
		}
	}
	return removed
}

// StartCleanupRoutine runs Cleanup every interval until ctx is done.
func (rl *RateLimiter) StartCleanupRoutine(ctx context.Context, every time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				rl.Cleanup(time.Hour)
			case <-ctx.Done():
				return
			}
		}
	}()
}
