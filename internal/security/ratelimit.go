package security

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a request exceeds the rate limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// Kind names a rate-limited event class.
type Kind string

// Rate-limited event kinds.
const (
	KindToolCall      Kind = "tool_call"
	KindSessionCreate Kind = "session_create"
	KindAuth          Kind = "auth"
)

// RateLimitConfig holds configurable rate limits.
type RateLimitConfig struct {
	MaxSessions     int `yaml:"max_sessions"`
	ToolCallsPerMin int `yaml:"tool_calls_per_min"`
	SessionsPerMin  int `yaml:"sessions_per_min"`
	AuthPerMin      int `yaml:"auth_per_min"`
}

func rateLimitConfigDefaults() RateLimitConfig {
	return RateLimitConfig{
		MaxSessions:     1000,
		ToolCallsPerMin: 120,
		SessionsPerMin:  60,
		AuthPerMin:      30,
	}
}

// RateLimiter implements sliding window rate limiting. Each (kind, key)
// pair gets its own bucket, so one session exhausting its tool-call budget
// does not throttle the others. The empty key is the global bucket.
type RateLimiter struct {
	mu      sync.Mutex
	limits  map[Kind]int
	buckets map[bucketKey]*bucket
	config  RateLimitConfig
	now     func() time.Time
}

type bucketKey struct {
	kind Kind
	key  string
}

type bucket struct {
	events []time.Time
}

const rateWindow = time.Minute

// NewRateLimiter creates a rate limiter with the given config.
// Zero-value fields in cfg are replaced with defaults.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	defaults := rateLimitConfigDefaults()
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = defaults.MaxSessions
	}
	if cfg.ToolCallsPerMin <= 0 {
		cfg.ToolCallsPerMin = defaults.ToolCallsPerMin
	}
	if cfg.SessionsPerMin <= 0 {
		cfg.SessionsPerMin = defaults.SessionsPerMin
	}
	if cfg.AuthPerMin <= 0 {
		cfg.AuthPerMin = defaults.AuthPerMin
	}

	return &RateLimiter{
		config: cfg,
		now:    time.Now,
		limits: map[Kind]int{
			KindToolCall:      cfg.ToolCallsPerMin,
			KindSessionCreate: cfg.SessionsPerMin,
			KindAuth:          cfg.AuthPerMin,
		},
		buckets: make(map[bucketKey]*bucket),
	}
}

// Allow records one event of kind for key and reports ErrRateLimited when
// the per-minute limit is exceeded. Unknown kinds are never limited.
// A nil *RateLimiter allows everything.
func (rl *RateLimiter) Allow(kind Kind, key string) error {
	if rl == nil {
		return nil
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limit, ok := rl.limits[kind]
	if !ok {
		return nil
	}

	bk := bucketKey{kind: kind, key: key}
	b, ok := rl.buckets[bk]
	if !ok {
		b = &bucket{}
		rl.buckets[bk] = b
	}

	now := rl.now()
	b.evict(now)

	if len(b.events) >= limit {
		return ErrRateLimited
	}

	b.events = append(b.events, now)
	return nil
}

// Prune drops buckets that have no events left in the window.
func (rl *RateLimiter) Prune() int {
	if rl == nil {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for k, b := range rl.buckets {
		b.evict(now)
		if len(b.events) == 0 {
			delete(rl.buckets, k)
			removed++
		}
	}
	return removed
}

// MaxSessions returns the configured maximum number of live sessions.
func (rl *RateLimiter) MaxSessions() int {
	if rl == nil {
		return rateLimitConfigDefaults().MaxSessions
	}
	return rl.config.MaxSessions
}

// evict removes events outside the sliding window.
func (b *bucket) evict(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(b.events) && b.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.events = b.events[i:]
	}
}
