package guard

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultWindow         = 15 * time.Minute
	DefaultEmailThreshold = 5
	DefaultMaxKeys        = 100_000

	// IP keys tolerate this many times the email threshold.
	IPThresholdMultiplier = 3

	EmailKeyPrefix = "email:"
	IPKeyPrefix    = "ip:"

	stripeCount = 64
)

// EmailKey builds the limiter key for an account email.
func EmailKey(email string) string { return EmailKeyPrefix + email }

// IPKey builds the limiter key for a request origin.
func IPKey(ip string) string { return IPKeyPrefix + ip }

// RateWindow is the fixed-window counter held for one key.
type RateWindow struct {
	AttemptCount    int       `json:"attempt_count"`
	WindowStartedAt time.Time `json:"window_started_at"`
}

// RateDecision is the result of recording one attempt.
type RateDecision struct {
	Allowed    bool          `json:"allowed"`
	Count      int           `json:"count"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// RateStatus is a read-only view of a key's current window.
type RateStatus struct {
	Count      int           `json:"count"`
	Threshold  int           `json:"threshold"`
	Remaining  int           `json:"remaining"`
	Blocked    bool          `json:"blocked"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Limiter is a fixed-window attempt counter keyed by "email:" or "ip:" keys.
type Limiter interface {
	CheckAndRecord(ctx context.Context, key string, now time.Time) (RateDecision, error)
	// Release hands back one attempt recorded at the given time, if its
	// window is still current.
	Release(ctx context.Context, key string, recordedAt time.Time) error
	Status(ctx context.Context, key string, now time.Time) (RateStatus, error)
	IsSuspicious(ctx context.Context, ip string, now time.Time) (bool, error)
	Reset(ctx context.Context, key string) error
}

// LimiterConfig holds window and threshold settings shared by all backends.
type LimiterConfig struct {
	Window         time.Duration
	EmailThreshold int
	// SuspiciousTTL bounds how long an origin stays flagged; zero keeps it for the process lifetime.
	SuspiciousTTL time.Duration
	MaxKeys       int
}

// DefaultLimiterConfig returns a 15 minute window with 5 email and 15 IP attempts.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		Window:         DefaultWindow,
		EmailThreshold: DefaultEmailThreshold,
		MaxKeys:        DefaultMaxKeys,
	}
}

func (c LimiterConfig) withDefaults() LimiterConfig {
	d := DefaultLimiterConfig()
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.EmailThreshold <= 0 {
		c.EmailThreshold = d.EmailThreshold
	}
	if c.MaxKeys <= 0 {
		c.MaxKeys = d.MaxKeys
	}
	if c.SuspiciousTTL < 0 {
		c.SuspiciousTTL = 0
	}
	return c
}

// ThresholdFor returns the attempt threshold for a key.
func (c LimiterConfig) ThresholdFor(key string) int {
	if strings.HasPrefix(key, IPKeyPrefix) {
		return c.EmailThreshold * IPThresholdMultiplier
	}
	return c.EmailThreshold
}

func statusOf(w RateWindow, found bool, threshold int, window time.Duration, now time.Time) RateStatus {
	if !found || !now.Before(w.WindowStartedAt.Add(window)) {
		return RateStatus{Threshold: threshold, Remaining: threshold}
	}
	st := RateStatus{
		Count:     w.AttemptCount,
		Threshold: threshold,
		Remaining: max(threshold-w.AttemptCount, 0),
	}
	if w.AttemptCount >= threshold {
		st.Blocked = true
		st.RetryAfter = w.WindowStartedAt.Add(window).Sub(now)
	}
	return st
}

// MemoryLimiter is the in-process Limiter. Windows live in a bounded LRU whose
// entries expire after the window length, so idle keys are reclaimed.
type MemoryLimiter struct {
	cfg        LimiterConfig
	stripes    [stripeCount]sync.Mutex
	windows    *expirable.LRU[string, RateWindow]
	suspicious *expirable.LRU[string, time.Time]
}

// NewMemoryLimiter creates an in-memory limiter.
func NewMemoryLimiter(cfg LimiterConfig) *MemoryLimiter {
	cfg = cfg.withDefaults()
	return &MemoryLimiter{
		cfg:        cfg,
		windows:    expirable.NewLRU[string, RateWindow](cfg.MaxKeys, nil, cfg.Window),
		suspicious: expirable.NewLRU[string, time.Time](cfg.MaxKeys, nil, cfg.SuspiciousTTL),
	}
}

// Config returns the effective configuration.
func (m *MemoryLimiter) Config() LimiterConfig { return m.cfg }

func (m *MemoryLimiter) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &m.stripes[h.Sum32()%stripeCount]
	mu.Lock()
	return mu.Unlock
}

// CheckAndRecord counts one attempt for key. Increments for the same key are
// serialized by a striped mutex.
func (m *MemoryLimiter) CheckAndRecord(_ context.Context, key string, now time.Time) (RateDecision, error) {
	unlock := m.lock(key)
	defer unlock()

	threshold := m.cfg.ThresholdFor(key)
	w, ok := m.windows.Get(key)

	if !ok || !now.Before(w.WindowStartedAt.Add(m.cfg.Window)) {
		m.windows.Add(key, RateWindow{AttemptCount: 1, WindowStartedAt: now})
		return RateDecision{Allowed: true, Count: 1}, nil
	}

	if w.AttemptCount < threshold {
		w.AttemptCount++
		m.windows.Add(key, w)
		return RateDecision{Allowed: true, Count: w.AttemptCount}, nil
	}

	if ip, isIP := strings.CutPrefix(key, IPKeyPrefix); isIP {
		m.markSuspicious(ip, now)
	}

	return RateDecision{
		Allowed:    false,
		Count:      w.AttemptCount,
		RetryAfter: w.WindowStartedAt.Add(m.cfg.Window).Sub(now),
	}, nil
}

func (m *MemoryLimiter) markSuspicious(ip string, now time.Time) {
	if until, ok := m.suspicious.Peek(ip); ok && (until.IsZero() || now.Before(until)) {
		return
	}
	var until time.Time
	if m.cfg.SuspiciousTTL > 0 {
		until = now.Add(m.cfg.SuspiciousTTL)
	}
	m.suspicious.Add(ip, until)
}

// IsSuspicious reports whether the origin has exceeded its threshold before.
func (m *MemoryLimiter) IsSuspicious(_ context.Context, ip string, now time.Time) (bool, error) {
	until, ok := m.suspicious.Peek(ip)
	if !ok {
		return false, nil
	}
	if !until.IsZero() && !now.Before(until) {
		m.suspicious.Remove(ip)
		return false, nil
	}
	return true, nil
}

// Status reports the key's window without recording an attempt.
func (m *MemoryLimiter) Status(_ context.Context, key string, now time.Time) (RateStatus, error) {
	unlock := m.lock(key)
	defer unlock()

	w, ok := m.windows.Peek(key)
	return statusOf(w, ok, m.cfg.ThresholdFor(key), m.cfg.Window, now), nil
}

// Release undoes one CheckAndRecord made at recordedAt. A window that started
// after recordedAt or has since elapsed is left alone, and a window whose count
// would reach zero is dropped.
func (m *MemoryLimiter) Release(_ context.Context, key string, recordedAt time.Time) error {
	unlock := m.lock(key)
	defer unlock()

	w, ok := m.windows.Peek(key)
	if !ok || !inWindow(w, m.cfg.Window, recordedAt) {
		return nil
	}
	if w.AttemptCount <= 1 {
		m.windows.Remove(key)
		return nil
	}
	w.AttemptCount--
	m.windows.Add(key, w)
	return nil
}

func inWindow(w RateWindow, window time.Duration, at time.Time) bool {
	return !at.Before(w.WindowStartedAt) && at.Before(w.WindowStartedAt.Add(window))
}

// Reset drops the key's window. The suspicious-origin list is unaffected.
func (m *MemoryLimiter) Reset(_ context.Context, key string) error {
	unlock := m.lock(key)
	defer unlock()

	m.windows.Remove(key)
	return nil
}
