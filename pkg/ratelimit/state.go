// Package ratelimit tracks the aggregator's request quota and gates outgoing
// requests before the quota runs out.
//
// The aggregator reports its quota in X-RateLimit-Remaining and
// X-RateLimit-Reset (seconds until the window resets) and answers 429 with a
// Retry-After header once it is exceeded. State is kept in Redis when a client
// is configured so several processes share one view of the quota.
package ratelimit

import (
	"time"
)

// Thresholds on remaining requests in the current window.
const (
	// RemainingCritical blocks requests below this value until the reset.
	RemainingCritical = 2

	// RemainingWarning throttles requests below this value.
	RemainingWarning = 10
)

// State is the last known quota.
type State struct {
	Remaining    int       `json:"remaining"`
	ResetAt      time.Time `json:"reset_at"`
	BlockedUntil time.Time `json:"blocked_until"`
	LastUpdate   time.Time `json:"last_update"`
}

// DefaultState is assumed until upstream reports a quota.
func DefaultState() State {
	now := time.Now()
	return State{
		Remaining:  100,
		ResetAt:    now.Add(time.Minute),
		LastUpdate: now,
	}
}

// windowOpen reports whether the reported window still applies.
func (s State) windowOpen(now time.Time) bool {
	return now.Before(s.ResetAt)
}

// Blocked reports whether requests must wait, either because upstream asked
// via Retry-After or because the window is nearly spent.
func (s State) Blocked(now time.Time) bool {
	if now.Before(s.BlockedUntil) {
		return true
	}
	return s.windowOpen(now) && s.Remaining < RemainingCritical
}

// Throttled reports whether requests should be slowed down.
func (s State) Throttled(now time.Time) bool {
	return !s.Blocked(now) && s.windowOpen(now) && s.Remaining < RemainingWarning
}

// WaitDuration returns how long a blocked caller would have to wait.
func (s State) WaitDuration(now time.Time) time.Duration {
	until := s.ResetAt
	if s.BlockedUntil.After(until) {
		until = s.BlockedUntil
	}
	if d := until.Sub(now); d > 0 {
		return d
	}
	return 0
}

// IsStale reports whether the state is older than maxAge.
func (s State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}
