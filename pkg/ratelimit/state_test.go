package ratelimit

import (
	"testing"
	"time"
)

func TestState_BlockedAndThrottled(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name          string
		state         State
		wantBlocked   bool
		wantThrottled bool
	}{
		{
			name:  "healthy",
			state: State{Remaining: 80, ResetAt: now.Add(time.Minute)},
		},
		{
			name:          "warning zone",
			state:         State{Remaining: RemainingWarning - 1, ResetAt: now.Add(time.Minute)},
			wantThrottled: true,
		},
		{
			name:          "at critical threshold still allowed",
			state:         State{Remaining: RemainingCritical, ResetAt: now.Add(time.Minute)},
			wantThrottled: true,
		},
		{
			name:        "below critical",
			state:       State{Remaining: RemainingCritical - 1, ResetAt: now.Add(time.Minute)},
			wantBlocked: true,
		},
		{
			name:  "spent window already reset",
			state: State{Remaining: 0, ResetAt: now.Add(-time.Second)},
		},
		{
			name:        "retry-after in force",
			state:       State{Remaining: 90, ResetAt: now.Add(time.Minute), BlockedUntil: now.Add(5 * time.Second)},
			wantBlocked: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Blocked(now); got != tt.wantBlocked {
				t.Errorf("Blocked() = %v, want %v", got, tt.wantBlocked)
			}
			if got := tt.state.Throttled(now); got != tt.wantThrottled {
				t.Errorf("Throttled() = %v, want %v", got, tt.wantThrottled)
			}
		})
	}
}

func TestState_WaitDuration(t *testing.T) {
	now := time.Now()

	s := State{ResetAt: now.Add(10 * time.Second)}
	if got := s.WaitDuration(now); got != 10*time.Second {
		t.Errorf("WaitDuration() = %v, want 10s", got)
	}

	s.BlockedUntil = now.Add(30 * time.Second)
	if got := s.WaitDuration(now); got != 30*time.Second {
		t.Errorf("WaitDuration() = %v, want 30s", got)
	}

	past := State{ResetAt: now.Add(-time.Second)}
	if got := past.WaitDuration(now); got != 0 {
		t.Errorf("WaitDuration() = %v, want 0", got)
	}
}

func TestState_IsStale(t *testing.T) {
	if (State{LastUpdate: time.Now()}).IsStale(time.Minute) {
		t.Error("fresh state reported stale")
	}
	if !(State{LastUpdate: time.Now().Add(-2 * time.Minute)}).IsStale(time.Minute) {
		t.Error("old state not reported stale")
	}
}

func TestDefaultState(t *testing.T) {
	s := DefaultState()
	now := time.Now()
	if s.Blocked(now) || s.Throttled(now) {
		t.Errorf("default state should be healthy: %+v", s)
	}
}
