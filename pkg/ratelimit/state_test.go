package ratelimit

import (
	"testing"
	"time"
)

func TestState_IsStale(t *testing.T) {
	tests := []struct {
		name     string
		state    *State
		maxAge   time.Duration
		expected bool
	}{
		{
			name:     "fresh state",
			state:    &State{LastUpdate: time.Now()},
			maxAge:   5 * time.Minute,
			expected: false,
		},
		{
			name:     "stale state",
			state:    &State{LastUpdate: time.Now().Add(-10 * time.Minute)},
			maxAge:   5 * time.Minute,
			expected: true,
		},
		{
			name:     "just under max age",
			state:    &State{LastUpdate: time.Now().Add(-4 * time.Minute)},
			maxAge:   5 * time.Minute,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsStale(tt.maxAge); got != tt.expected {
				t.Errorf("IsStale() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_Decisions(t *testing.T) {
	future := time.Now().Add(time.Minute)
	past := time.Now().Add(-time.Minute)

	tests := []struct {
		name           string
		remaining      int
		resetAt        time.Time
		expectBlock    bool
		expectThrottle bool
	}{
		{
			name:      "healthy window",
			remaining: 150,
			resetAt:   future,
		},
		{
			name:        "exhausted window",
			remaining:   0,
			resetAt:     future,
			expectBlock: true,
		},
		{
			name:      "exhausted window already reset",
			remaining: 0,
			resetAt:   past,
		},
		{
			name:           "nearly exhausted",
			remaining:      RemainingThresholdWarning - 1,
			resetAt:        future,
			expectThrottle: true,
		},
		{
			name:           "at critical threshold",
			remaining:      RemainingThresholdCritical,
			resetAt:        future,
			expectThrottle: true,
		},
		{
			name:      "at warning threshold",
			remaining: RemainingThresholdWarning,
			resetAt:   future,
		},
		{
			name:      "nearly exhausted but reset",
			remaining: 2,
			resetAt:   past,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &State{Remaining: tt.remaining, ResetAt: tt.resetAt}

			if got := state.NeedsBlock(); got != tt.expectBlock {
				t.Errorf("NeedsBlock() = %v, want %v", got, tt.expectBlock)
			}
			if got := state.NeedsThrottling(); got != tt.expectThrottle {
				t.Errorf("NeedsThrottling() = %v, want %v", got, tt.expectThrottle)
			}
		})
	}
}

func TestState_TimeUntilReset(t *testing.T) {
	state := &State{ResetAt: time.Now().Add(-time.Second)}
	if got := state.TimeUntilReset(); got != 0 {
		t.Errorf("TimeUntilReset() = %v, want 0 for past reset", got)
	}

	state.ResetAt = time.Now().Add(30 * time.Second)
	got := state.TimeUntilReset()
	if got <= 25*time.Second || got > 30*time.Second {
		t.Errorf("TimeUntilReset() = %v, want about 30s", got)
	}
}

func TestDefaultState(t *testing.T) {
	state := defaultState("/1.1/search/tweets.json")
	if state.NeedsBlock() || state.NeedsThrottling() {
		t.Error("default state should neither block nor throttle")
	}
	if state.Endpoint != "/1.1/search/tweets.json" {
		t.Errorf("Endpoint = %q", state.Endpoint)
	}
}
