// Package ratelimit tracks the per-endpoint request windows announced by the
// search API and gates requests before they would be rejected.
// It reads the X-Rate-Limit-Limit, X-Rate-Limit-Remaining and X-Rate-Limit-Reset
// response headers. State lives in a StateStore so several harvester processes
// sharing one application credential can share it through Redis.
package ratelimit

import (
	"time"
)

// Response headers carrying the endpoint window.
const (
	HeaderLimit     = "X-Rate-Limit-Limit"
	HeaderRemaining = "X-Rate-Limit-Remaining"
	HeaderReset     = "X-Rate-Limit-Reset"
)

// Thresholds for rate limit decisions.
const (
	// RemainingThresholdCritical blocks requests while fewer than this many
	// requests remain in the current window and the window has not reset yet.
	RemainingThresholdCritical = 1

	// RemainingThresholdWarning throttles requests while fewer than this many
	// requests remain.
	RemainingThresholdWarning = 5
)

// State is the request window of one endpoint.
type State struct {
	// Endpoint is the request path the window applies to.
	Endpoint string `json:"endpoint"`

	// Limit is the window size from X-Rate-Limit-Limit (0 when not sent).
	Limit int `json:"limit"`

	// Remaining is the number of requests left, from X-Rate-Limit-Remaining.
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets, from X-Rate-Limit-Reset (epoch seconds).
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when the state was last written from response headers.
	LastUpdate time.Time `json:"last_update"`
}

// defaultState is assumed for endpoints that have not answered yet.
func defaultState(endpoint string) *State {
	now := time.Now()
	return &State{
		Endpoint:   endpoint,
		Remaining:  RemainingThresholdWarning * 10,
		ResetAt:    now,
		LastUpdate: now,
	}
}

// IsStale returns true if the state data is older than the given duration.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *State) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// NeedsBlock returns true if the window is exhausted and has not reset yet.
func (s *State) NeedsBlock() bool {
	return s.Remaining < RemainingThresholdCritical && s.TimeUntilReset() > 0
}

// NeedsThrottling returns true if the window is close to exhaustion.
func (s *State) NeedsThrottling() bool {
	return s.Remaining < RemainingThresholdWarning && !s.NeedsBlock() && s.TimeUntilReset() > 0
}
