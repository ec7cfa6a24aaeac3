package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const searchEndpoint = "/1.1/search/tweets.json"

func newTestTracker() *Tracker {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(NewMemoryStore(), logger)
	tracker.SetThrottleDelay(10 * time.Millisecond)
	return tracker
}

func windowHeaders(remaining int, reset time.Time) http.Header {
	headers := http.Header{}
	headers.Set(HeaderLimit, "180")
	headers.Set(HeaderRemaining, strconv.Itoa(remaining))
	headers.Set(HeaderReset, strconv.FormatInt(reset.Unix(), 10))
	return headers
}

func TestUpdateFromHeaders_ValidHeaders(t *testing.T) {
	tracker := newTestTracker()
	ctx := context.Background()
	reset := time.Now().Add(15 * time.Minute)

	if err := tracker.UpdateFromHeaders(ctx, searchEndpoint, windowHeaders(42, reset)); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	state, err := tracker.GetState(ctx, searchEndpoint)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Remaining != 42 {
		t.Errorf("Remaining = %d, want 42", state.Remaining)
	}
	if state.Limit != 180 {
		t.Errorf("Limit = %d, want 180", state.Limit)
	}
	if state.ResetAt.Unix() != reset.Unix() {
		t.Errorf("ResetAt = %v, want %v", state.ResetAt, reset)
	}
}

func TestUpdateFromHeaders_InvalidHeaders(t *testing.T) {
	tracker := newTestTracker()

	tests := []struct {
		name         string
		remainHeader string
		resetHeader  string
		limitHeader  string
		shouldError  bool
	}{
		{
			name:        "missing remain header",
			resetHeader: "1700000000",
			shouldError: false,
		},
		{
			name:         "invalid remain header",
			remainHeader: "invalid",
			resetHeader:  "1700000000",
			shouldError:  true,
		},
		{
			name:         "invalid reset header",
			remainHeader: "100",
			resetHeader:  "soon",
			shouldError:  true,
		},
		{
			name:         "missing reset header",
			remainHeader: "100",
			shouldError:  true,
		},
		{
			name:         "invalid limit header",
			remainHeader: "100",
			resetHeader:  "1700000000",
			limitHeader:  "lots",
			shouldError:  true,
		},
		{
			name:        "all headers missing",
			shouldError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			if tt.remainHeader != "" {
				headers.Set(HeaderRemaining, tt.remainHeader)
			}
			if tt.resetHeader != "" {
				headers.Set(HeaderReset, tt.resetHeader)
			}
			if tt.limitHeader != "" {
				headers.Set(HeaderLimit, tt.limitHeader)
			}

			err := tracker.UpdateFromHeaders(context.Background(), searchEndpoint, headers)

			if tt.shouldError && err == nil {
				t.Error("Expected error but got nil")
			}
			if !tt.shouldError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestShouldAllowRequest(t *testing.T) {
	tests := []struct {
		name      string
		remaining int
		reset     time.Duration
		allowed   bool
	}{
		{name: "healthy", remaining: 150, reset: time.Minute, allowed: true},
		{name: "nearly exhausted", remaining: 2, reset: time.Minute, allowed: true},
		{name: "exhausted", remaining: 0, reset: time.Minute, allowed: false},
		{name: "exhausted but reset", remaining: 0, reset: -time.Minute, allowed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := newTestTracker()
			ctx := context.Background()

			headers := windowHeaders(tt.remaining, time.Now().Add(tt.reset))
			if err := tracker.UpdateFromHeaders(ctx, searchEndpoint, headers); err != nil {
				t.Fatalf("UpdateFromHeaders() error = %v", err)
			}

			allowed, err := tracker.ShouldAllowRequest(ctx, searchEndpoint)
			if err != nil {
				t.Fatalf("ShouldAllowRequest() error = %v", err)
			}
			if allowed != tt.allowed {
				t.Errorf("ShouldAllowRequest() = %v, want %v", allowed, tt.allowed)
			}
		})
	}
}

func TestShouldAllowRequest_EndpointsAreIndependent(t *testing.T) {
	tracker := newTestTracker()
	ctx := context.Background()

	headers := windowHeaders(0, time.Now().Add(time.Minute))
	if err := tracker.UpdateFromHeaders(ctx, "/oauth2/token", headers); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	allowed, err := tracker.ShouldAllowRequest(ctx, searchEndpoint)
	if err != nil {
		t.Fatalf("ShouldAllowRequest() error = %v", err)
	}
	if !allowed {
		t.Error("search endpoint should not be blocked by the token endpoint window")
	}
}

func TestShouldAllowRequest_ThrottleRespectsContext(t *testing.T) {
	tracker := newTestTracker()
	tracker.SetThrottleDelay(time.Hour)

	headers := windowHeaders(1, time.Now().Add(time.Minute))
	if err := tracker.UpdateFromHeaders(context.Background(), searchEndpoint, headers); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	allowed, err := tracker.ShouldAllowRequest(ctx, searchEndpoint)
	if allowed {
		t.Error("ShouldAllowRequest() = true, want false after context deadline")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (*State, error) {
	return nil, errors.New("store down")
}

func (failingStore) Set(context.Context, *State) error {
	return errors.New("store down")
}

func TestTracker_StoreErrors(t *testing.T) {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(failingStore{}, logger)
	ctx := context.Background()

	if _, err := tracker.ShouldAllowRequest(ctx, searchEndpoint); err == nil {
		t.Error("ShouldAllowRequest() expected error from store")
	}
	if err := tracker.UpdateFromHeaders(ctx, searchEndpoint, windowHeaders(10, time.Now())); err == nil {
		t.Error("UpdateFromHeaders() expected error from store")
	}
}

func TestMemoryStore_GetUnknown(t *testing.T) {
	store := NewMemoryStore()
	state, err := store.Get(context.Background(), "/unknown")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if state != nil {
		t.Errorf("Get() = %+v, want nil", state)
	}
}
