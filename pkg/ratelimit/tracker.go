package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	rateLimitRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "search_rate_limit_remaining",
		Help: "Requests remaining in the current rate limit window by endpoint",
	}, []string{"endpoint"})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "search_rate_limit_blocks_total",
		Help: "Total number of requests blocked because the endpoint window was exhausted",
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "search_rate_limit_throttles_total",
		Help: "Total number of requests throttled because the endpoint window was nearly exhausted",
	})
)

// DefaultThrottleDelay is the pause applied to a request in the warning range.
const DefaultThrottleDelay = 1 * time.Second

// Tracker monitors endpoint rate limit windows and gates requests.
type Tracker struct {
	store         StateStore
	logger        zerolog.Logger
	throttleDelay time.Duration
}

// NewTracker creates a new rate limit tracker. A nil store selects a MemoryStore.
func NewTracker(store StateStore, logger zerolog.Logger) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Tracker{
		store:         store,
		logger:        logger,
		throttleDelay: DefaultThrottleDelay,
	}
}

// SetThrottleDelay overrides the pause applied in the warning range.
func (t *Tracker) SetThrottleDelay(d time.Duration) {
	t.throttleDelay = d
}

// GetState returns the window of an endpoint, or a healthy default when the
// endpoint has not reported one yet.
func (t *Tracker) GetState(ctx context.Context, endpoint string) (*State, error) {
	state, err := t.store.Get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if state == nil {
		t.logger.Debug().Str("endpoint", endpoint).Msg("No rate limit state, assuming healthy window")
		return defaultState(endpoint), nil
	}
	return state, nil
}

// UpdateFromHeaders parses the rate limit headers of a response and stores
// the window. Responses without X-Rate-Limit-Remaining are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, endpoint string, headers http.Header) error {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return fmt.Errorf("%s header missing", HeaderReset)
	}
	resetEpoch, err := strconv.ParseInt(resetStr, 10, 64)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	var limit int
	if limitStr := headers.Get(HeaderLimit); limitStr != "" {
		if limit, err = strconv.Atoi(limitStr); err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderLimit, err)
		}
	}

	state := &State{
		Endpoint:   endpoint,
		Limit:      limit,
		Remaining:  remain,
		ResetAt:    time.Unix(resetEpoch, 0),
		LastUpdate: time.Now(),
	}

	if err := t.store.Set(ctx, state); err != nil {
		return err
	}

	rateLimitRemaining.WithLabelValues(endpoint).Set(float64(remain))

	switch {
	case state.NeedsBlock():
		t.logger.Error().
			Str("endpoint", endpoint).
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit window exhausted - requests will be blocked")
	case state.NeedsThrottling():
		t.logger.Warn().
			Str("endpoint", endpoint).
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit window nearly exhausted - requests will be throttled")
	default:
		t.logger.Debug().
			Str("endpoint", endpoint).
			Int("remaining", remain).
			Int("limit", limit).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit state updated")
	}

	return nil
}

// ShouldAllowRequest reports whether a request to endpoint may be sent.
// It returns false while the window is exhausted and, in the warning range,
// waits for the throttle delay or until ctx is done.
func (t *Tracker) ShouldAllowRequest(ctx context.Context, endpoint string) (bool, error) {
	state, err := t.GetState(ctx, endpoint)
	if err != nil {
		return false, fmt.Errorf("get rate limit state: %w", err)
	}

	if state.NeedsBlock() {
		t.logger.Error().
			Str("endpoint", endpoint).
			Int("remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Rate limit window exhausted - blocking request")

		rateLimitBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling() {
		t.logger.Warn().
			Str("endpoint", endpoint).
			Int("remaining", state.Remaining).
			Msg("Rate limit window nearly exhausted - throttling request")

		rateLimitThrottlesTotal.Inc()

		timer := time.NewTimer(t.throttleDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	return true, nil
}
