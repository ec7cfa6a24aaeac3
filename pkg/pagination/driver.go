package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/search-harvester/pkg/search"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrStopped is the outcome of a run ended by Stop or by cancelling its context.
var ErrStopped = errors.New("run stopped")

// Fetcher is the interface the search client must implement.
type Fetcher interface {
	FetchToken(ctx context.Context, consumerKey, consumerSecret string) (search.AccessToken, error)
	FetchFirstPage(ctx context.Context, token search.AccessToken, query string) (*search.Page, error)
	FetchNextPage(ctx context.Context, token search.AccessToken, cursor *string) (*search.Page, error)
}

// Upserter persists the items of one page.
type Upserter interface {
	UpsertItems(ctx context.Context, items []search.Item) error
}

// Config holds driver configuration
type Config struct {
	// Interval between cursor fetches.
	Interval time.Duration

	// FetchTimeout bounds one fetch+upsert job, including retries.
	FetchTimeout time.Duration

	// TrailingTick waits one more tick after a page without cursor before
	// finishing, instead of finishing right away.
	TrailingTick bool
}

// DefaultConfig returns the default polling cadence.
func DefaultConfig() Config {
	return Config{
		Interval:     2200 * time.Millisecond,
		FetchTimeout: 30 * time.Second,
	}
}

// Outcome summarizes a finished run.
type Outcome struct {
	RunID    string
	Pages    int
	Items    int
	Duration time.Duration

	// Err is nil when the result set was exhausted cleanly.
	Err error
}

// Succeeded reports whether the run exhausted the result set.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Driver runs paginated harvests.
type Driver struct {
	fetcher  Fetcher
	upserter Upserter
	config   Config
	logger   zerolog.Logger
}

// NewDriver creates a new driver
func NewDriver(fetcher Fetcher, upserter Upserter, config Config, logger zerolog.Logger) *Driver {
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = defaults.FetchTimeout
	}

	return &Driver{
		fetcher:  fetcher,
		upserter: upserter,
		config:   config,
		logger:   logger,
	}
}

// Run is one harvest in progress.
type Run struct {
	id       string
	done     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	outcome  Outcome
}

// ID returns the run id.
func (r *Run) ID() string {
	return r.id
}

// Done is closed exactly once, when the run has terminated.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Stop ends the cadence. A fetch in flight finishes first.
func (r *Run) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Wait blocks until the run terminates and returns its outcome.
func (r *Run) Wait() Outcome {
	<-r.done
	return r.outcome
}

// Outcome returns the outcome if the run has terminated.
func (r *Run) Outcome() (Outcome, bool) {
	select {
	case <-r.done:
		return r.outcome, true
	default:
		return Outcome{}, false
	}
}

// Run harvests query and blocks until the run terminates.
func (d *Driver) Run(ctx context.Context, creds search.Credentials, query string) Outcome {
	return d.Start(ctx, creds, query).Wait()
}

// Start begins harvesting query in the background. Cancelling ctx stops the
// cadence like Stop; jobs already handed to the executor run to completion
// within FetchTimeout.
func (d *Driver) Start(ctx context.Context, creds search.Credentials, query string) *Run {
	run := &Run{
		id:   uuid.NewString(),
		done: make(chan struct{}),
		stop: make(chan struct{}),
	}
	go d.loop(ctx, run, creds, query)
	return run
}

type jobKind int

const (
	jobToken jobKind = iota
	jobFirstPage
	jobNextPage
)

// job is one unit of work for the executor.
type job struct {
	kind   jobKind
	creds  search.Credentials
	token  search.AccessToken
	query  string
	cursor *string
}

type jobResult struct {
	token search.AccessToken
	next  *string
	items int
	err   error
}

// loop owns the run state and the ticker. It hands one job at a time to the
// executor and blocks until the job reports back, so ticks never overlap.
func (d *Driver) loop(ctx context.Context, run *Run, creds search.Credentials, query string) {
	start := time.Now()
	logger := d.logger.With().Str("run_id", run.id).Str("query", query).Logger()

	jobs := make(chan job, 1)
	results := make(chan jobResult, 1)
	go d.executor(ctx, jobs, results)

	outcome := Outcome{RunID: run.id}
	finish := func(err error) {
		close(jobs)
		outcome.Err = err
		outcome.Duration = time.Since(start)
		run.outcome = outcome

		event := logger.Info()
		label := "success"
		switch {
		case errors.Is(err, ErrStopped):
			label = "stopped"
			event = logger.Warn().Err(err)
		case err != nil:
			label = "failed"
			event = logger.Error().Err(err).Str("error_kind", string(search.KindOf(err)))
		}
		runsTotal.WithLabelValues(label).Inc()
		event.
			Int("pages", outcome.Pages).
			Int("items", outcome.Items).
			Dur("duration", outcome.Duration).
			Msg("Run finished")

		close(run.done)
	}

	exec := func(j job) jobResult {
		jobs <- j
		return <-results
	}

	stopped := func() error {
		select {
		case <-run.stop:
			return ErrStopped
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrStopped, ctx.Err())
		default:
			return nil
		}
	}

	logger.Info().Msg("Run started")

	res := exec(job{kind: jobToken, creds: creds})
	if res.err != nil {
		finish(res.err)
		return
	}
	token := res.token

	if err := stopped(); err != nil {
		finish(err)
		return
	}

	res = exec(job{kind: jobFirstPage, token: token, query: query})
	if res.err != nil {
		finish(res.err)
		return
	}
	outcome.Pages++
	outcome.Items += res.items
	cursor := res.next

	seen := make(map[string]struct{})
	if cursor != nil {
		seen[*cursor] = struct{}{}
	}

	logger.Info().Int("page", outcome.Pages).Int("items", res.items).Bool("has_next", cursor != nil).Msg("First page stored")

	if cursor == nil && !d.config.TrailingTick {
		finish(nil)
		return
	}

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-run.stop:
			finish(ErrStopped)
			return
		case <-ctx.Done():
			finish(fmt.Errorf("%w: %w", ErrStopped, ctx.Err()))
			return
		case <-ticker.C:
		}

		res := exec(job{kind: jobNextPage, token: token, cursor: cursor})
		if errors.Is(res.err, search.ErrNoNextResult) {
			ticksTotal.WithLabelValues("exhausted").Inc()
			finish(nil)
			return
		}
		if res.err != nil {
			ticksTotal.WithLabelValues("error").Inc()
			finish(res.err)
			return
		}
		ticksTotal.WithLabelValues("page").Inc()

		outcome.Pages++
		outcome.Items += res.items

		logger.Info().Int("page", outcome.Pages).Int("items", res.items).Bool("has_next", res.next != nil).Msg("Page stored")

		if res.next != nil {
			if _, ok := seen[*res.next]; ok {
				finish(search.Errorf(search.KindProtocol, "follow cursor", "cursor %q already followed in this run", *res.next))
				return
			}
			seen[*res.next] = struct{}{}
		}
		cursor = res.next

		if cursor == nil && !d.config.TrailingTick {
			finish(nil)
			return
		}
	}
}

// executor performs jobs until jobs is closed. Job contexts are detached from
// the run's cancellation and bounded by FetchTimeout.
func (d *Driver) executor(ctx context.Context, jobs <-chan job, results chan<- jobResult) {
	base := context.WithoutCancel(ctx)
	for j := range jobs {
		results <- d.execute(base, j)
	}
}

func (d *Driver) execute(base context.Context, j job) jobResult {
	ctx, cancel := context.WithTimeout(base, d.config.FetchTimeout)
	defer cancel()

	fetchesInFlight.Inc()
	defer fetchesInFlight.Dec()

	var page *search.Page
	var err error
	switch j.kind {
	case jobToken:
		token, err := d.fetcher.FetchToken(ctx, j.creds.ConsumerKey, j.creds.ConsumerSecret)
		return jobResult{token: token, err: err}
	case jobFirstPage:
		page, err = d.fetcher.FetchFirstPage(ctx, j.token, j.query)
	case jobNextPage:
		page, err = d.fetcher.FetchNextPage(ctx, j.token, j.cursor)
	default:
		return jobResult{err: fmt.Errorf("unknown job kind %d", j.kind)}
	}
	if err != nil {
		return jobResult{err: err}
	}
	if page == nil {
		return jobResult{err: search.Errorf(search.KindDecode, "fetch page", "no page returned")}
	}

	if err := d.upserter.UpsertItems(ctx, page.Items); err != nil {
		if search.KindOf(err) == "" {
			err = search.Wrap(search.KindStore, "upsert items", err)
		}
		return jobResult{err: err}
	}

	pagesTotal.Inc()
	itemsUpsertedTotal.Add(float64(len(page.Items)))

	next := page.Metadata.NextCursor
	if next != nil && *next == "" {
		next = nil
	}
	return jobResult{next: next, items: len(page.Items)}
}
