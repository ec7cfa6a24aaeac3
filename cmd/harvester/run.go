package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/search-harvester/internal/config"
	"github.com/Sternrassler/search-harvester/pkg/client"
	"github.com/Sternrassler/search-harvester/pkg/logging"
	"github.com/Sternrassler/search-harvester/pkg/metrics"
	"github.com/Sternrassler/search-harvester/pkg/pagination"
	"github.com/Sternrassler/search-harvester/pkg/ratelimit"
	"github.com/Sternrassler/search-harvester/pkg/store"
)

// shutdownSignals stop a run gracefully. Tests replace it.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs one harvest until the result set is exhausted",
		RunE:  runHarvest,
	}
	cmd.Flags().String("query", "", "search query (overrides search.query)")
	return cmd
}

func runHarvest(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.Setup(cfg.LoggerConfig())

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if cfg.Metrics.Addr != "" {
		if _, err := metrics.Serve(ctx, cfg.Metrics.Addr, logging.NewLogger("metrics")); err != nil {
			return err
		}
	}

	clientCfg := cfg.ClientConfig()
	if cfg.Redis.Addr != "" {
		rdb, err := connectRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		clientCfg.StateStore = ratelimit.NewRedisStore(rdb, ratelimit.DefaultKeyPrefix)
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Rate limit state shared via Redis")
	}

	searchClient, err := client.New(clientCfg)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	backend, err := store.Open(ctx, cfg.StoreBackend())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := backend.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("Failed to close store")
		}
	}()

	if err := backend.EnsureSchema(ctx); err != nil {
		return err
	}

	driver := pagination.NewDriver(searchClient, backend, cfg.PaginationConfig(), logging.NewLogger("pagination"))
	run := driver.Start(ctx, cfg.Credentials(), cfg.Search.Query)

	outcome := waitForRun(run, logger)
	printSummary(cmd.OutOrStdout(), cfg.Search.Query, outcome)

	if outcome.Err != nil && !errors.Is(outcome.Err, pagination.ErrStopped) {
		return fmt.Errorf("run %s aborted: %w", outcome.RunID, outcome.Err)
	}
	return nil
}

// waitForRun blocks until the run finishes. The first shutdown signal stops
// the run; the in-flight fetch still completes.
func waitForRun(run *pagination.Run, logger zerolog.Logger) pagination.Outcome {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, shutdownSignals...)
	defer signal.Stop(sigCh)

	select {
	case <-run.Done():
	case sig := <-sigCh:
		logger.Warn().Str("signal", sig.String()).Str("run_id", run.ID()).Msg("Stopping run")
		run.Stop()
	}
	return run.Wait()
}

func connectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

func printSummary(w io.Writer, query string, o pagination.Outcome) {
	status := "completed"
	switch {
	case errors.Is(o.Err, pagination.ErrStopped):
		status = "stopped"
	case o.Err != nil:
		status = "failed"
	}
	fmt.Fprintf(w, "run %s %s: query=%q pages=%d items=%d duration=%s\n",
		o.RunID, status, query, o.Pages, o.Items, o.Duration.Round(time.Millisecond))
	if o.Err != nil {
		fmt.Fprintf(w, "error: %v\n", o.Err)
	}
}
