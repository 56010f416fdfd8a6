package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/ncsr-ingest/internal/config"
	"github.com/sells-group/ncsr-ingest/internal/discovery"
	"github.com/sells-group/ncsr-ingest/internal/engine"
	"github.com/sells-group/ncsr-ingest/internal/fetcher"
	"github.com/sells-group/ncsr-ingest/internal/store"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "ncsr-ingest",
	Short: "Tiered N-CSR filing ingestion from SEC EDGAR",
	Long:  "Discovers N-CSR/N-CSRS filings from EDGAR daily indexes, routes them to size-based processing tiers, parses SGML/XBRL/HTML content, and persists extracted fund data.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return infraErr(fmt.Errorf("load config: %w", err))
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return infraErr(fmt.Errorf("init logger: %w", err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// Bare invocation behaves like `run`: process yesterday.
		return runDaily(cmd.Context(), "", 0, 0)
	},
}

// exitError carries a process exit code through cobra's error return.
// Infrastructure failures (bad config, unreachable DB) exit 2; everything
// else exits 1. Per-filing failures never fail the process.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func infraErr(err error) error {
	return &exitError{code: 2, err: err}
}

func usageErr(err error) error {
	return &exitError{code: 1, err: err}
}

// openStore validates the config and opens the configured backend.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, infraErr(err)
	}
	st, err := store.Open(ctx, cfg.Store.DatabaseURL, nil)
	if err != nil {
		return nil, infraErr(err)
	}
	return st, nil
}

func newFetcher() *fetcher.HTTPFetcher {
	// rate_limit_delay is seconds between requests, so 0.1 means 10 req/s.
	perSec := rate.Limit(1 / cfg.SEC.RateLimitDelay)
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    cfg.SEC.UserAgent,
		Timeout:      time.Duration(cfg.SEC.TimeoutSecs) * time.Second,
		MaxRetries:   cfg.SEC.MaxRetries,
		RateLimiters: fetcher.RateLimitersAt(perSec, burst),
	})
}

func newEngine(st store.Store) (*engine.Engine, error) {
	f := newFetcher()
	src := discovery.NewSource(f, cfg.SEC.BaseURL)
	eng, err := engine.New(cfg, st, f, src)
	if err != nil {
		return nil, infraErr(err)
	}
	return eng, nil
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var ee *exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	os.Exit(1)
}
