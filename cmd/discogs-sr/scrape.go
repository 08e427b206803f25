package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ignaciolinari/discogs-SR/internal/config"
	"github.com/ignaciolinari/discogs-SR/internal/fetcher"
	"github.com/ignaciolinari/discogs-SR/internal/pipeline"
	"github.com/ignaciolinari/discogs-SR/internal/storage"
	"github.com/ignaciolinari/discogs-SR/internal/types"
)

var (
	scrapeSort          string
	scrapeReleaseType   string
	scrapeMaxPages      int
	scrapeReleaseLimit  int
	scrapeMinDelay      time.Duration
	scrapeDelayJitter   time.Duration
	scrapeMaxRetries    int
	scrapeBackoff       float64
	scrapeMaxUserPages  int
	scrapeCookiesFile   string
	scrapeCookieRefresh time.Duration
	scrapeHeadersFile   string
	scrapeDumpDir       string
	scrapeCommitEvery   int
	scrapeDBPath        string
	scrapeSkipProfiles  bool
	scrapeNoExtended    bool
)

func scrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Crawl search results and ingest releases, users, and interactions",
		RunE:  runScrape,
	}

	cmd.Flags().StringVar(&scrapeSort, "sort", "", "search sort parameter (default have,desc)")
	cmd.Flags().StringVar(&scrapeReleaseType, "release-type", "", "search type filter (default release)")
	cmd.Flags().IntVar(&scrapeMaxPages, "max-pages", 0, "maximum search result pages to crawl")
	cmd.Flags().IntVar(&scrapeReleaseLimit, "release-limit", 0, "overall release cap across pages (0 = unlimited)")
	cmd.Flags().DurationVar(&scrapeMinDelay, "min-delay", 0, "minimum delay between requests")
	cmd.Flags().DurationVar(&scrapeDelayJitter, "delay-jitter", 0, "extra random delay added to each request")
	cmd.Flags().IntVar(&scrapeMaxRetries, "max-retries", -1, "retries for transient HTTP failures")
	cmd.Flags().Float64Var(&scrapeBackoff, "backoff-factor", 0, "backoff multiplier between retries")
	cmd.Flags().IntVar(&scrapeMaxUserPages, "max-user-pages", -1, "extra user-listing pages fetched per release")
	cmd.Flags().StringVar(&scrapeCookiesFile, "cookies-file", "", "cookie export file (JSON or Netscape)")
	cmd.Flags().DurationVar(&scrapeCookieRefresh, "cookies-refresh", 0, "interval between cookie file reloads")
	cmd.Flags().StringVar(&scrapeHeadersFile, "headers-file", "", "JSON file of headers merged into every request")
	cmd.Flags().StringVar(&scrapeDumpDir, "debug-dump-dir", "", "directory for HTML snapshots of failed parses")
	cmd.Flags().IntVar(&scrapeCommitEvery, "commit-every", 0, "commit after every N releases")
	cmd.Flags().StringVar(&scrapeDBPath, "db-path", "", "SQLite database path")
	cmd.Flags().BoolVar(&scrapeSkipProfiles, "skip-user-profiles", false, "do not fetch user profile pages")
	cmd.Flags().BoolVar(&scrapeNoExtended, "no-extended-users", false, "do not fetch extended have/want user lists")

	return cmd
}

func runScrape(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyScrapeOverrides(cfg)
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := setupLogger(&cfg.Logging)

	session, err := fetcher.NewSession(&cfg.Session, &cfg.Auth, logger)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if cfg.Auth.CookiesFile == "" {
		logger.Info("scraping without authenticated cookies; have/want user lists may stay empty")
	}

	db, err := storage.Open(cfg.Storage.Path, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// A termination signal cancels the crawl; the pipeline commits
	// buffered work before returning, and the process then exits via
	// the signal's default disposition.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	var received os.Signal
	go func() {
		received = <-sigCh
		logger.Warn("received signal, committing progress before exit", "signal", received)
		cancel()
	}()

	if err := db.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	store := storage.NewStore(db, logger)
	pipe := pipeline.New(&cfg.Crawl, session, store, logger)

	logger.Info("starting crawl",
		"sort", cfg.Crawl.Sort,
		"max_pages", cfg.Crawl.MaxPages,
		"release_limit", cfg.Crawl.ReleaseLimit,
		"commit_every", cfg.Crawl.CommitEvery,
		"db", cfg.Storage.Path,
	)

	stats, runErr := pipe.Run(ctx)
	if stats != nil {
		sessionStats := session.Stats()
		logger.Info("crawl finished",
			"releases_processed", stats.ReleasesProcessed,
			"items_added", stats.ItemsAdded,
			"users_added", stats.UsersAdded,
			"interactions_added", stats.InteractionsAdded,
			"total_items", stats.TotalItems,
			"total_users", stats.TotalUsers,
			"total_interactions", stats.TotalInteractions,
			"requests", sessionStats.Requests,
			"retries", sessionStats.Retries,
			"rate_limit_hits", sessionStats.RateLimitHits,
		)
	}

	if errors.Is(runErr, types.ErrInterrupted) && received != nil {
		db.Close()
		signal.Reset(received)
		if sig, ok := received.(syscall.Signal); ok {
			syscall.Kill(os.Getpid(), sig)
		}
		return nil
	}
	return runErr
}

func applyScrapeOverrides(cfg *config.Config) {
	if scrapeSort != "" {
		cfg.Crawl.Sort = scrapeSort
	}
	if scrapeReleaseType != "" {
		cfg.Crawl.ReleaseType = scrapeReleaseType
	}
	if scrapeMaxPages > 0 {
		cfg.Crawl.MaxPages = scrapeMaxPages
	}
	if scrapeReleaseLimit > 0 {
		cfg.Crawl.ReleaseLimit = scrapeReleaseLimit
	}
	if scrapeMinDelay > 0 {
		cfg.Session.MinDelay = scrapeMinDelay
	}
	if scrapeDelayJitter > 0 {
		cfg.Session.DelayJitter = scrapeDelayJitter
	}
	if scrapeMaxRetries >= 0 {
		cfg.Session.MaxRetries = scrapeMaxRetries
	}
	if scrapeBackoff > 0 {
		cfg.Session.BackoffFactor = scrapeBackoff
	}
	if scrapeMaxUserPages >= 0 {
		cfg.Crawl.MaxUserPages = scrapeMaxUserPages
	}
	if scrapeCookiesFile != "" {
		cfg.Auth.CookiesFile = scrapeCookiesFile
	}
	if scrapeCookieRefresh > 0 {
		cfg.Auth.CookieRefresh = scrapeCookieRefresh
	}
	if scrapeHeadersFile != "" {
		cfg.Auth.HeadersFile = scrapeHeadersFile
	}
	if scrapeDumpDir != "" {
		cfg.Crawl.DebugDumpDir = scrapeDumpDir
	}
	if scrapeCommitEvery > 0 {
		cfg.Crawl.CommitEvery = scrapeCommitEvery
	}
	if scrapeDBPath != "" {
		cfg.Storage.Path = scrapeDBPath
	}
	if scrapeSkipProfiles {
		cfg.Crawl.FetchUserProfiles = false
	}
	if scrapeNoExtended {
		cfg.Crawl.FetchExtendedUsers = false
	}
}
