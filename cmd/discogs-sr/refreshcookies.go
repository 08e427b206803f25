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
)

var (
	refreshOutput   string
	refreshInterval time.Duration
	refreshDataDir  string
	refreshHeadful  bool
	refreshOnce     bool
)

func refreshCookiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh-cookies",
		Short: "Keep the cookie export file fresh using a real browser profile",
		Long: `Drives a persistent Chromium profile to the site and exports its cookies
to the file the scraper reads. The first run is typically headful so
you can log in once; the profile keeps the login for later runs.`,
		RunE: runRefreshCookies,
	}

	cmd.Flags().StringVarP(&refreshOutput, "output", "o", "", "cookie file to write (defaults to auth.cookies_file)")
	cmd.Flags().DurationVar(&refreshInterval, "interval", 0, "time between refreshes")
	cmd.Flags().StringVar(&refreshDataDir, "user-data-dir", "", "persistent browser profile directory")
	cmd.Flags().BoolVar(&refreshHeadful, "headful", false, "show the browser window (needed for first login)")
	cmd.Flags().BoolVar(&refreshOnce, "once", false, "refresh once and exit instead of looping")

	return cmd
}

func runRefreshCookies(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if refreshInterval > 0 {
		cfg.Browser.RefreshInterval = refreshInterval
	}
	if refreshDataDir != "" {
		cfg.Browser.UserDataDir = refreshDataDir
	}
	if refreshHeadful {
		cfg.Browser.Headless = false
	}

	output := refreshOutput
	if output == "" {
		output = cfg.Auth.CookiesFile
	}
	if output == "" {
		return fmt.Errorf("no output file: pass --output or set auth.cookies_file")
	}

	logger := setupLogger(&cfg.Logging)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	refresher := fetcher.NewCookieRefresher(&cfg.Browser, cfg.Session.BaseURL, output, logger)
	if refreshOnce {
		defer refresher.Close()
		return refresher.RefreshOnce(ctx)
	}

	err = refresher.Run(ctx)
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "cookie refresher stopped")
		return nil
	}
	return err
}
