package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ignaciolinari/discogs-SR/internal/config"
)

var (
	cfgFile  string
	logLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "discogs-sr",
		Short: "discogs-sr — Discogs HTML crawler feeding a recommendation dataset",
		Long: `discogs-sr crawls Discogs search and release pages at a polite pace and
persists releases, users, and their collection/wantlist/rating edges
into a local SQLite database for downstream recommendation work.`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(scrapeCmd())
	rootCmd.AddCommand(refreshCookiesCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("discogs-sr %s\n", config.Version)
		},
	}
}

// configCmd prints the effective configuration after file and
// environment resolution.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("Session:\n")
			fmt.Printf("  Base URL:          %s\n", cfg.Session.BaseURL)
			fmt.Printf("  Min Delay:         %s\n", cfg.Session.MinDelay)
			fmt.Printf("  Delay Jitter:      %s\n", cfg.Session.DelayJitter)
			fmt.Printf("  Max Retries:       %d\n", cfg.Session.MaxRetries)
			fmt.Printf("  Backoff Factor:    %.2f\n", cfg.Session.BackoffFactor)
			fmt.Printf("  Cloudflare Bypass: %v\n", cfg.Session.CloudflareBypass)
			fmt.Printf("  User Agents:       %d configured\n", len(cfg.Session.UserAgents))
			fmt.Printf("\nAuth:\n")
			fmt.Printf("  Cookies File:      %s\n", cfg.Auth.CookiesFile)
			fmt.Printf("  Cookie Refresh:    %s\n", cfg.Auth.CookieRefresh)
			fmt.Printf("  Headers File:      %s\n", cfg.Auth.HeadersFile)
			fmt.Printf("\nCrawl:\n")
			fmt.Printf("  Search Path:       %s\n", cfg.Crawl.SearchPath)
			fmt.Printf("  Sort:              %s\n", cfg.Crawl.Sort)
			fmt.Printf("  Max Pages:         %d\n", cfg.Crawl.MaxPages)
			fmt.Printf("  Release Limit:     %d\n", cfg.Crawl.ReleaseLimit)
			fmt.Printf("  Commit Every:      %d\n", cfg.Crawl.CommitEvery)
			fmt.Printf("  Max User Pages:    %d\n", cfg.Crawl.MaxUserPages)
			fmt.Printf("  User Profiles:     %v\n", cfg.Crawl.FetchUserProfiles)
			fmt.Printf("  Extended Users:    %v\n", cfg.Crawl.FetchExtendedUsers)
			fmt.Printf("\nStorage:\n")
			fmt.Printf("  Path:              %s\n", cfg.Storage.Path)
			fmt.Printf("\nBrowser:\n")
			fmt.Printf("  Profile Dir:       %s\n", cfg.Browser.UserDataDir)
			fmt.Printf("  Refresh Interval:  %s\n", cfg.Browser.RefreshInterval)
			fmt.Printf("  Headless:          %v\n", cfg.Browser.Headless)
			return nil
		},
	}
}

// setupLogger creates a structured logger per the logging config,
// optionally overridden by --log-level.
func setupLogger(cfg *config.LoggingConfig) *slog.Logger {
	levelName := cfg.Level
	if logLevel != "" {
		levelName = logLevel
	}

	level := slog.LevelInfo
	switch strings.ToLower(levelName) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
