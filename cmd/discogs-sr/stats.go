package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ignaciolinari/discogs-SR/internal/config"
	"github.com/ignaciolinari/discogs-SR/internal/storage"
)

var statsDBPath string

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Audit the scraped database and print a health report",
		RunE:  runStats,
	}
	cmd.Flags().StringVar(&statsDBPath, "db-path", "", "SQLite database path")
	return cmd
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if statsDBPath != "" {
		cfg.Storage.Path = statsDBPath
	}

	logger := setupLogger(&cfg.Logging)

	db, err := storage.Open(cfg.Storage.Path, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	report, err := db.Report(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Database: %s\n\n", cfg.Storage.Path)
	fmt.Printf("Items:\n")
	fmt.Printf("  Total:               %d\n", report.TotalItems)
	fmt.Printf("  Valid:               %d\n", report.ValidItems)
	fmt.Printf("  Unknown titles:      %d\n", report.UnknownTitles)
	fmt.Printf("  Unknown artists:     %d\n", report.UnknownArtists)
	fmt.Printf("  Missing year:        %d\n", report.NullYears)
	fmt.Printf("  Implausible year:    %d\n", report.InvalidYears)
	fmt.Printf("\nCanonicalization:\n")
	fmt.Printf("  Direct releases:     %d\n", report.DirectReleases)
	fmt.Printf("  Master consolidated: %d\n", report.MasterConsolidated)
	fmt.Printf("  Missing source id:   %d\n", report.MissingSource)
	fmt.Printf("\nUsers:        %d\n", report.TotalUsers)
	fmt.Printf("Interactions: %d\n", report.TotalInteractions)

	kinds := make([]string, 0, len(report.InteractionsByType))
	for kind := range report.InteractionsByType {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Printf("  %-12s %d\n", kind, report.InteractionsByType[kind])
	}

	fmt.Printf("\nHealth score: %.2f%%\n", report.HealthScore())
	return nil
}
