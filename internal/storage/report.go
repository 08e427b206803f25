package storage

import (
	"context"

	"github.com/ignaciolinari/discogs-SR/internal/types"
)

// HealthReport audits the data the crawl has accumulated. It is read
// by the stats command and by operators watching long runs.
type HealthReport struct {
	TotalItems         int
	ValidItems         int
	UnknownTitles      int
	UnknownArtists     int
	NullYears          int
	InvalidYears       int
	MissingSource      int
	DirectReleases     int
	MasterConsolidated int

	TotalUsers         int
	TotalInteractions  int
	InteractionsByType map[string]int
}

// HealthScore is the share of items with a real title and artist, in
// percent. Zero items scores 100.
func (r *HealthReport) HealthScore() float64 {
	if r.TotalItems == 0 {
		return 100
	}
	return float64(r.ValidItems) / float64(r.TotalItems) * 100
}

// Report builds a HealthReport from the current table contents.
func (d *DB) Report(ctx context.Context) (*HealthReport, error) {
	report := &HealthReport{InteractionsByType: map[string]int{}}

	scalars := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM items", &report.TotalItems},
		{`SELECT COUNT(*) FROM items
			WHERE title IS NOT NULL AND title != '' AND title != 'Unknown Title'
			  AND artist IS NOT NULL AND artist != '' AND artist != 'Unknown Artist'`, &report.ValidItems},
		{"SELECT COUNT(*) FROM items WHERE title = 'Unknown Title'", &report.UnknownTitles},
		{"SELECT COUNT(*) FROM items WHERE artist = 'Unknown Artist'", &report.UnknownArtists},
		{"SELECT COUNT(*) FROM items WHERE year IS NULL", &report.NullYears},
		{"SELECT COUNT(*) FROM items WHERE year < 1900 OR year > 2100", &report.InvalidYears},
		{"SELECT COUNT(*) FROM items WHERE source_release_id IS NULL", &report.MissingSource},
		{"SELECT COUNT(*) FROM items WHERE item_id = source_release_id", &report.DirectReleases},
		{"SELECT COUNT(*) FROM items WHERE item_id != source_release_id", &report.MasterConsolidated},
		{"SELECT COUNT(*) FROM users", &report.TotalUsers},
		{"SELECT COUNT(*) FROM interactions", &report.TotalInteractions},
	}
	for _, s := range scalars {
		if err := d.QueryRowContext(ctx, s.query).Scan(s.dest); err != nil {
			return nil, &types.StorageError{Op: "report", Err: err}
		}
	}

	rows, err := d.QueryContext(ctx,
		"SELECT interaction_type, COUNT(*) FROM interactions GROUP BY interaction_type",
	)
	if err != nil {
		return nil, &types.StorageError{Op: "report", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var (
			kind  string
			count int
		)
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, &types.StorageError{Op: "report", Err: err}
		}
		report.InteractionsByType[kind] = count
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StorageError{Op: "report", Err: err}
	}
	return report, nil
}
