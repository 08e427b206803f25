package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ignaciolinari/discogs-SR/internal/types"
)

// Interaction types recorded by the crawl.
const (
	InteractionCollection = "collection"
	InteractionWantlist   = "wantlist"
	InteractionRating     = "rating"
)

// ItemRecord is everything an item upsert writes: the canonical id,
// the concrete pressing it was observed under, and the parsed fields.
type ItemRecord struct {
	ItemID          int
	SourceReleaseID int
	Title           string
	Artists         string
	Year            int
	Genres          []string
	Styles          []string
	ImageURL        string
	Country         string
	Released        string
	FormatSummary   string
	LabelSummary    string
	Labels          []types.LabelCredit
	Formats         []types.FormatInfo
}

// InteractionRecord is one (user, item, type) edge.
type InteractionRecord struct {
	UserID     string
	ItemID     int
	Type       string
	Rating     *float64
	DateAdded  string
	Source     string
	ReviewText string
}

// TableCounts is a snapshot of the three main table sizes.
type TableCounts struct {
	Users        int
	Items        int
	Interactions int
}

// Store runs the upsert vocabulary against the database, inside an
// explicit transaction when one is open. The crawl is the only writer,
// so there is no locking here.
type Store struct {
	db     *DB
	tx     *sql.Tx
	logger *slog.Logger
}

// NewStore creates a store over an opened database.
func NewStore(db *DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger.With("component", "store")}
}

// Begin opens the checkpoint transaction. Writes between Begin and
// Commit become durable together.
func (s *Store) Begin(ctx context.Context) error {
	if s.tx != nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &types.StorageError{Op: "begin", Err: err}
	}
	s.tx = tx
	return nil
}

// Commit commits the open transaction. Committing with none open is a
// no-op so the signal-flush path can call it unconditionally.
func (s *Store) Commit() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit()
	s.tx = nil
	if err != nil {
		return &types.StorageError{Op: "commit", Err: err}
	}
	return nil
}

// Rollback discards the open transaction, if any.
func (s *Store) Rollback() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	if err != nil {
		return &types.StorageError{Op: "rollback", Err: err}
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) conn() execer {
	if s.tx != nil {
		return s.tx
	}
	return s.db.DB
}

// UpsertUser writes a user row, preferring existing non-null values
// for fields the new sighting left blank.
func (s *Store) UpsertUser(ctx context.Context, profile *types.UserProfile) error {
	joined := ""
	if !profile.JoinDate.IsZero() {
		joined = profile.JoinDate.Format("2006-01-02")
	}

	_, err := s.conn().ExecContext(ctx, `
		INSERT INTO users (user_id, username, location, joined_date)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			username=excluded.username,
			location=COALESCE(excluded.location, users.location),
			joined_date=COALESCE(excluded.joined_date, users.joined_date)`,
		profile.UserID, profile.Username, nullString(profile.Location), nullString(joined),
	)
	if err != nil {
		return &types.StorageError{Op: "upsert_user", Err: err}
	}
	return nil
}

// UpsertItem writes an item row keyed by canonical id. On conflict the
// existing non-empty title/artist win over blanks, scalar fields
// coalesce toward existing values, and genre/style always refresh to
// the latest parse. The normalized label, genre, style, and format
// tables are fanned out in the same call.
func (s *Store) UpsertItem(ctx context.Context, rec ItemRecord) error {
	title := rec.Title
	if title == "" {
		title = "Unknown Title"
	}
	artists := rec.Artists
	if artists == "" {
		artists = "Unknown Artist"
	}

	_, err := s.conn().ExecContext(ctx, `
		INSERT INTO items (
			item_id, source_release_id, title, artist, year,
			genre, style, image_url, country, released,
			format_summary, label_summary
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			source_release_id=COALESCE(excluded.source_release_id, items.source_release_id),
			title=CASE WHEN excluded.title IS NOT NULL AND excluded.title != '' THEN excluded.title ELSE items.title END,
			artist=CASE WHEN excluded.artist IS NOT NULL AND excluded.artist != '' THEN excluded.artist ELSE items.artist END,
			year=COALESCE(excluded.year, items.year),
			genre=excluded.genre,
			style=excluded.style,
			image_url=COALESCE(excluded.image_url, items.image_url),
			country=COALESCE(excluded.country, items.country),
			released=COALESCE(excluded.released, items.released),
			format_summary=COALESCE(excluded.format_summary, items.format_summary),
			label_summary=COALESCE(excluded.label_summary, items.label_summary)`,
		rec.ItemID, nullInt(rec.SourceReleaseID), title, artists, nullInt(rec.Year),
		JoinMultiValue(rec.Genres), JoinMultiValue(rec.Styles), nullString(rec.ImageURL),
		nullString(rec.Country), nullString(rec.Released),
		nullString(rec.FormatSummary), nullString(rec.LabelSummary),
	)
	if err != nil {
		return &types.StorageError{Op: "upsert_item", Err: err}
	}

	if err := s.linkLabels(ctx, rec.ItemID, rec.Labels); err != nil {
		return err
	}
	if err := s.linkTags(ctx, rec.ItemID, "genres", "genre_id", "item_genres", rec.Genres); err != nil {
		return err
	}
	if err := s.linkTags(ctx, rec.ItemID, "styles", "style_id", "item_styles", rec.Styles); err != nil {
		return err
	}
	return s.linkFormats(ctx, rec.ItemID, rec.Formats)
}

func (s *Store) linkLabels(ctx context.Context, itemID int, labels []types.LabelCredit) error {
	for _, credit := range labels {
		// Credits whose link carried no numeric id stay summary-only.
		if credit.LabelID == 0 || credit.Name == "" {
			continue
		}
		if _, err := s.conn().ExecContext(ctx, `
			INSERT INTO labels (label_id, name) VALUES (?, ?)
			ON CONFLICT(label_id) DO UPDATE SET name=excluded.name`,
			credit.LabelID, credit.Name,
		); err != nil {
			return &types.StorageError{Op: "link_labels", Err: err}
		}
		if _, err := s.conn().ExecContext(ctx, `
			INSERT OR IGNORE INTO item_labels (item_id, label_id, catalog_number)
			VALUES (?, ?, ?)`,
			itemID, credit.LabelID, credit.CatalogNumber,
		); err != nil {
			return &types.StorageError{Op: "link_labels", Err: err}
		}
	}
	return nil
}

// linkTags handles the genres and styles side tables, which share a
// (id, unique name) shape.
func (s *Store) linkTags(ctx context.Context, itemID int, table, idColumn, junction string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, err := s.conn().ExecContext(ctx,
			fmt.Sprintf("INSERT OR IGNORE INTO %s (name) VALUES (?)", table), name,
		); err != nil {
			return &types.StorageError{Op: "link_" + table, Err: err}
		}
		var tagID int
		if err := s.conn().QueryRowContext(ctx,
			fmt.Sprintf("SELECT %s FROM %s WHERE name = ?", idColumn, table), name,
		).Scan(&tagID); err != nil {
			return &types.StorageError{Op: "link_" + table, Err: err}
		}
		if _, err := s.conn().ExecContext(ctx,
			fmt.Sprintf("INSERT OR IGNORE INTO %s (item_id, %s) VALUES (?, ?)", junction, idColumn),
			itemID, tagID,
		); err != nil {
			return &types.StorageError{Op: "link_" + table, Err: err}
		}
	}
	return nil
}

func (s *Store) linkFormats(ctx context.Context, itemID int, formats []types.FormatInfo) error {
	for _, format := range formats {
		if format.Name == "" {
			continue
		}
		quantity := format.Quantity
		if quantity == 0 {
			quantity = 1
		}
		description := strings.Join(format.Descriptions, ", ")

		var formatID int
		err := s.conn().QueryRowContext(ctx, `
			SELECT format_id FROM formats
			WHERE name = ? AND quantity = ? AND IFNULL(description, '') = ?`,
			format.Name, quantity, description,
		).Scan(&formatID)
		if err == sql.ErrNoRows {
			result, insErr := s.conn().ExecContext(ctx,
				`INSERT INTO formats (name, quantity, description) VALUES (?, ?, ?)`,
				format.Name, quantity, description,
			)
			if insErr != nil {
				return &types.StorageError{Op: "link_formats", Err: insErr}
			}
			id, idErr := result.LastInsertId()
			if idErr != nil {
				return &types.StorageError{Op: "link_formats", Err: idErr}
			}
			formatID = int(id)
		} else if err != nil {
			return &types.StorageError{Op: "link_formats", Err: err}
		}

		if _, err := s.conn().ExecContext(ctx, `
			INSERT OR IGNORE INTO item_formats (item_id, format_id, notes)
			VALUES (?, ?, ?)`,
			itemID, formatID, nullString(format.Notes),
		); err != nil {
			return &types.StorageError{Op: "link_formats", Err: err}
		}
	}
	return nil
}

// RecordInteraction upserts one (user, item, type) edge. Re-sighting
// refreshes the rating and keeps the earliest date seen.
func (s *Store) RecordInteraction(ctx context.Context, rec InteractionRecord) error {
	_, err := s.conn().ExecContext(ctx, `
		INSERT INTO interactions (user_id, item_id, interaction_type, rating, source, date_added, review_text)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, item_id, interaction_type) DO UPDATE SET
			rating=excluded.rating,
			date_added=COALESCE(excluded.date_added, interactions.date_added),
			review_text=COALESCE(excluded.review_text, interactions.review_text)`,
		rec.UserID, rec.ItemID, rec.Type, nullFloat(rec.Rating),
		nullString(rec.Source), nullString(rec.DateAdded), nullString(rec.ReviewText),
	)
	if err != nil {
		return &types.StorageError{Op: "record_interaction", Err: err}
	}
	return nil
}

// FindUser looks a user up by id or username, case-insensitively.
func (s *Store) FindUser(ctx context.Context, key string) (*types.UserProfile, bool, error) {
	lower := strings.ToLower(strings.TrimSpace(key))
	var (
		userID   string
		username sql.NullString
		location sql.NullString
	)
	err := s.conn().QueryRowContext(ctx, `
		SELECT user_id, username, location
		FROM users
		WHERE lower(user_id) = ? OR lower(username) = ?`,
		lower, lower,
	).Scan(&userID, &username, &location)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &types.StorageError{Op: "find_user", Err: err}
	}
	return &types.UserProfile{
		UserID:   userID,
		Username: username.String,
		Location: location.String,
	}, true, nil
}

// Counts returns the current sizes of the users, items, and
// interactions tables.
func (s *Store) Counts(ctx context.Context) (TableCounts, error) {
	var counts TableCounts
	for _, q := range []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM users", &counts.Users},
		{"SELECT COUNT(*) FROM items", &counts.Items},
		{"SELECT COUNT(*) FROM interactions", &counts.Interactions},
	} {
		if err := s.conn().QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return TableCounts{}, &types.StorageError{Op: "counts", Err: err}
		}
	}
	return counts, nil
}

// InteractionExists reports whether a (user, item, type) edge is stored.
func (s *Store) InteractionExists(ctx context.Context, userID string, itemID int, interactionType string) (bool, error) {
	var one int
	err := s.conn().QueryRowContext(ctx, `
		SELECT 1 FROM interactions
		WHERE user_id = ? AND item_id = ? AND interaction_type = ?`,
		userID, itemID, interactionType,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, &types.StorageError{Op: "interaction_exists", Err: err}
	}
	return true, nil
}

// JoinMultiValue stores a tag list as sorted, deduplicated,
// comma-joined text. SplitMultiValue reads it (and the historical
// pipe-delimited form) back.
func JoinMultiValue(values []string) string {
	set := map[string]bool{}
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			set[v] = true
		}
	}
	unique := make([]string, 0, len(set))
	for v := range set {
		unique = append(unique, v)
	}
	sort.Strings(unique)
	return strings.Join(unique, ", ")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
