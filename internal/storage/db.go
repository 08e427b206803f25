package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/ignaciolinari/discogs-SR/internal/types"
)

// DB wraps the SQLite handle. The crawl is single-writer, so the pool
// is pinned to one connection to keep transactions coherent.
type DB struct {
	*sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the SQLite database at path.
func Open(path string, logger *slog.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &types.StorageError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, &types.StorageError{Op: "pragma", Err: err}
		}
	}

	return &DB{DB: db, logger: logger.With("component", "storage")}, nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT,
		location TEXT,
		joined_date TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		item_id INTEGER PRIMARY KEY,
		source_release_id INTEGER,
		title TEXT,
		artist TEXT,
		genre TEXT,
		style TEXT,
		country TEXT,
		released TEXT,
		year INTEGER,
		image_url TEXT,
		format_summary TEXT,
		label_summary TEXT,
		community_have INTEGER DEFAULT 0,
		community_want INTEGER DEFAULT 0,
		community_rating_average REAL DEFAULT 0,
		community_rating_count INTEGER DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS labels (
		label_id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		country TEXT,
		profile TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS item_labels (
		item_id INTEGER NOT NULL,
		label_id INTEGER NOT NULL,
		catalog_number TEXT,
		PRIMARY KEY (item_id, label_id, catalog_number),
		FOREIGN KEY (item_id) REFERENCES items(item_id) ON DELETE CASCADE,
		FOREIGN KEY (label_id) REFERENCES labels(label_id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS genres (
		genre_id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS item_genres (
		item_id INTEGER NOT NULL,
		genre_id INTEGER NOT NULL,
		PRIMARY KEY (item_id, genre_id),
		FOREIGN KEY (item_id) REFERENCES items(item_id) ON DELETE CASCADE,
		FOREIGN KEY (genre_id) REFERENCES genres(genre_id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS styles (
		style_id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS item_styles (
		item_id INTEGER NOT NULL,
		style_id INTEGER NOT NULL,
		PRIMARY KEY (item_id, style_id),
		FOREIGN KEY (item_id) REFERENCES items(item_id) ON DELETE CASCADE,
		FOREIGN KEY (style_id) REFERENCES styles(style_id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS formats (
		format_id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		quantity INTEGER DEFAULT 1,
		description TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS item_formats (
		item_id INTEGER NOT NULL,
		format_id INTEGER NOT NULL,
		notes TEXT,
		PRIMARY KEY (item_id, format_id),
		FOREIGN KEY (item_id) REFERENCES items(item_id) ON DELETE CASCADE,
		FOREIGN KEY (format_id) REFERENCES formats(format_id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS interactions (
		interaction_id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT,
		item_id INTEGER,
		interaction_type TEXT,
		rating REAL,
		weight REAL DEFAULT 1.0,
		source TEXT,
		date_added TEXT,
		event_ts TEXT,
		review_text TEXT,
		FOREIGN KEY(user_id) REFERENCES users(user_id),
		FOREIGN KEY(item_id) REFERENCES items(item_id)
	)`,
}

// itemColumns and interactionColumns are the columns added after the
// tables first shipped; ensureColumns backfills them on databases
// created by older builds.
var itemColumns = [][2]string{
	{"source_release_id", "INTEGER"},
	{"country", "TEXT"},
	{"released", "TEXT"},
	{"format_summary", "TEXT"},
	{"label_summary", "TEXT"},
	{"genre", "TEXT"},
	{"style", "TEXT"},
	{"community_have", "INTEGER DEFAULT 0"},
	{"community_want", "INTEGER DEFAULT 0"},
	{"community_rating_average", "REAL DEFAULT 0"},
	{"community_rating_count", "INTEGER DEFAULT 0"},
}

var interactionColumns = [][2]string{
	{"weight", "REAL DEFAULT 1.0"},
	{"source", "TEXT"},
	{"event_ts", "TEXT"},
	{"review_text", "TEXT"},
}

// EnsureSchema creates or upgrades the schema inside one transaction:
// tables, missing columns, the source_release_id backfill, and the
// interaction de-duplication that must precede the unique index.
func (d *DB) EnsureSchema(ctx context.Context) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return &types.StorageError{Op: "ensure_schema", Err: err}
	}
	defer tx.Rollback()

	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return &types.StorageError{Op: "ensure_schema", Err: err}
		}
	}

	if err := ensureColumns(ctx, tx, "items", itemColumns); err != nil {
		return err
	}
	if err := ensureColumns(ctx, tx, "interactions", interactionColumns); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE items SET source_release_id = item_id WHERE source_release_id IS NULL`,
	); err != nil {
		return &types.StorageError{Op: "ensure_schema", Err: err}
	}

	// Databases populated before the uniqueness constraint existed may
	// carry duplicate edges; keep the most recent of each.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM interactions
		WHERE rowid NOT IN (
			SELECT MAX(rowid)
			FROM interactions
			GROUP BY user_id, item_id, interaction_type
		)`,
	); err != nil {
		return &types.StorageError{Op: "ensure_schema", Err: err}
	}

	for _, stmt := range []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_interactions_user_item_type
			ON interactions(user_id, item_id, interaction_type)`,
		`CREATE INDEX IF NOT EXISTS idx_items_source_release
			ON items(source_release_id)`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return &types.StorageError{Op: "ensure_schema", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &types.StorageError{Op: "ensure_schema", Err: err}
	}
	d.logger.Debug("schema ensured")
	return nil
}

// ensureColumns adds the listed columns that are missing from table,
// using a single PRAGMA table_info round trip.
func ensureColumns(ctx context.Context, tx *sql.Tx, table string, columns [][2]string) error {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return &types.StorageError{Op: "ensure_columns", Err: err}
	}
	existing := map[string]bool{}
	for rows.Next() {
		var (
			cid     int
			name    string
			colType string
			notNull int
			dflt    sql.NullString
			primary int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &primary); err != nil {
			rows.Close()
			return &types.StorageError{Op: "ensure_columns", Err: err}
		}
		existing[name] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return &types.StorageError{Op: "ensure_columns", Err: err}
	}
	rows.Close()

	for _, col := range columns {
		if existing[col[0]] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, col[0], col[1])
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return &types.StorageError{Op: "ensure_columns", Err: err}
		}
	}
	return nil
}

// SplitMultiValue parses a stored genre/style text column back into a
// slice. Both "," (current) and "|" (historical) delimiters are read.
func SplitMultiValue(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var values []string
	for _, part := range strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == '|' }) {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}
