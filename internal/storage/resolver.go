package storage

import (
	"context"
	"database/sql"

	"github.com/ignaciolinari/discogs-SR/internal/types"
)

// Resolver maps any observed id (canonical master id or concrete
// pressing id) to the canonical item row, with a read-through cache so
// repeated lookups during one run stay off the database.
type Resolver struct {
	store *Store
	cache map[int]int
}

// NewResolver creates a resolver bound to a store.
func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store, cache: make(map[int]int)}
}

// ResolveItemID returns the canonical item id for any observed id: a
// direct item_id hit, or a source_release_id that consolidated under a
// master. The second return value is false when the id is unknown.
func (r *Resolver) ResolveItemID(ctx context.Context, anyID int) (int, bool, error) {
	if canonical, ok := r.cache[anyID]; ok {
		return canonical, true, nil
	}

	var canonical int
	err := r.store.conn().QueryRowContext(ctx,
		"SELECT item_id FROM items WHERE item_id = ?", anyID,
	).Scan(&canonical)
	if err == sql.ErrNoRows {
		err = r.store.conn().QueryRowContext(ctx,
			"SELECT item_id FROM items WHERE source_release_id = ?", anyID,
		).Scan(&canonical)
	}
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &types.StorageError{Op: "resolve_item", Err: err}
	}

	r.cache[anyID] = canonical
	r.cache[canonical] = canonical
	return canonical, true, nil
}

// Observe primes the cache after an upsert, so the ids just written
// resolve without touching the database.
func (r *Resolver) Observe(canonicalID, sourceReleaseID int) {
	r.cache[canonicalID] = canonicalID
	if sourceReleaseID != 0 {
		r.cache[sourceReleaseID] = canonicalID
	}
}
