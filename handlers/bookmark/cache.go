package bookmark

import (
	"context"

	"ideabox/db"
)

// lookup reads a bookmark from cache or DB.
// Returns (bookmark, cacheHit, error)
func (b *Bookmark) lookup(ctx context.Context, id string) (db.Bookmark, bool, error) {
	if b.Cache != nil {
		if v, ok := b.Cache.Get(id); ok {
			if row, ok := v.(db.Bookmark); ok {
				return row, true, nil
			}
			b.Cache.Remove(id) // type mismatch, evict
		}
	}

	row, err := b.Q.GetBookmark(ctx, id)
	if err != nil {
		return db.Bookmark{}, false, err
	}

	if b.Cache != nil {
		b.Cache.Add(id, row)
	}
	return row, false, nil
}

// Forget drops a cached bookmark so the next read sees fresh data.
func (b *Bookmark) Forget(id string) {
	if b.Cache != nil {
		b.Cache.Remove(id)
	}
}
