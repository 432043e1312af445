package helpers

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"ideabox/db"

	"github.com/avast/retry-go"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// NewBookmark is the input for TryInsertWithRetry.
type NewBookmark struct {
	URL   string
	Title string
	Image string
	Tags  []string
}

// TryInsertWithRetry stores a bookmark under a fresh random ID, retrying with
// a new ID when the previous one collided.
func TryInsertWithRetry(ctx context.Context, q *db.Queries, nb NewBookmark, maxRetries int, log *zap.Logger) (db.Bookmark, error) {
	var created db.Bookmark
	params := db.AddBookmarkParams{
		Url:   nb.URL,
		Title: nullString(nb.Title),
		Image: nullString(nb.Image),
		Tags:  nullString(JoinTags(nb.Tags)),
	}

	operation := func() error {
		id, err := NewID()
		if err != nil {
			return retry.Unrecoverable(err)
		}
		params.ID = id
		params.CreatedAt = time.Now().UTC()

		err = q.AddBookmark(ctx, params)
		if err == nil {
			created = db.Bookmark{
				ID:        params.ID,
				Url:       params.Url,
				Title:     params.Title,
				Image:     params.Image,
				Tags:      params.Tags,
				CreatedAt: params.CreatedAt,
				UpdatedAt: params.CreatedAt,
			}
			return nil
		}

		if isUniqueConstraint(err) {
			return err
		}

		return retry.Unrecoverable(err)
	}

	err := retry.Do(
		operation,
		retry.Attempts(uint(maxRetries)),
		retry.Delay(50*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("retrying bookmark insert", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)

	return created, err
}

func isUniqueConstraint(err error) bool {
	if err == nil {
		return false
	}

	var se sqlite3.Error
	if errors.As(err, &se) {
		if se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint")
}

// JoinTags normalizes tags (trimmed, lower-cased, deduplicated, commas removed)
// and joins them for storage.
func JoinTags(tags []string) string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(strings.ReplaceAll(t, ",", " ")))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return strings.Join(out, ",")
}

// SplitTags reverses JoinTags.
func SplitTags(s sql.NullString) []string {
	if !s.Valid || s.String == "" {
		return []string{}
	}
	return strings.Split(s.String, ",")
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}
