package db

import (
	"context"
	"database/sql"
	"time"
)

const addBookmark = `-- name: AddBookmark :exec
INSERT INTO bookmarks (id, url, title, image, tags, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

type AddBookmarkParams struct {
	ID        string
	Url       string
	Title     sql.NullString
	Image     sql.NullString
	Tags      sql.NullString
	CreatedAt time.Time
}

func (q *Queries) AddBookmark(ctx context.Context, arg AddBookmarkParams) error {
	_, err := q.db.ExecContext(ctx, addBookmark,
		arg.ID,
		arg.Url,
		arg.Title,
		arg.Image,
		arg.Tags,
		arg.CreatedAt,
		arg.CreatedAt,
	)
	return err
}

const getBookmark = `-- name: GetBookmark :one
SELECT id, url, title, image, tags, created_at, updated_at
FROM bookmarks
WHERE id = ?
`

func (q *Queries) GetBookmark(ctx context.Context, id string) (Bookmark, error) {
	row := q.db.QueryRowContext(ctx, getBookmark, id)
	var i Bookmark
	err := row.Scan(
		&i.ID,
		&i.Url,
		&i.Title,
		&i.Image,
		&i.Tags,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const listBookmarks = `-- name: ListBookmarks :many
SELECT id, url, title, image, tags, created_at, updated_at
FROM bookmarks
ORDER BY created_at DESC
LIMIT ? OFFSET ?
`

type ListBookmarksParams struct {
	Limit  int64
	Offset int64
}

func (q *Queries) ListBookmarks(ctx context.Context, arg ListBookmarksParams) ([]Bookmark, error) {
	rows, err := q.db.QueryContext(ctx, listBookmarks, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	return scanBookmarks(rows)
}

const listBookmarksMissingImage = `-- name: ListBookmarksMissingImage :many
SELECT id, url, title, image, tags, created_at, updated_at
FROM bookmarks
WHERE (image IS NULL OR image = '') AND url <> ''
ORDER BY created_at DESC
`

func (q *Queries) ListBookmarksMissingImage(ctx context.Context) ([]Bookmark, error) {
	rows, err := q.db.QueryContext(ctx, listBookmarksMissingImage)
	if err != nil {
		return nil, err
	}
	return scanBookmarks(rows)
}

const setBookmarkImage = `-- name: SetBookmarkImage :execrows
UPDATE bookmarks
SET image = ?, updated_at = ?
WHERE id = ? AND (image IS NULL OR image = '')
`

type SetBookmarkImageParams struct {
	Image     sql.NullString
	UpdatedAt time.Time
	ID        string
}

// SetBookmarkImage never overwrites an image that is already set.
func (q *Queries) SetBookmarkImage(ctx context.Context, arg SetBookmarkImageParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, setBookmarkImage, arg.Image, arg.UpdatedAt, arg.ID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteBookmark = `-- name: DeleteBookmark :execrows
DELETE FROM bookmarks
WHERE id = ?
`

func (q *Queries) DeleteBookmark(ctx context.Context, id string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteBookmark, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanBookmarks(rows *sql.Rows) ([]Bookmark, error) {
	defer rows.Close()
	var items []Bookmark
	for rows.Next() {
		var i Bookmark
		if err := rows.Scan(
			&i.ID,
			&i.Url,
			&i.Title,
			&i.Image,
			&i.Tags,
			&i.CreatedAt,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
