package db

import (
	"database/sql"
	"time"
)

type Bookmark struct {
	ID        string
	Url       string
	Title     sql.NullString
	Image     sql.NullString
	Tags      sql.NullString
	CreatedAt time.Time
	UpdatedAt time.Time
}
