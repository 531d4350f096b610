// Package database provides storage backends for comments and likes.
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bryan-buckman/bookfeed/internal/model"
)

// ErrNotFound is returned when an ID does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the interface for database operations.
// Both SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// Comment operations
	Comments(ctx context.Context) ([]model.Comment, error)
	CommentByID(ctx context.Context, id string) (*model.Comment, error)
	CreateComment(ctx context.Context, content, sentiment string) (model.Comment, error)

	// Like operations
	Likes(ctx context.Context) ([]model.Like, error)
	LikeByID(ctx context.Context, id string) (*model.Like, error)
	CreateLike(ctx context.Context, commentID string) (model.Like, error)
}

// Open picks a backend from the DSN: postgres:// and postgresql:// URLs go to
// PostgreSQL, anything else is treated as an SQLite path (sqlite:// prefix optional).
func Open(dsn string) (Store, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgres(dsn)
	case dsn == "":
		return nil, fmt.Errorf("open store: empty dsn")
	default:
		return NewSQLite(strings.TrimPrefix(dsn, "sqlite://"))
	}
}
