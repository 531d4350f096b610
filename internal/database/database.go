package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/bryan-buckman/bookfeed/internal/model"
)

// SQLiteStore wraps the SQLite connection.
type SQLiteStore struct {
	conn *sql.DB
	now  func() time.Time
}

// Ensure SQLiteStore implements Store interface.
var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens or creates an SQLite database at the given path.
func NewSQLite(path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer at a time; also keeps ":memory:" databases on a single connection.
	conn.SetMaxOpenConns(1)
	// Enable WAL mode for better concurrency.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	db := &SQLiteStore{conn: conn, now: time.Now}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *SQLiteStore) Close() error {
	return db.conn.Close()
}

// DatabaseType returns the database backend name.
func (db *SQLiteStore) DatabaseType() string {
	return "SQLite"
}

func (db *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS comments (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		sentiment TEXT NOT NULL DEFAULT '',
		post_time INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS likes (
		id TEXT PRIMARY KEY,
		comment_id TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_comments_post_time ON comments(post_time);
	CREATE INDEX IF NOT EXISTS idx_likes_comment_id ON likes(comment_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// --- Comment Methods ---

// Comments returns all comments, oldest first.
func (db *SQLiteStore) Comments(ctx context.Context) ([]model.Comment, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT id, content, sentiment, post_time FROM comments ORDER BY post_time, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	comments := []model.Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// CommentByID returns a single comment.
func (db *SQLiteStore) CommentByID(ctx context.Context, id string) (*model.Comment, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT id, content, sentiment, post_time FROM comments WHERE id = ?", id)
	c, err := scanComment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("comment %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateComment stores a new comment stamped with the current time.
func (db *SQLiteStore) CreateComment(ctx context.Context, content, sentiment string) (model.Comment, error) {
	c := model.Comment{
		ID:        uuid.NewString(),
		PostTime:  model.NewTimestamp(db.now().UTC().Truncate(time.Millisecond)),
		Content:   content,
		Sentiment: sentiment,
	}
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO comments (id, content, sentiment, post_time) VALUES (?, ?, ?, ?)",
		c.ID, c.Content, c.Sentiment, c.PostTime.UnixMilli())
	if err != nil {
		return model.Comment{}, err
	}
	return c, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanComment(s scanner) (model.Comment, error) {
	var c model.Comment
	var postTime int64
	if err := s.Scan(&c.ID, &c.Content, &c.Sentiment, &postTime); err != nil {
		return model.Comment{}, err
	}
	c.PostTime = model.NewTimestamp(time.UnixMilli(postTime).UTC())
	return c, nil
}

// --- Like Methods ---

// Likes returns all likes, oldest first.
func (db *SQLiteStore) Likes(ctx context.Context) ([]model.Like, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT id, comment_id, created_at FROM likes ORDER BY created_at, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	likes := []model.Like{}
	for rows.Next() {
		var l model.Like
		if err := rows.Scan(&l.ID, &l.CommentID, &l.Timestamp); err != nil {
			return nil, err
		}
		likes = append(likes, l)
	}
	return likes, rows.Err()
}

// LikeByID returns a single like.
func (db *SQLiteStore) LikeByID(ctx context.Context, id string) (*model.Like, error) {
	var l model.Like
	err := db.conn.QueryRowContext(ctx, "SELECT id, comment_id, created_at FROM likes WHERE id = ?", id).
		Scan(&l.ID, &l.CommentID, &l.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("like %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateLike stores a like for a comment.
func (db *SQLiteStore) CreateLike(ctx context.Context, commentID string) (model.Like, error) {
	l := model.Like{
		ID:        uuid.NewString(),
		CommentID: commentID,
		Timestamp: db.now().Unix(),
	}
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO likes (id, comment_id, created_at) VALUES (?, ?, ?)",
		l.ID, l.CommentID, l.Timestamp)
	if err != nil {
		return model.Like{}, err
	}
	return l, nil
}
