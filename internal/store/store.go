// Package store is the SQLite-backed document store for users, channels
// and messages. The hub treats it as an external collaborator: it loads
// the channel table from here once at startup and never writes back.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Xminent/shiki-server/internal/model"
)

var (
	// ErrNotFound marks an absent record. Absence is a representable
	// result for callers, never a fault.
	ErrNotFound = errors.New("not found")
	// ErrExists marks a unique-constraint collision on insert.
	ErrExists = errors.New("already exists")
)

// Store wraps the SQLite handle.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at path and ensures the
// schema. Use ":memory:" for tests.
func New(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		username TEXT NOT NULL,
		password TEXT NOT NULL,
		token TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL,
		avatar TEXT
	);

	CREATE TABLE IF NOT EXISTS channels (
		id INTEGER PRIMARY KEY,
		guild_id INTEGER,
		name TEXT NOT NULL,
		description TEXT,
		created_at INTEGER NOT NULL,
		owner_id INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY,
		channel_id INTEGER NOT NULL,
		author_id INTEGER NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (channel_id) REFERENCES channels(id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id);
	CREATE INDEX IF NOT EXISTS idx_users_token ON users(token);
	`

	_, err := s.db.Exec(schema)
	return err
}

// InsertUser stores a new account. A duplicate email or token yields
// ErrExists.
func (s *Store) InsertUser(ctx context.Context, u model.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, username, password, token, created_at, avatar)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Username, u.Password, u.Token, u.CreatedAt, u.Avatar)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrExists
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *Store) scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.Password, &u.Token, &u.CreatedAt, &u.Avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

const userColumns = "id, email, username, password, token, created_at, avatar"

// UserByID fetches one user by id.
func (s *Store) UserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ?", id))
}

// UserByEmail fetches one user by email.
func (s *Store) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = ?", email))
}

// UserByToken fetches one user by bearer token.
func (s *Store) UserByToken(ctx context.Context, token string) (*model.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE token = ?", token))
}

// ListUsers returns every user, used to build Ready rosters.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Username, &u.Password, &u.Token, &u.CreatedAt, &u.Avatar); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUser applies the optional username and avatar changes.
func (s *Store) UpdateUser(ctx context.Context, id int64, username, avatar *string) error {
	if username == nil && avatar == nil {
		return nil
	}

	var sets []string
	var args []any
	if username != nil {
		sets = append(sets, "username = ?")
		args = append(args, *username)
	}
	if avatar != nil {
		sets = append(sets, "avatar = ?")
		args = append(args, *avatar)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertChannel mirrors a created channel into the store.
func (s *Store) InsertChannel(ctx context.Context, c model.Channel) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels (id, guild_id, name, description, created_at, owner_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.GuildID, c.Name, c.Description, c.CreatedAt, c.OwnerID)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrExists
		}
		return fmt.Errorf("failed to insert channel: %w", err)
	}
	return nil
}

// Channels returns the full channel table, loaded by the hub at startup.
func (s *Store) Channels(ctx context.Context) ([]model.Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, guild_id, name, description, created_at, owner_id FROM channels ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	var channels []model.Channel
	for rows.Next() {
		var c model.Channel
		if err := rows.Scan(&c.ID, &c.GuildID, &c.Name, &c.Description, &c.CreatedAt, &c.OwnerID); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

// InsertMessage mirrors a created message into the store.
func (s *Store) InsertMessage(ctx context.Context, m model.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, channel_id, author_id, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ChannelID, m.AuthorID, m.Content, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// MessagesByChannel returns a channel's messages, oldest first.
func (s *Store) MessagesByChannel(ctx context.Context, channelID int64) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, channel_id, author_id, content, created_at FROM messages WHERE channel_id = ? ORDER BY id",
		channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.AuthorID, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
