package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"referral-bot/models"
)

// RegisterUser saves a new user or refreshes the display attributes of an existing one.
// The identity and creation time of an existing user are never changed.
func (db *DB) RegisterUser(ctx context.Context, user *models.User) (*models.User, error) {
	query := db.Rebind(`
	INSERT INTO users (tg_id, username, first_name, last_name, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(tg_id) DO UPDATE SET
		username = excluded.username,
		first_name = excluded.first_name,
		last_name = excluded.last_name
	`)

	now := time.Now().UTC()
	if _, err := db.ExecContext(ctx, query, user.ID, user.Username, user.FirstName, user.LastName, now); err != nil {
		return nil, fmt.Errorf("error saving user %d: %w", user.ID, err)
	}

	stored, err := db.GetUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("user %d vanished after save", user.ID)
	}
	return stored, nil
}

// GetUser retrieves a user by Telegram ID, nil when absent
func (db *DB) GetUser(ctx context.Context, id int64) (*models.User, error) {
	query := db.Rebind(`SELECT tg_id, username, first_name, last_name, created_at FROM users WHERE tg_id = ?`)

	var user models.User
	err := db.GetContext(ctx, &user, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting user %d: %w", id, err)
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

// UserExists reports whether a user with the given Telegram ID is registered
func (db *DB) UserExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	query := db.Rebind(`SELECT EXISTS(SELECT 1 FROM users WHERE tg_id = ?)`)
	if err := db.GetContext(ctx, &exists, query, id); err != nil {
		return false, fmt.Errorf("error checking user %d: %w", id, err)
	}
	return exists, nil
}

// CountUsers returns the number of registered users
func (db *DB) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := db.GetContext(ctx, &n, `SELECT COUNT(*) FROM users`); err != nil {
		return 0, fmt.Errorf("error counting users: %w", err)
	}
	return n, nil
}
