package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"referral-bot/models"
)

const settingWelcomeText = "welcome_text"

// GetSetting returns the value stored under key and whether it exists
func (db *DB) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := db.GetContext(ctx, &value, db.Rebind(`SELECT value FROM settings WHERE key = ?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("error getting setting %q: %w", key, err)
	}
	return value, true, nil
}

// SetSetting stores value under key, overwriting the previous value
func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	query := db.Rebind(`
	INSERT INTO settings (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`)
	if _, err := db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("error saving setting %q: %w", key, err)
	}
	return nil
}

// WelcomeText returns the stored welcome text or def when none was committed
func (db *DB) WelcomeText(ctx context.Context, def string) (string, error) {
	text, ok, err := db.GetSetting(ctx, settingWelcomeText)
	if err != nil {
		return "", err
	}
	if !ok {
		return def, nil
	}
	return text, nil
}

// SetWelcomeText overwrites the welcome text. Blank text is rejected.
func (db *DB) SetWelcomeText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return &models.ValidationError{Code: models.CodeEmptyText, Field: "welcome_text", Message: "text is empty"}
	}
	return db.SetSetting(ctx, settingWelcomeText, text)
}
