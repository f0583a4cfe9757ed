package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"referral-bot/models"
)

const settingBanksSeeded = "banks_seeded"

// ListBanks returns all banks ordered by key
func (db *DB) ListBanks(ctx context.Context) ([]models.Bank, error) {
	var banks []models.Bank
	if err := db.SelectContext(ctx, &banks, `SELECT key, base_url FROM banks ORDER BY key`); err != nil {
		return nil, fmt.Errorf("error listing banks: %w", err)
	}
	return banks, nil
}

// GetBank retrieves a bank by key, nil when absent
func (db *DB) GetBank(ctx context.Context, key string) (*models.Bank, error) {
	var bank models.Bank
	err := db.GetContext(ctx, &bank, db.Rebind(`SELECT key, base_url FROM banks WHERE key = ?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting bank %q: %w", key, err)
	}
	return &bank, nil
}

// UpsertBank validates and stores a bank, overwriting the URL of an existing key
func (db *DB) UpsertBank(ctx context.Context, key, baseURL string) error {
	bank := models.Bank{Key: key, BaseURL: baseURL}
	if err := bank.Validate(); err != nil {
		return err
	}

	query := db.Rebind(`
	INSERT INTO banks (key, base_url) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET base_url = excluded.base_url
	`)
	if _, err := db.ExecContext(ctx, query, bank.Key, bank.BaseURL); err != nil {
		return fmt.Errorf("error saving bank %q: %w", key, err)
	}
	return nil
}

// UpdateBankURL changes the URL of an existing bank, ErrBankNotFound when the key is absent.
// Unlike UpsertBank it never recreates a bank removed in the meantime.
func (db *DB) UpdateBankURL(ctx context.Context, key, baseURL string) error {
	bank := models.Bank{Key: key, BaseURL: baseURL}
	if err := bank.Validate(); err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, db.Rebind(`UPDATE banks SET base_url = ? WHERE key = ?`), bank.BaseURL, bank.Key)
	if err != nil {
		return fmt.Errorf("error updating bank %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error updating bank %q: %w", key, err)
	}
	if n == 0 {
		return ErrBankNotFound
	}
	return nil
}

// AddBank validates and stores a new bank, ErrBankExists when the key is taken
func (db *DB) AddBank(ctx context.Context, key, baseURL string) error {
	bank := models.Bank{Key: key, BaseURL: baseURL}
	if err := bank.Validate(); err != nil {
		return err
	}

	query := db.Rebind(`INSERT INTO banks (key, base_url) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`)
	res, err := db.ExecContext(ctx, query, bank.Key, bank.BaseURL)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrBankExists
		}
		return fmt.Errorf("error adding bank %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error adding bank %q: %w", key, err)
	}
	if n == 0 {
		return ErrBankExists
	}
	return nil
}

// RemoveBank deletes a bank. Referrals keep their bank key.
func (db *DB) RemoveBank(ctx context.Context, key string) error {
	if _, err := db.ExecContext(ctx, db.Rebind(`DELETE FROM banks WHERE key = ?`), key); err != nil {
		return fmt.Errorf("error removing bank %q: %w", key, err)
	}
	return nil
}

// SeedBanks loads the given banks into an empty directory exactly once.
// It returns true when the banks were inserted.
func (db *DB) SeedBanks(ctx context.Context, banks []models.Bank) (bool, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	var seeded int
	err = tx.GetContext(ctx, &seeded, tx.Rebind(`SELECT COUNT(*) FROM settings WHERE key = ?`), settingBanksSeeded)
	if err != nil {
		return false, fmt.Errorf("error reading seed marker: %w", err)
	}
	if seeded > 0 {
		return false, nil
	}

	var count int
	if err := tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM banks`); err != nil {
		return false, fmt.Errorf("error counting banks: %w", err)
	}

	inserted := false
	if count == 0 {
		for _, bank := range banks {
			if err := bank.Validate(); err != nil {
				return false, fmt.Errorf("invalid seed bank %q: %w", bank.Key, err)
			}
			_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO banks (key, base_url) VALUES (?, ?)`), bank.Key, bank.BaseURL)
			if err != nil {
				return false, fmt.Errorf("error seeding bank %q: %w", bank.Key, err)
			}
		}
		inserted = len(banks) > 0
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO settings (key, value) VALUES (?, ?)`), settingBanksSeeded, "1")
	if err != nil {
		return false, fmt.Errorf("error writing seed marker: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("error committing seed: %w", err)
	}
	return inserted, nil
}
