package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"referral-bot/models"
)

// InsertReferral records the attribution of referredID in a single statement.
// The unique referred_id constraint decides the winner: later calls get ErrAlreadyReferred.
func (db *DB) InsertReferral(ctx context.Context, referredID, referrerID int64, bankKey string) (*models.Referral, error) {
	query := db.Rebind(`
	INSERT INTO referrals (referred_id, referrer_id, bank_key, created_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(referred_id) DO NOTHING
	RETURNING id
	`)

	ref := models.Referral{
		ReferredID: referredID,
		ReferrerID: referrerID,
		BankKey:    bankKey,
		CreatedAt:  time.Now().UTC(),
	}
	err := db.GetContext(ctx, &ref.ID, query, ref.ReferredID, ref.ReferrerID, ref.BankKey, ref.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
		return nil, ErrAlreadyReferred
	}
	if err != nil {
		return nil, fmt.Errorf("error inserting referral for %d: %w", referredID, err)
	}
	return &ref, nil
}

// GetReferral returns the referral owned by referredID, nil when absent
func (db *DB) GetReferral(ctx context.Context, referredID int64) (*models.Referral, error) {
	query := db.Rebind(`SELECT id, referred_id, referrer_id, bank_key, created_at FROM referrals WHERE referred_id = ?`)

	var ref models.Referral
	err := db.GetContext(ctx, &ref, query, referredID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting referral for %d: %w", referredID, err)
	}
	ref.CreatedAt = ref.CreatedAt.UTC()
	return &ref, nil
}

// ListReferrals returns every referral ordered by creation time
func (db *DB) ListReferrals(ctx context.Context) ([]models.Referral, error) {
	var refs []models.Referral
	query := `SELECT id, referred_id, referrer_id, bank_key, created_at FROM referrals ORDER BY created_at, id`
	if err := db.SelectContext(ctx, &refs, query); err != nil {
		return nil, fmt.Errorf("error listing referrals: %w", err)
	}
	for i := range refs {
		refs[i].CreatedAt = refs[i].CreatedAt.UTC()
	}
	return refs, nil
}
