package db

import (
	"context"
	"fmt"

	"referral-bot/models"
)

// TopReferrersLimit is the size of the leaderboard in the summary
const TopReferrersLimit = 10

// Summary aggregates users, referrals and reward requests
func (db *DB) Summary(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{
		ReferralsByBank:     make(map[string]int),
		ReferralsByReferrer: make(map[int64]int),
	}

	var err error
	if stats.TotalUsers, err = db.CountUsers(ctx); err != nil {
		return nil, err
	}
	if err := db.GetContext(ctx, &stats.TotalReferrals, `SELECT COUNT(*) FROM referrals`); err != nil {
		return nil, fmt.Errorf("error counting referrals: %w", err)
	}

	var byBank []struct {
		BankKey string `db:"bank_key"`
		Count   int    `db:"cnt"`
	}
	if err := db.SelectContext(ctx, &byBank, `SELECT bank_key, COUNT(*) AS cnt FROM referrals GROUP BY bank_key`); err != nil {
		return nil, fmt.Errorf("error counting referrals by bank: %w", err)
	}
	for _, row := range byBank {
		stats.ReferralsByBank[row.BankKey] = row.Count
	}

	var byReferrer []struct {
		ReferrerID int64 `db:"referrer_id"`
		Count      int   `db:"cnt"`
	}
	if err := db.SelectContext(ctx, &byReferrer, `SELECT referrer_id, COUNT(*) AS cnt FROM referrals GROUP BY referrer_id`); err != nil {
		return nil, fmt.Errorf("error counting referrals by referrer: %w", err)
	}
	for _, row := range byReferrer {
		stats.ReferralsByReferrer[row.ReferrerID] = row.Count
	}

	if stats.TopReferrers, err = db.TopReferrers(ctx, TopReferrersLimit); err != nil {
		return nil, err
	}
	if stats.RewardsByStatus, err = db.CountRewardRequestsByStatus(ctx); err != nil {
		return nil, err
	}
	return stats, nil
}

// TopReferrers returns referrers with the most referrals. Unregistered referrers have empty names.
func (db *DB) TopReferrers(ctx context.Context, limit int) ([]models.ReferrerCount, error) {
	query := db.Rebind(`
	SELECT r.referrer_id AS referrer_id,
	       COALESCE(u.username, '') AS username,
	       COALESCE(u.first_name, '') AS first_name,
	       COUNT(*) AS cnt
	FROM referrals r
	LEFT JOIN users u ON u.tg_id = r.referrer_id
	GROUP BY r.referrer_id, u.username, u.first_name
	ORDER BY cnt DESC, r.referrer_id
	LIMIT ?
	`)

	var rows []models.ReferrerCount
	if err := db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("error getting top referrers: %w", err)
	}
	return rows, nil
}
