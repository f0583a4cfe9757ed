package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"referral-bot/models"
)

const rewardColumns = `
	rr.id, rr.user_id, rr.bank_key, rr.phone, rr.first_name, rr.last_name, rr.status, rr.created_at,
	COALESCE(u.username, '') AS username
	FROM reward_requests rr
	LEFT JOIN users u ON u.tg_id = rr.user_id`

// CreateRewardRequest stores a new pending request. A user holds at most one pending
// request at a time, a second one gets ErrRewardPending.
func (db *DB) CreateRewardRequest(ctx context.Context, req *models.RewardRequest) (*models.RewardRequest, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	query := db.Rebind(`
	INSERT INTO reward_requests (user_id, bank_key, phone, first_name, last_name, status, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	RETURNING id
	`)

	stored := *req
	stored.Status = models.RewardPending
	stored.CreatedAt = time.Now().UTC()
	err := db.GetContext(ctx, &stored.ID, query,
		stored.UserID, stored.BankKey, stored.Phone, stored.FirstName, stored.LastName, stored.Status, stored.CreatedAt)
	if isUniqueViolation(err) {
		return nil, ErrRewardPending
	}
	if err != nil {
		return nil, fmt.Errorf("error creating reward request for %d: %w", req.UserID, err)
	}
	return &stored, nil
}

// HasPendingRewardRequest reports whether userID has an undecided request
func (db *DB) HasPendingRewardRequest(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	query := db.Rebind(`SELECT EXISTS(SELECT 1 FROM reward_requests WHERE user_id = ? AND status = ?)`)
	if err := db.GetContext(ctx, &exists, query, userID, models.RewardPending); err != nil {
		return false, fmt.Errorf("error checking reward requests of %d: %w", userID, err)
	}
	return exists, nil
}

// GetRewardRequest retrieves a request by ID, nil when absent
func (db *DB) GetRewardRequest(ctx context.Context, id int64) (*models.RewardRequest, error) {
	var req models.RewardRequest
	err := db.GetContext(ctx, &req, db.Rebind(`SELECT `+rewardColumns+` WHERE rr.id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting reward request %d: %w", id, err)
	}
	req.CreatedAt = req.CreatedAt.UTC()
	return &req, nil
}

// ListRewardRequests returns pending requests, newest first
func (db *DB) ListRewardRequests(ctx context.Context) ([]models.RewardRequest, error) {
	return db.listRewards(ctx, `rr.status = ?`, models.RewardPending)
}

// ListRewardHistory returns decided requests, newest first
func (db *DB) ListRewardHistory(ctx context.Context) ([]models.RewardRequest, error) {
	return db.listRewards(ctx, `rr.status IN (?, ?)`, models.RewardApproved, models.RewardRejected)
}

func (db *DB) listRewards(ctx context.Context, where string, args ...interface{}) ([]models.RewardRequest, error) {
	query := db.Rebind(`SELECT ` + rewardColumns + ` WHERE ` + where + ` ORDER BY rr.created_at DESC, rr.id DESC`)

	var reqs []models.RewardRequest
	if err := db.SelectContext(ctx, &reqs, query, args...); err != nil {
		return nil, fmt.Errorf("error listing reward requests: %w", err)
	}
	for i := range reqs {
		reqs[i].CreatedAt = reqs[i].CreatedAt.UTC()
	}
	return reqs, nil
}

// DecideRewardRequest moves a pending request to approved or rejected.
// Decided or missing requests give ErrRewardNotPending, so two admins cannot both decide.
func (db *DB) DecideRewardRequest(ctx context.Context, id int64, status string) (*models.RewardRequest, error) {
	if status != models.RewardApproved && status != models.RewardRejected {
		return nil, fmt.Errorf("invalid reward decision %q", status)
	}

	query := db.Rebind(`UPDATE reward_requests SET status = ? WHERE id = ? AND status = ?`)
	res, err := db.ExecContext(ctx, query, status, id, models.RewardPending)
	if err != nil {
		return nil, fmt.Errorf("error updating reward request %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("error updating reward request %d: %w", id, err)
	}
	if n == 0 {
		return nil, ErrRewardNotPending
	}

	req, err := db.GetRewardRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrRewardNotPending
	}
	return req, nil
}

// CountRewardRequestsByStatus returns the number of requests per status, zero for unused ones
func (db *DB) CountRewardRequestsByStatus(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, len(models.RewardStatuses))
	for _, status := range models.RewardStatuses {
		counts[status] = 0
	}

	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"cnt"`
	}
	if err := db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS cnt FROM reward_requests GROUP BY status`); err != nil {
		return nil, fmt.Errorf("error counting reward requests: %w", err)
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
