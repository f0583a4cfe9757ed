package models

import (
	"strings"
	"time"
)

// Reward request statuses. A request starts pending and is decided exactly once.
const (
	RewardPending  = "pending"
	RewardApproved = "approved"
	RewardRejected = "rejected"
)

// RewardStatuses lists every status in display order
var RewardStatuses = []string{RewardPending, RewardApproved, RewardRejected}

// RewardRequest is a user's claim for a bank referral reward
type RewardRequest struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	BankKey   string    `json:"bank_key" db:"bank_key"`
	Phone     string    `json:"phone" db:"phone"`
	FirstName string    `json:"first_name" db:"first_name"`
	LastName  string    `json:"last_name" db:"last_name"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// Username is the Telegram username of the requester, empty when unknown
	Username string `json:"username" db:"username"`
}

// FullName joins the first and last name given with the request
func (r *RewardRequest) FullName() string {
	if r.LastName == "" {
		return r.FirstName
	}
	return r.FirstName + " " + r.LastName
}

// Validate checks the fields the user supplied
func (r *RewardRequest) Validate() error {
	if err := ValidateBankKey(r.BankKey); err != nil {
		return err
	}
	if strings.TrimSpace(r.Phone) == "" {
		return &ValidationError{Code: CodeInvalidReward, Field: "phone", Message: "phone is empty"}
	}
	if strings.TrimSpace(r.FirstName) == "" {
		return &ValidationError{Code: CodeInvalidReward, Field: "first_name", Message: "first name is empty"}
	}
	return nil
}
