package models

import "time"

// Referral is an immutable attribution of a referred user to a referrer and a bank
type Referral struct {
	ID         int64     `json:"id" db:"id"`
	ReferredID int64     `json:"referred_id" db:"referred_id"`
	ReferrerID int64     `json:"referrer_id" db:"referrer_id"`
	BankKey    string    `json:"bank_key" db:"bank_key"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
