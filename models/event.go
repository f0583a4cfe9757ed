package models

import (
	"time"
)

// Event types written to the journal
const (
	EventReferralCreated = "referral_created"
	EventWelcomeUpdated  = "welcome_updated"
	EventBankUpserted    = "bank_upserted"
	EventBankRemoved     = "bank_removed"
	EventRewardRequested = "reward_requested"
	EventRewardDecided   = "reward_decided"
)

// Event is an append-only journal record
type Event struct {
	ID        string            `bson:"_id"`
	Type      string            `bson:"type"`
	ActorID   int64             `bson:"actor_id"`
	Data      map[string]string `bson:"data,omitempty"`
	CreatedAt time.Time         `bson:"created_at"`
}
