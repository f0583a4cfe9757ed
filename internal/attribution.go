package internal

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"referral-bot/db"
	"referral-bot/models"
)

const payloadPrefix = "ref_"

// Payload is a parsed deep-link start parameter
type Payload struct {
	ReferrerID int64
	BankKey    string
}

// String renders the payload back into its deep-link form
func (p Payload) String() string {
	return payloadPrefix + strconv.FormatInt(p.ReferrerID, 10) + "_" + p.BankKey
}

// ParsePayload parses "ref_{referrer}_{bank}". Only the first two underscores split,
// everything after the referrer ID is the bank key.
func ParsePayload(raw string) (Payload, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(raw), payloadPrefix)
	if !ok {
		return Payload{}, false
	}
	idPart, key, ok := strings.Cut(rest, "_")
	if !ok || idPart == "" {
		return Payload{}, false
	}
	for _, r := range idPart {
		if r < '0' || r > '9' {
			return Payload{}, false
		}
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return Payload{}, false
	}
	if models.ValidateBankKey(key) != nil {
		return Payload{}, false
	}
	return Payload{ReferrerID: id, BankKey: key}, true
}

// OutcomeKind is the result of an attribution attempt
type OutcomeKind int

const (
	OutcomeSkipped OutcomeKind = iota
	OutcomeAttributed
	OutcomeAlreadyAttributed
)

// SkipReason explains why no referral was recorded
type SkipReason string

const (
	SkipNoPayload       SkipReason = "no_payload"
	SkipMalformed       SkipReason = "malformed"
	SkipSelfReferral    SkipReason = "self_referral"
	SkipUnknownReferrer SkipReason = "unknown_referrer"
	SkipUnknownBank     SkipReason = "unknown_bank"
)

// Outcome describes what an attribution attempt did
type Outcome struct {
	Kind     OutcomeKind
	Reason   SkipReason
	Referral *models.Referral
}

func skipped(reason SkipReason) Outcome {
	return Outcome{Kind: OutcomeSkipped, Reason: reason}
}

// UserChecker is the part of the identity registry attribution needs
type UserChecker interface {
	UserExists(ctx context.Context, id int64) (bool, error)
}

// BankLookup is the read side of the bank directory
type BankLookup interface {
	GetBank(ctx context.Context, key string) (*models.Bank, error)
}

// Ledger stores referrals. InsertReferral must return db.ErrAlreadyReferred
// when the referred user already owns a referral.
type Ledger interface {
	GetReferral(ctx context.Context, referredID int64) (*models.Referral, error)
	InsertReferral(ctx context.Context, referredID, referrerID int64, bankKey string) (*models.Referral, error)
}

// Attributor records first-touch referrals from /start payloads
type Attributor struct {
	users  UserChecker
	banks  BankLookup
	ledger Ledger

	requireReferrer bool
	requireBank     bool
}

// NewAttributor creates an Attributor. With requireReferrer or requireBank set,
// payloads naming an unregistered referrer or an unknown bank are skipped.
func NewAttributor(users UserChecker, banks BankLookup, ledger Ledger, requireReferrer, requireBank bool) *Attributor {
	return &Attributor{
		users:           users,
		banks:           banks,
		ledger:          ledger,
		requireReferrer: requireReferrer,
		requireBank:     requireBank,
	}
}

// Attribute tries to attribute inviteeID using the raw /start payload.
// The invitee must already be registered. A returned error only reports a storage
// failure; the outcome is then Skipped.
func (a *Attributor) Attribute(ctx context.Context, inviteeID int64, raw string) (Outcome, error) {
	if strings.TrimSpace(raw) == "" {
		return skipped(SkipNoPayload), nil
	}
	payload, ok := ParsePayload(raw)
	if !ok {
		return skipped(SkipMalformed), nil
	}
	if payload.ReferrerID == inviteeID {
		return skipped(SkipSelfReferral), nil
	}

	existing, err := a.ledger.GetReferral(ctx, inviteeID)
	if err != nil {
		return skipped(""), err
	}
	if existing != nil {
		return Outcome{Kind: OutcomeAlreadyAttributed, Referral: existing}, nil
	}

	if a.requireReferrer {
		exists, err := a.users.UserExists(ctx, payload.ReferrerID)
		if err != nil {
			return skipped(""), err
		}
		if !exists {
			return skipped(SkipUnknownReferrer), nil
		}
	}
	if a.requireBank {
		bank, err := a.banks.GetBank(ctx, payload.BankKey)
		if err != nil {
			return skipped(""), err
		}
		if bank == nil {
			return skipped(SkipUnknownBank), nil
		}
	}

	ref, err := a.ledger.InsertReferral(ctx, inviteeID, payload.ReferrerID, payload.BankKey)
	if errors.Is(err, db.ErrAlreadyReferred) {
		// lost the race against a concurrent /start of the same invitee
		return Outcome{Kind: OutcomeAlreadyAttributed}, nil
	}
	if err != nil {
		return skipped(""), err
	}
	return Outcome{Kind: OutcomeAttributed, Referral: ref}, nil
}
