package internal

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"referral-bot/models"
)

// ErrInvalidToken is returned for callback data the bot never produced
var ErrInvalidToken = errors.New("invalid callback token")

// TokenKind enumerates every button the bot sends
type TokenKind int

const (
	TokenMenuItem TokenKind = iota + 1
	TokenSelectBank
	TokenBankLink
	TokenBack
	TokenCancel
	TokenConfirmDelete
	TokenRewardBank
	TokenApproveReward
	TokenRejectReward
)

// Admin menu items
const (
	MenuEditWelcome = "welcome"
	MenuEditBank    = "edit_bank"
	MenuAddBank     = "add_bank"
	MenuRemoveBank  = "remove_bank"
)

var menuItems = map[string]bool{
	MenuEditWelcome: true,
	MenuEditBank:    true,
	MenuAddBank:     true,
	MenuRemoveBank:  true,
}

// Token is the decoded form of inline button callback data
type Token struct {
	Kind TokenKind
	Arg  string
}

func MenuItem(tag string) Token { return Token{Kind: TokenMenuItem, Arg: tag} }
func SelectBank(key string) Token { return Token{Kind: TokenSelectBank, Arg: key} }
func BankLink(key string) Token { return Token{Kind: TokenBankLink, Arg: key} }
func ConfirmDelete(key string) Token { return Token{Kind: TokenConfirmDelete, Arg: key} }
func Back() Token { return Token{Kind: TokenBack} }
func Cancel() Token { return Token{Kind: TokenCancel} }
func RewardBank(key string) Token { return Token{Kind: TokenRewardBank, Arg: key} }

// ApproveReward and RejectReward decide the reward request with the given ID
func ApproveReward(id int64) Token {
	return Token{Kind: TokenApproveReward, Arg: strconv.FormatInt(id, 10)}
}

func RejectReward(id int64) Token {
	return Token{Kind: TokenRejectReward, Arg: strconv.FormatInt(id, 10)}
}

// IsPanel reports whether the token belongs to the admin panel state machine
func (t Token) IsPanel() bool {
	switch t.Kind {
	case TokenMenuItem, TokenSelectBank, TokenBack, TokenCancel, TokenConfirmDelete:
		return true
	}
	return false
}

// RequestID returns the reward request ID of an approve or reject token, 0 otherwise
func (t Token) RequestID() int64 {
	if t.Kind != TokenApproveReward && t.Kind != TokenRejectReward {
		return 0
	}
	id, err := strconv.ParseInt(t.Arg, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Encode renders the token as callback data
func (t Token) Encode() string {
	switch t.Kind {
	case TokenMenuItem:
		return "m:" + t.Arg
	case TokenSelectBank:
		return "sb:" + t.Arg
	case TokenBankLink:
		return "bl:" + t.Arg
	case TokenConfirmDelete:
		return "del:" + t.Arg
	case TokenRewardBank:
		return "rw:" + t.Arg
	case TokenApproveReward:
		return "rwa:" + t.Arg
	case TokenRejectReward:
		return "rwr:" + t.Arg
	case TokenBack:
		return "back"
	case TokenCancel:
		return "cancel"
	}
	return ""
}

func (t Token) String() string {
	return t.Encode()
}

// ParseToken decodes callback data produced by Encode
func ParseToken(data string) (Token, error) {
	switch data {
	case "back":
		return Back(), nil
	case "cancel":
		return Cancel(), nil
	}

	prefix, arg, ok := strings.Cut(data, ":")
	if !ok {
		return Token{}, fmt.Errorf("%w: %q", ErrInvalidToken, data)
	}

	switch prefix {
	case "m":
		if !menuItems[arg] {
			return Token{}, fmt.Errorf("%w: unknown menu item %q", ErrInvalidToken, arg)
		}
		return MenuItem(arg), nil
	case "sb", "bl", "del", "rw":
		if err := models.ValidateBankKey(arg); err != nil {
			return Token{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		switch prefix {
		case "sb":
			return SelectBank(arg), nil
		case "bl":
			return BankLink(arg), nil
		case "rw":
			return RewardBank(arg), nil
		default:
			return ConfirmDelete(arg), nil
		}
	case "rwa", "rwr":
		id, ok := parseRequestID(arg)
		if !ok {
			return Token{}, fmt.Errorf("%w: bad request id %q", ErrInvalidToken, arg)
		}
		if prefix == "rwa" {
			return ApproveReward(id), nil
		}
		return RejectReward(id), nil
	}
	return Token{}, fmt.Errorf("%w: %q", ErrInvalidToken, data)
}

func parseRequestID(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
