package models

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// MaxBankKeyLen keeps callback data and deep-link payloads inside Telegram limits
const MaxBankKeyLen = 32

var bankKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Bank is a partner bank with the base URL used to build referral links
type Bank struct {
	Key     string `json:"key" db:"key"`
	BaseURL string `json:"base_url" db:"base_url"`
}

// DefaultBanks is loaded into an empty directory on first start
var DefaultBanks = []Bank{
	{Key: "alfa", BaseURL: "https://example.com/alfa"},
	{Key: "tbank", BaseURL: "https://example.com/tbank"},
	{Key: "gazprom", BaseURL: "https://example.com/gazprom"},
}

// Validation error codes
const (
	CodeInvalidBankKey = "INVALID_BANK_KEY"
	CodeInvalidBankURL = "INVALID_BANK_URL"
	CodeEmptyText      = "EMPTY_TEXT"
	CodeInvalidReward  = "INVALID_REWARD_REQUEST"
)

// ValidationError reports user supplied input that cannot be stored
type ValidationError struct {
	Code    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidateBankKey checks that key is a compact token usable in callback data and deep links
func ValidateBankKey(key string) error {
	if key == "" {
		return &ValidationError{Code: CodeInvalidBankKey, Field: "key", Message: "key is empty"}
	}
	if len(key) > MaxBankKeyLen {
		return &ValidationError{Code: CodeInvalidBankKey, Field: "key", Message: fmt.Sprintf("key is longer than %d characters", MaxBankKeyLen)}
	}
	if !bankKeyPattern.MatchString(key) {
		return &ValidationError{Code: CodeInvalidBankKey, Field: "key", Message: "only latin letters, digits, '_' and '-' are allowed"}
	}
	return nil
}

// ValidateBankURL checks that raw is an absolute http or https URL
func ValidateBankURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &ValidationError{Code: CodeInvalidBankURL, Field: "base_url", Message: err.Error()}
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return &ValidationError{Code: CodeInvalidBankURL, Field: "base_url", Message: "scheme must be http or https"}
	}
	if u.Host == "" {
		return &ValidationError{Code: CodeInvalidBankURL, Field: "base_url", Message: "host is missing"}
	}
	return nil
}

// Validate checks both the key and the base URL
func (b Bank) Validate() error {
	if err := ValidateBankKey(b.Key); err != nil {
		return err
	}
	return ValidateBankURL(b.BaseURL)
}

// ReferralURL builds the stateless bank link carrying the user's identity as ref parameter
func (b Bank) ReferralURL(userID int64) string {
	u, err := url.Parse(b.BaseURL)
	if err != nil {
		return fmt.Sprintf("%s?ref=%d", b.BaseURL, userID)
	}
	q := u.Query()
	q.Set("ref", fmt.Sprintf("%d", userID))
	u.RawQuery = q.Encode()
	return u.String()
}
