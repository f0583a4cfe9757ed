package internal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	tokens := []Token{
		MenuItem(MenuEditWelcome),
		MenuItem(MenuEditBank),
		MenuItem(MenuAddBank),
		MenuItem(MenuRemoveBank),
		SelectBank("alfa"),
		BankLink("t_bank-2"),
		ConfirmDelete("gazprom"),
		Back(),
		Cancel(),
		RewardBank("alfa"),
		ApproveReward(7),
		RejectReward(1234567890),
	}
	for _, tok := range tokens {
		data := tok.Encode()
		// Telegram limits callback data to 64 bytes
		assert.LessOrEqual(t, len(data), 64)

		parsed, err := ParseToken(data)
		require.NoError(t, err, data)
		assert.Equal(t, tok, parsed)
	}
}

func TestParseTokenRejectsForeignData(t *testing.T) {
	for _, data := range []string{
		"",
		"menu",
		"m:unknown",
		"sb:",
		"sb:bad key",
		"bl:" + strings.Repeat("a", 40),
		"x:alfa",
		"backup",
		"rw:bad key",
		"rwa:0",
		"rwa:abc",
		"rwr:-1",
		"rwr:",
	} {
		_, err := ParseToken(data)
		assert.ErrorIs(t, err, ErrInvalidToken, data)
	}
}

func TestTokenIsPanel(t *testing.T) {
	assert.False(t, BankLink("alfa").IsPanel())
	assert.False(t, RewardBank("alfa").IsPanel())
	assert.False(t, ApproveReward(1).IsPanel())
	assert.False(t, RejectReward(1).IsPanel())
	assert.True(t, SelectBank("alfa").IsPanel())
	assert.True(t, MenuItem(MenuAddBank).IsPanel())
	assert.True(t, Cancel().IsPanel())
}

func TestTokenRequestID(t *testing.T) {
	tok, err := ParseToken("rwa:42")
	require.NoError(t, err)
	assert.Equal(t, TokenApproveReward, tok.Kind)
	assert.Equal(t, int64(42), tok.RequestID())

	assert.Equal(t, int64(0), SelectBank("alfa").RequestID())
}
