package signal

import (
	"testing"
	"time"

	"github.com/dkeye/devrooms/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	tokens := NewTokens("secret", time.Minute)
	tok, err := tokens.Issue("r1", "s1", "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionHandle("s1"), tok.SessionHandle)

	claims, err := tokens.Parse(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomID("r1"), claims.Room)
	assert.Equal(t, domain.SessionHandle("s1"), claims.Session)
	assert.Equal(t, domain.UserID("alice"), claims.User)
}

func TestTokenExpired(t *testing.T) {
	tokens := NewTokens("secret", time.Minute)
	tokens.now = func() time.Time { return time.Now().Add(-time.Hour) }
	tok, err := tokens.Issue("r1", "s1", "alice")
	require.NoError(t, err)

	_, err = tokens.Parse(tok.Token)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestTokenWrongSecret(t *testing.T) {
	tok, err := NewTokens("a", time.Minute).Issue("r1", "s1", "alice")
	require.NoError(t, err)
	_, err = NewTokens("b", time.Minute).Parse(tok.Token)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestRateLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRoomRateLimiter(2, 10*time.Second)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("u"))
	assert.True(t, rl.Allow("u"))
	assert.False(t, rl.Allow("u"))
	assert.True(t, rl.Allow("other"))

	now = now.Add(11 * time.Second)
	assert.True(t, rl.Allow("u"))

	var disabled *RoomRateLimiter
	assert.True(t, disabled.Allow("u"))
}
