package signal

import (
	"fmt"
	"time"

	"github.com/dkeye/devrooms/internal/core"
	"github.com/dkeye/devrooms/internal/domain"
	"github.com/golang-jwt/jwt"
)

const tokenIssuer = "devrooms"

// Claims bind a token to exactly one (room, session, user).
type Claims struct {
	Room    domain.RoomID        `json:"room"`
	Session domain.SessionHandle `json:"session"`
	User    domain.UserID        `json:"user"`
	jwt.StandardClaims
}

// Tokens signs and verifies RTC session tokens with HMAC-SHA256.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

var _ core.TokenIssuer = (*Tokens)(nil)

func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (t *Tokens) TTL() time.Duration { return t.ttl }

func (t *Tokens) Issue(room domain.RoomID, session domain.SessionHandle, user domain.UserID) (core.SessionToken, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	claims := Claims{
		Room:    room,
		Session: session,
		User:    user,
		StandardClaims: jwt.StandardClaims{
			Issuer:    tokenIssuer,
			Subject:   string(user),
			IssuedAt:  now.Unix(),
			ExpiresAt: exp.Unix(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return core.SessionToken{}, fmt.Errorf("sign token: %w", err)
	}
	return core.SessionToken{Token: signed, SessionHandle: session, ExpiresAt: exp}, nil
}

// Parse verifies raw and returns its claims. Any failure is reported as
// ErrUnauthenticated.
func (t *Tokens) Parse(raw string) (Claims, error) {
	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !tok.Valid {
		return Claims{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	if claims.Issuer != tokenIssuer || claims.Session == "" || claims.User == "" {
		return Claims{}, fmt.Errorf("%w: incomplete token", domain.ErrUnauthenticated)
	}
	return claims, nil
}
