// Package auth verifies the bearer tokens presented by the Telegram WebApp
// and the web client. Tokens are HS256 JWTs whose subject is the user ID.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tasseo/internal/types"
)

// DefaultTokenTTL is the lifetime of tokens minted by Issue.
const DefaultTokenTTL = 7 * 24 * time.Hour

const issuer = "tasseo"

// Claims is the JWT body.
type Claims struct {
	ChatID       int64  `json:"chat_id,omitempty"`
	LanguageCode string `json:"lang,omitempty"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies bearer tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	clock  types.Clock
}

// NewTokenService creates a TokenService. An empty secret is rejected so a
// misconfigured deployment cannot accept unsigned tokens.
func NewTokenService(secret types.SecretString, ttl time.Duration, clock types.Clock) (*TokenService, error) {
	if !secret.IsSet() {
		return nil, errors.New("auth: token secret must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &TokenService{secret: []byte(secret.Unmask()), ttl: ttl, clock: clock}, nil
}

// Issue mints a token for p.
func (s *TokenService) Issue(p types.Principal) (string, error) {
	now := s.clock.Now()
	claims := Claims{
		ChatID:       p.ChatID,
		LanguageCode: p.LanguageCode,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ResolveToken verifies a token and returns its principal. Every failure is
// reported as auth_token_invalid.
func (s *TokenService) ResolveToken(_ context.Context, token string) (*types.Principal, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (any, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, errors.New("unexpected signing method")
			}
			return s.secret, nil
		},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil || !parsed.Valid {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid bearer token", err)
	}
	if claims.Subject == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token has no subject", nil)
	}
	return &types.Principal{
		UserID:       claims.Subject,
		ChatID:       claims.ChatID,
		LanguageCode: claims.LanguageCode,
	}, nil
}
