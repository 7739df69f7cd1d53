// Package token issues short lived ballot access tokens after a successful
// identity verification.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/kozaktomas/voter-gate/internal/apperrors"
)

const (
	IssuerName = "voter-gate"
	DefaultTTL = 5 * time.Minute
	scopeVote  = "ballot:access"
)

// Claims carried by a ballot access token. Subject is the identity key.
type Claims struct {
	VerificationID string `json:"vid"`
	Scope          string `json:"scope"`
	jwt.RegisteredClaims
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("token secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for identityKey bound to one verification.
func (i *Issuer) Issue(identityKey, verificationID string) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		VerificationID: verificationID,
		Scope:          scopeVote,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    IssuerName,
			Subject:   identityKey,
			ID:        verificationID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse validates signature, issuer, scope and expiry.
func (i *Issuer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	tok, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	})
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, apperrors.Wrap(apperrors.KindExpired, err, "ballot access token has expired")
		}
		return nil, apperrors.Wrap(apperrors.KindMismatch, err, "invalid ballot access token")
	}
	if !tok.Valid || !claims.VerifyIssuer(IssuerName, true) || claims.Scope != scopeVote {
		return nil, apperrors.New(apperrors.KindMismatch, "invalid ballot access token")
	}
	return claims, nil
}
