// Package token issues and verifies the signed access credential.
//
// Purpose:
//
//	This package wraps golang-jwt to produce self-contained HS256 tokens
//	carrying the principal ID and the per-login session fingerprint. The
//	token alone is never authoritative: the authentication middleware must
//	also compare its fingerprint against the session record in Redis, which
//	is what makes a stateless token remotely revocable.
//
// Dependencies:
//   - github.com/golang-jwt/jwt/v5: JWT signing and parsing
//   - github.com/google/uuid: principal IDs
//
// Key Responsibilities:
//   - Issuer.Sign stamps user_id, token_uuid, sub, iss, iat, exp
//   - Issuer.Parse verifies the signature and expiry and returns the claims
//
// Error Handling:
//   - Parse returns an error for any malformed, unsigned, expired, or
//     wrongly-signed token; callers map that to the anonymous/rejected
//     outcome rather than failing the request pipeline
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// claimFingerprint is the private claim carrying the per-login session
// fingerprint compared against the session record on every request.
const claimFingerprint = "token_uuid"

// Claims is the decoded payload of an access token.
type Claims struct {
	// UserID is the principal this token was issued to.
	UserID uuid.UUID `json:"user_id"`
	// Fingerprint identifies the login that produced this token. A later
	// login overwrites the session record with a new fingerprint, which
	// invalidates every token carrying the old one.
	Fingerprint string `json:"token_uuid"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies access tokens with a shared HMAC secret.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewIssuer creates an issuer. The secret must already be validated for
// length by config.
func NewIssuer(secret []byte, issuer string, ttl time.Duration) *Issuer {
	return &Issuer{secret: secret, issuer: issuer, ttl: ttl}
}

// TTL returns the configured token lifetime. The session store uses the
// same value so record and token expire together.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Sign issues a token for the given principal and session fingerprint.
func (i *Issuer) Sign(userID uuid.UUID, username, fingerprint string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:      userID,
		Fingerprint: fingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Parse verifies the signature, issuer and expiry of a raw token and
// returns its claims.
func (i *Issuer) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("token: parse: %w", err)
	}
	if claims.UserID == uuid.Nil || claims.Fingerprint == "" {
		return nil, fmt.Errorf("token: missing principal or fingerprint claim")
	}
	return claims, nil
}
