// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskHub Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// JWTConfig configures token verification and issuance.
type JWTConfig struct {
	// Secret is the shared HMAC key. Required.
	Secret string
	// Issuer, when non-empty, is stamped on issued tokens and required on
	// verified ones.
	Issuer string
	// Leeway tolerates clock skew when checking exp/nbf/iat.
	Leeway time.Duration
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

func (c JWTConfig) clock() func() time.Time {
	if c.Now != nil {
		return c.Now
	}
	return time.Now
}

// Claims is the JWT body used for real-time credentials.
type Claims struct {
	UserID string `json:"id,omitempty"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTVerifier creates a verifier. Returns an error if the secret is empty.
func NewJWTVerifier(cfg JWTConfig) (*JWTVerifier, error) {
	if cfg.Secret == "" {
		return nil, oops.Code(CodeSecretMissing).Errorf("jwt secret is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithTimeFunc(cfg.clock()),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	return &JWTVerifier{
		secret: []byte(cfg.Secret),
		parser: jwt.NewParser(opts...),
	}, nil
}

// Verify checks the token's signature and time claims and returns the
// identity it carries. The user id is read from the "id" claim, falling back
// to "sub".
func (v *JWTVerifier) Verify(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, oops.Code(CodeTokenMissing).Errorf("token is required")
	}

	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, oops.Code(CodeTokenExpired).Wrapf(err, "token expired")
		}
		return Identity{}, oops.Code(CodeTokenInvalid).Wrapf(err, "token rejected")
	}
	if !parsed.Valid {
		return Identity{}, oops.Code(CodeTokenInvalid).Errorf("token rejected")
	}

	id := claims.UserID
	if id == "" {
		id = claims.Subject
	}
	if id == "" {
		return Identity{}, oops.Code(CodeTokenInvalid).Errorf("token carries no user id")
	}

	return Identity{ID: id, Email: claims.Email}, nil
}

// JWTIssuer mints HS256 tokens.
type JWTIssuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTIssuer creates an issuer. Returns an error if the secret is empty.
func NewJWTIssuer(cfg JWTConfig) (*JWTIssuer, error) {
	if cfg.Secret == "" {
		return nil, oops.Code(CodeSecretMissing).Errorf("jwt secret is required")
	}
	return &JWTIssuer{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		now:    cfg.clock(),
	}, nil
}

// Issue signs a token for identity. A zero ttl produces a token without expiry.
func (i *JWTIssuer) Issue(identity Identity, ttl time.Duration) (string, error) {
	if identity.ID == "" {
		return "", oops.Code(CodeTokenInvalid).Errorf("identity id is required")
	}

	now := i.now()
	claims := Claims{
		UserID: identity.ID,
		Email:  identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  identity.ID,
			Issuer:   i.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", oops.Code(CodeTokenInvalid).With("user_id", identity.ID).Wrap(err)
	}
	return signed, nil
}
