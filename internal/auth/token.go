package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/septivank/webill/internal/config"
	"github.com/septivank/webill/internal/db"
)

var (
	// ErrInvalidToken is returned for malformed, expired or badly signed tokens
	ErrInvalidToken = errors.New("invalid token")

	// ErrMissingSecret is returned when no signing secret is configured
	ErrMissingSecret = errors.New("jwt secret not configured")
)

// Claims are the token claims issued by the identity provider
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HMAC-signed access tokens
type TokenVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenVerifier creates a verifier from auth config
func NewTokenVerifier(cfg *config.AuthConfig) (*TokenVerifier, error) {
	if cfg.JWTSecret == "" {
		return nil, ErrMissingSecret
	}
	return &TokenVerifier{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		now:    time.Now,
	}, nil
}

// Verify parses the token and returns the session it grants
func (v *TokenVerifier) Verify(tokenString string) (Session, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	accountID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Session{}, fmt.Errorf("%w: subject is not an account id", ErrInvalidToken)
	}

	role := db.Role(claims.Role)
	if role != db.RoleAdmin && role != db.RoleConsumer {
		return Session{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}

	return Session{AccountID: accountID, Role: role}, nil
}

// Issue signs a token for the account. Used by tooling and tests.
func (v *TokenVerifier) Issue(accountID uuid.UUID, role db.Role, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID.String(),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
