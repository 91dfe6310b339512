package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/septivank/webill/internal/config"
	"github.com/septivank/webill/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVerifier(t *testing.T, issuer string) *TokenVerifier {
	t.Helper()
	v, err := NewTokenVerifier(&config.AuthConfig{JWTSecret: "test-secret", Issuer: issuer})
	require.NoError(t, err)
	return v
}

func TestNewTokenVerifier_RequiresSecret(t *testing.T) {
	_, err := NewTokenVerifier(&config.AuthConfig{})
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestVerify_RoundTrip(t *testing.T) {
	v := newVerifier(t, "webill")
	id := uuid.New()

	token, err := v.Issue(id, db.RoleConsumer, time.Hour)
	require.NoError(t, err)

	sess, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, id, sess.AccountID)
	assert.Equal(t, db.RoleConsumer, sess.Role)
	assert.True(t, sess.IsConsumer())
	assert.False(t, sess.IsAdmin())
}

func TestVerify_Expired(t *testing.T) {
	v := newVerifier(t, "")
	v.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, err := v.Issue(uuid.New(), db.RoleAdmin, time.Hour)
	require.NoError(t, err)

	v.now = time.Now
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_WrongSecret(t *testing.T) {
	issuer := newVerifier(t, "")
	token, err := issuer.Issue(uuid.New(), db.RoleAdmin, time.Hour)
	require.NoError(t, err)

	other, err := NewTokenVerifier(&config.AuthConfig{JWTSecret: "other"})
	require.NoError(t, err)
	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_WrongIssuer(t *testing.T) {
	token, err := newVerifier(t, "someone-else").Issue(uuid.New(), db.RoleAdmin, time.Hour)
	require.NoError(t, err)

	_, err = newVerifier(t, "webill").Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_RejectsUnknownRoleAndBadSubject(t *testing.T) {
	v := newVerifier(t, "")
	sign := func(claims Claims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)
		return s
	}
	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))

	_, err := v.Verify(sign(Claims{Role: "ROOT", RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString(), ExpiresAt: exp}}))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify(sign(Claims{Role: "ADMIN", RegisteredClaims: jwt.RegisteredClaims{Subject: "bob", ExpiresAt: exp}}))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify(sign(Claims{Role: "ADMIN", RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString()}}))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	sys := SystemSession()
	assert.True(t, sys.IsAdmin())
	assert.False(t, sys.IsConsumer())

	got, ok := FromContext(WithSession(context.Background(), sys))
	require.True(t, ok)
	assert.Equal(t, sys, got)
}
