package service

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/training-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/training-enrollment-api/pkg/errors"
)

func newTestAuthService() *AuthService {
	return NewAuthService(nil, AuthConfig{AccessTokenSecret: "secret", AccessTokenExpiry: time.Hour, Issuer: "training-enrollment-api"})
}

func TestAuthServiceIssueAndValidate(t *testing.T) {
	svc := newTestAuthService()

	token, expiresAt, err := svc.IssueToken(Principal{UserID: "user-1", Role: models.RoleStudent, StudentID: "s-1"})
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "s-1", claims.StudentID)
	assert.True(t, claims.ActsFor("s-1"))
	assert.False(t, claims.ActsFor("s-2"))
	assert.False(t, claims.IsOperator())
}

func TestAuthServiceRejectsBadTokens(t *testing.T) {
	svc := newTestAuthService()

	other := NewAuthService(nil, AuthConfig{AccessTokenSecret: "other", Issuer: "training-enrollment-api"})
	forged, _, err := other.IssueToken(Principal{UserID: "user-1", Role: models.RoleAdmin})
	require.NoError(t, err)

	expired := newTestAuthService()
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, _, err := expired.IssueToken(Principal{UserID: "user-1", Role: models.RoleAdmin})
	require.NoError(t, err)

	studentless, _, err := svc.IssueToken(Principal{UserID: "user-2", Role: models.RoleStudent})
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &models.JWTClaims{UserID: "user-1", Role: models.RoleAdmin})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":     "not-a-token",
		"forged":      forged,
		"expired":     stale,
		"studentless": studentless,
		"unsigned":    unsigned,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ValidateToken(token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
		})
	}
}
