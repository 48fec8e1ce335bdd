package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/training-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/training-enrollment-api/pkg/errors"
)

type stubValidator struct {
	claims *models.JWTClaims
	err    error
	seen   string
}

func (s *stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	s.seen = token
	return s.claims, s.err
}

func serveJWT(t *testing.T, validator tokenValidator, header string) (*httptest.ResponseRecorder, *models.JWTClaims) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	var got *models.JWTClaims
	r := gin.New()
	r.GET("/x", JWT(validator), func(c *gin.Context) {
		got = CurrentClaims(c)
		c.Status(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w, got
}

func TestJWTAttachesClaims(t *testing.T) {
	validator := &stubValidator{claims: &models.JWTClaims{UserID: "u1", StudentID: "s1", Role: models.RoleStudent}}
	w, claims := serveJWT(t, validator, "bearer  abc.def")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc.def", validator.seen)
	require.NotNil(t, claims)
	assert.Equal(t, "s1", claims.StudentID)
}

func TestJWTRejects(t *testing.T) {
	cases := map[string]struct {
		header string
		err    error
	}{
		"missing header":  {header: ""},
		"wrong scheme":    {header: "Basic abc"},
		"empty token":     {header: "Bearer "},
		"validator error": {header: "Bearer abc", err: appErrors.Clone(appErrors.ErrUnauthorized, "token expired")},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			w, claims := serveJWT(t, &stubValidator{err: tc.err}, tc.header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Nil(t, claims)
		})
	}
}
