package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/training-enrollment-api/internal/models"
)

func TestRBAC(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name   string
		claims *models.JWTClaims
		path   string
		want   int
	}{
		{"admin", &models.JWTClaims{Role: models.RoleAdmin}, "/students/s-1", http.StatusOK},
		{"self", &models.JWTClaims{Role: models.RoleStudent, StudentID: "s-1"}, "/students/s-1", http.StatusOK},
		{"other student", &models.JWTClaims{Role: models.RoleStudent, StudentID: "s-2"}, "/students/s-1", http.StatusForbidden},
		{"anonymous", nil, "/students/s-1", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := gin.New()
			router.Use(func(c *gin.Context) {
				if tc.claims != nil {
					c.Set(ContextUserKey, tc.claims)
				}
			})
			router.GET("/students/:studentId", RBAC("ADMIN", "SELF"), func(c *gin.Context) { c.Status(http.StatusOK) })

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
			assert.Equal(t, tc.want, w.Code)
		})
	}
}
