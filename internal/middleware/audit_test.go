package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/training-enrollment-api/internal/models"
)

func TestAuditLogsSuccessfulRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
		c.Next()
	})
	r.POST("/trainings/:id/bulk-move", Audit(zap.New(core), "bulk-move", "enrollment"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.POST("/trainings/:id/fail", Audit(zap.New(core), "bulk-move", "enrollment"), func(c *gin.Context) {
		c.Status(http.StatusConflict)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/trainings/tr-1/bulk-move", nil))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/trainings/tr-1/fail", nil))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "bulk-move", fields["action"])
	assert.Equal(t, "tr-1", fields["resource_id"])
	assert.Equal(t, "admin-1", fields["user_id"])
}
