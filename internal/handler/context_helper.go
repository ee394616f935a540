package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/okulsys/attendance-api/internal/middleware"
	"github.com/okulsys/attendance-api/internal/models"
)

// claimsFromContext returns the authenticated claims, or nil on routes
// reached without the JWT middleware.
func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	if claims, ok := value.(*models.JWTClaims); ok {
		return claims
	}
	return nil
}
