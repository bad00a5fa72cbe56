package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/messhub/booking-engine/internal/database"
	"github.com/sirupsen/logrus"
)

// RequireActiveAccount rejects suspended or unknown accounts.
// Must be used after AuthMiddleware to have userCtx available
func RequireActiveAccount(users database.UserStore, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userCtx, exists := GetUserContext(c)
		if !exists {
			abortUnauthorized(c, "unauthorized", "User context not found", "MISSING_USER_CONTEXT")
			return
		}

		user, err := users.Get(c.Request.Context(), userCtx.UserID)
		if errors.Is(err, database.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "FORBIDDEN",
				"message": "Account not found",
				"code":    "ACCOUNT_NOT_FOUND",
			})
			return
		}
		if err != nil {
			logger.WithError(err).WithField("user_id", userCtx.UserID).Error("Failed to load account for status check")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "INTERNAL_ERROR",
				"message": "Failed to verify account",
			})
			return
		}

		if !user.IsActive {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "FORBIDDEN",
				"message": "Your account is suspended",
				"code":    "ACCOUNT_SUSPENDED",
			})
			return
		}

		c.Next()
	}
}
