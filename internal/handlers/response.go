package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/messhub/booking-engine/internal/middleware"
	"github.com/messhub/booking-engine/internal/models"
	"github.com/messhub/booking-engine/internal/services"
	"github.com/messhub/booking-engine/internal/utils"
	"github.com/sirupsen/logrus"
)

var errorStatus = map[models.ErrorKind]int{
	models.ErrKindNotFound:           http.StatusNotFound,
	models.ErrKindForbidden:          http.StatusForbidden,
	models.ErrKindConflict:           http.StatusConflict,
	models.ErrKindInvalidTransition:  http.StatusUnprocessableEntity,
	models.ErrKindValidation:         http.StatusBadRequest,
	models.ErrKindGatewayUnavailable: http.StatusServiceUnavailable,
}

func respondSuccess(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"message": message,
		"data":    data,
	})
}

// respondError writes the error envelope. Unexpected errors are logged and
// hidden behind a generic 500.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	var de *models.DomainError
	if !errors.As(err, &de) {
		logger.WithError(err).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		}).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "INTERNAL_ERROR",
			"message": "An unexpected error occurred",
		})
		return
	}

	status, ok := errorStatus[de.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	body := gin.H{
		"success": false,
		"error":   de.Kind,
		"message": de.Message,
	}
	if de.Current != nil {
		body["current"] = de.Current
	}
	c.JSON(status, body)
}

func respondBadRequest(c *gin.Context, message string, err error) {
	body := gin.H{
		"success": false,
		"error":   models.ErrKindValidation,
		"message": message,
	}
	if err != nil {
		body["details"] = err.Error()
	}
	c.JSON(http.StatusBadRequest, body)
}

// actorFromContext returns the caller set by AuthMiddleware, answering 401
// when it is missing.
func actorFromContext(c *gin.Context) (models.Actor, bool) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "unauthorized",
			"message": "Unauthorized",
		})
		return models.Actor{}, false
	}
	return userCtx.Actor(), true
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respondBadRequest(c, "Invalid "+name, err)
		return uuid.Nil, false
	}
	return id, true
}

func requestMeta(c *gin.Context) services.RequestMeta {
	return services.RequestMeta{
		IPAddress: utils.GetRealIP(c),
		UserAgent: utils.GetUserAgent(c),
	}
}
