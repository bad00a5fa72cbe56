package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/messhub/booking-engine/internal/models"
	"github.com/messhub/booking-engine/internal/services"
	"github.com/sirupsen/logrus"
)

// AdminHandler handles admin overrides, refunds and maintenance jobs
type AdminHandler struct {
	adminService *services.AdminService
	sweeper      *services.ExpirationService
	logger       *logrus.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(adminService *services.AdminService, sweeper *services.ExpirationService, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		adminService: adminService,
		sweeper:      sweeper,
		logger:       logger,
	}
}

// ===================================================================
// BOOKING OVERRIDES
// ===================================================================

// OverrideStatus handles PATCH /api/v1/admin/bookings/:id/status
func (h *AdminHandler) OverrideStatus(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	bookingID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req models.AdminOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body", err)
		return
	}

	booking, err := h.adminService.OverrideStatus(c.Request.Context(), actor, bookingID, req, requestMeta(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondSuccess(c, http.StatusOK, "Booking status overridden", booking)
}

// Refund handles POST /api/v1/admin/bookings/:id/refund.
// The money itself moves outside the engine; this records it and frees the
// listing. The booking is only cancelled when the body sets "cancel".
func (h *AdminHandler) Refund(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	bookingID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req models.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "reason is required", err)
		return
	}

	booking, err := h.adminService.Refund(c.Request.Context(), actor, bookingID, req, requestMeta(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondSuccess(c, http.StatusOK, "Booking refunded", booking)
}

// DeleteBooking handles DELETE /api/v1/admin/bookings/:id
func (h *AdminHandler) DeleteBooking(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	bookingID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	if err := h.adminService.DeleteBooking(c.Request.Context(), actor, bookingID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondSuccess(c, http.StatusOK, "Booking deleted", gin.H{"booking_id": bookingID})
}

// ===================================================================
// JOBS
// ===================================================================

// RunExpirySweep handles POST /api/v1/admin/jobs/expire-pending
func (h *AdminHandler) RunExpirySweep(c *gin.Context) {
	result, err := h.sweeper.RunOnce(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondSuccess(c, http.StatusOK, "Expiry sweep completed", result)
}
