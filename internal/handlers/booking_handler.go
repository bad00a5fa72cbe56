package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/messhub/booking-engine/internal/models"
	"github.com/messhub/booking-engine/internal/services"
	"github.com/sirupsen/logrus"
)

// BookingHandler handles renter and owner booking operations
type BookingHandler struct {
	bookingService *services.BookingService
	logger         *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(bookingService *services.BookingService, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{
		bookingService: bookingService,
		logger:         logger,
	}
}

// ============================================================================
// CREATE BOOKING - POST /api/v1/bookings
// ============================================================================

// CreateBooking books a free listing
// @Summary Create a booking
// @Description Books a listing for the caller. The listing is reserved until payment settles.
// @Tags Bookings
// @Accept json
// @Produce json
// @Param request body models.CreateBookingRequest true "Booking request"
// @Success 201 {object} models.Booking "Booking created"
// @Failure 400 {object} map[string]interface{} "Invalid request"
// @Failure 404 {object} map[string]interface{} "Listing not found"
// @Failure 409 {object} map[string]interface{} "Listing not available"
// @Security BearerAuth
// @Router /api/v1/bookings [post]
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body", err)
		return
	}

	listingID, err := uuid.Parse(req.ListingID)
	if err != nil {
		respondBadRequest(c, "Invalid listing_id", err)
		return
	}
	checkIn, err := time.Parse("2006-01-02", req.CheckInDate)
	if err != nil {
		respondBadRequest(c, "check_in_date must be YYYY-MM-DD", err)
		return
	}

	booking, err := h.bookingService.Create(c.Request.Context(), actor, services.CreateBookingInput{
		ListingID:        listingID,
		CheckInDate:      checkIn,
		PayableAmount:    req.PayableAmount,
		AdvanceMonths:    req.AdvanceMonths,
		TenantName:       req.TenantName,
		TenantPhone:      req.TenantPhone,
		TenantEmail:      req.TenantEmail,
		EmergencyContact: req.EmergencyContact,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondSuccess(c, http.StatusCreated, "Booking created", booking)
}

// GetBooking returns a booking to one of its participants
// @Summary Get a booking
// @Tags Bookings
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} models.Booking
// @Failure 403 {object} map[string]interface{} "Not a participant"
// @Failure 404 {object} map[string]interface{} "Booking not found"
// @Security BearerAuth
// @Router /api/v1/bookings/{id} [get]
func (h *BookingHandler) GetBooking(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	bookingID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	booking, err := h.bookingService.Get(c.Request.Context(), actor, bookingID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondSuccess(c, http.StatusOK, "Booking retrieved", booking)
}

// UpdateStatus lets the listing owner confirm, reject, cancel or complete
// @Summary Owner updates booking status
// @Tags Bookings
// @Accept json
// @Produce json
// @Param id path string true "Booking ID"
// @Param request body models.UpdateBookingStatusRequest true "Target status"
// @Success 200 {object} models.Booking
// @Failure 409 {object} map[string]interface{} "Listing state conflict"
// @Failure 422 {object} map[string]interface{} "Transition not allowed"
// @Security BearerAuth
// @Router /api/v1/bookings/{id}/status [patch]
func (h *BookingHandler) UpdateStatus(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	bookingID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req models.UpdateBookingStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body", err)
		return
	}

	booking, err := h.bookingService.OwnerSetStatus(c.Request.Context(), actor, bookingID, req.Status)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondSuccess(c, http.StatusOK, "Booking status updated", booking)
}

// CancelBooking lets the renter cancel an unpaid booking
// @Summary Renter cancels booking
// @Tags Bookings
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} models.Booking
// @Failure 409 {object} map[string]interface{} "Booking is paid"
// @Failure 422 {object} map[string]interface{} "Transition not allowed"
// @Security BearerAuth
// @Router /api/v1/bookings/{id}/cancel [post]
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	bookingID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	booking, err := h.bookingService.RenterCancel(c.Request.Context(), actor, bookingID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondSuccess(c, http.StatusOK, "Booking cancelled", booking)
}
