package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/messhub/booking-engine/internal/models"
	"github.com/messhub/booking-engine/internal/services"
	"github.com/sirupsen/logrus"
)

// ViewingRequestHandler handles viewing requests and owner responses
type ViewingRequestHandler struct {
	viewingService *services.ViewingRequestService
	logger         *logrus.Logger
}

// NewViewingRequestHandler creates a new ViewingRequestHandler
func NewViewingRequestHandler(viewingService *services.ViewingRequestService, logger *logrus.Logger) *ViewingRequestHandler {
	return &ViewingRequestHandler{
		viewingService: viewingService,
		logger:         logger,
	}
}

// CreateViewingRequest handles POST /api/v1/viewing-requests
func (h *ViewingRequestHandler) CreateViewingRequest(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	var req models.CreateViewingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body", err)
		return
	}
	listingID, err := uuid.Parse(req.ListingID)
	if err != nil {
		respondBadRequest(c, "Invalid listing_id", err)
		return
	}

	request, err := h.viewingService.Create(c.Request.Context(), actor, listingID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondSuccess(c, http.StatusCreated, "Viewing request submitted", request)
}

// UpdateStatus handles PATCH /api/v1/viewing-requests/:id/status.
// The response carries the listing availability when it changed.
func (h *ViewingRequestHandler) UpdateStatus(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	requestID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req models.UpdateViewingStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body", err)
		return
	}

	request, result, err := h.viewingService.OwnerRespond(c.Request.Context(), actor, requestID, req.Status)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	data := gin.H{"viewing_request": request}
	if result != nil {
		data["listing"] = gin.H{
			"id":           result.ListingID,
			"availability": result.Current,
			"changed":      result.Changed,
		}
	}
	respondSuccess(c, http.StatusOK, "Viewing request updated", data)
}
