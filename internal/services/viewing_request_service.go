package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/messhub/booking-engine/internal/database"
	"github.com/messhub/booking-engine/internal/models"
	"github.com/sirupsen/logrus"
)

// ViewingRequestService gates viewing requests. Accepting one asks the
// coordinator to hold the listing for the viewing.
type ViewingRequestService struct {
	coordinator *Coordinator
	logger      *logrus.Logger
}

// NewViewingRequestService creates a viewing request service
func NewViewingRequestService(coordinator *Coordinator, logger *logrus.Logger) *ViewingRequestService {
	return &ViewingRequestService{coordinator: coordinator, logger: logger}
}

// Create files a viewing request, or reopens the renter's rejected one
func (s *ViewingRequestService) Create(ctx context.Context, actor models.Actor, listingID uuid.UUID) (*models.ViewingRequest, error) {
	var request *models.ViewingRequest

	err := s.coordinator.Run(ctx, func(ctx context.Context, scope *Scope) error {
		renter, err := scope.Users().Get(ctx, actor.UserID)
		if errors.Is(err, database.ErrNotFound) {
			return models.NewForbidden("renter account not found")
		}
		if err != nil {
			return err
		}
		if !renter.IsActive {
			return models.NewForbidden("account is suspended")
		}

		listing, err := scope.Listing(ctx, listingID)
		if errors.Is(err, database.ErrNotFound) {
			return models.NewNotFound("listing %s not found", listingID)
		}
		if err != nil {
			return err
		}

		existing, err := scope.ViewingRequests().FindLatest(ctx, listingID, actor.UserID)
		switch {
		case err == nil && existing.Status == models.ViewingStatusRejected:
			if err := scope.ViewingRequests().UpdateStatus(ctx, existing.ID, models.ViewingStatusRejected, models.ViewingStatusPending); err != nil {
				return err
			}
			existing.Status = models.ViewingStatusPending
			existing.UpdatedAt = scope.Now()
			request = existing
			return nil
		case err == nil:
			return models.NewConflict("a viewing request for this listing is already %s", existing.Status).
				WithCurrent(map[string]interface{}{"viewing_request_id": existing.ID, "status": existing.Status})
		case !errors.Is(err, database.ErrNotFound):
			return err
		}

		now := scope.Now()
		request = &models.ViewingRequest{
			ID:        uuid.New(),
			ListingID: listing.ID,
			RenterID:  actor.UserID,
			OwnerID:   listing.OwnerID,
			Status:    models.ViewingStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return scope.ViewingRequests().Create(ctx, request)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"viewing_request_id": request.ID,
		"listing_id":         request.ListingID,
		"renter_id":          request.RenterID,
	}).Info("Viewing request submitted")
	return request, nil
}

// OwnerRespond accepts or rejects a viewing request. Accepting holds a free
// listing for the viewing; rejecting an accepted request releases that hold.
func (s *ViewingRequestService) OwnerRespond(ctx context.Context, actor models.Actor, requestID uuid.UUID, next models.ViewingStatus) (*models.ViewingRequest, *ApplyResult, error) {
	var (
		request *models.ViewingRequest
		result  *ApplyResult
	)

	err := s.coordinator.Run(ctx, func(ctx context.Context, scope *Scope) error {
		v, err := scope.ViewingRequests().Get(ctx, requestID)
		if errors.Is(err, database.ErrNotFound) {
			return models.NewNotFound("viewing request %s not found", requestID)
		}
		if err != nil {
			return err
		}
		if v.OwnerID != actor.UserID {
			return models.NewForbidden("only the listing owner can respond to this request")
		}
		if !models.CanTransition(models.OwnerViewingTransitions, v.Status, next) {
			return models.NewInvalidTransition("viewing request cannot move from %s to %s", v.Status, next).
				WithCurrent(map[string]interface{}{"viewing_request_id": v.ID, "status": v.Status})
		}

		previous := v.Status
		if err := scope.ViewingRequests().UpdateStatus(ctx, v.ID, previous, next); err != nil {
			return err
		}
		v.Status = next
		v.UpdatedAt = scope.Now()

		var trigger Trigger
		switch {
		case next == models.ViewingStatusAccepted:
			trigger = TriggerViewingAccepted
		case previous == models.ViewingStatusAccepted && next == models.ViewingStatusRejected:
			trigger = TriggerViewingReleased
		}
		if trigger != "" {
			result, err = scope.Apply(ctx, v.ListingID, trigger, Cause{ViewingID: v.ID, Actor: actor.UserID})
			if err != nil {
				return err
			}
		}

		request = v
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"viewing_request_id": request.ID,
		"listing_id":         request.ListingID,
		"status":             request.Status,
	}).Info("Viewing request updated")
	return request, result, nil
}
