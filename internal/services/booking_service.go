package services

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/messhub/booking-engine/internal/database"
	"github.com/messhub/booking-engine/internal/models"
	phonevalidator "github.com/messhub/booking-engine/pkg/validator"
	"github.com/sirupsen/logrus"
)

// CreateBookingInput is a validated booking request
type CreateBookingInput struct {
	ListingID        uuid.UUID
	CheckInDate      time.Time
	PayableAmount    float64 `validate:"gt=0"`
	AdvanceMonths    *int    `validate:"omitempty,min=0,max=3"`
	TenantName       string  `validate:"required,max=100"`
	TenantPhone      string  `validate:"required,bdphone"`
	TenantEmail      string  `validate:"required,email"`
	EmergencyContact models.EmergencyContact
}

// BookingService tracks the booking lifecycle for renters and owners
type BookingService struct {
	coordinator *Coordinator
	validate    *validator.Validate
	phones      *phonevalidator.PhoneValidator
	logger      *logrus.Logger
}

// NewBookingService creates a booking service
func NewBookingService(coordinator *Coordinator, logger *logrus.Logger) *BookingService {
	validate := validator.New()
	if err := phonevalidator.RegisterTags(validate); err != nil {
		logger.WithError(err).Fatal("Failed to register phone validation")
	}

	return &BookingService{
		coordinator: coordinator,
		validate:    validate,
		phones:      phonevalidator.NewPhoneValidator(),
		logger:      logger,
	}
}

// Create books a free listing for the actor. The booking starts pending/pending
// and the listing becomes reserved_for_booking in the same transaction.
func (s *BookingService) Create(ctx context.Context, actor models.Actor, input CreateBookingInput) (*models.Booking, error) {
	if input.ListingID == uuid.Nil {
		return nil, models.NewValidation("listing_id is required")
	}
	if input.CheckInDate.IsZero() {
		return nil, models.NewValidation("check_in_date is required")
	}
	if err := s.validate.Struct(input); err != nil {
		return nil, validationError(err)
	}
	input.TenantPhone = s.phones.Sanitize(input.TenantPhone)
	if input.EmergencyContact.Phone != "" {
		input.EmergencyContact.Phone = s.phones.Sanitize(input.EmergencyContact.Phone)
	}

	var booking *models.Booking
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

		listing, err := scope.Listing(ctx, input.ListingID)
		if errors.Is(err, database.ErrNotFound) {
			return models.NewNotFound("listing %s not found", input.ListingID)
		}
		if err != nil {
			return err
		}

		months := listing.AdvanceMonths
		if input.AdvanceMonths != nil {
			months = *input.AdvanceMonths
		}

		now := scope.Now()
		b := &models.Booking{
			ID:               uuid.New(),
			ListingID:        listing.ID,
			RenterID:         actor.UserID,
			OwnerID:          listing.OwnerID,
			CheckInDate:      input.CheckInDate,
			AdvanceMonths:    months,
			MonthlyRate:      listing.MonthlyRate,
			TotalAmount:      listing.MonthlyRate * float64(months),
			PayableAmount:    input.PayableAmount,
			BookingStatus:    models.BookingStatusPending,
			PaymentStatus:    models.PaymentStatusPending,
			TenantName:       input.TenantName,
			TenantPhone:      input.TenantPhone,
			TenantEmail:      input.TenantEmail,
			EmergencyContact: input.EmergencyContact,
			CreatedAt:        now,
			UpdatedAt:        now,
		}

		if err := scope.Bookings().Create(ctx, b); err != nil {
			return err
		}
		if _, err := scope.Apply(ctx, listing.ID, TriggerBookingCreated, Cause{BookingID: b.ID, Actor: actor.UserID}); err != nil {
			return err
		}

		scope.notifyParticipants(ctx, b, models.SubjectBookingStatus, "", string(b.BookingStatus))
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"listing_id": booking.ListingID,
		"renter_id":  booking.RenterID,
	}).Info("Booking created")
	return booking, nil
}

// OwnerSetStatus applies an owner decision using the owner transition table
func (s *BookingService) OwnerSetStatus(ctx context.Context, actor models.Actor, bookingID uuid.UUID, next models.BookingStatus) (*models.Booking, error) {
	var booking *models.Booking
	err := s.coordinator.Run(ctx, func(ctx context.Context, scope *Scope) error {
		b, err := loadBooking(ctx, scope, bookingID)
		if err != nil {
			return err
		}
		if b.OwnerID != actor.UserID {
			return models.NewForbidden("only the listing owner can update this booking")
		}
		if !models.CanTransition(models.OwnerBookingTransitions, b.BookingStatus, next) {
			return models.NewInvalidTransition("owner cannot move booking from %s to %s", b.BookingStatus, next).
				WithCurrent(bookingState(b))
		}
		if err := s.transition(ctx, scope, b, next, actor); err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, withCurrentBooking(ctx, s.coordinator.Reader(), bookingID, err)
	}
	return booking, nil
}

// RenterCancel cancels the actor's own pending or confirmed booking
func (s *BookingService) RenterCancel(ctx context.Context, actor models.Actor, bookingID uuid.UUID) (*models.Booking, error) {
	var booking *models.Booking
	err := s.coordinator.Run(ctx, func(ctx context.Context, scope *Scope) error {
		b, err := loadBooking(ctx, scope, bookingID)
		if err != nil {
			return err
		}
		if b.RenterID != actor.UserID {
			return models.NewForbidden("only the renter can cancel this booking")
		}
		if !models.CanTransition(models.RenterBookingTransitions, b.BookingStatus, models.BookingStatusCancelled) {
			return models.NewInvalidTransition("booking is %s and cannot be cancelled", b.BookingStatus).
				WithCurrent(bookingState(b))
		}
		if err := s.transition(ctx, scope, b, models.BookingStatusCancelled, actor); err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, withCurrentBooking(ctx, s.coordinator.Reader(), bookingID, err)
	}
	return booking, nil
}

// Get returns a booking visible to its renter, its owner or an admin
func (s *BookingService) Get(ctx context.Context, actor models.Actor, bookingID uuid.UUID) (*models.Booking, error) {
	b, err := s.coordinator.Reader().Bookings().Get(ctx, bookingID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, models.NewNotFound("booking %s not found", bookingID)
	}
	if err != nil {
		return nil, err
	}
	if !b.IsParticipant(actor.UserID) && !actor.IsAdmin() {
		return nil, models.NewForbidden("not a participant of this booking")
	}
	return b, nil
}

// transition writes a renter or owner status change and its listing effect.
// A paid booking must be refunded before it can leave confirmed.
func (s *BookingService) transition(ctx context.Context, scope *Scope, b *models.Booking, next models.BookingStatus, actor models.Actor) error {
	if next.IsTerminal() && b.PaymentStatus == models.PaymentStatusPaid {
		return models.NewConflict("booking is paid, refund it before cancelling").
			WithCurrent(bookingState(b))
	}

	trigger, ok := bookingTriggers[next]
	if !ok {
		return models.NewInvalidTransition("no listing rule for booking status %s", next)
	}

	if err := scope.Bookings().UpdateStatus(ctx, b.ID, b.BookingStatus, next); err != nil {
		return err
	}
	if _, err := scope.Apply(ctx, b.ListingID, trigger, Cause{BookingID: b.ID, Actor: actor.UserID}); err != nil {
		return err
	}

	previous := b.BookingStatus
	b.BookingStatus = next
	b.UpdatedAt = scope.Now()
	scope.notifyParticipants(ctx, b, models.SubjectBookingStatus, string(previous), string(next))

	s.logger.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"from":       previous,
		"to":         next,
		"actor_id":   actor.UserID,
	}).Info("Booking status updated")
	return nil
}

var bookingTriggers = map[models.BookingStatus]Trigger{
	models.BookingStatusConfirmed: TriggerBookingConfirmed,
	models.BookingStatusRejected:  TriggerBookingRejected,
	models.BookingStatusCancelled: TriggerBookingCancelled,
}
