package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/messhub/booking-engine/internal/models"
	"github.com/sirupsen/logrus"
)

// AdminService forces booking and payment transitions. It skips ownership
// checks but goes through the coordinator like every other writer.
type AdminService struct {
	coordinator *Coordinator
	payments    *PaymentService
	audit       *AuditService
	logger      *logrus.Logger
}

// NewAdminService creates the admin override service
func NewAdminService(coordinator *Coordinator, payments *PaymentService, audit *AuditService, logger *logrus.Logger) *AdminService {
	return &AdminService{
		coordinator: coordinator,
		payments:    payments,
		audit:       audit,
		logger:      logger,
	}
}

// OverrideStatus moves a booking and/or its payment using the admin tables.
// Paid forces a pending booking to confirmed, and the resulting pair must
// keep paid bookings confirmed or completed.
func (s *AdminService) OverrideStatus(ctx context.Context, actor models.Actor, bookingID uuid.UUID, req models.AdminOverrideRequest, meta RequestMeta) (*models.Booking, error) {
	if !actor.IsAdmin() {
		return nil, models.NewForbidden("admin role required")
	}
	if req.BookingStatus == nil && req.PaymentStatus == nil {
		return nil, models.NewValidation("booking_status or payment_status is required")
	}
	if req.BookingStatus != nil && !req.BookingStatus.IsValid() {
		return nil, models.NewValidation("unknown booking status %q", *req.BookingStatus)
	}
	if req.PaymentStatus != nil && !req.PaymentStatus.IsValid() {
		return nil, models.NewValidation("unknown payment status %q", *req.PaymentStatus)
	}

	var (
		booking    *models.Booking
		oldBooking models.BookingStatus
		oldPayment models.PaymentStatus
	)

	err := s.coordinator.Run(ctx, func(ctx context.Context, scope *Scope) error {
		b, err := loadBooking(ctx, scope, bookingID)
		if err != nil {
			return err
		}
		oldBooking, oldPayment = b.BookingStatus, b.PaymentStatus

		nextBooking, nextPayment := b.BookingStatus, b.PaymentStatus
		if req.PaymentStatus != nil && *req.PaymentStatus != b.PaymentStatus {
			if !models.CanTransition(models.PaymentTransitions, b.PaymentStatus, *req.PaymentStatus) {
				return models.NewInvalidTransition("payment cannot move from %s to %s", b.PaymentStatus, *req.PaymentStatus).
					WithCurrent(bookingState(b))
			}
			nextPayment = *req.PaymentStatus
		}
		if req.BookingStatus != nil && *req.BookingStatus != b.BookingStatus {
			if !models.CanTransition(models.AdminBookingTransitions, b.BookingStatus, *req.BookingStatus) {
				return models.NewInvalidTransition("booking cannot move from %s to %s", b.BookingStatus, *req.BookingStatus).
					WithCurrent(bookingState(b))
			}
			nextBooking = *req.BookingStatus
		}

		if nextPayment == models.PaymentStatusPaid && nextBooking == models.BookingStatusPending {
			nextBooking = models.BookingStatusConfirmed
		}
		if nextPayment == models.PaymentStatusPaid &&
			nextBooking != models.BookingStatusConfirmed && nextBooking != models.BookingStatusCompleted {
			return models.NewInvalidTransition("a paid booking must stay confirmed or completed, refund it first").
				WithCurrent(bookingState(b))
		}

		if nextBooking == b.BookingStatus && nextPayment == b.PaymentStatus {
			booking = b
			return nil
		}

		storedBooking := b.BookingStatus
		writeBooking := func() error {
			if nextBooking == b.BookingStatus {
				return nil
			}
			if err := scope.Bookings().UpdateStatus(ctx, b.ID, b.BookingStatus, nextBooking); err != nil {
				return err
			}
			storedBooking = nextBooking
			return nil
		}
		writePayment := func() error {
			if nextPayment == b.PaymentStatus {
				return nil
			}
			now := scope.Now()
			update := models.PaymentUpdate{Status: nextPayment}
			switch nextPayment {
			case models.PaymentStatusPaid:
				method := "admin_override"
				update.PaidAt = &now
				update.PaymentMethod = &method
			case models.PaymentStatusRefunded:
				amount := b.PayableAmount
				reason := req.Reason
				update.RefundedAmount = &amount
				update.RefundReason = &reason
				update.RefundedAt = &now
			}
			return scope.Bookings().UpdatePayment(ctx, b.ID, storedBooking, b.PaymentStatus, update)
		}

		// paid needs a confirmed booking underneath it; anything leaving paid
		// goes before the booking does
		order := []func() error{writePayment, writeBooking}
		if nextPayment == models.PaymentStatusPaid {
			order = []func() error{writeBooking, writePayment}
		}
		for _, write := range order {
			if err := write(); err != nil {
				return err
			}
		}

		if trigger, ok := overrideTrigger(b.BookingStatus, nextBooking, b.PaymentStatus, nextPayment); ok {
			cause := Cause{BookingID: b.ID, Actor: actor.UserID, Reason: req.Reason}
			if _, err := scope.Apply(ctx, b.ListingID, trigger, cause); err != nil {
				return err
			}
		}

		b.BookingStatus, b.PaymentStatus = nextBooking, nextPayment
		if oldBooking != nextBooking {
			scope.notifyParticipants(ctx, b, models.SubjectBookingStatus, string(oldBooking), string(nextBooking))
		}
		if oldPayment != nextPayment {
			scope.notifyParticipants(ctx, b, models.SubjectPaymentStatus, string(oldPayment), string(nextPayment))
		}
		booking = b
		return nil
	})

	audit := models.NewPaymentAudit(models.PaymentEventAdminOverride, models.PaymentSourceAdmin).
		SetBooking(bookingID).
		SetActor(actor.UserID).
		SetRequestPayload(map[string]interface{}{
			"booking_status": req.BookingStatus,
			"payment_status": req.PaymentStatus,
			"reason":         req.Reason,
		})
	if err != nil {
		audit.SetError(err.Error())
	} else {
		audit.SetPaymentStatus(string(booking.PaymentStatus))
		audit.SetResponsePayload(map[string]interface{}{
			"booking_status": booking.BookingStatus,
			"payment_status": booking.PaymentStatus,
		})
	}
	s.audit.Record(ctx, audit, meta)

	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":   bookingID,
		"admin_id":     actor.UserID,
		"booking_from": oldBooking,
		"booking_to":   booking.BookingStatus,
		"payment_from": oldPayment,
		"payment_to":   booking.PaymentStatus,
	}).Info("Admin override applied")
	return booking, nil
}

// overrideTrigger picks the listing rule for an override. Ending the booking
// wins over payment changes, since both release the listing.
func overrideTrigger(fromBooking, toBooking models.BookingStatus, fromPayment, toPayment models.PaymentStatus) (Trigger, bool) {
	bookingChanged := fromBooking != toBooking
	paymentChanged := fromPayment != toPayment

	switch {
	case bookingChanged && toBooking.IsTerminal():
		return TriggerAdminTerminal, true
	case paymentChanged && toPayment == models.PaymentStatusRefunded:
		return TriggerPaymentRefunded, true
	case paymentChanged && toPayment == models.PaymentStatusPaid:
		return TriggerPaymentPaid, true
	case bookingChanged && toBooking == models.BookingStatusConfirmed:
		return TriggerBookingConfirmed, true
	}
	return "", false
}

// Refund is the admin refund; see PaymentService.Refund
func (s *AdminService) Refund(ctx context.Context, actor models.Actor, bookingID uuid.UUID, req models.RefundRequest, meta RequestMeta) (*models.Booking, error) {
	return s.payments.Refund(ctx, actor, bookingID, req, meta)
}

// DeleteBooking releases the booking's hold on its listing, then removes it
func (s *AdminService) DeleteBooking(ctx context.Context, actor models.Actor, bookingID uuid.UUID) error {
	if !actor.IsAdmin() {
		return models.NewForbidden("admin role required")
	}

	err := s.coordinator.Run(ctx, func(ctx context.Context, scope *Scope) error {
		b, err := loadBooking(ctx, scope, bookingID)
		if err != nil {
			return err
		}
		if _, err := scope.Apply(ctx, b.ListingID, TriggerBookingDeleted, Cause{BookingID: b.ID, Actor: actor.UserID, Reason: "deleted by admin"}); err != nil {
			return err
		}
		if err := scope.Bookings().Delete(ctx, b.ID); err != nil {
			return err
		}
		scope.notifyParticipants(ctx, b, models.SubjectBookingStatus, string(b.BookingStatus), "deleted")
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"admin_id":   actor.UserID,
	}).Warn("Booking deleted by admin")
	return nil
}
