package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/messhub/booking-engine/internal/database"
	"github.com/messhub/booking-engine/internal/models"
)

// notifyParticipants queues one event per participant of the booking
func (s *Scope) notifyParticipants(ctx context.Context, b *models.Booking, subject models.EventSubject, oldStatus, newStatus string) {
	recipients := []string{b.TenantEmail}
	if owner, err := s.Users().Get(ctx, b.OwnerID); err == nil && owner.Email != "" {
		recipients = append(recipients, owner.Email)
	} else if err != nil {
		s.coordinator.logger.WithError(err).WithField("owner_id", b.OwnerID).Warn("Owner not found, skipping owner notification")
	}

	txnID := ""
	if b.TransactionID != nil {
		txnID = *b.TransactionID
	}

	at := s.Now()
	for _, email := range recipients {
		if email == "" {
			continue
		}
		s.Notify(models.TransitionEvent{
			EventID:        uuid.New(),
			BookingID:      b.ID,
			ListingID:      b.ListingID,
			TransactionID:  txnID,
			Subject:        subject,
			OldStatus:      oldStatus,
			NewStatus:      newStatus,
			RecipientEmail: email,
			OccurredAt:     at,
		})
	}
}

// loadBooking reads a booking, mapping a missing row to NotFound
func loadBooking(ctx context.Context, scope *Scope, id uuid.UUID) (*models.Booking, error) {
	b, err := scope.Bookings().Get(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, models.NewNotFound("booking %s not found", id)
	}
	return b, err
}

func bookingState(b *models.Booking) map[string]interface{} {
	return map[string]interface{}{
		"booking_id":     b.ID,
		"booking_status": b.BookingStatus,
		"payment_status": b.PaymentStatus,
	}
}

// validationError flattens validator errors into one ValidationError
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return models.NewValidation("invalid input").WithCause(err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return models.NewValidation("%s", strings.Join(msgs, "; "))
}

// lostWrite reports whether err comes from a conditional write that another
// transaction beat to the row
func lostWrite(err error) bool {
	return errors.Is(err, database.ErrPreconditionFailed) || errors.Is(err, database.ErrConstraint)
}

// withCurrentBooking attaches the committed booking state to a Conflict
// caused by a lost write, so the caller sees what it lost to
func withCurrentBooking(ctx context.Context, reader database.Repositories, bookingID uuid.UUID, err error) error {
	var de *models.DomainError
	if !errors.As(err, &de) || de.Kind != models.ErrKindConflict || de.Current != nil || !lostWrite(err) {
		return err
	}
	if b, readErr := reader.Bookings().Get(ctx, bookingID); readErr == nil {
		de.Current = bookingState(b)
	}
	return err
}
