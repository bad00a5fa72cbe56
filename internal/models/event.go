package models

import (
	"time"

	"github.com/google/uuid"
)

// EventSubject names which state machine a transition event describes
type EventSubject string

const (
	SubjectBookingStatus EventSubject = "booking_status"
	SubjectPaymentStatus EventSubject = "payment_status"
)

// TransitionEvent is published after a booking or payment transition commits
type TransitionEvent struct {
	EventID        uuid.UUID    `json:"event_id"`
	BookingID      uuid.UUID    `json:"booking_id"`
	ListingID      uuid.UUID    `json:"listing_id"`
	TransactionID  string       `json:"transaction_id,omitempty"`
	Subject        EventSubject `json:"subject"`
	OldStatus      string       `json:"old_status"`
	NewStatus      string       `json:"new_status"`
	RecipientEmail string       `json:"recipient_email"`
	OccurredAt     time.Time    `json:"occurred_at"`
}

// DedupKey identifies the logical transition, independent of delivery attempts.
func (e TransitionEvent) DedupKey() string {
	if e.TransactionID != "" {
		return e.TransactionID + ":" + e.NewStatus + ":" + e.RecipientEmail
	}
	return e.BookingID.String() + ":" + e.OldStatus + "->" + e.NewStatus + ":" + e.RecipientEmail
}
