package notify

import (
	"context"

	"github.com/messhub/booking-engine/internal/models"
	"github.com/sirupsen/logrus"
)

// Publisher delivers a committed transition to whoever notifies the user.
// Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event models.TransitionEvent) error
}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	logger *logrus.Logger
}

// NewLogPublisher creates a log-only publisher
func NewLogPublisher(logger *logrus.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the event
func (p *LogPublisher) Publish(ctx context.Context, event models.TransitionEvent) error {
	p.logger.WithFields(logrus.Fields{
		"event_id":       event.EventID,
		"booking_id":     event.BookingID,
		"listing_id":     event.ListingID,
		"transaction_id": event.TransactionID,
		"subject":        event.Subject,
		"old_status":     event.OldStatus,
		"new_status":     event.NewStatus,
		"recipient":      event.RecipientEmail,
	}).Info("Booking notification")
	return nil
}
