package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/messhub/booking-engine/internal/config"
	"github.com/messhub/booking-engine/internal/database"
	"github.com/messhub/booking-engine/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// SweepResult counts what one sweep released
type SweepResult struct {
	ExpiredBookings  int `json:"expired_bookings"`
	ReleasedViewings int `json:"released_viewings"`
	Failed           int `json:"failed"`
}

// ExpirationService cancels unpaid bookings and releases stale viewing holds
// on a cron schedule. Each item is its own transaction.
type ExpirationService struct {
	coordinator *Coordinator
	config      config.BookingConfig
	logger      *logrus.Logger
	cron        *cron.Cron
	running     sync.Mutex
}

// NewExpirationService creates the sweeper
func NewExpirationService(coordinator *Coordinator, cfg config.BookingConfig, logger *logrus.Logger) *ExpirationService {
	return &ExpirationService{
		coordinator: coordinator,
		config:      cfg,
		logger:      logger,
		cron:        cron.New(cron.WithSeconds()),
	}
}

// Start schedules the sweep
func (s *ExpirationService) Start() error {
	_, err := s.cron.AddFunc(s.config.SweepSchedule, s.sweepJob)
	if err != nil {
		return fmt.Errorf("failed to schedule expiry sweep: %w", err)
	}
	s.cron.Start()

	s.logger.WithFields(logrus.Fields{
		"schedule":         s.config.SweepSchedule,
		"pending_ttl":      s.config.PendingTTL.String(),
		"viewing_hold_ttl": s.config.ViewingHoldTTL.String(),
	}).Info("Expiry sweeper started")
	return nil
}

// Stop waits for a running sweep to finish
func (s *ExpirationService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Expiry sweeper stopped")
}

func (s *ExpirationService) sweepJob() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.WithError(err).Error("Expiry sweep failed")
	}
}

// RunOnce performs one sweep. Overlapping calls are skipped rather than queued.
func (s *ExpirationService) RunOnce(ctx context.Context) (*SweepResult, error) {
	if !s.running.TryLock() {
		s.logger.Debug("Expiry sweep already running, skipping")
		return &SweepResult{}, nil
	}
	defer s.running.Unlock()

	start := time.Now()
	result := &SweepResult{}
	now := s.coordinator.now()
	reader := s.coordinator.Reader()

	stale, err := reader.Bookings().ListStalePending(ctx, now.Add(-s.config.PendingTTL), s.config.SweepBatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale bookings: %w", err)
	}
	for _, id := range stale {
		expired, err := s.expireBooking(ctx, id, now)
		switch {
		case err != nil:
			result.Failed++
			s.logger.WithError(err).WithField("booking_id", id).Warn("Failed to expire booking")
		case expired:
			result.ExpiredBookings++
		}
	}

	holds, err := reader.Listings().ListViewingHoldsBefore(ctx, now.Add(-s.config.ViewingHoldTTL), s.config.SweepBatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list viewing holds: %w", err)
	}
	for _, listing := range holds {
		if listing.HeldByViewingID == nil {
			continue
		}
		released, err := s.releaseViewing(ctx, listing.ID, *listing.HeldByViewingID)
		switch {
		case err != nil:
			result.Failed++
			s.logger.WithError(err).WithField("listing_id", listing.ID).Warn("Failed to release viewing hold")
		case released:
			result.ReleasedViewings++
		}
	}

	if result.ExpiredBookings > 0 || result.ReleasedViewings > 0 || result.Failed > 0 {
		s.logger.WithFields(logrus.Fields{
			"expired_bookings":  result.ExpiredBookings,
			"released_viewings": result.ReleasedViewings,
			"failed":            result.Failed,
			"duration_ms":       time.Since(start).Milliseconds(),
		}).Info("Expiry sweep completed")
	}
	return result, nil
}

// expireBooking cancels one unpaid pending booking. The state is re-checked
// inside the transaction, so a payment that settled meanwhile wins.
func (s *ExpirationService) expireBooking(ctx context.Context, bookingID uuid.UUID, now time.Time) (bool, error) {
	expired := false
	cutoff := now.Add(-s.config.PendingTTL)

	err := s.coordinator.Run(ctx, func(ctx context.Context, scope *Scope) error {
		b, err := scope.Bookings().Get(ctx, bookingID)
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if b.BookingStatus != models.BookingStatusPending ||
			(b.PaymentStatus != models.PaymentStatusPending && b.PaymentStatus != models.PaymentStatusFailed) ||
			!b.UpdatedAt.Before(cutoff) {
			return nil
		}

		if b.TransactionID != nil {
			err := scope.PaymentSessions().Settle(ctx, *b.TransactionID, models.SessionStatusOpen,
				models.SessionSettlement{Status: models.SessionStatusAbandoned, At: scope.Now()})
			if err != nil && !errors.Is(err, database.ErrPreconditionFailed) && !errors.Is(err, database.ErrNotFound) {
				return err
			}
		}

		if err := scope.Bookings().UpdateStatus(ctx, b.ID, models.BookingStatusPending, models.BookingStatusCancelled); err != nil {
			return err
		}
		if _, err := scope.Apply(ctx, b.ListingID, TriggerBookingExpired, Cause{BookingID: b.ID, Actor: models.SystemActor.UserID, Reason: "payment window expired"}); err != nil {
			return err
		}

		b.BookingStatus = models.BookingStatusCancelled
		scope.notifyParticipants(ctx, b, models.SubjectBookingStatus, string(models.BookingStatusPending), string(models.BookingStatusCancelled))
		expired = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if expired {
		s.logger.WithField("booking_id", bookingID).Info("Unpaid booking expired")
	}
	return expired, nil
}

// releaseViewing frees a listing still held for viewingID and rejects the request
func (s *ExpirationService) releaseViewing(ctx context.Context, listingID, viewingID uuid.UUID) (bool, error) {
	released := false

	err := s.coordinator.Run(ctx, func(ctx context.Context, scope *Scope) error {
		v, err := scope.ViewingRequests().Get(ctx, viewingID)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return err
		}
		if err == nil && v.Status == models.ViewingStatusAccepted {
			if err := scope.ViewingRequests().UpdateStatus(ctx, v.ID, models.ViewingStatusAccepted, models.ViewingStatusRejected); err != nil {
				return err
			}
		}

		result, err := scope.Apply(ctx, listingID, TriggerViewingReleased, Cause{ViewingID: viewingID, Actor: models.SystemActor.UserID, Reason: "viewing hold expired"})
		if err != nil {
			return err
		}
		released = result.Changed
		return nil
	})
	return released, err
}
