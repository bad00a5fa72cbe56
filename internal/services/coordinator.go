package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/messhub/booking-engine/internal/database"
	"github.com/messhub/booking-engine/internal/models"
	"github.com/messhub/booking-engine/pkg/notify"
	"github.com/sirupsen/logrus"
)

// Trigger is the cause of a listing availability change
type Trigger string

const (
	TriggerBookingCreated   Trigger = "booking_created"
	TriggerViewingAccepted  Trigger = "viewing_accepted"
	TriggerViewingReleased  Trigger = "viewing_released"
	TriggerBookingConfirmed Trigger = "booking_confirmed"
	TriggerPaymentPaid      Trigger = "payment_paid"
	TriggerBookingCancelled Trigger = "booking_cancelled"
	TriggerBookingRejected  Trigger = "booking_rejected"
	TriggerPaymentRefunded  Trigger = "payment_refunded"
	TriggerAdminTerminal    Trigger = "admin_terminal"
	TriggerBookingExpired   Trigger = "booking_expired"
	TriggerBookingDeleted   Trigger = "booking_deleted"
)

// holdCheck says who must hold the listing for a source state to qualify
type holdCheck int

const (
	anyHolder holdCheck = iota
	heldByCauseBooking
	heldByCauseViewing
)

// missPolicy is what Apply does when the listing is in none of the source states
type missPolicy int

const (
	missConflict missPolicy = iota
	missNoop
)

type availabilityRule struct {
	target models.Availability
	from   map[models.Availability]holdCheck
	onMiss missPolicy
}

var releaseByBooking = map[models.Availability]holdCheck{
	models.AvailabilityReservedForBooking: heldByCauseBooking,
	models.AvailabilityBooked:             heldByCauseBooking,
}

// availabilityRules is the complete listing transition table.
var availabilityRules = map[Trigger]availabilityRule{
	TriggerBookingCreated: {
		target: models.AvailabilityReservedForBooking,
		from:   map[models.Availability]holdCheck{models.AvailabilityFree: anyHolder},
		onMiss: missConflict,
	},
	TriggerViewingAccepted: {
		target: models.AvailabilityReservedForViewing,
		from:   map[models.Availability]holdCheck{models.AvailabilityFree: anyHolder},
		onMiss: missNoop,
	},
	TriggerViewingReleased: {
		target: models.AvailabilityFree,
		from:   map[models.Availability]holdCheck{models.AvailabilityReservedForViewing: heldByCauseViewing},
		onMiss: missNoop,
	},
	TriggerBookingConfirmed: {
		target: models.AvailabilityBooked,
		from: map[models.Availability]holdCheck{
			models.AvailabilityFree:               anyHolder,
			models.AvailabilityReservedForBooking: heldByCauseBooking,
		},
		onMiss: missConflict,
	},
	TriggerPaymentPaid: {
		target: models.AvailabilityBooked,
		from: map[models.Availability]holdCheck{
			models.AvailabilityFree:               anyHolder,
			models.AvailabilityReservedForBooking: heldByCauseBooking,
		},
		onMiss: missConflict,
	},
	TriggerBookingCancelled: {target: models.AvailabilityFree, from: releaseByBooking, onMiss: missNoop},
	TriggerBookingRejected:  {target: models.AvailabilityFree, from: releaseByBooking, onMiss: missNoop},
	TriggerPaymentRefunded:  {target: models.AvailabilityFree, from: releaseByBooking, onMiss: missNoop},
	TriggerAdminTerminal:    {target: models.AvailabilityFree, from: releaseByBooking, onMiss: missNoop},
	TriggerBookingExpired:   {target: models.AvailabilityFree, from: releaseByBooking, onMiss: missNoop},
	TriggerBookingDeleted:   {target: models.AvailabilityFree, from: releaseByBooking, onMiss: missNoop},
}

// maxApplyAttempts bounds how often Apply re-reads a listing after losing a race
const maxApplyAttempts = 3

// Cause identifies what is driving an availability change
type Cause struct {
	BookingID uuid.UUID
	ViewingID uuid.UUID
	Actor     uuid.UUID
	Reason    string
}

// ApplyResult reports what Apply did to the listing
type ApplyResult struct {
	ListingID uuid.UUID
	Trigger   Trigger
	Previous  models.Availability
	Current   models.Availability
	Changed   bool
}

// Notifier is where committed transitions are sent
type Notifier = notify.Publisher

// Coordinator is the only writer of listing availability. It owns the
// transaction boundary of every operation that changes booking, payment or
// listing state, and releases queued notifications after commit.
type Coordinator struct {
	store           database.Store
	notifier        Notifier
	logger          *logrus.Logger
	now             func() time.Time
	dispatchTimeout time.Duration
	wg              sync.WaitGroup
}

// NewCoordinator creates a coordinator over store
func NewCoordinator(store database.Store, notifier Notifier, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		store:           store,
		notifier:        notifier,
		logger:          logger,
		now:             time.Now,
		dispatchTimeout: 10 * time.Second,
	}
}

// Scope is the view of one transaction handed to operations. Listings are
// readable through it but only Apply writes them.
type Scope struct {
	repos       database.Repositories
	coordinator *Coordinator
	events      []models.TransitionEvent
}

func (s *Scope) Bookings() database.BookingStore               { return s.repos.Bookings() }
func (s *Scope) PaymentSessions() database.PaymentSessionStore { return s.repos.PaymentSessions() }
func (s *Scope) ViewingRequests() database.ViewingRequestStore { return s.repos.ViewingRequests() }
func (s *Scope) Users() database.UserStore                     { return s.repos.Users() }

// Listing reads a listing inside the transaction
func (s *Scope) Listing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	return s.repos.Listings().Get(ctx, id)
}

// Now is the coordinator clock
func (s *Scope) Now() time.Time {
	return s.coordinator.now()
}

// Notify queues an event for dispatch once the transaction commits
func (s *Scope) Notify(events ...models.TransitionEvent) {
	s.events = append(s.events, events...)
}

// Apply derives and writes the listing availability for trigger
func (s *Scope) Apply(ctx context.Context, listingID uuid.UUID, trigger Trigger, cause Cause) (*ApplyResult, error) {
	return s.coordinator.apply(ctx, s.repos.Listings(), listingID, trigger, cause)
}

// Run executes fn in one transaction. Events queued by fn are dispatched
// only if the transaction commits.
func (c *Coordinator) Run(ctx context.Context, fn func(ctx context.Context, scope *Scope) error) error {
	var events []models.TransitionEvent

	err := c.store.WithTx(ctx, func(repos database.Repositories) error {
		scope := &Scope{repos: repos, coordinator: c}
		if err := fn(ctx, scope); err != nil {
			return err
		}
		events = scope.events
		return nil
	})
	if err != nil {
		return translateStoreError(err)
	}

	c.dispatch(events)
	return nil
}

// Reader returns stores outside any transaction, for plain lookups
func (c *Coordinator) Reader() database.Repositories {
	return c.store.Repositories()
}

func (c *Coordinator) apply(ctx context.Context, listings database.ListingStore, listingID uuid.UUID, trigger Trigger, cause Cause) (*ApplyResult, error) {
	rule, ok := availabilityRules[trigger]
	if !ok {
		return nil, models.NewValidation("unknown availability trigger %q", trigger)
	}

	log := c.logger.WithFields(logrus.Fields{
		"listing_id": listingID,
		"trigger":    trigger,
		"booking_id": cause.BookingID,
	})

	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		listing, err := listings.Get(ctx, listingID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return nil, models.NewNotFound("listing %s not found", listingID)
			}
			return nil, err
		}

		result := &ApplyResult{
			ListingID: listingID,
			Trigger:   trigger,
			Previous:  listing.Availability,
			Current:   listing.Availability,
		}

		if alreadyApplied(listing, rule, cause) {
			log.Debug("Listing already reflects trigger")
			return result, nil
		}

		if !qualifies(listing, rule, cause) {
			if rule.onMiss == missNoop {
				log.WithField("availability", listing.Availability).Debug("Trigger does not apply to listing state")
				return result, nil
			}
			return nil, models.NewConflict("listing is %s", listing.Availability).
				WithCurrent(listingState(listing))
		}

		hold := models.ListingHold{Availability: rule.target, At: c.now()}
		switch rule.target {
		case models.AvailabilityReservedForBooking, models.AvailabilityBooked:
			id := cause.BookingID
			hold.BookingID = &id
		case models.AvailabilityReservedForViewing:
			id := cause.ViewingID
			hold.ViewingID = &id
		}

		err = listings.UpdateAvailability(ctx, listingID, listing.Availability, listing.Version, hold)
		if errors.Is(err, database.ErrPreconditionFailed) {
			log.WithField("attempt", attempt).Warn("Listing changed concurrently, re-reading")
			continue
		}
		if err != nil {
			return nil, err
		}

		result.Current = rule.target
		result.Changed = true
		log.WithFields(logrus.Fields{
			"from": result.Previous,
			"to":   result.Current,
		}).Info("Listing availability updated")
		return result, nil
	}

	current, err := listings.Get(ctx, listingID)
	if err != nil {
		return nil, models.NewConflict("listing changed concurrently").WithCause(err)
	}
	return nil, models.NewConflict("listing changed concurrently").WithCurrent(listingState(current))
}

// alreadyApplied reports whether the listing already sits at the rule's
// target on behalf of the same cause.
func alreadyApplied(l *models.Listing, rule availabilityRule, cause Cause) bool {
	if l.Availability != rule.target {
		return false
	}
	switch rule.target {
	case models.AvailabilityFree:
		return true
	case models.AvailabilityReservedForViewing:
		return l.HeldByViewing(cause.ViewingID)
	default:
		return l.HeldByBooking(cause.BookingID)
	}
}

func qualifies(l *models.Listing, rule availabilityRule, cause Cause) bool {
	check, ok := rule.from[l.Availability]
	if !ok {
		return false
	}
	switch check {
	case heldByCauseBooking:
		return l.HeldByBooking(cause.BookingID)
	case heldByCauseViewing:
		return l.HeldByViewing(cause.ViewingID)
	}
	return true
}

func listingState(l *models.Listing) map[string]interface{} {
	state := map[string]interface{}{
		"listing_id":   l.ID,
		"availability": l.Availability,
		"version":      l.Version,
	}
	if l.HeldByBookingID != nil {
		state["held_by_booking_id"] = *l.HeldByBookingID
	}
	if l.HeldByViewingID != nil {
		state["held_by_viewing_id"] = *l.HeldByViewingID
	}
	return state
}

// translateStoreError maps store sentinels that escaped an operation
func translateStoreError(err error) error {
	var de *models.DomainError
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, database.ErrPreconditionFailed),
		errors.Is(err, database.ErrSerialization),
		errors.Is(err, database.ErrConstraint):
		return models.NewConflict("concurrent update, retry with fresh state").WithCause(err)
	case errors.Is(err, database.ErrDuplicate):
		return models.NewConflict("duplicate record").WithCause(err)
	case errors.Is(err, database.ErrNotFound):
		return models.NewNotFound("record not found").WithCause(err)
	}
	return err
}

// dispatch publishes events in the background. Failures are logged; the
// transition they describe has already committed.
func (c *Coordinator) dispatch(events []models.TransitionEvent) {
	if len(events) == 0 || c.notifier == nil {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.dispatchTimeout)
		defer cancel()

		for _, event := range events {
			if err := c.notifier.Publish(ctx, event); err != nil {
				c.logger.WithError(err).WithFields(logrus.Fields{
					"event_id":   event.EventID,
					"booking_id": event.BookingID,
					"new_status": event.NewStatus,
				}).Error("Failed to publish booking notification")
			}
		}
	}()
}

// Wait blocks until queued notifications have been handed to the notifier
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
