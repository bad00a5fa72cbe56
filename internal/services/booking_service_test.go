package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/messhub/booking-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookingService_Create(t *testing.T) {
	f := newFixture(t)

	b := f.createBooking(t)

	assert.Equal(t, models.BookingStatusPending, b.BookingStatus)
	assert.Equal(t, models.PaymentStatusPending, b.PaymentStatus)
	assert.Equal(t, f.owner.UserID, b.OwnerID)
	assert.Equal(t, 1, b.AdvanceMonths)
	assert.Equal(t, 5000.0, b.TotalAmount)

	l := f.mustListing(t)
	assert.Equal(t, models.AvailabilityReservedForBooking, l.Availability)
	assert.True(t, l.HeldByBooking(b.ID))

	f.coordinator.Wait()
	assert.Equal(t, 2, f.notifier.count(models.SubjectBookingStatus, string(models.BookingStatusPending)))
}

func TestBookingService_Create_AdvanceMonthsOverride(t *testing.T) {
	f := newFixture(t)

	input := f.bookingInput()
	months := 3
	input.AdvanceMonths = &months

	b, err := f.bookings.Create(context.Background(), f.renter, input)
	require.NoError(t, err)
	assert.Equal(t, 3, b.AdvanceMonths)
	assert.Equal(t, 15000.0, b.TotalAmount)
}

func TestBookingService_Create_NormalizesPhone(t *testing.T) {
	f := newFixture(t)

	input := f.bookingInput()
	input.TenantPhone = "+880 1711-223344"

	b, err := f.bookings.Create(context.Background(), f.renter, input)
	require.NoError(t, err)
	assert.Equal(t, "01711223344", b.TenantPhone)
}

func TestBookingService_Create_NormalizesEmergencyPhone(t *testing.T) {
	f := newFixture(t)

	input := f.bookingInput()
	input.EmergencyContact = models.EmergencyContact{Name: "Karim Uddin", Phone: "+880 1811-223344", Relation: "brother"}

	b, err := f.bookings.Create(context.Background(), f.renter, input)
	require.NoError(t, err)
	assert.Equal(t, "01811223344", b.EmergencyContact.Phone)

	stored := f.mustBooking(t, b.ID)
	assert.Equal(t, "01811223344", stored.EmergencyContact.Phone)
	assert.Equal(t, "Karim Uddin", stored.EmergencyContact.Name)
}

func TestBookingService_Create_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *fixture, in *CreateBookingInput) models.Actor
		kind   models.ErrorKind
	}{
		{
			name: "missing listing id",
			mutate: func(f *fixture, in *CreateBookingInput) models.Actor {
				in.ListingID = uuid.Nil
				return f.renter
			},
			kind: models.ErrKindValidation,
		},
		{
			name: "missing check-in date",
			mutate: func(f *fixture, in *CreateBookingInput) models.Actor {
				in.CheckInDate = time.Time{}
				return f.renter
			},
			kind: models.ErrKindValidation,
		},
		{
			name: "non-positive amount",
			mutate: func(f *fixture, in *CreateBookingInput) models.Actor {
				in.PayableAmount = 0
				return f.renter
			},
			kind: models.ErrKindValidation,
		},
		{
			name: "invalid email",
			mutate: func(f *fixture, in *CreateBookingInput) models.Actor {
				in.TenantEmail = "not-an-email"
				return f.renter
			},
			kind: models.ErrKindValidation,
		},
		{
			name: "foreign phone number",
			mutate: func(f *fixture, in *CreateBookingInput) models.Actor {
				in.TenantPhone = "0771234567"
				return f.renter
			},
			kind: models.ErrKindValidation,
		},
		{
			name: "bad emergency contact phone",
			mutate: func(f *fixture, in *CreateBookingInput) models.Actor {
				in.EmergencyContact = models.EmergencyContact{Name: "Karim", Phone: "12345"}
				return f.renter
			},
			kind: models.ErrKindValidation,
		},
		{
			name: "advance months out of range",
			mutate: func(f *fixture, in *CreateBookingInput) models.Actor {
				months := 7
				in.AdvanceMonths = &months
				return f.renter
			},
			kind: models.ErrKindValidation,
		},
		{
			name: "unknown listing",
			mutate: func(f *fixture, in *CreateBookingInput) models.Actor {
				in.ListingID = uuid.New()
				return f.renter
			},
			kind: models.ErrKindNotFound,
		},
		{
			name: "unknown renter",
			mutate: func(f *fixture, in *CreateBookingInput) models.Actor {
				return models.Actor{UserID: uuid.New(), Roles: []string{models.RoleUser}}
			},
			kind: models.ErrKindForbidden,
		},
		{
			name: "suspended renter",
			mutate: func(f *fixture, in *CreateBookingInput) models.Actor {
				id := uuid.New()
				f.store.AddUser(models.User{ID: id, Email: "banned@example.com", Role: models.RoleUser, IsActive: false})
				return models.Actor{UserID: id, Roles: []string{models.RoleUser}}
			},
			kind: models.ErrKindForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			input := f.bookingInput()
			actor := tt.mutate(f, &input)

			_, err := f.bookings.Create(context.Background(), actor, input)
			require.Error(t, err)
			assert.Equal(t, tt.kind, models.KindOf(err))

			assert.Equal(t, models.AvailabilityFree, f.mustListing(t).Availability)
		})
	}
}

func TestBookingService_Create_ListingTaken(t *testing.T) {
	f := newFixture(t)
	first := f.createBooking(t)

	_, err := f.bookings.Create(context.Background(), f.renter2, f.bookingInput())
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrKindConflict))

	var de *models.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, models.AvailabilityReservedForBooking, de.Current["availability"])
	assert.Equal(t, first.ID, de.Current["held_by_booking_id"])
}

func TestBookingService_Create_Concurrent(t *testing.T) {
	f := newFixture(t)

	const renters = 8
	actors := make([]models.Actor, renters)
	for i := range actors {
		actors[i] = models.Actor{UserID: uuid.New(), Roles: []string{models.RoleUser}}
		f.store.AddUser(models.User{ID: actors[i].UserID, Email: "r@example.com", Role: models.RoleUser, IsActive: true})
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded []*models.Booking
		conflicts int
	)
	for _, actor := range actors {
		wg.Add(1)
		go func(actor models.Actor) {
			defer wg.Done()
			b, err := f.bookings.Create(context.Background(), actor, f.bookingInput())
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded = append(succeeded, b)
			} else if models.IsKind(err, models.ErrKindConflict) {
				conflicts++
			}
		}(actor)
	}
	wg.Wait()

	require.Len(t, succeeded, 1)
	assert.Equal(t, renters-1, conflicts)
	assert.True(t, f.mustListing(t).HeldByBooking(succeeded[0].ID))
}

func TestBookingService_OwnerConfirm(t *testing.T) {
	f := newFixture(t)
	b := f.createBooking(t)

	updated, err := f.bookings.OwnerSetStatus(context.Background(), f.owner, b.ID, models.BookingStatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusConfirmed, updated.BookingStatus)

	l := f.mustListing(t)
	assert.Equal(t, models.AvailabilityBooked, l.Availability)
	assert.NotNil(t, l.LastBookedAt)
	f.assertConsistent(t, f.mustBooking(t, b.ID))
}

func TestBookingService_OwnerReject_ReleasesListing(t *testing.T) {
	f := newFixture(t)
	b := f.createBooking(t)

	updated, err := f.bookings.OwnerSetStatus(context.Background(), f.owner, b.ID, models.BookingStatusRejected)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusRejected, updated.BookingStatus)

	l := f.mustListing(t)
	assert.Equal(t, models.AvailabilityFree, l.Availability)
	assert.Nil(t, l.HeldByBookingID)

	// listing is bookable again
	_, err = f.bookings.Create(context.Background(), f.renter2, f.bookingInput())
	require.NoError(t, err)
}

func TestBookingService_OwnerSetStatus_Rejections(t *testing.T) {
	f := newFixture(t)
	b := f.createBooking(t)
	ctx := context.Background()

	_, err := f.bookings.OwnerSetStatus(ctx, f.renter2, b.ID, models.BookingStatusConfirmed)
	assert.True(t, models.IsKind(err, models.ErrKindForbidden))

	_, err = f.bookings.OwnerSetStatus(ctx, f.owner, b.ID, models.BookingStatusCompleted)
	assert.True(t, models.IsKind(err, models.ErrKindInvalidTransition))

	_, err = f.bookings.OwnerSetStatus(ctx, f.owner, uuid.New(), models.BookingStatusConfirmed)
	assert.True(t, models.IsKind(err, models.ErrKindNotFound))

	assert.Equal(t, models.BookingStatusPending, f.mustBooking(t, b.ID).BookingStatus)
}

func TestBookingService_TerminalStatesHaveNoExit(t *testing.T) {
	f := newFixture(t)
	b := f.createBooking(t)
	ctx := context.Background()

	_, err := f.bookings.OwnerSetStatus(ctx, f.owner, b.ID, models.BookingStatusRejected)
	require.NoError(t, err)

	for _, next := range []models.BookingStatus{models.BookingStatusPending, models.BookingStatusConfirmed, models.BookingStatusCancelled} {
		_, err := f.bookings.OwnerSetStatus(ctx, f.owner, b.ID, next)
		assert.True(t, models.IsKind(err, models.ErrKindInvalidTransition), "rejected -> %s", next)
	}
	_, err = f.bookings.RenterCancel(ctx, f.renter, b.ID)
	assert.True(t, models.IsKind(err, models.ErrKindInvalidTransition))

	assert.Equal(t, models.BookingStatusRejected, f.mustBooking(t, b.ID).BookingStatus)
}

func TestBookingService_RenterCancel(t *testing.T) {
	t.Run("pending booking frees the listing", func(t *testing.T) {
		f := newFixture(t)
		b := f.createBooking(t)

		updated, err := f.bookings.RenterCancel(context.Background(), f.renter, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BookingStatusCancelled, updated.BookingStatus)
		assert.Equal(t, models.AvailabilityFree, f.mustListing(t).Availability)
	})

	t.Run("confirmed unpaid booking frees the listing", func(t *testing.T) {
		f := newFixture(t)
		b := f.createBooking(t)
		_, err := f.bookings.OwnerSetStatus(context.Background(), f.owner, b.ID, models.BookingStatusConfirmed)
		require.NoError(t, err)

		_, err = f.bookings.RenterCancel(context.Background(), f.renter, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AvailabilityFree, f.mustListing(t).Availability)
		f.assertConsistent(t, f.mustBooking(t, b.ID))
	})

	t.Run("paid booking needs a refund first", func(t *testing.T) {
		f := newFixture(t)
		b, _ := f.paidBooking(t)

		_, err := f.bookings.RenterCancel(context.Background(), f.renter, b.ID)
		require.Error(t, err)
		assert.True(t, models.IsKind(err, models.ErrKindConflict))

		after := f.mustBooking(t, b.ID)
		assert.Equal(t, models.BookingStatusConfirmed, after.BookingStatus)
		assert.Equal(t, models.PaymentStatusPaid, after.PaymentStatus)
		assert.Equal(t, models.AvailabilityBooked, f.mustListing(t).Availability)
	})

	t.Run("other renter is forbidden", func(t *testing.T) {
		f := newFixture(t)
		b := f.createBooking(t)

		_, err := f.bookings.RenterCancel(context.Background(), f.renter2, b.ID)
		assert.True(t, models.IsKind(err, models.ErrKindForbidden))
	})
}

func TestBookingService_Get(t *testing.T) {
	f := newFixture(t)
	b := f.createBooking(t)
	ctx := context.Background()

	for _, actor := range []models.Actor{f.renter, f.owner, f.admin} {
		got, err := f.bookings.Get(ctx, actor, b.ID)
		require.NoError(t, err)
		assert.Equal(t, b.ID, got.ID)
	}

	_, err := f.bookings.Get(ctx, f.renter2, b.ID)
	assert.True(t, models.IsKind(err, models.ErrKindForbidden))

	_, err = f.bookings.Get(ctx, f.renter, uuid.New())
	assert.True(t, models.IsKind(err, models.ErrKindNotFound))
}
