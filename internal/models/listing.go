package models

import (
	"time"

	"github.com/google/uuid"
)

// Availability is the listing state owned by the consistency coordinator
// Matches PostgreSQL ENUM: listing_availability
type Availability string

const (
	AvailabilityFree               Availability = "free"
	AvailabilityReservedForViewing Availability = "reserved_for_viewing"
	AvailabilityReservedForBooking Availability = "reserved_for_booking"
	AvailabilityBooked             Availability = "booked"
)

// Listing is a rentable unit in a mess
type Listing struct {
	ID            uuid.UUID    `json:"id" db:"id"`
	OwnerID       uuid.UUID    `json:"owner_id" db:"owner_id"`
	Title         string       `json:"title" db:"title"`
	MonthlyRate   float64      `json:"monthly_rate" db:"monthly_rate"`
	AdvanceMonths int          `json:"advance_months" db:"advance_months"`
	Availability  Availability `json:"availability" db:"availability"`

	// Which booking or viewing request put the listing in its current state
	HeldByBookingID *uuid.UUID `json:"held_by_booking_id,omitempty" db:"held_by_booking_id"`
	HeldByViewingID *uuid.UUID `json:"held_by_viewing_id,omitempty" db:"held_by_viewing_id"`
	HeldSince       *time.Time `json:"held_since,omitempty" db:"held_since"`

	LastBookedAt *time.Time `json:"last_booked_at,omitempty" db:"last_booked_at"`
	Version      int        `json:"version" db:"version"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// HeldByBooking reports whether bookingID holds the listing.
func (l *Listing) HeldByBooking(bookingID uuid.UUID) bool {
	return l.HeldByBookingID != nil && *l.HeldByBookingID == bookingID
}

// HeldByViewing reports whether viewingID holds the listing.
func (l *Listing) HeldByViewing(viewingID uuid.UUID) bool {
	return l.HeldByViewingID != nil && *l.HeldByViewingID == viewingID
}

// ListingHold is the next availability of a listing and who holds it.
type ListingHold struct {
	Availability Availability
	BookingID    *uuid.UUID
	ViewingID    *uuid.UUID
	At           time.Time
}
