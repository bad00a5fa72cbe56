package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/messhub/booking-engine/internal/models"
)

const listingColumns = `
	id, owner_id, title, monthly_rate, advance_months, availability,
	held_by_booking_id, held_by_viewing_id, held_since,
	last_booked_at, version, updated_at`

// ListingRepository handles listing availability persistence
type ListingRepository struct {
	q sqlx.ExtContext
}

// NewListingRepository creates a listing repository bound to a pool or transaction
func NewListingRepository(q sqlx.ExtContext) *ListingRepository {
	return &ListingRepository{q: q}
}

// Get returns a listing by ID
func (r *ListingRepository) Get(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.q, &listing, query, id); err != nil {
		return nil, fmt.Errorf("failed to get listing %s: %w", id, classifyError(err))
	}
	return &listing, nil
}

// UpdateAvailability moves a listing to hold.Availability if it is still in
// expected at the version the caller read
func (r *ListingRepository) UpdateAvailability(ctx context.Context, id uuid.UUID, expected models.Availability, version int, hold models.ListingHold) error {
	var heldSince *time.Time
	if hold.Availability != models.AvailabilityFree {
		at := hold.At
		heldSince = &at
	}

	query := `
		UPDATE listings
		SET availability = $1,
			held_by_booking_id = $2,
			held_by_viewing_id = $3,
			held_since = $4,
			last_booked_at = CASE WHEN $8 THEN $5 ELSE last_booked_at END,
			version = version + 1,
			updated_at = $5
		WHERE id = $6 AND availability = $7 AND version = $9`

	result, err := r.q.ExecContext(ctx, query,
		hold.Availability, hold.BookingID, hold.ViewingID, heldSince, hold.At, id, expected,
		hold.Availability == models.AvailabilityBooked, version)
	if err != nil {
		return fmt.Errorf("failed to update listing availability: %w", classifyError(err))
	}
	return expectOneRow(result)
}

// ListViewingHoldsBefore returns listings reserved for viewing since before cutoff
func (r *ListingRepository) ListViewingHoldsBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Listing, error) {
	var listings []models.Listing
	query := `SELECT ` + listingColumns + `
		FROM listings
		WHERE availability = 'reserved_for_viewing' AND held_since < $1
		ORDER BY held_since
		LIMIT $2`
	if err := sqlx.SelectContext(ctx, r.q, &listings, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to list viewing holds: %w", classifyError(err))
	}
	return listings, nil
}
