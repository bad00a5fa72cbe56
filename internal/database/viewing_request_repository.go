package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/messhub/booking-engine/internal/models"
)

const viewingRequestColumns = `id, listing_id, renter_id, owner_id, status, created_at, updated_at`

// ViewingRequestRepository handles viewing request persistence
type ViewingRequestRepository struct {
	q sqlx.ExtContext
}

// NewViewingRequestRepository creates a viewing request repository
func NewViewingRequestRepository(q sqlx.ExtContext) *ViewingRequestRepository {
	return &ViewingRequestRepository{q: q}
}

// Create inserts a new viewing request
func (r *ViewingRequestRepository) Create(ctx context.Context, v *models.ViewingRequest) error {
	query := `
		INSERT INTO viewing_requests (id, listing_id, renter_id, owner_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.q.ExecContext(ctx, query,
		v.ID, v.ListingID, v.RenterID, v.OwnerID, v.Status, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create viewing request: %w", classifyError(err))
	}
	return nil
}

// Get returns a viewing request by ID
func (r *ViewingRequestRepository) Get(ctx context.Context, id uuid.UUID) (*models.ViewingRequest, error) {
	var v models.ViewingRequest
	query := `SELECT ` + viewingRequestColumns + ` FROM viewing_requests WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.q, &v, query, id); err != nil {
		return nil, fmt.Errorf("failed to get viewing request %s: %w", id, classifyError(err))
	}
	return &v, nil
}

// FindLatest returns the renter's most recent request for a listing
func (r *ViewingRequestRepository) FindLatest(ctx context.Context, listingID, renterID uuid.UUID) (*models.ViewingRequest, error) {
	var v models.ViewingRequest
	query := `SELECT ` + viewingRequestColumns + `
		FROM viewing_requests
		WHERE listing_id = $1 AND renter_id = $2
		ORDER BY created_at DESC
		LIMIT 1`
	if err := sqlx.GetContext(ctx, r.q, &v, query, listingID, renterID); err != nil {
		return nil, fmt.Errorf("failed to find viewing request: %w", classifyError(err))
	}
	return &v, nil
}

// UpdateStatus moves a viewing request from expected to next
func (r *ViewingRequestRepository) UpdateStatus(ctx context.Context, id uuid.UUID, expected, next models.ViewingStatus) error {
	query := `
		UPDATE viewing_requests
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`

	result, err := r.q.ExecContext(ctx, query, next, id, expected)
	if err != nil {
		return fmt.Errorf("failed to update viewing request: %w", classifyError(err))
	}
	return expectOneRow(result)
}
