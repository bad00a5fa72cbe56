package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/messhub/booking-engine/internal/models"
)

const bookingColumns = `
	id, listing_id, renter_id, owner_id, check_in_date,
	advance_months, monthly_rate, total_amount, payable_amount,
	booking_status, payment_status,
	transaction_id, payment_method, paid_at,
	refunded_amount, refund_reason, refunded_at,
	tenant_name, tenant_phone, tenant_email, emergency_contact,
	payment_details, created_at, updated_at`

// BookingRepository handles booking persistence.
// Every status write is conditioned on the status the caller read.
type BookingRepository struct {
	q sqlx.ExtContext
}

// NewBookingRepository creates a booking repository bound to a pool or transaction
func NewBookingRepository(q sqlx.ExtContext) *BookingRepository {
	return &BookingRepository{q: q}
}

// Create inserts a new booking
func (r *BookingRepository) Create(ctx context.Context, b *models.Booking) error {
	query := `
		INSERT INTO bookings (
			id, listing_id, renter_id, owner_id, check_in_date,
			advance_months, monthly_rate, total_amount, payable_amount,
			booking_status, payment_status,
			tenant_name, tenant_phone, tenant_email, emergency_contact,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11,
			$12, $13, $14, $15,
			$16, $17
		)`

	_, err := r.q.ExecContext(ctx, query,
		b.ID, b.ListingID, b.RenterID, b.OwnerID, b.CheckInDate,
		b.AdvanceMonths, b.MonthlyRate, b.TotalAmount, b.PayableAmount,
		b.BookingStatus, b.PaymentStatus,
		b.TenantName, b.TenantPhone, b.TenantEmail, b.EmergencyContact,
		b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", classifyError(err))
	}
	return nil
}

// Get returns a booking by ID
func (r *BookingRepository) Get(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var b models.Booking
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.q, &b, query, id); err != nil {
		return nil, fmt.Errorf("failed to get booking %s: %w", id, classifyError(err))
	}
	return &b, nil
}

// UpdateStatus moves booking_status from expected to next
func (r *BookingRepository) UpdateStatus(ctx context.Context, id uuid.UUID, expected, next models.BookingStatus) error {
	query := `
		UPDATE bookings
		SET booking_status = $1, updated_at = NOW()
		WHERE id = $2 AND booking_status = $3`

	result, err := r.q.ExecContext(ctx, query, next, id, expected)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", classifyError(err))
	}
	return expectOneRow(result)
}

// UpdatePayment moves payment_status from expectedPayment to update.Status
// together with the paid/refund fields, provided booking_status is still
// expectedBooking. Nil fields keep their stored value.
func (r *BookingRepository) UpdatePayment(ctx context.Context, id uuid.UUID, expectedBooking models.BookingStatus, expectedPayment models.PaymentStatus, update models.PaymentUpdate) error {
	query := `
		UPDATE bookings
		SET payment_status = $1,
			paid_at = COALESCE($2, paid_at),
			refunded_amount = COALESCE($3, refunded_amount),
			refund_reason = COALESCE($4, refund_reason),
			refunded_at = COALESCE($5, refunded_at),
			payment_method = COALESCE($6, payment_method),
			payment_details = COALESCE($7, payment_details),
			updated_at = NOW()
		WHERE id = $8 AND booking_status = $9 AND payment_status = $10`

	result, err := r.q.ExecContext(ctx, query,
		update.Status, update.PaidAt, update.RefundedAmount, update.RefundReason,
		update.RefundedAt, update.PaymentMethod, update.Details, id, expectedBooking, expectedPayment)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", classifyError(err))
	}
	return expectOneRow(result)
}

// AttachTransaction records the current gateway transaction while payment is pending
func (r *BookingRepository) AttachTransaction(ctx context.Context, id uuid.UUID, transactionID string) error {
	query := `
		UPDATE bookings
		SET transaction_id = $1, updated_at = NOW()
		WHERE id = $2 AND payment_status = 'pending'`

	result, err := r.q.ExecContext(ctx, query, transactionID, id)
	if err != nil {
		return fmt.Errorf("failed to attach transaction: %w", classifyError(err))
	}
	return expectOneRow(result)
}

// Delete removes a booking row. Payment sessions cascade.
func (r *BookingRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM bookings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete booking: %w", classifyError(err))
	}
	if err := expectOneRow(result); err != nil {
		return ErrNotFound
	}
	return nil
}

// ListStalePending returns unpaid pending bookings untouched since cutoff
func (r *BookingRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := `
		SELECT id FROM bookings
		WHERE booking_status = 'pending'
			AND payment_status IN ('pending', 'failed')
			AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2`
	if err := sqlx.SelectContext(ctx, r.q, &ids, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to list stale bookings: %w", classifyError(err))
	}
	return ids, nil
}
