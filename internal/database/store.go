package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/messhub/booking-engine/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("record not found")

	// ErrPreconditionFailed is returned when a conditional update matched no row
	ErrPreconditionFailed = errors.New("conditional update matched no rows")

	// ErrSerialization is returned when PostgreSQL aborted the transaction
	// because of a concurrent writer (serialization failure or deadlock)
	ErrSerialization = errors.New("concurrent update detected")

	// ErrDuplicate is returned on unique constraint violations
	ErrDuplicate = errors.New("duplicate record")

	// ErrConstraint is returned when a write would break a CHECK constraint,
	// typically because a concurrent writer changed the other half of the row
	ErrConstraint = errors.New("check constraint violated")
)

// ListingStore reads listings and writes their availability
type ListingStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	// UpdateAvailability only succeeds while the listing is still in expected
	// at the given version.
	UpdateAvailability(ctx context.Context, id uuid.UUID, expected models.Availability, version int, hold models.ListingHold) error
	ListViewingHoldsBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Listing, error)
}

// BookingStore persists bookings with status-conditioned writes
type BookingStore interface {
	Create(ctx context.Context, booking *models.Booking) error
	Get(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, expected, next models.BookingStatus) error
	// UpdatePayment only succeeds while both statuses are still the ones read.
	UpdatePayment(ctx context.Context, id uuid.UUID, expectedBooking models.BookingStatus, expectedPayment models.PaymentStatus, update models.PaymentUpdate) error
	AttachTransaction(ctx context.Context, id uuid.UUID, transactionID string) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

// PaymentSessionStore persists gateway sessions keyed by transaction id
type PaymentSessionStore interface {
	Create(ctx context.Context, session *models.PaymentSession) error
	Get(ctx context.Context, transactionID string) (*models.PaymentSession, error)
	SetGatewayReference(ctx context.Context, transactionID, sessionKey, gatewayURL string) error
	// Settle closes a session that is still in expected.
	Settle(ctx context.Context, transactionID string, expected models.SessionStatus, settlement models.SessionSettlement) error
}

// ViewingRequestStore persists viewing requests
type ViewingRequestStore interface {
	Create(ctx context.Context, request *models.ViewingRequest) error
	Get(ctx context.Context, id uuid.UUID) (*models.ViewingRequest, error)
	FindLatest(ctx context.Context, listingID, renterID uuid.UUID) (*models.ViewingRequest, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, expected, next models.ViewingStatus) error
}

// UserStore reads accounts
type UserStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// PaymentAuditStore appends to the payment audit log
type PaymentAuditStore interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
}

// Repositories groups the stores bound to one connection or transaction
type Repositories interface {
	Listings() ListingStore
	Bookings() BookingStore
	PaymentSessions() PaymentSessionStore
	ViewingRequests() ViewingRequestStore
	Users() UserStore
}

// Store is the persistence boundary of the booking engine
type Store interface {
	// WithTx runs fn in one transaction. A non-nil error from fn rolls back.
	WithTx(ctx context.Context, fn func(repos Repositories) error) error
	// Repositories returns stores outside any transaction, for reads.
	Repositories() Repositories
	PaymentAudits() PaymentAuditStore
	Ping(ctx context.Context) error
	Close() error
}

// classifyError maps driver errors onto the package sentinels
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	code := ""
	var pqErr *pq.Error
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pqErr):
		code = string(pqErr.Code)
	case errors.As(err, &pgErr):
		code = pgErr.Code
	}

	switch code {
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	case "23505": // unique_violation
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	case "23514": // check_violation
		return fmt.Errorf("%w: %v", ErrConstraint, err)
	}
	return err
}

// expectOneRow turns a zero-row conditional update into ErrPreconditionFailed
func expectOneRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrPreconditionFailed
	}
	return nil
}
