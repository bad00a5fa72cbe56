package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// BOOKING & PAYMENT STATUSES (matches DB ENUMs)
// ============================================================================

// BookingStatus represents the lifecycle status of a booking
// Matches PostgreSQL ENUM: booking_status
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusRejected  BookingStatus = "rejected"
	BookingStatusCompleted BookingStatus = "completed"
)

// PaymentStatus represents the payment status of a booking
// Matches PostgreSQL ENUM: booking_payment_status
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// ============================================================================
// TRANSITION TABLES
// ============================================================================

// OwnerBookingTransitions is what a listing owner may do to a booking.
var OwnerBookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusRejected},
	BookingStatusConfirmed: {BookingStatusCancelled},
}

// RenterBookingTransitions is what the renter may do to their own booking.
var RenterBookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusCancelled},
	BookingStatusConfirmed: {BookingStatusCancelled},
}

// AdminBookingTransitions is the override table. Terminal states have no entry.
var AdminBookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusRejected, BookingStatusCancelled},
	BookingStatusConfirmed: {BookingStatusCancelled, BookingStatusCompleted},
}

// PaymentTransitions is shared by the gateway callbacks and the admin override.
var PaymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {PaymentStatusPaid, PaymentStatusFailed},
	PaymentStatusPaid:    {PaymentStatusRefunded},
}

// CanTransition reports whether table allows from -> to.
func CanTransition[S ~string](table map[S][]S, from, to S) bool {
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a booking can no longer change status.
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingStatusCancelled, BookingStatusRejected, BookingStatusCompleted:
		return true
	}
	return false
}

// IsValid reports whether s is a known booking status.
func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCancelled,
		BookingStatusRejected, BookingStatusCompleted:
		return true
	}
	return false
}

// IsTerminal reports whether a payment can no longer change status.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusFailed || s == PaymentStatusRefunded
}

// IsValid reports whether s is a known payment status.
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// ============================================================================
// BOOKING
// ============================================================================

// EmergencyContact stored as JSONB on the booking
type EmergencyContact struct {
	Name     string `json:"name" validate:"omitempty,max=100"`
	Phone    string `json:"phone" validate:"omitempty,bdphone"`
	Relation string `json:"relation" validate:"omitempty,max=50"`
}

func (e EmergencyContact) Value() (driver.Value, error) {
	bytes, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

func (e *EmergencyContact) Scan(value interface{}) error {
	if value == nil {
		*e = EmergencyContact{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, e)
	case string:
		return json.Unmarshal([]byte(v), e)
	}
	return errors.New("type assertion to []byte failed for EmergencyContact")
}

// Booking is a renter's reservation of a listing
type Booking struct {
	ID          uuid.UUID `json:"id" db:"id"`
	ListingID   uuid.UUID `json:"listing_id" db:"listing_id"`
	RenterID    uuid.UUID `json:"renter_id" db:"renter_id"`
	OwnerID     uuid.UUID `json:"owner_id" db:"owner_id"`
	CheckInDate time.Time `json:"check_in_date" db:"check_in_date"`

	// Pricing snapshot taken from the listing at creation
	AdvanceMonths int     `json:"advance_months" db:"advance_months"`
	MonthlyRate   float64 `json:"monthly_rate" db:"monthly_rate"`
	TotalAmount   float64 `json:"total_amount" db:"total_amount"`
	PayableAmount float64 `json:"payable_amount" db:"payable_amount"`

	BookingStatus BookingStatus `json:"booking_status" db:"booking_status"`
	PaymentStatus PaymentStatus `json:"payment_status" db:"payment_status"`

	// Current payment session
	TransactionID *string    `json:"transaction_id,omitempty" db:"transaction_id"`
	PaymentMethod *string    `json:"payment_method,omitempty" db:"payment_method"`
	PaidAt        *time.Time `json:"paid_at,omitempty" db:"paid_at"`

	// Refund details
	RefundedAmount *float64   `json:"refunded_amount,omitempty" db:"refunded_amount"`
	RefundReason   *string    `json:"refund_reason,omitempty" db:"refund_reason"`
	RefundedAt     *time.Time `json:"refunded_at,omitempty" db:"refunded_at"`

	// Tenant contact
	TenantName       string           `json:"tenant_name" db:"tenant_name"`
	TenantPhone      string           `json:"tenant_phone" db:"tenant_phone"`
	TenantEmail      string           `json:"tenant_email" db:"tenant_email"`
	EmergencyContact EmergencyContact `json:"emergency_contact" db:"emergency_contact"`

	PaymentDetails JSONB `json:"payment_details,omitempty" db:"payment_details"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsParticipant reports whether userID is the renter or owner of the booking.
func (b *Booking) IsParticipant(userID uuid.UUID) bool {
	return b.RenterID == userID || b.OwnerID == userID
}

// PaymentUpdate is a conditional change of payment status plus the fields
// that travel with it.
type PaymentUpdate struct {
	Status         PaymentStatus
	PaidAt         *time.Time
	RefundedAmount *float64
	RefundReason   *string
	RefundedAt     *time.Time
	PaymentMethod  *string
	Details        JSONB
}

// ============================================================================
// REQUEST / RESPONSE TYPES
// ============================================================================

// CreateBookingRequest is the body of POST /bookings
type CreateBookingRequest struct {
	ListingID        string           `json:"listing_id" binding:"required,uuid"`
	CheckInDate      string           `json:"check_in_date" binding:"required"` // YYYY-MM-DD
	PayableAmount    float64          `json:"payable_amount" binding:"required"`
	AdvanceMonths    *int             `json:"advance_months,omitempty"` // defaults to the listing's
	TenantName       string           `json:"tenant_name" binding:"required"`
	TenantPhone      string           `json:"tenant_phone" binding:"required"`
	TenantEmail      string           `json:"tenant_email" binding:"required,email"`
	EmergencyContact EmergencyContact `json:"emergency_contact"`
}

// UpdateBookingStatusRequest is the body of the owner status endpoint
type UpdateBookingStatusRequest struct {
	Status BookingStatus `json:"status" binding:"required"`
}

// AdminOverrideRequest carries the optional target statuses of an override
type AdminOverrideRequest struct {
	BookingStatus *BookingStatus `json:"booking_status,omitempty"`
	PaymentStatus *PaymentStatus `json:"payment_status,omitempty"`
	Reason        string         `json:"reason"`
}

// RefundRequest is the body of the admin refund endpoint. A missing amount
// refunds the whole payable amount; Cancel also cancels the booking.
type RefundRequest struct {
	Amount *float64 `json:"amount,omitempty"`
	Reason string   `json:"reason" binding:"required"`
	Cancel bool     `json:"cancel"`
}
