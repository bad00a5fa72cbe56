package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// SessionStatus tracks whether a gateway session has been settled
type SessionStatus string

const (
	SessionStatusOpen           SessionStatus = "open"
	SessionStatusConsumedPaid   SessionStatus = "consumed_paid"
	SessionStatusConsumedFailed SessionStatus = "consumed_failed"
	SessionStatusAbandoned      SessionStatus = "abandoned"
)

// GatewayResult is the outcome reported by a gateway callback
type GatewayResult string

const (
	GatewayResultValid     GatewayResult = "VALID"
	GatewayResultValidated GatewayResult = "VALIDATED"
	GatewayResultFailed    GatewayResult = "FAILED"
	GatewayResultCancelled GatewayResult = "CANCELLED"
)

// IsSuccess reports whether the gateway considers the transaction paid.
func (r GatewayResult) IsSuccess() bool {
	return r == GatewayResultValid || r == GatewayResultValidated
}

// CustomerInfo is the customer snapshot sent to the gateway
type CustomerInfo struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Phone    string `json:"phone" binding:"required"`
	Address  string `json:"address"`
	City     string `json:"city"`
	Postcode string `json:"postcode"`
	Country  string `json:"country"`
}

func (c CustomerInfo) Value() (driver.Value, error) {
	bytes, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

func (c *CustomerInfo) Scan(value interface{}) error {
	if value == nil {
		*c = CustomerInfo{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	}
	return errors.New("type assertion to []byte failed for CustomerInfo")
}

// PaymentSession is one attempt to pay a booking through the gateway
type PaymentSession struct {
	TransactionID string       `json:"transaction_id" db:"transaction_id"`
	BookingID     uuid.UUID    `json:"booking_id" db:"booking_id"`
	Amount        float64      `json:"amount" db:"amount"`
	Currency      string       `json:"currency" db:"currency"`
	Customer      CustomerInfo `json:"customer" db:"customer"`

	SuccessURL string `json:"success_url" db:"success_url"`
	FailURL    string `json:"fail_url" db:"fail_url"`
	CancelURL  string `json:"cancel_url" db:"cancel_url"`
	IPNURL     string `json:"ipn_url" db:"ipn_url"`

	// Gateway references used for replay detection
	GatewaySessionKey *string `json:"gateway_session_key,omitempty" db:"gateway_session_key"`
	GatewayURL        *string `json:"gateway_url,omitempty" db:"gateway_url"`
	ValID             *string `json:"val_id,omitempty" db:"val_id"`
	BankTranID        *string `json:"bank_tran_id,omitempty" db:"bank_tran_id"`

	Status     SessionStatus `json:"status" db:"status"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
	ConsumedAt *time.Time    `json:"consumed_at,omitempty" db:"consumed_at"`
}

// SessionSettlement is the conditional close of an open session.
type SessionSettlement struct {
	Status     SessionStatus
	ValID      *string
	BankTranID *string
	At         time.Time
}

// GatewayCallback is what the IPN and browser callbacks carry
type GatewayCallback struct {
	TransactionID string
	Status        GatewayResult
	ValID         string
	BankTranID    string
	Amount        *float64
	Currency      string
	CardType      string
	Raw           map[string]interface{}
	IPAddress     string
	UserAgent     string
}

// InitiatePaymentRequest is the body of POST /payments/initiate
type InitiatePaymentRequest struct {
	BookingID string       `json:"booking_id" binding:"required,uuid"`
	Customer  CustomerInfo `json:"customer" binding:"required"`
}

// FallbackConfirmRequest is the body of POST /payments/fallback-confirm
type FallbackConfirmRequest struct {
	TransactionID string `json:"transaction_id" binding:"required"`
}

// InitiatePaymentResponse is returned to the client after a session opens
type InitiatePaymentResponse struct {
	TransactionID string  `json:"transaction_id"`
	GatewayURL    string  `json:"gateway_url"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
}

// PaymentStatusView answers the payment status lookup
type PaymentStatusView struct {
	TransactionID string        `json:"transaction_id"`
	BookingID     uuid.UUID     `json:"booking_id"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	BookingStatus BookingStatus `json:"booking_status"`
	SessionStatus SessionStatus `json:"session_status"`
	Amount        float64       `json:"amount"`
	PaidAt        *time.Time    `json:"paid_at,omitempty"`
}
