package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// PaymentEventType represents the type of payment event
type PaymentEventType string

const (
	PaymentEventInitiateRequest        PaymentEventType = "initiate_request"
	PaymentEventInitiateResponse       PaymentEventType = "initiate_response"
	PaymentEventInitiateFailed         PaymentEventType = "initiate_failed"
	PaymentEventWebhookReceived        PaymentEventType = "webhook_received"
	PaymentEventWebhookUnknownTxn      PaymentEventType = "webhook_unknown_txn"
	PaymentEventConfirmed              PaymentEventType = "payment_confirmed"
	PaymentEventFailed                 PaymentEventType = "payment_failed"
	PaymentEventCancelled              PaymentEventType = "payment_cancelled"
	PaymentEventDuplicateCallback      PaymentEventType = "duplicate_callback"
	PaymentEventReconciliationMismatch PaymentEventType = "reconciliation_mismatch"
	PaymentEventFallbackConfirm        PaymentEventType = "fallback_confirm"
	PaymentEventRefund                 PaymentEventType = "refund"
	PaymentEventAdminOverride          PaymentEventType = "admin_override"
)

// PaymentEventSource identifies where the event originated
type PaymentEventSource string

const (
	PaymentSourceBackend    PaymentEventSource = "backend"
	PaymentSourceGatewayIPN PaymentEventSource = "gateway_ipn"
	PaymentSourceGatewayAPI PaymentEventSource = "gateway_api"
	PaymentSourceUser       PaymentEventSource = "user"
	PaymentSourceAdmin      PaymentEventSource = "admin"
	PaymentSourceSystem     PaymentEventSource = "system"
)

// PaymentAudit represents an immutable audit log entry for payment events
type PaymentAudit struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	BookingID     *uuid.UUID `json:"booking_id,omitempty" db:"booking_id"`
	TransactionID *string    `json:"transaction_id,omitempty" db:"transaction_id"`

	EventType   PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource PaymentEventSource `json:"event_source" db:"event_source"`

	// Amount tracking
	ExpectedAmount *float64 `json:"expected_amount,omitempty" db:"expected_amount"`
	ReceivedAmount *float64 `json:"received_amount,omitempty" db:"received_amount"`
	Currency       *string  `json:"currency,omitempty" db:"currency"`
	AmountsMatch   *bool    `json:"amounts_match,omitempty" db:"amounts_match"`

	PaymentStatus *string `json:"payment_status,omitempty" db:"payment_status"`
	GatewayRef    *string `json:"gateway_ref,omitempty" db:"gateway_ref"`

	RequestPayload  JSONB   `json:"request_payload,omitempty" db:"request_payload"`
	ResponsePayload JSONB   `json:"response_payload,omitempty" db:"response_payload"`
	RawBody         *string `json:"raw_body,omitempty" db:"raw_body"`

	HTTPStatusCode *int    `json:"http_status_code,omitempty" db:"http_status_code"`
	ErrorMessage   *string `json:"error_message,omitempty" db:"error_message"`

	ProcessingTimeMs *int `json:"processing_time_ms,omitempty" db:"processing_time_ms"`
	IsDuplicate      bool `json:"is_duplicate" db:"is_duplicate"`

	// Request metadata
	IPAddress  *string    `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent  *string    `json:"user_agent,omitempty" db:"user_agent"`
	DeviceInfo JSONB      `json:"device_info,omitempty" db:"device_info"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty" db:"actor_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewPaymentAudit creates a new payment audit entry with required fields
func NewPaymentAudit(eventType PaymentEventType, source PaymentEventSource) *PaymentAudit {
	return &PaymentAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
}

// SetBooking sets the booking the event belongs to
func (pa *PaymentAudit) SetBooking(bookingID uuid.UUID) *PaymentAudit {
	pa.BookingID = &bookingID
	return pa
}

// SetTransaction sets our transaction id
func (pa *PaymentAudit) SetTransaction(transactionID string) *PaymentAudit {
	if transactionID != "" {
		pa.TransactionID = &transactionID
	}
	return pa
}

// SetAmounts sets and verifies amounts - returns whether they match
func (pa *PaymentAudit) SetAmounts(expected, received float64, currency string) bool {
	pa.ExpectedAmount = &expected
	pa.ReceivedAmount = &received
	pa.Currency = &currency

	match := AmountsMatch(expected, received)
	pa.AmountsMatch = &match
	return match
}

// SetPaymentStatus sets the payment status the event observed or produced
func (pa *PaymentAudit) SetPaymentStatus(status string) *PaymentAudit {
	pa.PaymentStatus = &status
	return pa
}

// SetGatewayRef sets the gateway's validation id
func (pa *PaymentAudit) SetGatewayRef(ref string) *PaymentAudit {
	if ref != "" {
		pa.GatewayRef = &ref
	}
	return pa
}

// SetError sets error information
func (pa *PaymentAudit) SetError(message string) *PaymentAudit {
	pa.ErrorMessage = &message
	return pa
}

// SetRawBody stores the raw response body before parsing
func (pa *PaymentAudit) SetRawBody(body string) *PaymentAudit {
	pa.RawBody = &body
	return pa
}

// SetHTTPStatus records the gateway's HTTP status code
func (pa *PaymentAudit) SetHTTPStatus(statusCode int) *PaymentAudit {
	pa.HTTPStatusCode = &statusCode
	return pa
}

// SetRequestPayload sets the request payload sent
func (pa *PaymentAudit) SetRequestPayload(payload map[string]interface{}) *PaymentAudit {
	pa.RequestPayload = JSONB(payload)
	return pa
}

// SetResponsePayload sets the response payload received
func (pa *PaymentAudit) SetResponsePayload(payload map[string]interface{}) *PaymentAudit {
	pa.ResponsePayload = JSONB(payload)
	return pa
}

// SetMetadata sets request metadata
func (pa *PaymentAudit) SetMetadata(ip, userAgent string, deviceInfo map[string]interface{}) *PaymentAudit {
	if ip != "" {
		pa.IPAddress = &ip
	}
	if userAgent != "" {
		pa.UserAgent = &userAgent
	}
	if len(deviceInfo) > 0 {
		pa.DeviceInfo = JSONB(deviceInfo)
	}
	return pa
}

// SetActor records who triggered the event
func (pa *PaymentAudit) SetActor(actorID uuid.UUID) *PaymentAudit {
	if actorID != uuid.Nil {
		pa.ActorID = &actorID
	}
	return pa
}

// SetProcessingTime calculates and sets processing time
func (pa *PaymentAudit) SetProcessingTime(startTime time.Time) *PaymentAudit {
	durationMs := int(time.Since(startTime).Milliseconds())
	pa.ProcessingTimeMs = &durationMs
	return pa
}

// MarkAsDuplicate marks this event as a duplicate
func (pa *PaymentAudit) MarkAsDuplicate() *PaymentAudit {
	pa.IsDuplicate = true
	return pa
}

// AmountsMatch compares two money amounts with a one-paisa tolerance.
func AmountsMatch(expected, received float64) bool {
	return math.Abs(expected-received) < 0.01
}
