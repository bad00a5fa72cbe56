package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/messhub/booking-engine/internal/models"
)

const paymentSessionColumns = `
	transaction_id, booking_id, amount, currency, customer,
	success_url, fail_url, cancel_url, ipn_url,
	gateway_session_key, gateway_url, val_id, bank_tran_id,
	status, created_at, consumed_at`

// PaymentSessionRepository handles gateway session persistence
type PaymentSessionRepository struct {
	q sqlx.ExtContext
}

// NewPaymentSessionRepository creates a session repository bound to a pool or transaction
func NewPaymentSessionRepository(q sqlx.ExtContext) *PaymentSessionRepository {
	return &PaymentSessionRepository{q: q}
}

// Create inserts an open session
func (r *PaymentSessionRepository) Create(ctx context.Context, s *models.PaymentSession) error {
	query := `
		INSERT INTO payment_sessions (
			transaction_id, booking_id, amount, currency, customer,
			success_url, fail_url, cancel_url, ipn_url,
			status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.q.ExecContext(ctx, query,
		s.TransactionID, s.BookingID, s.Amount, s.Currency, s.Customer,
		s.SuccessURL, s.FailURL, s.CancelURL, s.IPNURL,
		s.Status, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment session: %w", classifyError(err))
	}
	return nil
}

// Get returns a session by transaction id
func (r *PaymentSessionRepository) Get(ctx context.Context, transactionID string) (*models.PaymentSession, error) {
	var s models.PaymentSession
	query := `SELECT ` + paymentSessionColumns + ` FROM payment_sessions WHERE transaction_id = $1`
	if err := sqlx.GetContext(ctx, r.q, &s, query, transactionID); err != nil {
		return nil, fmt.Errorf("failed to get payment session %s: %w", transactionID, classifyError(err))
	}
	return &s, nil
}

// SetGatewayReference stores what the gateway returned for an open session
func (r *PaymentSessionRepository) SetGatewayReference(ctx context.Context, transactionID, sessionKey, gatewayURL string) error {
	query := `
		UPDATE payment_sessions
		SET gateway_session_key = $1, gateway_url = $2
		WHERE transaction_id = $3 AND status = 'open'`

	result, err := r.q.ExecContext(ctx, query, sessionKey, gatewayURL, transactionID)
	if err != nil {
		return fmt.Errorf("failed to set gateway reference: %w", classifyError(err))
	}
	return expectOneRow(result)
}

// Settle closes a session still in expected. A second settle of the same
// session matches no row, which is how replayed callbacks are detected.
func (r *PaymentSessionRepository) Settle(ctx context.Context, transactionID string, expected models.SessionStatus, settlement models.SessionSettlement) error {
	query := `
		UPDATE payment_sessions
		SET status = $1,
			val_id = COALESCE($2, val_id),
			bank_tran_id = COALESCE($3, bank_tran_id),
			consumed_at = $4
		WHERE transaction_id = $5 AND status = $6`

	result, err := r.q.ExecContext(ctx, query,
		settlement.Status, settlement.ValID, settlement.BankTranID, settlement.At, transactionID, expected)
	if err != nil {
		return fmt.Errorf("failed to settle payment session: %w", classifyError(err))
	}
	return expectOneRow(result)
}
