package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/messhub/booking-engine/internal/config"
	"github.com/messhub/booking-engine/internal/database"
	"github.com/messhub/booking-engine/internal/models"
	"github.com/messhub/booking-engine/internal/utils"
	"github.com/sirupsen/logrus"
)

// PaymentOutcome is the state a payment operation left the booking in
type PaymentOutcome struct {
	BookingID     uuid.UUID            `json:"booking_id"`
	TransactionID string               `json:"transaction_id"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	BookingStatus models.BookingStatus `json:"booking_status"`
	Applied       bool                 `json:"applied"` // false when the call changed nothing
}

// settlementEvidence is what a confirmation path knows about the payment
type settlementEvidence struct {
	ValID      string
	BankTranID string
	Amount     *float64
	CardType   string
	Raw        map[string]interface{}
	Source     models.PaymentEventSource
	Actor      uuid.UUID
}

// PaymentService tracks payment sessions and settles them exactly once
type PaymentService struct {
	coordinator  *Coordinator
	gateway      PaymentGateway
	audit        *AuditService
	config       *config.PaymentConfig
	logger       *logrus.Logger
	pollInterval time.Duration
}

// NewPaymentService creates a payment service
func NewPaymentService(
	coordinator *Coordinator,
	gateway PaymentGateway,
	audit *AuditService,
	cfg *config.PaymentConfig,
	logger *logrus.Logger,
) *PaymentService {
	return &PaymentService{
		coordinator:  coordinator,
		gateway:      gateway,
		audit:        audit,
		config:       cfg,
		logger:       logger,
		pollInterval: 250 * time.Millisecond,
	}
}

// GenerateTransactionID builds BOOKING-DDMMYYYY-HHMMSS-<last 6 of booking id>-<4 hex>
func GenerateTransactionID(bookingID uuid.UUID, at time.Time) (string, error) {
	suffix, err := utils.RandomHex(2)
	if err != nil {
		return "", err
	}
	hexID := strings.ReplaceAll(bookingID.String(), "-", "")
	return fmt.Sprintf("BOOKING-%s-%s-%s-%s",
		at.Format("02012006"),
		at.Format("150405"),
		strings.ToUpper(hexID[len(hexID)-6:]),
		strings.ToUpper(suffix),
	), nil
}

// ============================================================================
// INITIATE
// ============================================================================

// Initiate opens a gateway session for the renter's booking. The session,
// the transaction id on the booking and the gateway call share a transaction:
// a gateway failure leaves nothing behind.
func (s *PaymentService) Initiate(ctx context.Context, actor models.Actor, bookingID uuid.UUID, customer models.CustomerInfo, meta RequestMeta) (*models.InitiatePaymentResponse, error) {
	if customer.Name == "" || customer.Email == "" || customer.Phone == "" {
		return nil, models.NewValidation("customer name, email and phone are required")
	}

	start := time.Now()
	s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventInitiateRequest, models.PaymentSourceUser).
		SetBooking(bookingID).
		SetActor(actor.UserID).
		SetRequestPayload(map[string]interface{}{"customer_email": customer.Email}), meta)

	var (
		session  *models.PaymentSession
		response *models.InitiatePaymentResponse
	)

	err := s.coordinator.Run(ctx, func(ctx context.Context, scope *Scope) error {
		b, err := loadBooking(ctx, scope, bookingID)
		if err != nil {
			return err
		}
		if b.RenterID != actor.UserID {
			return models.NewForbidden("only the renter can pay for this booking")
		}
		if b.BookingStatus.IsTerminal() {
			return models.NewConflict("booking is %s", b.BookingStatus).WithCurrent(bookingState(b))
		}
		if b.PaymentStatus != models.PaymentStatusPending {
			return models.NewConflict("payment is %s", b.PaymentStatus).WithCurrent(bookingState(b))
		}

		listing, err := scope.Listing(ctx, b.ListingID)
		if err != nil {
			return err
		}
		if listing.Availability == models.AvailabilityBooked && !listing.HeldByBooking(b.ID) {
			return models.NewConflict("listing is already booked").WithCurrent(listingState(listing))
		}

		now := scope.Now()
		txnID, err := GenerateTransactionID(b.ID, now)
		if err != nil {
			return err
		}

		// a new attempt supersedes the previous open session
		if b.TransactionID != nil {
			err := scope.PaymentSessions().Settle(ctx, *b.TransactionID, models.SessionStatusOpen,
				models.SessionSettlement{Status: models.SessionStatusAbandoned, At: now})
			if err != nil && !errors.Is(err, database.ErrPreconditionFailed) && !errors.Is(err, database.ErrNotFound) {
				return err
			}
		}

		base := strings.TrimRight(s.config.BackendURL, "/") + "/api/v1/payments"
		session = &models.PaymentSession{
			TransactionID: txnID,
			BookingID:     b.ID,
			Amount:        b.PayableAmount,
			Currency:      s.config.Currency,
			Customer:      customer,
			SuccessURL:    base + "/success",
			FailURL:       base + "/fail",
			CancelURL:     base + "/cancel",
			IPNURL:        base + "/ipn",
			Status:        models.SessionStatusOpen,
			CreatedAt:     now,
		}
		if err := scope.PaymentSessions().Create(ctx, session); err != nil {
			return err
		}
		if err := scope.Bookings().AttachTransaction(ctx, b.ID, txnID); err != nil {
			return err
		}

		gw, err := s.gateway.InitSession(ctx, GatewaySessionRequest{
			TransactionID: txnID,
			Amount:        session.Amount,
			Currency:      session.Currency,
			ProductName:   "Mess Booking - " + listing.Title,
			Customer:      customer,
			SuccessURL:    session.SuccessURL,
			FailURL:       session.FailURL,
			CancelURL:     session.CancelURL,
			IPNURL:        session.IPNURL,
			BookingID:     b.ID.String(),
			ListingID:     b.ListingID.String(),
			RenterID:      b.RenterID.String(),
			OwnerID:       b.OwnerID.String(),
		})
		if err != nil {
			return err
		}
		if err := scope.PaymentSessions().SetGatewayReference(ctx, txnID, gw.SessionKey, gw.GatewayURL); err != nil {
			return err
		}

		response = &models.InitiatePaymentResponse{
			TransactionID: txnID,
			GatewayURL:    gw.GatewayURL,
			Amount:        session.Amount,
			Currency:      session.Currency,
		}
		return nil
	})

	if err != nil {
		if models.IsKind(err, models.ErrKindGatewayUnavailable) {
			audit := models.NewPaymentAudit(models.PaymentEventInitiateFailed, models.PaymentSourceBackend).
				SetBooking(bookingID).
				SetActor(actor.UserID).
				SetError(err.Error()).
				SetProcessingTime(start)
			s.audit.Record(ctx, audit, meta)
		}
		return nil, err
	}

	audit := models.NewPaymentAudit(models.PaymentEventInitiateResponse, models.PaymentSourceBackend).
		SetBooking(bookingID).
		SetTransaction(response.TransactionID).
		SetActor(actor.UserID).
		SetPaymentStatus(string(models.PaymentStatusPending)).
		SetResponsePayload(map[string]interface{}{"gateway_url": response.GatewayURL}).
		SetProcessingTime(start)
	s.audit.Record(ctx, audit, meta)

	s.logger.WithFields(logrus.Fields{
		"booking_id":     bookingID,
		"transaction_id": response.TransactionID,
		"amount":         response.Amount,
	}).Info("Payment session initiated")

	return response, nil
}

// ============================================================================
// GATEWAY CALLBACKS
// ============================================================================

// ConfirmFromWebhook applies a gateway callback. VALID settles the payment,
// FAILED fails it and CANCELLED abandons the session.
func (s *PaymentService) ConfirmFromWebhook(ctx context.Context, cb models.GatewayCallback, source models.PaymentEventSource) (*PaymentOutcome, error) {
	meta := RequestMeta{IPAddress: cb.IPAddress, UserAgent: cb.UserAgent}

	received := models.NewPaymentAudit(models.PaymentEventWebhookReceived, source).
		SetTransaction(cb.TransactionID).
		SetPaymentStatus(string(cb.Status)).
		SetGatewayRef(cb.ValID).
		SetRequestPayload(cb.Raw)
	s.audit.Record(ctx, received, meta)

	if cb.TransactionID == "" {
		return nil, models.NewValidation("tran_id is required")
	}

	switch {
	case cb.Status.IsSuccess():
		return s.settlePaid(ctx, cb.TransactionID, settlementEvidence{
			ValID:      cb.ValID,
			BankTranID: cb.BankTranID,
			Amount:     cb.Amount,
			CardType:   cb.CardType,
			Raw:        cb.Raw,
			Source:     source,
		}, meta)
	case cb.Status == models.GatewayResultFailed:
		return s.settleFailed(ctx, cb, source)
	case cb.Status == models.GatewayResultCancelled:
		return s.Cancel(ctx, cb.TransactionID, meta)
	}
	return nil, models.NewValidation("unknown gateway status %q", cb.Status)
}

// ConfirmFromRedirect handles the browser success redirect. The redirect is
// client controlled, so the gateway is asked before anything is settled.
func (s *PaymentService) ConfirmFromRedirect(ctx context.Context, cb models.GatewayCallback) (*PaymentOutcome, error) {
	meta := RequestMeta{IPAddress: cb.IPAddress, UserAgent: cb.UserAgent}
	evidence, err := s.verifiedEvidence(ctx, cb.TransactionID, models.PaymentSourceUser, uuid.Nil)
	if err != nil {
		return nil, err
	}
	if evidence.Raw == nil {
		evidence.Raw = cb.Raw
	}
	return s.settlePaid(ctx, cb.TransactionID, evidence, meta)
}

// settlePaid is the single path that marks a payment paid. Whichever caller
// consumes the session first commits; everyone after it is a no-op.
func (s *PaymentService) settlePaid(ctx context.Context, txnID string, ev settlementEvidence, meta RequestMeta) (*PaymentOutcome, error) {
	start := time.Now()
	var (
		outcome   PaymentOutcome
		duplicate bool
		mismatch  string
		unknown   bool
		expected  float64
	)

	err := s.coordinator.Run(ctx, func(ctx context.Context, scope *Scope) error {
		session, err := scope.PaymentSessions().Get(ctx, txnID)
		if errors.Is(err, database.ErrNotFound) {
			unknown = true
			return models.NewNotFound("unknown transaction %s", txnID)
		}
		if err != nil {
			return err
		}
		expected = session.Amount

		b, err := loadBooking(ctx, scope, session.BookingID)
		if err != nil {
			return err
		}
		outcome = PaymentOutcome{
			BookingID:     b.ID,
			TransactionID: txnID,
			PaymentStatus: b.PaymentStatus,
			BookingStatus: b.BookingStatus,
		}

		if b.PaymentStatus == models.PaymentStatusPaid {
			duplicate = true
			return nil
		}

		switch {
		case b.BookingStatus.IsTerminal():
			mismatch = fmt.Sprintf("booking is %s", b.BookingStatus)
		case b.PaymentStatus != models.PaymentStatusPending:
			mismatch = fmt.Sprintf("payment is %s", b.PaymentStatus)
		case session.Status == models.SessionStatusConsumedFailed:
			mismatch = "session already settled as failed"
		case ev.Amount != nil && !models.AmountsMatch(session.Amount, *ev.Amount):
			mismatch = fmt.Sprintf("amount %.2f does not match expected %.2f", *ev.Amount, session.Amount)
		}
		if mismatch != "" {
			return models.NewConflict("payment cannot be applied: %s", mismatch).WithCurrent(bookingState(b))
		}

		now := scope.Now()
		settlement := models.SessionSettlement{Status: models.SessionStatusConsumedPaid, At: now}
		if ev.ValID != "" {
			settlement.ValID = &ev.ValID
		}
		if ev.BankTranID != "" {
			settlement.BankTranID = &ev.BankTranID
		}
		if err := scope.PaymentSessions().Settle(ctx, txnID, session.Status, settlement); err != nil {
			return err
		}

		// paid through a superseded session: make it the booking's transaction
		if b.TransactionID == nil || *b.TransactionID != txnID {
			if b.TransactionID != nil {
				if err := scope.PaymentSessions().Settle(ctx, *b.TransactionID, models.SessionStatusOpen,
					models.SessionSettlement{Status: models.SessionStatusAbandoned, At: now}); err != nil && !errors.Is(err, database.ErrPreconditionFailed) {
					return err
				}
			}
			if err := scope.Bookings().AttachTransaction(ctx, b.ID, txnID); err != nil {
				return err
			}
			b.TransactionID = &txnID
		}

		// booking first: the store rejects paid on an unconfirmed booking
		previousBooking := b.BookingStatus
		if b.BookingStatus == models.BookingStatusPending {
			if err := scope.Bookings().UpdateStatus(ctx, b.ID, models.BookingStatusPending, models.BookingStatusConfirmed); err != nil {
				return err
			}
			b.BookingStatus = models.BookingStatusConfirmed
		}

		method := "sslcommerz"
		if ev.CardType != "" {
			method = ev.CardType
		}
		if err := scope.Bookings().UpdatePayment(ctx, b.ID, b.BookingStatus, models.PaymentStatusPending, models.PaymentUpdate{
			Status:        models.PaymentStatusPaid,
			PaidAt:        &now,
			PaymentMethod: &method,
			Details:       models.JSONB(ev.Raw),
		}); err != nil {
			return err
		}
		b.PaymentStatus = models.PaymentStatusPaid

		if _, err := scope.Apply(ctx, b.ListingID, TriggerPaymentPaid, Cause{BookingID: b.ID, Actor: ev.Actor, Reason: "payment settled"}); err != nil {
			return err
		}

		if previousBooking != b.BookingStatus {
			scope.notifyParticipants(ctx, b, models.SubjectBookingStatus, string(previousBooking), string(b.BookingStatus))
		}
		scope.notifyParticipants(ctx, b, models.SubjectPaymentStatus, string(models.PaymentStatusPending), string(models.PaymentStatusPaid))

		outcome.PaymentStatus = b.PaymentStatus
		outcome.BookingStatus = b.BookingStatus
		outcome.Applied = true
		return nil
	})

	audit := models.NewPaymentAudit(models.PaymentEventConfirmed, ev.Source).
		SetTransaction(txnID).
		SetGatewayRef(ev.ValID).
		SetActor(ev.Actor).
		SetProcessingTime(start)
	if outcome.BookingID != uuid.Nil {
		audit.SetBooking(outcome.BookingID)
	}
	if ev.Amount != nil {
		audit.SetAmounts(expected, *ev.Amount, s.config.Currency)
	}

	if err != nil && mismatch == "" && !unknown && lostWrite(err) {
		// another writer committed between our read and our write: a paid
		// booking makes this a duplicate, a cancelled one a mismatch
		current, readErr := s.coordinator.Reader().Bookings().Get(ctx, outcome.BookingID)
		if readErr == nil {
			outcome.PaymentStatus = current.PaymentStatus
			outcome.BookingStatus = current.BookingStatus
			switch {
			case current.PaymentStatus == models.PaymentStatusPaid:
				err = nil
				duplicate = true
			case current.BookingStatus.IsTerminal():
				mismatch = fmt.Sprintf("booking is %s", current.BookingStatus)
			case current.PaymentStatus != models.PaymentStatusPending:
				mismatch = fmt.Sprintf("payment is %s", current.PaymentStatus)
			}
			if mismatch != "" {
				err = models.NewConflict("payment cannot be applied: %s", mismatch).
					WithCurrent(bookingState(current)).
					WithCause(err)
			}
		}
	}

	switch {
	case unknown:
		audit.EventType = models.PaymentEventWebhookUnknownTxn
		audit.SetError(err.Error())
	case mismatch != "":
		audit.EventType = models.PaymentEventReconciliationMismatch
		audit.SetError(mismatch)
	case err != nil:
		audit.SetError(err.Error())
	case duplicate:
		audit.EventType = models.PaymentEventDuplicateCallback
		audit.MarkAsDuplicate()
	}
	audit.SetPaymentStatus(string(outcome.PaymentStatus))
	s.audit.Record(ctx, audit, meta)

	log := s.logger.WithFields(logrus.Fields{
		"transaction_id": txnID,
		"booking_id":     outcome.BookingID,
		"source":         ev.Source,
	})
	if err != nil {
		log.WithError(err).Warn("Payment confirmation rejected")
		return nil, err
	}
	if duplicate {
		log.Info("Payment already settled, confirmation ignored")
	} else {
		log.Info("Payment confirmed")
	}
	return &outcome, nil
}

// settleFailed records a FAILED callback. Only the booking's current session
// can fail its payment; anything already settled is left alone.
func (s *PaymentService) settleFailed(ctx context.Context, cb models.GatewayCallback, source models.PaymentEventSource) (*PaymentOutcome, error) {
	var (
		outcome   PaymentOutcome
		duplicate bool
		unknown   bool
	)

	err := s.coordinator.Run(ctx, func(ctx context.Context, scope *Scope) error {
		session, err := scope.PaymentSessions().Get(ctx, cb.TransactionID)
		if errors.Is(err, database.ErrNotFound) {
			unknown = true
			return models.NewNotFound("unknown transaction %s", cb.TransactionID)
		}
		if err != nil {
			return err
		}
		b, err := loadBooking(ctx, scope, session.BookingID)
		if err != nil {
			return err
		}
		outcome = PaymentOutcome{
			BookingID:     b.ID,
			TransactionID: cb.TransactionID,
			PaymentStatus: b.PaymentStatus,
			BookingStatus: b.BookingStatus,
		}

		if session.Status == models.SessionStatusConsumedPaid || session.Status == models.SessionStatusConsumedFailed {
			duplicate = true
			return nil
		}

		now := scope.Now()
		settlement := models.SessionSettlement{Status: models.SessionStatusConsumedFailed, At: now}
		if cb.ValID != "" {
			settlement.ValID = &cb.ValID
		}
		if err := scope.PaymentSessions().Settle(ctx, cb.TransactionID, session.Status, settlement); err != nil {
			return err
		}

		current := b.TransactionID != nil && *b.TransactionID == cb.TransactionID
		if !current || b.PaymentStatus != models.PaymentStatusPending {
			return nil
		}

		if err := scope.Bookings().UpdatePayment(ctx, b.ID, b.BookingStatus, models.PaymentStatusPending, models.PaymentUpdate{
			Status:  models.PaymentStatusFailed,
			Details: models.JSONB(cb.Raw),
		}); err != nil {
			return err
		}
		b.PaymentStatus = models.PaymentStatusFailed
		scope.notifyParticipants(ctx, b, models.SubjectPaymentStatus, string(models.PaymentStatusPending), string(models.PaymentStatusFailed))

		outcome.PaymentStatus = b.PaymentStatus
		outcome.Applied = true
		return nil
	})

	eventType := models.PaymentEventFailed
	switch {
	case unknown:
		eventType = models.PaymentEventWebhookUnknownTxn
	case duplicate:
		eventType = models.PaymentEventDuplicateCallback
	}
	audit := models.NewPaymentAudit(eventType, source).
		SetTransaction(cb.TransactionID).
		SetGatewayRef(cb.ValID).
		SetPaymentStatus(string(outcome.PaymentStatus))
	if outcome.BookingID != uuid.Nil {
		audit.SetBooking(outcome.BookingID)
	}
	if duplicate {
		audit.MarkAsDuplicate()
	}
	if err != nil {
		audit.SetError(err.Error())
	}
	s.audit.Record(ctx, audit, RequestMeta{IPAddress: cb.IPAddress, UserAgent: cb.UserAgent})

	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"transaction_id": cb.TransactionID,
		"booking_id":     outcome.BookingID,
		"applied":        outcome.Applied,
	}).Info("Payment failure processed")
	return &outcome, nil
}

// Cancel abandons an open session after the renter left the gateway page.
// Payment stays pending so the renter can start again.
func (s *PaymentService) Cancel(ctx context.Context, txnID string, meta RequestMeta) (*PaymentOutcome, error) {
	var outcome PaymentOutcome

	err := s.coordinator.Run(ctx, func(ctx context.Context, scope *Scope) error {
		session, err := scope.PaymentSessions().Get(ctx, txnID)
		if errors.Is(err, database.ErrNotFound) {
			return models.NewNotFound("unknown transaction %s", txnID)
		}
		if err != nil {
			return err
		}
		b, err := loadBooking(ctx, scope, session.BookingID)
		if err != nil {
			return err
		}
		outcome = PaymentOutcome{
			BookingID:     b.ID,
			TransactionID: txnID,
			PaymentStatus: b.PaymentStatus,
			BookingStatus: b.BookingStatus,
		}
		if session.Status != models.SessionStatusOpen {
			return nil
		}
		if err := scope.PaymentSessions().Settle(ctx, txnID, models.SessionStatusOpen,
			models.SessionSettlement{Status: models.SessionStatusAbandoned, At: scope.Now()}); err != nil {
			return err
		}
		outcome.Applied = true
		return nil
	})

	audit := models.NewPaymentAudit(models.PaymentEventCancelled, models.PaymentSourceUser).
		SetTransaction(txnID).
		SetPaymentStatus(string(outcome.PaymentStatus))
	if outcome.BookingID != uuid.Nil {
		audit.SetBooking(outcome.BookingID)
	}
	if err != nil {
		audit.SetError(err.Error())
	}
	s.audit.Record(ctx, audit, meta)

	if err != nil {
		return nil, err
	}
	return &outcome, nil
}

// ============================================================================
// FALLBACK
// ============================================================================

// ConfirmFromFallback is the client's "I paid but nothing happened" path. It
// gives the IPN a bounded window to land, then settles the payment itself
// through the same path as the webhook.
func (s *PaymentService) ConfirmFromFallback(ctx context.Context, actor models.Actor, txnID string, meta RequestMeta) (*PaymentOutcome, error) {
	reader := s.coordinator.Reader()
	session, err := reader.PaymentSessions().Get(ctx, txnID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, models.NewNotFound("unknown transaction %s", txnID)
	}
	if err != nil {
		return nil, err
	}
	b, err := reader.Bookings().Get(ctx, session.BookingID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, models.NewNotFound("booking %s not found", session.BookingID)
	}
	if err != nil {
		return nil, err
	}
	if b.RenterID != actor.UserID && !actor.IsAdmin() {
		return nil, models.NewForbidden("only the renter can confirm this payment")
	}

	s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventFallbackConfirm, models.PaymentSourceUser).
		SetBooking(b.ID).
		SetTransaction(txnID).
		SetActor(actor.UserID).
		SetPaymentStatus(string(b.PaymentStatus)), meta)

	settled, err := s.waitForSettlement(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if settled != nil {
		return &PaymentOutcome{
			BookingID:     settled.ID,
			TransactionID: txnID,
			PaymentStatus: settled.PaymentStatus,
			BookingStatus: settled.BookingStatus,
		}, nil
	}

	evidence := settlementEvidence{
		Source: models.PaymentSourceUser,
		Actor:  actor.UserID,
		Raw: map[string]interface{}{
			"fallback_confirmed": true,
			"tran_id":            txnID,
			"confirmed_by":       actor.UserID.String(),
		},
	}
	if s.config.VerifyFallback {
		evidence, err = s.verifiedEvidence(ctx, txnID, models.PaymentSourceUser, actor.UserID)
		if err != nil {
			return nil, err
		}
	}
	return s.settlePaid(ctx, txnID, evidence, meta)
}

// waitForSettlement polls the booking until its payment leaves pending or the
// fallback window closes. Returns the booking if it was paid meanwhile.
func (s *PaymentService) waitForSettlement(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	deadline := time.NewTimer(s.config.FallbackWait)
	defer deadline.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		b, err := s.coordinator.Reader().Bookings().Get(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		if b.PaymentStatus == models.PaymentStatusPaid {
			return b, nil
		}
		if b.PaymentStatus != models.PaymentStatusPending || b.BookingStatus.IsTerminal() {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-ticker.C:
		}
	}
}

// verifiedEvidence asks the gateway whether the transaction was paid
func (s *PaymentService) verifiedEvidence(ctx context.Context, txnID string, source models.PaymentEventSource, actor uuid.UUID) (settlementEvidence, error) {
	status, err := s.gateway.QueryTransaction(ctx, txnID)
	if err != nil {
		if models.IsKind(err, models.ErrKindNotFound) {
			return settlementEvidence{}, models.NewConflict("gateway has no payment for %s", txnID)
		}
		return settlementEvidence{}, err
	}
	if !status.Status.IsSuccess() {
		return settlementEvidence{}, models.NewConflict("gateway reports transaction %s as %s", txnID, status.Status)
	}

	amount := status.Amount
	return settlementEvidence{
		ValID:      status.ValID,
		BankTranID: status.BankTranID,
		Amount:     &amount,
		CardType:   status.CardType,
		Source:     source,
		Actor:      actor,
		Raw: map[string]interface{}{
			"tran_id":      txnID,
			"val_id":       status.ValID,
			"bank_tran_id": status.BankTranID,
			"status":       string(status.Status),
			"amount":       status.Amount,
			"currency":     status.Currency,
			"verified":     true,
		},
	}, nil
}

// ============================================================================
// REFUND / STATUS
// ============================================================================

// Refund moves a paid booking to refunded and frees the listing. The booking
// status is left alone unless req.Cancel asks for the booking to be cancelled
// too. A missing amount refunds the full payable amount.
func (s *PaymentService) Refund(ctx context.Context, actor models.Actor, bookingID uuid.UUID, req models.RefundRequest, meta RequestMeta) (*models.Booking, error) {
	if !actor.IsAdmin() {
		return nil, models.NewForbidden("admin role required")
	}
	if req.Amount != nil && *req.Amount <= 0 {
		return nil, models.NewValidation("refund amount must be positive")
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, models.NewValidation("refund reason is required")
	}

	var booking *models.Booking
	err := s.coordinator.Run(ctx, func(ctx context.Context, scope *Scope) error {
		b, err := loadBooking(ctx, scope, bookingID)
		if err != nil {
			return err
		}
		if b.PaymentStatus != models.PaymentStatusPaid {
			return models.NewConflict("only paid bookings can be refunded, payment is %s", b.PaymentStatus).
				WithCurrent(bookingState(b))
		}

		amount := b.PayableAmount
		if req.Amount != nil {
			amount = *req.Amount
			if amount > b.PayableAmount && !models.AmountsMatch(amount, b.PayableAmount) {
				return models.NewValidation("refund amount %.2f exceeds paid amount %.2f", amount, b.PayableAmount)
			}
		}
		if req.Cancel && b.BookingStatus != models.BookingStatusCancelled &&
			!models.CanTransition(models.AdminBookingTransitions, b.BookingStatus, models.BookingStatusCancelled) {
			return models.NewInvalidTransition("booking is %s and cannot be cancelled", b.BookingStatus).
				WithCurrent(bookingState(b))
		}

		if err := refundBooking(ctx, scope, b, amount, req.Reason, req.Cancel, actor); err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		err = withCurrentBooking(ctx, s.coordinator.Reader(), bookingID, err)
	}

	payload := map[string]interface{}{"reason": req.Reason, "cancel": req.Cancel}
	if req.Amount != nil {
		payload["amount"] = *req.Amount
	}
	audit := models.NewPaymentAudit(models.PaymentEventRefund, models.PaymentSourceAdmin).
		SetBooking(bookingID).
		SetActor(actor.UserID).
		SetRequestPayload(payload)
	if err != nil {
		audit.SetError(err.Error())
	} else {
		audit.SetPaymentStatus(string(booking.PaymentStatus))
		if booking.TransactionID != nil {
			audit.SetTransaction(*booking.TransactionID)
		}
	}
	s.audit.Record(ctx, audit, meta)

	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"booking_id":     bookingID,
		"amount":         *booking.RefundedAmount,
		"booking_status": booking.BookingStatus,
		"admin_id":       actor.UserID,
	}).Info("Booking refunded")
	return booking, nil
}

// refundBooking performs paid -> refunded inside scope, and confirmed ->
// cancelled when cancel is set. Payment is written first so the pair never
// reads paid on a cancelled booking.
func refundBooking(ctx context.Context, scope *Scope, b *models.Booking, amount float64, reason string, cancel bool, actor models.Actor) error {
	now := scope.Now()
	if err := scope.Bookings().UpdatePayment(ctx, b.ID, b.BookingStatus, models.PaymentStatusPaid, models.PaymentUpdate{
		Status:         models.PaymentStatusRefunded,
		RefundedAmount: &amount,
		RefundReason:   &reason,
		RefundedAt:     &now,
	}); err != nil {
		return err
	}
	b.PaymentStatus = models.PaymentStatusRefunded
	b.RefundedAmount = &amount
	b.RefundReason = &reason
	b.RefundedAt = &now

	previousBooking := b.BookingStatus
	if cancel && b.BookingStatus != models.BookingStatusCancelled {
		if err := scope.Bookings().UpdateStatus(ctx, b.ID, b.BookingStatus, models.BookingStatusCancelled); err != nil {
			return err
		}
		b.BookingStatus = models.BookingStatusCancelled
	}

	if _, err := scope.Apply(ctx, b.ListingID, TriggerPaymentRefunded, Cause{BookingID: b.ID, Actor: actor.UserID, Reason: reason}); err != nil {
		return err
	}

	scope.notifyParticipants(ctx, b, models.SubjectPaymentStatus, string(models.PaymentStatusPaid), string(models.PaymentStatusRefunded))
	if previousBooking != b.BookingStatus {
		scope.notifyParticipants(ctx, b, models.SubjectBookingStatus, string(previousBooking), string(b.BookingStatus))
	}
	return nil
}

// Status reports where a transaction stands
func (s *PaymentService) Status(ctx context.Context, actor models.Actor, txnID string) (*models.PaymentStatusView, error) {
	reader := s.coordinator.Reader()
	session, err := reader.PaymentSessions().Get(ctx, txnID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, models.NewNotFound("unknown transaction %s", txnID)
	}
	if err != nil {
		return nil, err
	}
	b, err := reader.Bookings().Get(ctx, session.BookingID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, models.NewNotFound("booking %s not found", session.BookingID)
	}
	if err != nil {
		return nil, err
	}
	if !b.IsParticipant(actor.UserID) && !actor.IsAdmin() {
		return nil, models.NewForbidden("not a participant of this booking")
	}

	return &models.PaymentStatusView{
		TransactionID: txnID,
		BookingID:     b.ID,
		PaymentStatus: b.PaymentStatus,
		BookingStatus: b.BookingStatus,
		SessionStatus: session.Status,
		Amount:        session.Amount,
		PaidAt:        b.PaidAt,
	}, nil
}
