package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/messhub/booking-engine/internal/models"
	"github.com/messhub/booking-engine/internal/services"
	"github.com/messhub/booking-engine/internal/utils"
	"github.com/sirupsen/logrus"
)

// IPNVerifier checks the gateway signature on a callback form
type IPNVerifier interface {
	VerifyIPNSignature(form url.Values) bool
}

// PaymentHandler handles payment initiation, gateway callbacks and the
// renter's fallback confirmation
type PaymentHandler struct {
	paymentService *services.PaymentService
	verifier       IPNVerifier
	frontendURL    string
	logger         *logrus.Logger
}

// NewPaymentHandler creates a new PaymentHandler. A nil verifier accepts
// unsigned callbacks.
func NewPaymentHandler(paymentService *services.PaymentService, verifier IPNVerifier, frontendURL string, logger *logrus.Logger) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		verifier:       verifier,
		frontendURL:    strings.TrimRight(frontendURL, "/"),
		logger:         logger,
	}
}

// ============================================================================
// INITIATE - POST /api/v1/payments/initiate
// ============================================================================

// InitiatePayment opens a gateway session for the renter's booking
// @Summary Initiate payment
// @Tags Payments
// @Accept json
// @Produce json
// @Param request body models.InitiatePaymentRequest true "Booking and customer"
// @Success 200 {object} models.InitiatePaymentResponse "Gateway URL to redirect to"
// @Failure 409 {object} map[string]interface{} "Booking cannot be paid"
// @Failure 503 {object} map[string]interface{} "Gateway unavailable"
// @Security BearerAuth
// @Router /api/v1/payments/initiate [post]
func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	var req models.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body", err)
		return
	}
	bookingID, err := uuid.Parse(req.BookingID)
	if err != nil {
		respondBadRequest(c, "Invalid booking_id", err)
		return
	}

	resp, err := h.paymentService.Initiate(c.Request.Context(), actor, bookingID, req.Customer, requestMeta(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondSuccess(c, http.StatusOK, "Payment session created", resp)
}

// ============================================================================
// GATEWAY CALLBACKS
// ============================================================================

// IPN receives the gateway's server-to-server notification. It always answers
// 200 so the gateway stops retrying; failures are logged and audited.
// @Summary Gateway IPN
// @Tags Payments
// @Accept x-www-form-urlencoded
// @Produce json
// @Success 200 {object} map[string]interface{} "acknowledged"
// @Router /api/v1/payments/ipn [post]
func (h *PaymentHandler) IPN(c *gin.Context) {
	form, err := h.readForm(c)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to parse IPN body")
		c.JSON(http.StatusOK, gin.H{"message": "acknowledged", "processed": false})
		return
	}

	cb := callbackFromForm(c, form)
	log := h.logger.WithFields(logrus.Fields{
		"transaction_id": cb.TransactionID,
		"status":         cb.Status,
		"val_id":         cb.ValID,
	})

	if h.verifier != nil && !h.verifier.VerifyIPNSignature(form) {
		log.Warn("IPN signature verification failed, ignoring")
		c.JSON(http.StatusOK, gin.H{"message": "acknowledged", "processed": false})
		return
	}

	outcome, err := h.paymentService.ConfirmFromWebhook(c.Request.Context(), cb, models.PaymentSourceGatewayIPN)
	if err != nil {
		log.WithError(err).Warn("IPN not applied")
		c.JSON(http.StatusOK, gin.H{"message": "acknowledged", "processed": false})
		return
	}

	log.WithField("applied", outcome.Applied).Info("IPN processed")
	c.JSON(http.StatusOK, gin.H{"message": "acknowledged", "processed": true})
}

// PaymentSuccess is the browser return after a successful payment. The
// payment is settled only once the gateway confirms it.
// @Summary Gateway success redirect
// @Tags Payments
// @Accept x-www-form-urlencoded
// @Success 303 "Redirect to frontend"
// @Router /api/v1/payments/success [post]
func (h *PaymentHandler) PaymentSuccess(c *gin.Context) {
	form, err := h.readForm(c)
	if err != nil {
		h.redirect(c, "failed", "", "invalid callback")
		return
	}
	cb := callbackFromForm(c, form)
	if cb.TransactionID == "" {
		h.redirect(c, "failed", "", "missing transaction")
		return
	}

	outcome, err := h.paymentService.ConfirmFromRedirect(c.Request.Context(), cb)
	switch {
	case err == nil && outcome.PaymentStatus == models.PaymentStatusPaid:
		h.redirect(c, "success", cb.TransactionID, "")
	case err == nil, models.IsKind(err, models.ErrKindGatewayUnavailable):
		// the client can fall back to confirming it later
		h.redirect(c, "processing", cb.TransactionID, "")
	default:
		h.logger.WithError(err).WithField("transaction_id", cb.TransactionID).Warn("Success redirect not applied")
		h.redirect(c, "failed", cb.TransactionID, "verification failed")
	}
}

// PaymentFail is the browser return after a declined payment
// @Summary Gateway failure redirect
// @Tags Payments
// @Accept x-www-form-urlencoded
// @Success 303 "Redirect to frontend"
// @Router /api/v1/payments/fail [post]
func (h *PaymentHandler) PaymentFail(c *gin.Context) {
	form, err := h.readForm(c)
	if err != nil {
		h.redirect(c, "failed", "", "invalid callback")
		return
	}
	cb := callbackFromForm(c, form)
	cb.Status = models.GatewayResultFailed

	switch {
	case cb.TransactionID == "":
	case h.verifier != nil && !h.verifier.VerifyIPNSignature(form):
		h.logger.WithField("transaction_id", cb.TransactionID).Warn("Fail callback signature verification failed, ignoring")
	default:
		if _, err := h.paymentService.ConfirmFromWebhook(c.Request.Context(), cb, models.PaymentSourceUser); err != nil {
			h.logger.WithError(err).WithField("transaction_id", cb.TransactionID).Warn("Fail callback not applied")
		}
	}

	h.redirect(c, "failed", cb.TransactionID, form.Get("error"))
}

// PaymentCancel is the browser return after the renter left the gateway page
// @Summary Gateway cancel redirect
// @Tags Payments
// @Accept x-www-form-urlencoded
// @Success 303 "Redirect to frontend"
// @Router /api/v1/payments/cancel [post]
func (h *PaymentHandler) PaymentCancel(c *gin.Context) {
	form, err := h.readForm(c)
	if err != nil {
		h.redirect(c, "cancelled", "", "")
		return
	}
	txnID := form.Get("tran_id")

	if txnID != "" {
		if _, err := h.paymentService.Cancel(c.Request.Context(), txnID, requestMeta(c)); err != nil {
			h.logger.WithError(err).WithField("transaction_id", txnID).Warn("Cancel callback not applied")
		}
	}

	h.redirect(c, "cancelled", txnID, "")
}

// ============================================================================
// FALLBACK + STATUS
// ============================================================================

// FallbackConfirm settles a payment the renter completed when no IPN arrived
// @Summary Fallback payment confirmation
// @Tags Payments
// @Accept json
// @Produce json
// @Param request body models.FallbackConfirmRequest true "Transaction"
// @Success 200 {object} services.PaymentOutcome
// @Failure 409 {object} map[string]interface{} "Payment cannot be settled"
// @Security BearerAuth
// @Router /api/v1/payments/fallback-confirm [post]
func (h *PaymentHandler) FallbackConfirm(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	var req models.FallbackConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body", err)
		return
	}

	outcome, err := h.paymentService.ConfirmFromFallback(c.Request.Context(), actor, req.TransactionID, requestMeta(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	message := "Payment confirmed"
	if !outcome.Applied {
		message = "Payment already settled"
	}
	respondSuccess(c, http.StatusOK, message, outcome)
}

// GetStatus returns the payment and booking state for a transaction
// @Summary Payment status
// @Tags Payments
// @Produce json
// @Param transactionId path string true "Transaction ID"
// @Success 200 {object} models.PaymentStatusView
// @Security BearerAuth
// @Router /api/v1/payments/status/{transactionId} [get]
func (h *PaymentHandler) GetStatus(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	view, err := h.paymentService.Status(c.Request.Context(), actor, c.Param("transactionId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondSuccess(c, http.StatusOK, "Payment status retrieved", view)
}

func (h *PaymentHandler) readForm(c *gin.Context) (url.Values, error) {
	if err := c.Request.ParseForm(); err != nil {
		return nil, err
	}
	return c.Request.PostForm, nil
}

func (h *PaymentHandler) redirect(c *gin.Context, result, txnID, reason string) {
	query := url.Values{}
	if txnID != "" {
		query.Set("tran_id", txnID)
	}
	if reason != "" {
		query.Set("reason", reason)
	}

	target := h.frontendURL + "/payment/" + result
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}
	c.Redirect(http.StatusSeeOther, target)
}

// callbackFromForm maps the gateway's form fields onto a callback
func callbackFromForm(c *gin.Context, form url.Values) models.GatewayCallback {
	raw := make(map[string]interface{}, len(form))
	for key := range form {
		raw[key] = form.Get(key)
	}

	cb := models.GatewayCallback{
		TransactionID: strings.TrimSpace(form.Get("tran_id")),
		Status:        models.GatewayResult(strings.ToUpper(form.Get("status"))),
		ValID:         form.Get("val_id"),
		BankTranID:    form.Get("bank_tran_id"),
		Currency:      form.Get("currency"),
		CardType:      form.Get("card_type"),
		Raw:           raw,
		IPAddress:     utils.GetRealIP(c),
		UserAgent:     utils.GetUserAgent(c),
	}
	if amount, err := strconv.ParseFloat(form.Get("amount"), 64); err == nil {
		cb.Amount = &amount
	}
	return cb
}
