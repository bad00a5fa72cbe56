package services

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/messhub/booking-engine/internal/config"
	"github.com/messhub/booking-engine/internal/database"
	"github.com/messhub/booking-engine/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockGateway is a testify double for PaymentGateway
type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) InitSession(ctx context.Context, req GatewaySessionRequest) (*GatewaySessionResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*GatewaySessionResponse)
	return resp, args.Error(1)
}

func (m *mockGateway) QueryTransaction(ctx context.Context, transactionID string) (*GatewayTransactionStatus, error) {
	args := m.Called(ctx, transactionID)
	status, _ := args.Get(0).(*GatewayTransactionStatus)
	return status, args.Error(1)
}

// recordingNotifier keeps every published event
type recordingNotifier struct {
	mu     sync.Mutex
	events []models.TransitionEvent
}

func (r *recordingNotifier) Publish(ctx context.Context, event models.TransitionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) count(subject models.EventSubject, newStatus string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Subject == subject && e.NewStatus == newStatus {
			n++
		}
	}
	return n
}

func (r *recordingNotifier) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type fixture struct {
	store       *database.MemoryStore
	notifier    *recordingNotifier
	gateway     *mockGateway
	coordinator *Coordinator
	bookings    *BookingService
	payments    *PaymentService
	viewings    *ViewingRequestService
	adminSvc    *AdminService
	sweeper     *ExpirationService

	renter  models.Actor
	renter2 models.Actor
	owner   models.Actor
	admin   models.Actor
	listing models.Listing

	paymentConfig *config.PaymentConfig
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := quietLogger()

	f := &fixture{
		store:    database.NewMemoryStore(),
		notifier: &recordingNotifier{},
		gateway:  &mockGateway{},
		renter:   models.Actor{UserID: uuid.New(), Email: "renter@example.com", Roles: []string{models.RoleUser}},
		renter2:  models.Actor{UserID: uuid.New(), Email: "other@example.com", Roles: []string{models.RoleUser}},
		owner:    models.Actor{UserID: uuid.New(), Email: "owner@example.com", Roles: []string{models.RoleUser, models.RoleOwner}},
		admin:    models.Actor{UserID: uuid.New(), Email: "admin@example.com", Roles: []string{models.RoleAdmin}},
		paymentConfig: &config.PaymentConfig{
			StoreID:       "teststore",
			StorePassword: "testpass",
			BackendURL:    "http://api.test",
			Currency:      "BDT",
			Timeout:       time.Second,
			FallbackWait:  30 * time.Millisecond,
		},
	}

	for _, a := range []models.Actor{f.renter, f.renter2, f.owner, f.admin} {
		f.store.AddUser(models.User{ID: a.UserID, Name: a.Email, Email: a.Email, Role: a.Roles[0], IsActive: true})
	}

	f.listing = models.Listing{
		ID:            uuid.New(),
		OwnerID:       f.owner.UserID,
		Title:         "Seat in Dhanmondi mess",
		MonthlyRate:   5000,
		AdvanceMonths: 1,
		Availability:  models.AvailabilityFree,
	}
	f.store.AddListing(f.listing)

	f.coordinator = NewCoordinator(f.store, f.notifier, logger)
	audit := NewAuditService(f.store.PaymentAudits(), logger)
	f.bookings = NewBookingService(f.coordinator, logger)
	f.payments = NewPaymentService(f.coordinator, f.gateway, audit, f.paymentConfig, logger)
	f.payments.pollInterval = 5 * time.Millisecond
	f.viewings = NewViewingRequestService(f.coordinator, logger)
	f.adminSvc = NewAdminService(f.coordinator, f.payments, audit, logger)
	f.sweeper = NewExpirationService(f.coordinator, config.BookingConfig{
		PendingTTL:     30 * time.Minute,
		ViewingHoldTTL: 48 * time.Hour,
		SweepSchedule:  "0 * * * * *",
		SweepBatchSize: 10,
	}, logger)

	return f
}

func (f *fixture) bookingInput() CreateBookingInput {
	return CreateBookingInput{
		ListingID:     f.listing.ID,
		CheckInDate:   time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC),
		PayableAmount: 5000,
		TenantName:    "Rahim Uddin",
		TenantPhone:   "01700000000",
		TenantEmail:   "renter@example.com",
	}
}

func (f *fixture) createBooking(t *testing.T) *models.Booking {
	t.Helper()
	b, err := f.bookings.Create(context.Background(), f.renter, f.bookingInput())
	require.NoError(t, err)
	return b
}

func (f *fixture) expectGatewaySession() {
	f.gateway.On("InitSession", mock.Anything, mock.Anything).Return(&GatewaySessionResponse{
		SessionKey: "SESSIONKEY",
		GatewayURL: "https://sandbox.sslcommerz.com/gwprocess/v4/gw.php?Q=pay&SESSIONKEY=abc",
	}, nil)
}

func (f *fixture) initiate(t *testing.T, bookingID uuid.UUID) string {
	t.Helper()
	resp, err := f.payments.Initiate(context.Background(), f.renter, bookingID, models.CustomerInfo{
		Name:  "Rahim Uddin",
		Email: "renter@example.com",
		Phone: "01700000000",
	}, RequestMeta{})
	require.NoError(t, err)
	return resp.TransactionID
}

func (f *fixture) webhook(txnID string, status models.GatewayResult, amount float64) (*PaymentOutcome, error) {
	return f.payments.ConfirmFromWebhook(context.Background(), models.GatewayCallback{
		TransactionID: txnID,
		Status:        status,
		ValID:         "VAL-" + txnID,
		BankTranID:    "BANK-" + txnID,
		Amount:        &amount,
		CardType:      "BKASH-BKash",
		Raw:           map[string]interface{}{"tran_id": txnID, "status": string(status)},
	}, models.PaymentSourceGatewayIPN)
}

// paidBooking runs create, initiate and a VALID IPN
func (f *fixture) paidBooking(t *testing.T) (*models.Booking, string) {
	t.Helper()
	f.expectGatewaySession()
	b := f.createBooking(t)
	txnID := f.initiate(t, b.ID)
	_, err := f.webhook(txnID, models.GatewayResultValid, b.PayableAmount)
	require.NoError(t, err)
	return f.mustBooking(t, b.ID), txnID
}

func (f *fixture) mustBooking(t *testing.T, id uuid.UUID) *models.Booking {
	t.Helper()
	b, err := f.store.Repositories().Bookings().Get(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (f *fixture) mustListing(t *testing.T) *models.Listing {
	t.Helper()
	l, err := f.store.Repositories().Listings().Get(context.Background(), f.listing.ID)
	require.NoError(t, err)
	return l
}

func (f *fixture) mustSession(t *testing.T, txnID string) *models.PaymentSession {
	t.Helper()
	s, err := f.store.Repositories().PaymentSessions().Get(context.Background(), txnID)
	require.NoError(t, err)
	return s
}

func (f *fixture) auditsOfType(eventType models.PaymentEventType) []models.PaymentAudit {
	var out []models.PaymentAudit
	for _, a := range f.store.Audits() {
		if a.EventType == eventType {
			out = append(out, a)
		}
	}
	return out
}

func refundAmount(v float64) *float64 { return &v }

// assertConsistent checks that the listing is booked exactly when the booking
// holds it with a paid or owner-confirmed, non-terminal, unrefunded status
func (f *fixture) assertConsistent(t *testing.T, b *models.Booking) {
	t.Helper()
	l := f.mustListing(t)
	active := !b.BookingStatus.IsTerminal() && b.PaymentStatus != models.PaymentStatusRefunded &&
		(b.PaymentStatus == models.PaymentStatusPaid || b.BookingStatus == models.BookingStatusConfirmed)
	booked := l.Availability == models.AvailabilityBooked && l.HeldByBooking(b.ID)
	require.Equal(t, active, booked, "listing %s vs booking %s/%s", l.Availability, b.BookingStatus, b.PaymentStatus)
	if b.PaymentStatus == models.PaymentStatusPaid {
		require.Contains(t, []models.BookingStatus{models.BookingStatusConfirmed, models.BookingStatusCompleted}, b.BookingStatus)
	}
}
