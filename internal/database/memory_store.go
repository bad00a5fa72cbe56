package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/messhub/booking-engine/internal/models"
)

// errPaidNotConfirmed mirrors the bookings_paid_is_confirmed CHECK constraint
var errPaidNotConfirmed = fmt.Errorf("%w: bookings_paid_is_confirmed", ErrConstraint)

// MemoryStore is an in-process Store for local development and tests.
// Transactions are serializable: WithTx holds a single lock and works on a
// copy of the state that replaces the original only when fn succeeds.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState

	auditMu sync.Mutex
	audits  []models.PaymentAudit
}

type memState struct {
	users    map[uuid.UUID]models.User
	listings map[uuid.UUID]models.Listing
	bookings map[uuid.UUID]models.Booking
	sessions map[string]models.PaymentSession
	viewings map[uuid.UUID]models.ViewingRequest
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memState{
			users:    make(map[uuid.UUID]models.User),
			listings: make(map[uuid.UUID]models.Listing),
			bookings: make(map[uuid.UUID]models.Booking),
			sessions: make(map[string]models.PaymentSession),
			viewings: make(map[uuid.UUID]models.ViewingRequest),
		},
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		users:    make(map[uuid.UUID]models.User, len(s.users)),
		listings: make(map[uuid.UUID]models.Listing, len(s.listings)),
		bookings: make(map[uuid.UUID]models.Booking, len(s.bookings)),
		sessions: make(map[string]models.PaymentSession, len(s.sessions)),
		viewings: make(map[uuid.UUID]models.ViewingRequest, len(s.viewings)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.listings {
		c.listings[k] = v
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	for k, v := range s.viewings {
		c.viewings[k] = v
	}
	return c
}

// WithTx runs fn against a private copy and commits it if fn succeeds
func (s *MemoryStore) WithTx(ctx context.Context, fn func(repos Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memRepositories{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// Repositories returns autocommit stores; each call locks the store
func (s *MemoryStore) Repositories() Repositories {
	return &memRepositories{store: s}
}

// PaymentAudits returns the in-memory audit log
func (s *MemoryStore) PaymentAudits() PaymentAuditStore {
	return memAudits{store: s}
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

// AddUser seeds a user
func (s *MemoryStore) AddUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.users[u.ID] = u
}

// AddListing seeds a listing
func (s *MemoryStore) AddListing(l models.Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.Availability == "" {
		l.Availability = models.AvailabilityFree
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = time.Now()
	}
	s.state.listings[l.ID] = l
}

// AddBooking seeds a booking as-is
func (s *MemoryStore) AddBooking(b models.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.bookings[b.ID] = b
}

// Audits returns a copy of the audit log
func (s *MemoryStore) Audits() []models.PaymentAudit {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	out := make([]models.PaymentAudit, len(s.audits))
	copy(out, s.audits)
	return out
}

// memRepositories is bound either to a transaction copy (st) or to the store
type memRepositories struct {
	store *MemoryStore
	st    *memState
}

func (r *memRepositories) with(fn func(st *memState) error) error {
	if r.st != nil {
		return fn(r.st)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return fn(r.store.state)
}

func (r *memRepositories) Listings() ListingStore {
	return memListings{r}
}

func (r *memRepositories) Bookings() BookingStore {
	return memBookings{r}
}

func (r *memRepositories) PaymentSessions() PaymentSessionStore {
	return memSessions{r}
}

func (r *memRepositories) ViewingRequests() ViewingRequestStore {
	return memViewings{r}
}

func (r *memRepositories) Users() UserStore {
	return memUsers{r}
}

// ============================================================================
// LISTINGS
// ============================================================================

type memListings struct{ r *memRepositories }

func (m memListings) Get(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var out *models.Listing
	err := m.r.with(func(st *memState) error {
		l, ok := st.listings[id]
		if !ok {
			return fmt.Errorf("listing %s: %w", id, ErrNotFound)
		}
		out = &l
		return nil
	})
	return out, err
}

func (m memListings) UpdateAvailability(ctx context.Context, id uuid.UUID, expected models.Availability, version int, hold models.ListingHold) error {
	return m.r.with(func(st *memState) error {
		l, ok := st.listings[id]
		if !ok || l.Availability != expected || l.Version != version {
			return ErrPreconditionFailed
		}
		l.Availability = hold.Availability
		l.HeldByBookingID = hold.BookingID
		l.HeldByViewingID = hold.ViewingID
		l.HeldSince = nil
		if hold.Availability != models.AvailabilityFree {
			at := hold.At
			l.HeldSince = &at
		}
		if hold.Availability == models.AvailabilityBooked {
			at := hold.At
			l.LastBookedAt = &at
		}
		l.Version++
		l.UpdatedAt = hold.At
		st.listings[id] = l
		return nil
	})
}

func (m memListings) ListViewingHoldsBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Listing, error) {
	var out []models.Listing
	err := m.r.with(func(st *memState) error {
		for _, l := range st.listings {
			if l.Availability == models.AvailabilityReservedForViewing && l.HeldSince != nil && l.HeldSince.Before(cutoff) {
				out = append(out, l)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].HeldSince.Before(*out[j].HeldSince) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

// ============================================================================
// BOOKINGS
// ============================================================================

type memBookings struct{ r *memRepositories }

func (m memBookings) Create(ctx context.Context, b *models.Booking) error {
	return m.r.with(func(st *memState) error {
		if _, exists := st.bookings[b.ID]; exists {
			return ErrDuplicate
		}
		st.bookings[b.ID] = *b
		return nil
	})
}

func (m memBookings) Get(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var out *models.Booking
	err := m.r.with(func(st *memState) error {
		b, ok := st.bookings[id]
		if !ok {
			return fmt.Errorf("booking %s: %w", id, ErrNotFound)
		}
		out = &b
		return nil
	})
	return out, err
}

func (m memBookings) UpdateStatus(ctx context.Context, id uuid.UUID, expected, next models.BookingStatus) error {
	return m.r.with(func(st *memState) error {
		b, ok := st.bookings[id]
		if !ok || b.BookingStatus != expected {
			return ErrPreconditionFailed
		}
		b.BookingStatus = next
		b.UpdatedAt = time.Now()
		if b.PaymentStatus == models.PaymentStatusPaid &&
			next != models.BookingStatusConfirmed && next != models.BookingStatusCompleted {
			return errPaidNotConfirmed
		}
		st.bookings[id] = b
		return nil
	})
}

func (m memBookings) UpdatePayment(ctx context.Context, id uuid.UUID, expectedBooking models.BookingStatus, expectedPayment models.PaymentStatus, update models.PaymentUpdate) error {
	return m.r.with(func(st *memState) error {
		b, ok := st.bookings[id]
		if !ok || b.BookingStatus != expectedBooking || b.PaymentStatus != expectedPayment {
			return ErrPreconditionFailed
		}
		b.PaymentStatus = update.Status
		if update.PaidAt != nil {
			b.PaidAt = update.PaidAt
		}
		if update.RefundedAmount != nil {
			b.RefundedAmount = update.RefundedAmount
		}
		if update.RefundReason != nil {
			b.RefundReason = update.RefundReason
		}
		if update.RefundedAt != nil {
			b.RefundedAt = update.RefundedAt
		}
		if update.PaymentMethod != nil {
			b.PaymentMethod = update.PaymentMethod
		}
		if update.Details != nil {
			b.PaymentDetails = update.Details
		}
		b.UpdatedAt = time.Now()
		if b.PaymentStatus == models.PaymentStatusPaid &&
			b.BookingStatus != models.BookingStatusConfirmed && b.BookingStatus != models.BookingStatusCompleted {
			return errPaidNotConfirmed
		}
		st.bookings[id] = b
		return nil
	})
}

func (m memBookings) AttachTransaction(ctx context.Context, id uuid.UUID, transactionID string) error {
	return m.r.with(func(st *memState) error {
		b, ok := st.bookings[id]
		if !ok || b.PaymentStatus != models.PaymentStatusPending {
			return ErrPreconditionFailed
		}
		for _, other := range st.bookings {
			if other.TransactionID != nil && *other.TransactionID == transactionID && other.ID != id {
				return ErrDuplicate
			}
		}
		b.TransactionID = &transactionID
		b.UpdatedAt = time.Now()
		st.bookings[id] = b
		return nil
	})
}

func (m memBookings) Delete(ctx context.Context, id uuid.UUID) error {
	return m.r.with(func(st *memState) error {
		if _, ok := st.bookings[id]; !ok {
			return ErrNotFound
		}
		delete(st.bookings, id)
		for txnID, s := range st.sessions {
			if s.BookingID == id {
				delete(st.sessions, txnID)
			}
		}
		return nil
	})
}

func (m memBookings) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	var stale []models.Booking
	err := m.r.with(func(st *memState) error {
		for _, b := range st.bookings {
			if b.BookingStatus != models.BookingStatusPending {
				continue
			}
			if b.PaymentStatus != models.PaymentStatusPending && b.PaymentStatus != models.PaymentStatusFailed {
				continue
			}
			if b.UpdatedAt.Before(cutoff) {
				stale = append(stale, b)
			}
		}
		return nil
	})
	sort.Slice(stale, func(i, j int) bool { return stale[i].UpdatedAt.Before(stale[j].UpdatedAt) })
	ids := make([]uuid.UUID, 0, len(stale))
	for i, b := range stale {
		if i == limit {
			break
		}
		ids = append(ids, b.ID)
	}
	return ids, err
}

// ============================================================================
// PAYMENT SESSIONS
// ============================================================================

type memSessions struct{ r *memRepositories }

func (m memSessions) Create(ctx context.Context, s *models.PaymentSession) error {
	return m.r.with(func(st *memState) error {
		if _, exists := st.sessions[s.TransactionID]; exists {
			return ErrDuplicate
		}
		if _, ok := st.bookings[s.BookingID]; !ok {
			return fmt.Errorf("booking %s: %w", s.BookingID, ErrNotFound)
		}
		st.sessions[s.TransactionID] = *s
		return nil
	})
}

func (m memSessions) Get(ctx context.Context, transactionID string) (*models.PaymentSession, error) {
	var out *models.PaymentSession
	err := m.r.with(func(st *memState) error {
		s, ok := st.sessions[transactionID]
		if !ok {
			return fmt.Errorf("payment session %s: %w", transactionID, ErrNotFound)
		}
		out = &s
		return nil
	})
	return out, err
}

func (m memSessions) SetGatewayReference(ctx context.Context, transactionID, sessionKey, gatewayURL string) error {
	return m.r.with(func(st *memState) error {
		s, ok := st.sessions[transactionID]
		if !ok || s.Status != models.SessionStatusOpen {
			return ErrPreconditionFailed
		}
		s.GatewaySessionKey = &sessionKey
		s.GatewayURL = &gatewayURL
		st.sessions[transactionID] = s
		return nil
	})
}

func (m memSessions) Settle(ctx context.Context, transactionID string, expected models.SessionStatus, settlement models.SessionSettlement) error {
	return m.r.with(func(st *memState) error {
		s, ok := st.sessions[transactionID]
		if !ok || s.Status != expected {
			return ErrPreconditionFailed
		}
		s.Status = settlement.Status
		if settlement.ValID != nil {
			s.ValID = settlement.ValID
		}
		if settlement.BankTranID != nil {
			s.BankTranID = settlement.BankTranID
		}
		at := settlement.At
		s.ConsumedAt = &at
		st.sessions[transactionID] = s
		return nil
	})
}

// ============================================================================
// VIEWING REQUESTS
// ============================================================================

type memViewings struct{ r *memRepositories }

func (m memViewings) Create(ctx context.Context, v *models.ViewingRequest) error {
	return m.r.with(func(st *memState) error {
		if _, exists := st.viewings[v.ID]; exists {
			return ErrDuplicate
		}
		st.viewings[v.ID] = *v
		return nil
	})
}

func (m memViewings) Get(ctx context.Context, id uuid.UUID) (*models.ViewingRequest, error) {
	var out *models.ViewingRequest
	err := m.r.with(func(st *memState) error {
		v, ok := st.viewings[id]
		if !ok {
			return fmt.Errorf("viewing request %s: %w", id, ErrNotFound)
		}
		out = &v
		return nil
	})
	return out, err
}

func (m memViewings) FindLatest(ctx context.Context, listingID, renterID uuid.UUID) (*models.ViewingRequest, error) {
	var out *models.ViewingRequest
	err := m.r.with(func(st *memState) error {
		for _, v := range st.viewings {
			if v.ListingID != listingID || v.RenterID != renterID {
				continue
			}
			if out == nil || v.CreatedAt.After(out.CreatedAt) {
				found := v
				out = &found
			}
		}
		if out == nil {
			return ErrNotFound
		}
		return nil
	})
	return out, err
}

func (m memViewings) UpdateStatus(ctx context.Context, id uuid.UUID, expected, next models.ViewingStatus) error {
	return m.r.with(func(st *memState) error {
		v, ok := st.viewings[id]
		if !ok || v.Status != expected {
			return ErrPreconditionFailed
		}
		v.Status = next
		v.UpdatedAt = time.Now()
		st.viewings[id] = v
		return nil
	})
}

// ============================================================================
// USERS & AUDITS
// ============================================================================

type memUsers struct{ r *memRepositories }

func (m memUsers) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var out *models.User
	err := m.r.with(func(st *memState) error {
		u, ok := st.users[id]
		if !ok {
			return fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		out = &u
		return nil
	})
	return out, err
}

type memAudits struct{ store *MemoryStore }

func (m memAudits) Log(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}
	m.store.auditMu.Lock()
	defer m.store.auditMu.Unlock()
	m.store.audits = append(m.store.audits, *audit)
	return nil
}
