package notify

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/messhub/booking-engine/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, event models.TransitionEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// memGuard is an in-process Guard
type memGuard struct {
	keys     map[string]bool
	claimErr error
	released []string
}

func newMemGuard() *memGuard {
	return &memGuard{keys: make(map[string]bool)}
}

func (g *memGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if g.claimErr != nil {
		return false, g.claimErr
	}
	if g.keys[key] {
		return false, nil
	}
	g.keys[key] = true
	return true, nil
}

func (g *memGuard) Release(ctx context.Context, key string) error {
	delete(g.keys, key)
	g.released = append(g.released, key)
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func paidEvent() models.TransitionEvent {
	return models.TransitionEvent{
		EventID:        uuid.New(),
		BookingID:      uuid.New(),
		ListingID:      uuid.New(),
		TransactionID:  "BOOKING-01012026-101010-ABCDEF-1A2B",
		Subject:        models.SubjectPaymentStatus,
		OldStatus:      "pending",
		NewStatus:      "paid",
		RecipientEmail: "renter@example.com",
		OccurredAt:     time.Now(),
	}
}

func TestDedupPublisher_SuppressesSecondDelivery(t *testing.T) {
	next := new(mockPublisher)
	next.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()

	p := NewDedupPublisher(next, newMemGuard(), time.Hour, quietLogger())
	event := paidEvent()

	require.NoError(t, p.Publish(context.Background(), event))

	// same logical transition, new event id
	replay := event
	replay.EventID = uuid.New()
	require.NoError(t, p.Publish(context.Background(), replay))

	next.AssertNumberOfCalls(t, "Publish", 1)
}

func TestDedupPublisher_DistinctRecipientsBothDelivered(t *testing.T) {
	next := new(mockPublisher)
	next.On("Publish", mock.Anything, mock.Anything).Return(nil)

	p := NewDedupPublisher(next, newMemGuard(), time.Hour, quietLogger())
	event := paidEvent()
	owner := event
	owner.RecipientEmail = "owner@example.com"

	require.NoError(t, p.Publish(context.Background(), event))
	require.NoError(t, p.Publish(context.Background(), owner))

	next.AssertNumberOfCalls(t, "Publish", 2)
}

func TestDedupPublisher_ReleasesKeyOnPublishError(t *testing.T) {
	next := new(mockPublisher)
	next.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()
	next.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()

	guard := newMemGuard()
	p := NewDedupPublisher(next, guard, time.Hour, quietLogger())
	event := paidEvent()

	err := p.Publish(context.Background(), event)
	assert.Error(t, err)
	assert.Equal(t, []string{event.DedupKey()}, guard.released)

	// retry goes through
	require.NoError(t, p.Publish(context.Background(), event))
	next.AssertNumberOfCalls(t, "Publish", 2)
}

func TestDedupPublisher_GuardErrorStillPublishes(t *testing.T) {
	next := new(mockPublisher)
	next.On("Publish", mock.Anything, mock.Anything).Return(nil)

	guard := newMemGuard()
	guard.claimErr = errors.New("redis timeout")
	p := NewDedupPublisher(next, guard, time.Hour, quietLogger())

	require.NoError(t, p.Publish(context.Background(), paidEvent()))
	next.AssertNumberOfCalls(t, "Publish", 1)
}

func TestLogPublisher_NeverFails(t *testing.T) {
	p := NewLogPublisher(quietLogger())
	assert.NoError(t, p.Publish(context.Background(), paidEvent()))
}
