package notify

import (
	"context"
	"time"

	"github.com/messhub/booking-engine/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const dedupKeyPrefix = "notify:dedup:"

// Guard claims a key for a period. Claim returns false when the key is
// already held.
type Guard interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// NewRedisClient connects to Redis. Returns nil when Redis is unreachable so
// callers can run without the guard.
func NewRedisClient(addr, password string, db int, logger *logrus.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.WithError(err).WithField("addr", addr).Warn("Redis unavailable, notification dedup disabled")
		client.Close()
		return nil
	}

	logger.WithField("addr", addr).Info("Connected to Redis")
	return client
}

// RedisGuard implements Guard with SET NX
type RedisGuard struct {
	client *redis.Client
}

// NewRedisGuard wraps a connected client
func NewRedisGuard(client *redis.Client) *RedisGuard {
	return &RedisGuard{client: client}
}

func (g *RedisGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return g.client.SetNX(ctx, dedupKeyPrefix+key, time.Now().Unix(), ttl).Result()
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	return g.client.Del(ctx, dedupKeyPrefix+key).Err()
}

// DedupPublisher drops events whose logical transition was already delivered.
// Guard failures fall through to delivery: a duplicate beats a lost message.
type DedupPublisher struct {
	next   Publisher
	guard  Guard
	ttl    time.Duration
	logger *logrus.Logger
}

// NewDedupPublisher wraps next with a dedup guard
func NewDedupPublisher(next Publisher, guard Guard, ttl time.Duration, logger *logrus.Logger) *DedupPublisher {
	return &DedupPublisher{next: next, guard: guard, ttl: ttl, logger: logger}
}

// Publish delivers the event unless its dedup key is already claimed
func (p *DedupPublisher) Publish(ctx context.Context, event models.TransitionEvent) error {
	key := event.DedupKey()

	claimed, err := p.guard.Claim(ctx, key, p.ttl)
	if err != nil {
		p.logger.WithError(err).WithField("dedup_key", key).Warn("Dedup guard unavailable, publishing anyway")
		return p.next.Publish(ctx, event)
	}
	if !claimed {
		p.logger.WithFields(logrus.Fields{
			"dedup_key":  key,
			"booking_id": event.BookingID,
		}).Info("Duplicate notification suppressed")
		return nil
	}

	if err := p.next.Publish(ctx, event); err != nil {
		// let a later attempt deliver it
		if relErr := p.guard.Release(ctx, key); relErr != nil {
			p.logger.WithError(relErr).WithField("dedup_key", key).Warn("Failed to release dedup key")
		}
		return err
	}
	return nil
}
