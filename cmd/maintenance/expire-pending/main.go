package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/messhub/booking-engine/internal/config"
	"github.com/messhub/booking-engine/internal/database"
	"github.com/messhub/booking-engine/internal/services"
	"github.com/messhub/booking-engine/pkg/notify"
	"github.com/sirupsen/logrus"
)

// Runs one expiry sweep against the database and exits. Useful when the
// server's cron is disabled or after downtime.
func main() {
	var (
		dbURLFlag      string
		driver         string
		pendingTTL     time.Duration
		viewingHoldTTL time.Duration
		batchSize      int
		migrate        bool
	)
	flag.StringVar(&dbURLFlag, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	flag.StringVar(&driver, "driver", "postgres", "database driver: postgres or pgx")
	flag.DurationVar(&pendingTTL, "pending-ttl", 30*time.Minute, "age after which unpaid bookings are cancelled")
	flag.DurationVar(&viewingHoldTTL, "viewing-hold-ttl", 48*time.Hour, "age after which accepted viewings release the listing")
	flag.IntVar(&batchSize, "batch", 500, "maximum items per kind")
	flag.BoolVar(&migrate, "migrate", false, "apply the schema before sweeping")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// .env is optional; it keeps secrets off the command line
	_ = godotenv.Load()

	dbURL := dbURLFlag
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		logger.Fatal("DATABASE_URL is not set and -database-url was not provided")
	}

	db, err := database.NewConnection(config.DatabaseConfig{
		URL:                dbURL,
		Driver:             driver,
		MaxConnections:     5,
		MaxIdleConnections: 2,
	}, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if migrate {
		if err := db.Migrate(ctx); err != nil {
			logger.Fatalf("Failed to apply schema: %v", err)
		}
		logger.Info("Schema applied")
	}

	coordinator := services.NewCoordinator(db, notify.NewLogPublisher(logger), logger)
	sweeper := services.NewExpirationService(coordinator, config.BookingConfig{
		PendingTTL:     pendingTTL,
		ViewingHoldTTL: viewingHoldTTL,
		SweepBatchSize: batchSize,
	}, logger)

	result, err := sweeper.RunOnce(ctx)
	coordinator.Wait()
	if err != nil {
		logger.Fatalf("Sweep failed: %v", err)
	}

	logger.WithFields(logrus.Fields{
		"expired_bookings":  result.ExpiredBookings,
		"released_viewings": result.ReleasedViewings,
		"failed":            result.Failed,
	}).Info("Sweep completed")
}
