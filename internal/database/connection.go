package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/messhub/booking-engine/internal/config"
	"github.com/sirupsen/logrus"
)

// PostgresDB implements Store on top of sqlx
type PostgresDB struct {
	*sqlx.DB
	logger *logrus.Logger
}

// maskPassword masks the password in a database URL for safe logging
func maskPassword(url string) string {
	re := regexp.MustCompile(`(postgres(?:ql)?://[^:]+:)([^@]+)(@.+)`)
	return re.ReplaceAllString(url, "${1}****${3}")
}

// NewConnection creates a new database connection.
// Driver "postgres" uses lib/pq; "pgx" uses the pgx stdlib driver and switches to
// the simple protocol behind a transaction-mode pooler (port 6543).
func NewConnection(cfg config.DatabaseConfig, logger *logrus.Logger) (*PostgresDB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	logger.WithFields(logrus.Fields{
		"driver": cfg.Driver,
		"url":    maskPassword(cfg.URL),
	}).Info("Connecting to database")

	var (
		db  *sqlx.DB
		err error
	)
	switch cfg.Driver {
	case "pgx":
		db, err = connectPgx(cfg.URL, logger)
	default:
		db, err = sqlx.Connect("postgres", cfg.URL)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxLifetime / 2)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{DB: db, logger: logger}, nil
}

func connectPgx(url string, logger *logrus.Logger) (*sqlx.DB, error) {
	pgxConfig, err := pgx.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Transaction-mode poolers drop prepared statements between transactions
	if strings.Contains(url, ":6543") {
		pgxConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
		logger.Info("Detected transaction mode pooler - using simple protocol")
	}

	connStr := stdlib.RegisterConnConfig(pgxConfig)
	return sqlx.Connect("pgx", connStr)
}

// NewPostgresStore wraps an existing sqlx handle (used by tests)
func NewPostgresStore(db *sqlx.DB, logger *logrus.Logger) *PostgresDB {
	return &PostgresDB{DB: db, logger: logger}
}

// WithTx runs fn inside a READ COMMITTED transaction. Writers are guarded by
// conditional UPDATEs; a loser sees zero rows affected once the winner commits.
func (db *PostgresDB) WithTx(ctx context.Context, fn func(repos Repositories) error) (err error) {
	tx, err := db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classifyError(err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(newSQLRepositories(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			db.logger.WithError(rbErr).Warn("Failed to rollback transaction")
		}
		return classifyError(err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", classifyError(err))
	}
	return nil
}

// Repositories returns stores bound to the pool, outside any transaction
func (db *PostgresDB) Repositories() Repositories {
	return newSQLRepositories(db.DB)
}

// PaymentAudits returns the audit log writer
func (db *PostgresDB) PaymentAudits() PaymentAuditStore {
	return NewPaymentAuditRepository(db.DB, db.logger)
}

// Ping verifies the connection
func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.DB.PingContext(ctx)
}

// Close closes the pool
func (db *PostgresDB) Close() error {
	return db.DB.Close()
}

// sqlRepositories binds every store to one sqlx handle (pool or tx)
type sqlRepositories struct {
	q sqlx.ExtContext
}

func newSQLRepositories(q sqlx.ExtContext) *sqlRepositories {
	return &sqlRepositories{q: q}
}

func (r *sqlRepositories) Listings() ListingStore {
	return NewListingRepository(r.q)
}

func (r *sqlRepositories) Bookings() BookingStore {
	return NewBookingRepository(r.q)
}

func (r *sqlRepositories) PaymentSessions() PaymentSessionStore {
	return NewPaymentSessionRepository(r.q)
}

func (r *sqlRepositories) ViewingRequests() ViewingRequestStore {
	return NewViewingRequestRepository(r.q)
}

func (r *sqlRepositories) Users() UserStore {
	return NewUserRepository(r.q)
}
