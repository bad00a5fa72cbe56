package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/messhub/booking-engine/internal/models"
)

// UserRepository reads the account fields the booking engine depends on
type UserRepository struct {
	q sqlx.ExtContext
}

// NewUserRepository creates a new user repository
func NewUserRepository(q sqlx.ExtContext) *UserRepository {
	return &UserRepository{q: q}
}

// Get returns a user by ID
func (r *UserRepository) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	query := `
		SELECT id, name, email, COALESCE(phone, '') AS phone, role, is_active
		FROM users
		WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.q, &user, query, id); err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", id, classifyError(err))
	}
	return &user, nil
}
