package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/portfolio-pulse/internal/errors"
	"github.com/portfolio-pulse/internal/models"
)

// UserRepository reads tracked-user state from Postgres.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new user repository
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetByID returns a user by id.
func (r *UserRepository) GetByID(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, active, max_cash_deployed, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&u.ID, &u.Active, &u.MaxCashDeployed, &u.CreatedAt, &u.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NewNotFoundError("user", userID)
	}
	if err != nil {
		return nil, errors.NewDatabaseError("query user", err)
	}
	return &u, nil
}

// ActiveUserIDs returns the ids of all active users in ascending order.
// Ordering matters: the leaderboard tie-break and the fan-out iteration are
// deterministic because of it.
func (r *UserRepository) ActiveUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM users WHERE active ORDER BY id ASC
	`)
	if err != nil {
		return nil, errors.NewDatabaseError("query active users", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewDatabaseError("scan user id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("iterate users", err)
	}
	return ids, nil
}
