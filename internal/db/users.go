package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xtrntr/carauction/internal/models"
	"github.com/xtrntr/carauction/internal/store"
)

const userColumns = "id, username, password_hash, country, is_admin, created_at"

func getUser(ctx context.Context, q querier, userID uuid.UUID) (*models.User, error) {
	user := &models.User{}
	err := q.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", userID).Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.Country, &user.IsAdmin, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", notFound(err))
	}
	return user, nil
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	_, err := db.Pool.Exec(ctx,
		"INSERT INTO users (id, username, password_hash, country, is_admin, created_at) VALUES ($1, $2, $3, $4, $5, $6)",
		user.ID, user.Username, user.PasswordHash, user.Country, user.IsAdmin, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to create user: %w", store.ErrConflict)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by id
func (db *DB) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return getUser(ctx, db.Pool, userID)
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Country, &user.IsAdmin, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", notFound(err))
	}
	return user, nil
}

// CreateDeposit records a deposit hold
func (db *DB) CreateDeposit(ctx context.Context, d *models.Deposit) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO deposits (id, user_id, auction_id, amount, status) VALUES ($1, $2, $3, $4, $5) RETURNING created_at",
		d.ID, d.UserID, d.AuctionID, d.Amount, d.Status).Scan(&d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create deposit: %w", err)
	}
	return nil
}

// HasHeldDeposit reports whether the user holds a deposit against the auction
func (db *DB) HasHeldDeposit(ctx context.Context, userID, auctionID uuid.UUID) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM deposits WHERE user_id = $1 AND auction_id = $2 AND status = 'HELD')",
		userID, auctionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check deposit: %w", err)
	}
	return exists, nil
}
