// Package deposit is the bidder eligibility gate: a bidder may bid on an
// auction only while holding a deposit against it.
package deposit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/carauction/internal/apperr"
	"github.com/xtrntr/carauction/internal/models"
	"github.com/xtrntr/carauction/internal/rules"
)

// Store is the deposit persistence the gate needs
type Store interface {
	CreateDeposit(ctx context.Context, deposit *models.Deposit) error
	HasHeldDeposit(ctx context.Context, userID, auctionID uuid.UUID) (bool, error)
}

// Gate checks and records deposits
type Gate struct {
	store    Store
	required bool
}

// NewGate creates a gate; when required is false every bidder is eligible
func NewGate(st Store, required bool) *Gate {
	return &Gate{store: st, required: required}
}

// HasValidDeposit reports whether the user holds a deposit for the auction
func (g *Gate) HasValidDeposit(ctx context.Context, userID, auctionID uuid.UUID) (bool, error) {
	ok, err := g.store.HasHeldDeposit(ctx, userID, auctionID)
	if err != nil {
		return false, fmt.Errorf("failed to check deposit: %w", err)
	}
	return ok, nil
}

// Require returns a validation error when the gate is enforced and the
// user has no held deposit
func (g *Gate) Require(ctx context.Context, userID, auctionID uuid.UUID) error {
	if !g.required {
		return nil
	}
	ok, err := g.HasValidDeposit(ctx, userID, auctionID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Validation("A deposit is required before bidding on this auction")
	}
	return nil
}

// Hold records a HELD deposit for the user
func (g *Gate) Hold(ctx context.Context, userID, auctionID uuid.UUID, amount decimal.Decimal) (*models.Deposit, error) {
	if !amount.IsPositive() {
		return nil, apperr.Validation("Deposit amount must be positive")
	}
	if !rules.WholeCents(amount) {
		return nil, apperr.Validation("Deposit amount must have at most two decimal places")
	}
	d := &models.Deposit{
		ID:        uuid.New(),
		UserID:    userID,
		AuctionID: auctionID,
		Amount:    amount,
		Status:    models.DepositHeld,
		CreatedAt: time.Now(),
	}
	if err := g.store.CreateDeposit(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to create deposit: %w", err)
	}
	return d, nil
}
