// Package sequencer assigns stable anonymized bidder numbers per auction.
package sequencer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/xtrntr/carauction/internal/store"
)

// Assignment is a resolved bidder number
type Assignment struct {
	Number  int
	Country *string
	New     bool // true when the number was issued by this call
}

// Sequencer resolves bidder numbers inside the caller's transaction
type Sequencer struct{}

// New creates a sequencer
func New() *Sequencer {
	return &Sequencer{}
}

// GetOrAssign returns the user's existing number in the auction or issues
// the next one from the auction counter. Numbers are never reassigned and 0
// is never issued.
func (s *Sequencer) GetOrAssign(ctx context.Context, tx store.Tx, auctionID, userID uuid.UUID) (Assignment, error) {
	user, err := tx.GetUser(ctx, userID)
	if err != nil {
		return Assignment{}, fmt.Errorf("failed to load bidder: %w", err)
	}

	existing, err := tx.EarliestBidderNumber(ctx, auctionID, userID)
	if err != nil {
		return Assignment{}, err
	}
	if existing > 0 {
		return Assignment{Number: existing, Country: user.Country}, nil
	}

	number, err := tx.IncrementBidderCounter(ctx, auctionID)
	if err != nil {
		return Assignment{}, err
	}
	if number <= 0 {
		return Assignment{}, fmt.Errorf("bidder counter for auction %s returned invalid number %d", auctionID, number)
	}
	return Assignment{Number: number, Country: user.Country, New: true}, nil
}
