// Package store defines the persistence contracts shared by the PostgreSQL
// and in-memory backends.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/xtrntr/carauction/internal/models"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned on unique violations and exhausted retries
	ErrConflict = errors.New("conflict")
)

// Tx is the set of operations available inside one atomic transaction.
// LockAuction serializes all transactions touching the same auction until
// commit or rollback.
type Tx interface {
	LockAuction(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error)
	LockListing(ctx context.Context, listingID uuid.UUID) (*models.Listing, error)
	GetListing(ctx context.Context, listingID uuid.UUID) (*models.Listing, error)
	GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
	AuctionExistsForListing(ctx context.Context, listingID uuid.UUID) (bool, error)
	InsertAuction(ctx context.Context, auction *models.Auction) error
	// UpdateAuction writes every mutable auction field except the bidder
	// number counter, which is owned by IncrementBidderCounter.
	UpdateAuction(ctx context.Context, auction *models.Auction) error
	UpdateListingStatus(ctx context.Context, listingID uuid.UUID, status models.ListingStatus) error

	// EarliestBidderNumber returns the bidder number of the user's earliest
	// numbered bid in the auction, or 0 if none exists.
	EarliestBidderNumber(ctx context.Context, auctionID, userID uuid.UUID) (int, error)
	// IncrementBidderCounter atomically increments the auction's counter
	// and returns the pre-increment value.
	IncrementBidderCounter(ctx context.Context, auctionID uuid.UUID) (int, error)

	WinningBid(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error)
	HighestBid(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error)
	InsertBid(ctx context.Context, bid *models.Bid) error
	// ClearWinning flips isWinning to false on every bid of the auction
	// except keepBidID and returns the number of rows changed.
	ClearWinning(ctx context.Context, auctionID, keepBidID uuid.UUID) (int64, error)
}

// TxRunner runs fn inside a transaction. On a serialization conflict the
// whole closure is retried with a fresh transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// BidSignals are the read queries used by fraud heuristics
type BidSignals interface {
	GetAuction(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error)
	GetListing(ctx context.Context, listingID uuid.UUID) (*models.Listing, error)
	GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
	CountUserBidsSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
	LastUserBidOnAuction(ctx context.Context, userID, auctionID uuid.UUID) (*models.Bid, error)
	UserBidIPsSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]string, error)
	CountOtherBiddersWithIP(ctx context.Context, auctionID uuid.UUID, ip string, excludeUserID uuid.UUID) (int, error)
	CountAuctionBidsBetween(ctx context.Context, auctionID uuid.UUID, from, to time.Time) (int, error)
}

// AlertStore persists and reviews fraud alerts
type AlertStore interface {
	CreateFraudAlerts(ctx context.Context, alerts []models.FraudAlert) error
	GetFraudAlert(ctx context.Context, alertID uuid.UUID) (*models.FraudAlert, error)
	ListFraudAlerts(ctx context.Context, filter models.AlertFilter) ([]models.FraudAlert, error)
	// ReviewOpenFraudAlert moves an OPEN alert to status; it returns
	// ErrConflict if the alert is no longer OPEN.
	ReviewOpenFraudAlert(ctx context.Context, alertID uuid.UUID, status models.AlertStatus, reviewerID uuid.UUID, notes *string, at time.Time) (*models.FraudAlert, error)
}

// Store is the full persistence surface
type Store interface {
	TxRunner
	BidSignals
	AlertStore

	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	CreateListing(ctx context.Context, listing *models.Listing) error
	ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error)
	ListExpiredAuctions(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	CreateDeposit(ctx context.Context, deposit *models.Deposit) error
	HasHeldDeposit(ctx context.Context, userID, auctionID uuid.UUID) (bool, error)
}
