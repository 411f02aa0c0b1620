// Package notify delivers post-commit auction events. Every implementation
// is best effort: callers log returned errors and never roll back because of them.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xtrntr/carauction/internal/models"
)

// OutbidPayload tells a bidder they no longer lead an auction
type OutbidPayload struct {
	AuctionID    uuid.UUID       `json:"auction_id"`
	NewAmount    decimal.Decimal `json:"new_amount"`
	Currency     string          `json:"currency"`
	BidderNumber int             `json:"bidder_number"`
}

// NewBidPayload is broadcast to everyone watching an auction
type NewBidPayload struct {
	AuctionID      uuid.UUID       `json:"auction_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	BidCount       int             `json:"bid_count"`
	BidderNumber   int             `json:"bidder_number"`
	BidderCountry  *string         `json:"bidder_country,omitempty"`
	CurrentEndTime time.Time       `json:"current_end_time"`
	Extended       bool            `json:"extended"`
	ReserveMet     bool            `json:"reserve_met"`
}

// AuctionEndedPayload is sent to watchers when an auction terminates
type AuctionEndedPayload struct {
	AuctionID  uuid.UUID            `json:"auction_id"`
	Status     models.AuctionStatus `json:"status"`
	FinalPrice decimal.NullDecimal  `json:"final_price"`
	Currency   string               `json:"currency"`
	EndedAt    time.Time            `json:"ended_at"`
}

// Sink is the notification transport
type Sink interface {
	NotifyOutbid(ctx context.Context, userID uuid.UUID, p OutbidPayload) error
	BroadcastNewBid(ctx context.Context, p NewBidPayload) error
	NotifyWatchersAuctionEnded(ctx context.Context, p AuctionEndedPayload) error
}

// LogSink records events in the log only
type LogSink struct {
	Logger *logrus.Logger
}

func (s LogSink) NotifyOutbid(ctx context.Context, userID uuid.UUID, p OutbidPayload) error {
	s.Logger.WithFields(logrus.Fields{
		"auction_id": p.AuctionID,
		"user_id":    userID,
		"new_amount": p.NewAmount.String(),
	}).Info("outbid")
	return nil
}

func (s LogSink) BroadcastNewBid(ctx context.Context, p NewBidPayload) error {
	s.Logger.WithFields(logrus.Fields{
		"auction_id":    p.AuctionID,
		"amount":        p.Amount.String(),
		"bidder_number": p.BidderNumber,
		"extended":      p.Extended,
	}).Info("new bid")
	return nil
}

func (s LogSink) NotifyWatchersAuctionEnded(ctx context.Context, p AuctionEndedPayload) error {
	s.Logger.WithFields(logrus.Fields{
		"auction_id": p.AuctionID,
		"status":     p.Status,
	}).Info("auction ended")
	return nil
}

// Multi fans every event out to all sinks and joins their errors
type Multi []Sink

func (m Multi) NotifyOutbid(ctx context.Context, userID uuid.UUID, p OutbidPayload) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.NotifyOutbid(ctx, userID, p))
	}
	return errors.Join(errs...)
}

func (m Multi) BroadcastNewBid(ctx context.Context, p NewBidPayload) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.BroadcastNewBid(ctx, p))
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyWatchersAuctionEnded(ctx context.Context, p AuctionEndedPayload) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.NotifyWatchersAuctionEnded(ctx, p))
	}
	return errors.Join(errs...)
}
