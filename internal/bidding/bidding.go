// Package bidding implements the bid placement protocol: every precondition
// is checked under the auction row lock and all mutations commit together.
package bidding

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xtrntr/carauction/internal/apperr"
	"github.com/xtrntr/carauction/internal/models"
	"github.com/xtrntr/carauction/internal/notify"
	"github.com/xtrntr/carauction/internal/rules"
	"github.com/xtrntr/carauction/internal/sequencer"
	"github.com/xtrntr/carauction/internal/store"
)

// Reader is the non-transactional data the service exposes to clients
type Reader interface {
	GetAuction(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error)
	ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error)
}

// Request is one bid attempt
type Request struct {
	AuctionID uuid.UUID
	BidderID  uuid.UUID
	Amount    decimal.Decimal
	IPAddress *string
	UserAgent *string
}

// Result is the committed view of the auction after an accepted bid
type Result struct {
	Bid      models.Bid     `json:"bid"`
	Auction  models.Auction `json:"auction"`
	Extended bool           `json:"extended"`
}

// Service places bids
type Service struct {
	tx     store.TxRunner
	reader Reader
	seq    *sequencer.Sequencer
	rules  rules.Config
	sink   notify.Sink
	logger *logrus.Logger
	now    func() time.Time
}

// NewService creates a bidding service
func NewService(tx store.TxRunner, reader Reader, seq *sequencer.Sequencer, cfg rules.Config, sink notify.Sink, logger *logrus.Logger) *Service {
	return &Service{
		tx:     tx,
		reader: reader,
		seq:    seq,
		rules:  cfg,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// incrementRule combines the configured percentage with the auction's own
// absolute increment
func (s *Service) incrementRule(a *models.Auction) rules.IncrementRule {
	rule := s.rules.Increment
	if a.BidIncrement.IsPositive() {
		rule.Absolute = a.BidIncrement
	}
	return rule
}

// PlaceBid validates and applies a bid atomically. A conflict that survives
// the store's retries is reported as a Conflict error.
func (s *Service) PlaceBid(ctx context.Context, req Request) (*Result, error) {
	if !req.Amount.IsPositive() {
		return nil, apperr.Validation("Bid amount must be positive")
	}
	if !rules.WholeCents(req.Amount) {
		return nil, apperr.Validation("Bid amount must have at most two decimal places")
	}

	var (
		result         *Result
		previousWinner *models.Bid
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		result, previousWinner = nil, nil

		auction, err := tx.LockAuction(ctx, req.AuctionID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("Auction not found")
		}
		if err != nil {
			return err
		}
		listing, err := tx.GetListing(ctx, auction.ListingID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("Listing not found")
		}
		if err != nil {
			return err
		}

		if req.BidderID == listing.SellerID {
			return apperr.Validation("Sellers cannot bid on their own listings")
		}
		if !auction.Status.AcceptsBids() {
			return apperr.Validation("Auction is not accepting bids")
		}
		now := s.now()
		if now.Before(auction.StartTime) {
			return apperr.Validation("Auction has not started yet")
		}
		if now.After(auction.CurrentEndTime) {
			return apperr.Validation("This auction has ended")
		}

		minimum := rules.MinimumNextBid(auction.CurrentBid, auction.StartingPrice, s.incrementRule(auction))
		if req.Amount.LessThan(minimum) {
			return apperr.Validation("Bid must be at least %s %s", minimum.StringFixed(2), auction.Currency)
		}
		extend := rules.ShouldExtend(now, auction.CurrentEndTime, auction.AntiSnipingWindowMinutes,
			auction.ExtensionCount, auction.MaxExtensions, auction.AntiSnipingEnabled)

		assignment, err := s.seq.GetOrAssign(ctx, tx, auction.ID, req.BidderID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("Bidder not found")
		}
		if err != nil {
			return err
		}

		prev, err := tx.WinningBid(ctx, auction.ID)
		if err != nil {
			return err
		}

		bid := models.Bid{
			ID:                 uuid.New(),
			AuctionID:          auction.ID,
			BidderID:           req.BidderID,
			Amount:             req.Amount,
			IsWinning:          true,
			TriggeredExtension: extend,
			BidderNumber:       assignment.Number,
			BidderCountry:      assignment.Country,
			IPAddress:          req.IPAddress,
			UserAgent:          req.UserAgent,
			CreatedAt:          now,
		}
		if err := tx.InsertBid(ctx, &bid); err != nil {
			return err
		}
		if _, err := tx.ClearWinning(ctx, auction.ID, bid.ID); err != nil {
			return err
		}

		auction.CurrentBid = decimal.NewNullDecimal(req.Amount)
		auction.BidCount++
		auction.ReserveMet = !auction.ReservePrice.Valid || req.Amount.GreaterThanOrEqual(auction.ReservePrice.Decimal)
		if extend {
			auction.CurrentEndTime = rules.Extend(auction.CurrentEndTime, auction.AntiSnipingExtensionMinutes)
			auction.ExtensionCount++
			auction.Status = models.AuctionExtended
		}
		if assignment.New {
			auction.NextBidderNumber = assignment.Number + 1
		}
		if err := tx.UpdateAuction(ctx, auction); err != nil {
			return err
		}

		result = &Result{Bid: bid, Auction: *auction, Extended: extend}
		previousWinner = prev
		return nil
	})

	fields := logrus.Fields{
		"auction_id": req.AuctionID,
		"bidder_id":  req.BidderID,
		"amount":     req.Amount.String(),
	}
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			err = apperr.Conflict(err, "Auction is busy, please retry your bid")
		}
		if apperr.KindOf(err) == apperr.KindInternal {
			s.logger.WithFields(fields).WithError(err).Error("bid failed")
		} else {
			s.logger.WithFields(fields).WithField("reason", err.Error()).Info("bid rejected")
		}
		return nil, err
	}

	s.logger.WithFields(fields).WithFields(logrus.Fields{
		"bid_id":        result.Bid.ID,
		"bidder_number": result.Bid.BidderNumber,
		"extended":      result.Extended,
	}).Info("bid accepted")

	s.dispatch(context.WithoutCancel(ctx), result, previousWinner)
	return result, nil
}

// dispatch runs after commit; failures are logged and never undo the bid
func (s *Service) dispatch(ctx context.Context, r *Result, previousWinner *models.Bid) {
	if s.sink == nil {
		return
	}
	if previousWinner != nil && previousWinner.BidderID != r.Bid.BidderID {
		err := s.sink.NotifyOutbid(ctx, previousWinner.BidderID, notify.OutbidPayload{
			AuctionID:    r.Auction.ID,
			NewAmount:    r.Bid.Amount,
			Currency:     r.Auction.Currency,
			BidderNumber: r.Bid.BidderNumber,
		})
		if err != nil {
			s.logger.WithError(err).WithField("auction_id", r.Auction.ID).Error("failed to send outbid notification")
		}
	}

	err := s.sink.BroadcastNewBid(ctx, notify.NewBidPayload{
		AuctionID:      r.Auction.ID,
		Amount:         r.Bid.Amount,
		Currency:       r.Auction.Currency,
		BidCount:       r.Auction.BidCount,
		BidderNumber:   r.Bid.BidderNumber,
		BidderCountry:  r.Bid.BidderCountry,
		CurrentEndTime: r.Auction.CurrentEndTime,
		Extended:       r.Extended,
		ReserveMet:     r.Auction.ReserveMet,
	})
	if err != nil {
		s.logger.WithError(err).WithField("auction_id", r.Auction.ID).Error("failed to broadcast new bid")
	}
}

// MinimumBid returns the lowest amount the next bid must reach
func (s *Service) MinimumBid(ctx context.Context, auctionID uuid.UUID) (decimal.Decimal, error) {
	auction, err := s.reader.GetAuction(ctx, auctionID)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, apperr.NotFound("Auction not found")
	}
	if err != nil {
		return decimal.Zero, err
	}
	return rules.MinimumNextBid(auction.CurrentBid, auction.StartingPrice, s.incrementRule(auction)), nil
}

// Bids returns the auction's bids in acceptance order
func (s *Service) Bids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	if _, err := s.reader.GetAuction(ctx, auctionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("Auction not found")
		}
		return nil, err
	}
	return s.reader.ListBids(ctx, auctionID)
}

// Auction returns the current auction snapshot
func (s *Service) Auction(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error) {
	auction, err := s.reader.GetAuction(ctx, auctionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("Auction not found")
	}
	return auction, err
}
