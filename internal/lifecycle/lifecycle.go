// Package lifecycle creates auctions from approved listings and terminates
// them, settling the winner, fee and payment deadline.
package lifecycle

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
	"github.com/xtrntr/carauction/internal/store"
)

// Store is what the manager needs beyond transactions
type Store interface {
	store.TxRunner
	ListExpiredAuctions(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// Manager runs auction creation and termination
type Manager struct {
	store  Store
	rules  rules.Config
	sink   notify.Sink
	logger *logrus.Logger
	now    func() time.Time
}

// NewManager creates a lifecycle manager
func NewManager(st Store, cfg rules.Config, sink notify.Sink, logger *logrus.Logger) *Manager {
	return &Manager{store: st, rules: cfg, sink: sink, logger: logger, now: time.Now}
}

// SetClock overrides the time source
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// CreateAuction opens an auction for an approved listing
func (m *Manager) CreateAuction(ctx context.Context, listingID uuid.UUID, startTime time.Time, durationDays int) (*models.Auction, error) {
	if durationDays <= 0 {
		return nil, apperr.Validation("Auction duration must be at least one day")
	}

	var created *models.Auction
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		created = nil

		listing, err := tx.LockListing(ctx, listingID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("Listing not found")
		}
		if err != nil {
			return err
		}
		if listing.Status != models.ListingApproved {
			return apperr.Validation("Listing must be approved before it can be auctioned (status %s)", listing.Status)
		}
		exists, err := tx.AuctionExistsForListing(ctx, listingID)
		if err != nil {
			return err
		}
		if exists {
			return apperr.Validation("An auction already exists for this listing")
		}

		currency := listing.Currency
		if currency == "" {
			currency = m.rules.DefaultCurrency
		}
		end := startTime.AddDate(0, 0, durationDays)
		auction := &models.Auction{
			ID:                          uuid.New(),
			ListingID:                   listing.ID,
			StartingPrice:               listing.StartingPrice,
			Currency:                    currency,
			StartTime:                   startTime,
			CurrentEndTime:              end,
			OriginalEndTime:             end,
			Status:                      models.AuctionActive,
			ReservePrice:                listing.ReservePrice,
			ReserveMet:                  !listing.ReservePrice.Valid,
			MaxExtensions:               m.rules.MaxExtensions,
			AntiSnipingEnabled:          true,
			AntiSnipingWindowMinutes:    m.rules.AntiSnipingWindowMinutes,
			AntiSnipingExtensionMinutes: m.rules.AntiSnipingExtensionMinutes,
			BidIncrement:                m.rules.Increment.Absolute,
			NextBidderNumber:            1,
			CreatedAt:                   m.now(),
		}
		if err := tx.InsertAuction(ctx, auction); err != nil {
			return err
		}
		created = auction
		return nil
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, apperr.Conflict(err, "An auction already exists for this listing")
	}
	if err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"auction_id": created.ID,
		"listing_id": listingID,
		"end_time":   created.CurrentEndTime,
	}).Info("auction created")
	return created, nil
}

// EndAuction terminates a live auction as SOLD or NO_SALE
func (m *Manager) EndAuction(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error) {
	var ended *models.Auction
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ended = nil

		auction, err := tx.LockAuction(ctx, auctionID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("Auction not found")
		}
		if err != nil {
			return err
		}
		if !auction.Status.AcceptsBids() {
			return apperr.Validation("Auction cannot be ended in current status %s", auction.Status)
		}

		top, err := tx.HighestBid(ctx, auction.ID)
		if err != nil {
			return err
		}

		endedAt := m.now()
		if auction.CurrentEndTime.Before(endedAt) {
			endedAt = auction.CurrentEndTime
		}
		auction.EndedAt = &endedAt

		listingStatus := models.ListingExpired
		reserveMissed := auction.ReservePrice.Valid && auction.CurrentBid.Decimal.LessThan(auction.ReservePrice.Decimal)
		if top == nil || !auction.CurrentBid.Valid || reserveMissed {
			auction.Status = models.AuctionNoSale
		} else {
			final := auction.CurrentBid.Decimal
			deadline := rules.PaymentDeadline(endedAt, m.rules.PaymentDueBusinessDays)
			auction.Status = models.AuctionSold
			auction.WinnerID = uuid.NullUUID{UUID: top.BidderID, Valid: true}
			auction.FinalPrice = decimal.NewNullDecimal(final)
			auction.BuyerFeeAmount = decimal.NewNullDecimal(rules.BuyerFee(final, m.rules.BuyerFeePercent))
			auction.PaymentStatus = models.PaymentUnpaid
			auction.PaymentDeadline = &deadline
			listingStatus = models.ListingSold
		}

		if err := tx.UpdateAuction(ctx, auction); err != nil {
			return err
		}
		if err := tx.UpdateListingStatus(ctx, auction.ListingID, listingStatus); err != nil {
			return err
		}
		ended = auction
		return nil
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, apperr.Conflict(err, "Auction is busy, please retry")
	}
	if err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"auction_id":  ended.ID,
		"status":      ended.Status,
		"final_price": ended.FinalPrice.Decimal.String(),
	}).Info("auction ended")

	if m.sink != nil {
		err := m.sink.NotifyWatchersAuctionEnded(context.WithoutCancel(ctx), notify.AuctionEndedPayload{
			AuctionID:  ended.ID,
			Status:     ended.Status,
			FinalPrice: ended.FinalPrice,
			Currency:   ended.Currency,
			EndedAt:    *ended.EndedAt,
		})
		if err != nil {
			m.logger.WithError(err).WithField("auction_id", ended.ID).Error("failed to notify auction watchers")
		}
	}
	return ended, nil
}

// EndExpired ends every live auction whose end time has passed. Failures are
// logged per auction and do not stop the sweep.
func (m *Manager) EndExpired(ctx context.Context) (int, error) {
	ids, err := m.store.ListExpiredAuctions(ctx, m.now())
	if err != nil {
		return 0, err
	}
	ended := 0
	for _, id := range ids {
		if _, err := m.EndAuction(ctx, id); err != nil {
			if ctx.Err() != nil {
				return ended, ctx.Err()
			}
			m.logger.WithError(err).WithField("auction_id", id).Error("failed to end expired auction")
			continue
		}
		ended++
	}
	return ended, nil
}
