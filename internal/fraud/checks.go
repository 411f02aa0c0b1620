package fraud

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/carauction/internal/models"
)

var hundred = decimal.NewFromInt(100)

func (e *Engine) checkShillBidding(ctx context.Context, c *checkContext) (*AlertItem, error) {
	if c.in.UserID != c.listing.SellerID {
		return nil, nil
	}
	return &AlertItem{
		Type:     models.AlertShillBidding,
		Severity: models.SeverityCritical,
		Details:  map[string]any{"listing_id": c.listing.ID.String()},
	}, nil
}

func (e *Engine) checkBidVelocity(ctx context.Context, c *checkContext) (*AlertItem, error) {
	count, err := e.store.CountUserBidsSince(ctx, c.in.UserID, c.now.Add(-time.Hour))
	if err != nil {
		return nil, err
	}
	if count < e.thresholds.VelocityPerHour {
		return nil, nil
	}
	return &AlertItem{
		Type:     models.AlertBidVelocity,
		Severity: models.SeverityHigh,
		Details:  map[string]any{"bids_last_hour": count, "threshold": e.thresholds.VelocityPerHour},
	}, nil
}

func (e *Engine) checkRapidBidding(ctx context.Context, c *checkContext) (*AlertItem, error) {
	last, err := e.store.LastUserBidOnAuction(ctx, c.in.UserID, c.in.AuctionID)
	if err != nil || last == nil {
		return nil, err
	}
	since := c.now.Sub(last.CreatedAt)
	if since >= e.thresholds.RapidBidInterval {
		return nil, nil
	}
	return &AlertItem{
		Type:     models.AlertRapidBidding,
		Severity: models.SeverityMedium,
		Details: map[string]any{
			"seconds_since_last_bid": since.Seconds(),
			"threshold_seconds":      e.thresholds.RapidBidInterval.Seconds(),
		},
	}, nil
}

func (e *Engine) checkSellerIPMatch(ctx context.Context, c *checkContext) (*AlertItem, error) {
	if c.in.IPAddress == nil || *c.in.IPAddress == "" {
		return nil, nil
	}
	ips, err := e.store.UserBidIPsSince(ctx, c.listing.SellerID, c.now.Add(-e.thresholds.SellerIPLookback))
	if err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if ip == *c.in.IPAddress {
			return &AlertItem{
				Type:     models.AlertSellerIPMatch,
				Severity: models.SeverityHigh,
				Details:  map[string]any{"ip_address": ip, "seller_id": c.listing.SellerID.String()},
			}, nil
		}
	}
	return nil, nil
}

func (e *Engine) checkCoordinatedBidding(ctx context.Context, c *checkContext) (*AlertItem, error) {
	if c.in.IPAddress == nil || *c.in.IPAddress == "" {
		return nil, nil
	}
	others, err := e.store.CountOtherBiddersWithIP(ctx, c.in.AuctionID, *c.in.IPAddress, c.in.UserID)
	if err != nil {
		return nil, err
	}
	if others < e.thresholds.CoordinatedIPBidders {
		return nil, nil
	}
	return &AlertItem{
		Type:     models.AlertCoordinatedBidding,
		Severity: models.SeverityHigh,
		Details:  map[string]any{"ip_address": *c.in.IPAddress, "other_bidders": others},
	}, nil
}

func (e *Engine) checkPennyBidding(ctx context.Context, c *checkContext) (*AlertItem, error) {
	if !c.auction.CurrentBid.Valid || !c.auction.CurrentBid.Decimal.IsPositive() {
		return nil, nil
	}
	previous := c.auction.CurrentBid.Decimal
	increment := c.in.BidAmount.Sub(previous)
	if !increment.IsPositive() {
		return nil, nil
	}
	percent := increment.Mul(hundred).Div(previous)
	if !percent.LessThan(e.thresholds.PennyMinPercent) {
		return nil, nil
	}
	return &AlertItem{
		Type:     models.AlertPennyBidding,
		Severity: models.SeverityMedium,
		Details: map[string]any{
			"previous_bid":      previous.String(),
			"increment":         increment.String(),
			"increment_percent": percent.StringFixed(4),
		},
	}, nil
}

func (e *Engine) checkNewAccountHighValue(ctx context.Context, c *checkContext) (*AlertItem, error) {
	age := c.now.Sub(c.user.CreatedAt)
	if age >= e.thresholds.NewAccountAge || !c.in.BidAmount.GreaterThan(e.thresholds.HighValueAmount) {
		return nil, nil
	}
	return &AlertItem{
		Type:     models.AlertNewAccountHighValue,
		Severity: models.SeverityMedium,
		Details: map[string]any{
			"account_age_hours": age.Hours(),
			"bid_amount":        c.in.BidAmount.String(),
		},
	}, nil
}

func (e *Engine) checkLastMinuteSurge(ctx context.Context, c *checkContext) (*AlertItem, error) {
	end := c.auction.CurrentEndTime
	final, err := e.store.CountAuctionBidsBetween(ctx, c.in.AuctionID, end.Add(-time.Minute), end)
	if err != nil {
		return nil, err
	}
	if final <= e.thresholds.SurgeThreshold {
		return nil, nil
	}
	preceding, err := e.store.CountAuctionBidsBetween(ctx, c.in.AuctionID, end.Add(-2*time.Minute), end.Add(-time.Minute))
	if err != nil {
		return nil, err
	}
	if final <= e.thresholds.SurgeMultiplier*preceding {
		return nil, nil
	}
	return &AlertItem{
		Type:     models.AlertLastMinuteSurge,
		Severity: models.SeverityLow,
		Details:  map[string]any{"final_minute_bids": final, "preceding_minute_bids": preceding},
	}, nil
}
