// Package fraud scores bid attempts with independent heuristics and decides
// whether the attempt may proceed to bid placement.
package fraud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xtrntr/carauction/internal/apperr"
	"github.com/xtrntr/carauction/internal/models"
	"github.com/xtrntr/carauction/internal/store"
)

// Thresholds configures every heuristic
type Thresholds struct {
	VelocityPerHour      int
	RapidBidInterval     time.Duration
	CoordinatedIPBidders int
	PennyMinPercent      decimal.Decimal
	NewAccountAge        time.Duration
	HighValueAmount      decimal.Decimal
	SurgeThreshold       int
	SurgeMultiplier      int
	SellerIPLookback     time.Duration
}

// DefaultThresholds returns the production defaults
func DefaultThresholds() Thresholds {
	return Thresholds{
		VelocityPerHour:      20,
		RapidBidInterval:     5 * time.Second,
		CoordinatedIPBidders: 2,
		PennyMinPercent:      decimal.NewFromInt(1),
		NewAccountAge:        7 * 24 * time.Hour,
		HighValueAmount:      decimal.NewFromInt(5000),
		SurgeThreshold:       10,
		SurgeMultiplier:      3,
		SellerIPLookback:     30 * 24 * time.Hour,
	}
}

// Store is the data the engine reads and writes
type Store interface {
	store.BidSignals
	store.AlertStore
}

// CheckInput describes an intended bid
type CheckInput struct {
	UserID    uuid.UUID
	AuctionID uuid.UUID
	BidAmount decimal.Decimal
	IPAddress *string
	UserAgent *string
}

// AlertItem is one triggered heuristic
type AlertItem struct {
	Type     models.AlertType `json:"type"`
	Severity models.Severity  `json:"severity"`
	Details  map[string]any   `json:"details"`
	Reason   string           `json:"reason"`
}

var reasons = map[models.AlertType]string{
	models.AlertShillBidding:        "Sellers cannot bid on their own listings",
	models.AlertBidVelocity:         "Too many bids in the last hour",
	models.AlertRapidBidding:        "Bids on this auction are too close together",
	models.AlertSellerIPMatch:       "Bid placed from an address the seller has used",
	models.AlertCoordinatedBidding:  "Several bidders are bidding from the same address",
	models.AlertPennyBidding:        "Bid increment is below the minimum percentage",
	models.AlertNewAccountHighValue: "New accounts cannot place high-value bids",
	models.AlertLastMinuteSurge:     "Unusual bidding surge in the final minute",
}

// Reason returns the client-facing explanation for an alert type
func Reason(t models.AlertType) string {
	if r, ok := reasons[t]; ok {
		return r
	}
	return string(t)
}

// Result is the outcome of a fraud evaluation
type Result struct {
	Passed bool        `json:"passed"`
	Alerts []AlertItem `json:"alerts"`
}

// Engine runs the heuristics
type Engine struct {
	store      Store
	thresholds Thresholds
	users      *lru.Cache
	logger     *logrus.Logger
	now        func() time.Time
}

// NewEngine creates an engine; cacheSize bounds the user profile cache
func NewEngine(st Store, thresholds Thresholds, cacheSize int, logger *logrus.Logger) (*Engine, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	users, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create user cache: %w", err)
	}
	return &Engine{
		store:      st,
		thresholds: thresholds,
		users:      users,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// SetClock overrides the time source
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Passed is the blocking policy: no CRITICAL alert and fewer than two HIGH alerts
func Passed(alerts []AlertItem) bool {
	high := 0
	for _, a := range alerts {
		switch a.Severity {
		case models.SeverityCritical:
			return false
		case models.SeverityHigh:
			high++
		}
	}
	return high < 2
}

// checkContext is shared by all heuristics of one evaluation
type checkContext struct {
	in      CheckInput
	auction *models.Auction
	listing *models.Listing
	user    *models.User
	now     time.Time
}

type check func(ctx context.Context, c *checkContext) (*AlertItem, error)

// RunBidFraudChecks evaluates every heuristic, persists each triggered alert
// and applies the blocking policy.
func (e *Engine) RunBidFraudChecks(ctx context.Context, in CheckInput) (*Result, error) {
	auction, err := e.store.GetAuction(ctx, in.AuctionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("Auction not found")
	}
	if err != nil {
		return nil, err
	}
	listing, err := e.store.GetListing(ctx, auction.ListingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("Listing not found")
	}
	if err != nil {
		return nil, err
	}
	user, err := e.user(ctx, in.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("User not found")
	}
	if err != nil {
		return nil, err
	}

	c := &checkContext{in: in, auction: auction, listing: listing, user: user, now: e.now()}
	checks := []check{
		e.checkShillBidding,
		e.checkBidVelocity,
		e.checkRapidBidding,
		e.checkSellerIPMatch,
		e.checkCoordinatedBidding,
		e.checkPennyBidding,
		e.checkNewAccountHighValue,
		e.checkLastMinuteSurge,
	}

	result := &Result{Alerts: []AlertItem{}}
	for _, run := range checks {
		alert, err := run(ctx, c)
		if err != nil {
			return nil, err
		}
		if alert != nil {
			alert.Reason = Reason(alert.Type)
			result.Alerts = append(result.Alerts, *alert)
		}
	}
	result.Passed = Passed(result.Alerts)

	if err := e.persist(ctx, c, result.Alerts); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) user(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	if v, ok := e.users.Get(userID); ok {
		return v.(*models.User), nil
	}
	u, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	e.users.Add(userID, u)
	return u, nil
}

func (e *Engine) persist(ctx context.Context, c *checkContext, items []AlertItem) error {
	if len(items) == 0 {
		return nil
	}
	alerts := make([]models.FraudAlert, 0, len(items))
	for _, item := range items {
		alerts = append(alerts, models.FraudAlert{
			ID:        uuid.New(),
			UserID:    uuid.NullUUID{UUID: c.in.UserID, Valid: true},
			AuctionID: uuid.NullUUID{UUID: c.in.AuctionID, Valid: true},
			AlertType: item.Type,
			Severity:  item.Severity,
			Details:   item.Details,
			Status:    models.AlertOpen,
			CreatedAt: c.now,
		})
		e.logger.WithFields(logrus.Fields{
			"alert_type": item.Type,
			"severity":   item.Severity,
			"user_id":    c.in.UserID,
			"auction_id": c.in.AuctionID,
		}).Warn("fraud alert raised")
	}
	if err := e.store.CreateFraudAlerts(ctx, alerts); err != nil {
		return fmt.Errorf("failed to persist fraud alerts: %w", err)
	}
	return nil
}
