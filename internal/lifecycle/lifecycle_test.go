package lifecycle

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/carauction/internal/apperr"
	"github.com/xtrntr/carauction/internal/models"
	"github.com/xtrntr/carauction/internal/notify"
	"github.com/xtrntr/carauction/internal/rules"
	"github.com/xtrntr/carauction/internal/store/memstore"
)

// Tuesday
var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type endedSink struct {
	notify.LogSink
	mu    sync.Mutex
	ended []notify.AuctionEndedPayload
}

func (s *endedSink) NotifyWatchersAuctionEnded(ctx context.Context, p notify.AuctionEndedPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = append(s.ended, p)
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func setup(t *testing.T) (*memstore.Store, *Manager, *endedSink) {
	t.Helper()
	st := memstore.New()
	logger := quietLogger()
	sink := &endedSink{LogSink: notify.LogSink{Logger: logger}}
	m := NewManager(st, rules.DefaultConfig(), sink, logger)
	m.SetClock(func() time.Time { return now })
	return st, m, sink
}

func newListing(t *testing.T, st *memstore.Store, status models.ListingStatus, reserve decimal.NullDecimal) *models.Listing {
	t.Helper()
	seller := &models.User{Username: uuid.NewString()}
	require.NoError(t, st.CreateUser(context.Background(), seller))
	l := &models.Listing{
		SellerID:      seller.ID,
		Title:         "1991 Mercedes 190E",
		Status:        status,
		StartingPrice: decimal.NewFromInt(1000),
		ReservePrice:  reserve,
		Currency:      "EUR",
	}
	require.NoError(t, st.CreateListing(context.Background(), l))
	return l
}

func TestCreateAuction(t *testing.T) {
	st, m, _ := setup(t)
	ctx := context.Background()
	listing := newListing(t, st, models.ListingApproved, decimal.NullDecimal{})

	a, err := m.CreateAuction(ctx, listing.ID, now, 7)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionActive, a.Status)
	assert.Equal(t, now.AddDate(0, 0, 7), a.CurrentEndTime)
	assert.Equal(t, a.CurrentEndTime, a.OriginalEndTime)
	assert.True(t, a.StartingPrice.Equal(decimal.NewFromInt(1000)))
	assert.True(t, a.ReserveMet)
	assert.False(t, a.CurrentBid.Valid)
	assert.Equal(t, 10, a.MaxExtensions)
	assert.Equal(t, 2, a.AntiSnipingWindowMinutes)
	assert.True(t, a.BidIncrement.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 1, a.NextBidderNumber)

	stored, err := st.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ListingID, stored.ListingID)

	_, err = m.CreateAuction(ctx, listing.ID, now, 7)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCreateAuction_Rejections(t *testing.T) {
	st, m, _ := setup(t)
	ctx := context.Background()
	pending := newListing(t, st, models.ListingPending, decimal.NullDecimal{})
	approved := newListing(t, st, models.ListingApproved, decimal.NullDecimal{})

	tests := []struct {
		name      string
		listingID uuid.UUID
		days      int
		kind      apperr.Kind
	}{
		{"not approved", pending.ID, 7, apperr.KindValidation},
		{"missing listing", uuid.New(), 7, apperr.KindNotFound},
		{"zero duration", approved.ID, 0, apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.CreateAuction(ctx, tt.listingID, now, tt.days)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}
}

func TestCreateAuction_ConcurrentOnlyOne(t *testing.T) {
	st, m, _ := setup(t)
	listing := newListing(t, st, models.ListingApproved, decimal.NullDecimal{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.CreateAuction(context.Background(), listing.ID, now, 3); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
}

func seedLive(t *testing.T, st *memstore.Store, listing *models.Listing, end time.Time) models.Auction {
	t.Helper()
	a := models.Auction{
		ID:              uuid.New(),
		ListingID:       listing.ID,
		StartingPrice:   listing.StartingPrice,
		Currency:        "EUR",
		StartTime:       end.Add(-7 * 24 * time.Hour),
		CurrentEndTime:  end,
		OriginalEndTime: end,
		Status:          models.AuctionActive,
		ReservePrice:    listing.ReservePrice,
		ReserveMet:      !listing.ReservePrice.Valid,
		MaxExtensions:   10,
	}
	st.SeedAuction(a)
	return a
}

func placed(st *memstore.Store, a *models.Auction, bidder uuid.UUID, amount int64, winning bool) {
	st.SeedBid(models.Bid{ID: uuid.New(), AuctionID: a.ID, BidderID: bidder, Amount: decimal.NewFromInt(amount), IsWinning: winning, BidderNumber: 1, CreatedAt: now.Add(-time.Hour)})
	a.CurrentBid = decimal.NewNullDecimal(decimal.NewFromInt(amount))
	a.BidCount++
	st.SeedAuction(*a)
}

func TestEndAuction_NoBids(t *testing.T) {
	st, m, sink := setup(t)
	ctx := context.Background()
	listing := newListing(t, st, models.ListingApproved, decimal.NullDecimal{})
	a := seedLive(t, st, listing, now.Add(-time.Minute))

	ended, err := m.EndAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionNoSale, ended.Status)
	assert.False(t, ended.WinnerID.Valid)
	assert.False(t, ended.FinalPrice.Valid)
	require.NotNil(t, ended.EndedAt)
	assert.Equal(t, now.Add(-time.Minute), *ended.EndedAt)

	l, err := st.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingExpired, l.Status)
	require.Len(t, sink.ended, 1)
	assert.Equal(t, models.AuctionNoSale, sink.ended[0].Status)
}

func TestEndAuction_Sold(t *testing.T) {
	st, m, _ := setup(t)
	ctx := context.Background()
	listing := newListing(t, st, models.ListingApproved, decimal.NullDecimal{})
	a := seedLive(t, st, listing, now)
	winner := uuid.New()
	placed(st, &a, uuid.New(), 9000, false)
	placed(st, &a, winner, 10000, true)

	ended, err := m.EndAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionSold, ended.Status)
	assert.Equal(t, winner, ended.WinnerID.UUID)
	assert.Equal(t, "10000.00", ended.FinalPrice.Decimal.StringFixed(2))
	assert.Equal(t, "500.00", ended.BuyerFeeAmount.Decimal.StringFixed(2))
	assert.Equal(t, models.PaymentUnpaid, ended.PaymentStatus)
	require.NotNil(t, ended.PaymentDeadline)
	// Tuesday plus five business days
	assert.Equal(t, time.Date(2026, 3, 17, 12, 0, 0, 0, time.UTC), *ended.PaymentDeadline)

	l, err := st.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingSold, l.Status)

	_, err = m.EndAuction(ctx, a.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Contains(t, err.Error(), "cannot be ended in current status")
}

func TestEndAuction_ReserveNotMet(t *testing.T) {
	st, m, _ := setup(t)
	listing := newListing(t, st, models.ListingApproved, decimal.NewNullDecimal(decimal.NewFromInt(15000)))
	a := seedLive(t, st, listing, now)
	placed(st, &a, uuid.New(), 12000, true)

	ended, err := m.EndAuction(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionNoSale, ended.Status)
	assert.False(t, ended.WinnerID.Valid)
}

func TestEndExpired(t *testing.T) {
	st, m, sink := setup(t)
	expired := seedLive(t, st, newListing(t, st, models.ListingApproved, decimal.NullDecimal{}), now.Add(-time.Minute))
	live := seedLive(t, st, newListing(t, st, models.ListingApproved, decimal.NullDecimal{}), now.Add(time.Hour))

	n, err := m.EndExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := st.GetAuction(context.Background(), expired.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionNoSale, got.Status)
	got, err = st.GetAuction(context.Background(), live.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionActive, got.Status)
	assert.Len(t, sink.ended, 1)
}

func TestSweeper_StopsOnCancel(t *testing.T) {
	st, m, _ := setup(t)
	expired := seedLive(t, st, newListing(t, st, models.ListingApproved, decimal.NullDecimal{}), now.Add(-time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewSweeper(m, 10*time.Millisecond).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		a, err := st.GetAuction(context.Background(), expired.ID)
		return err == nil && a.Status == models.AuctionNoSale
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
