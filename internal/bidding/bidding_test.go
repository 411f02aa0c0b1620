package bidding

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
	"github.com/xtrntr/carauction/internal/sequencer"
	"github.com/xtrntr/carauction/internal/store/memstore"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu      sync.Mutex
	outbid  []uuid.UUID
	newBids []notify.NewBidPayload
}

func (r *recordingSink) NotifyOutbid(ctx context.Context, userID uuid.UUID, p notify.OutbidPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outbid = append(r.outbid, userID)
	return nil
}

func (r *recordingSink) BroadcastNewBid(ctx context.Context, p notify.NewBidPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.newBids = append(r.newBids, p)
	return nil
}

func (r *recordingSink) NotifyWatchersAuctionEnded(ctx context.Context, p notify.AuctionEndedPayload) error {
	return nil
}

type fixture struct {
	st      *memstore.Store
	svc     *Service
	sink    *recordingSink
	seller  uuid.UUID
	auction models.Auction
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newUser(t *testing.T, st *memstore.Store, country string) uuid.UUID {
	t.Helper()
	u := &models.User{Username: uuid.NewString(), Country: &country, CreatedAt: now.AddDate(-1, 0, 0)}
	require.NoError(t, st.CreateUser(context.Background(), u))
	return u.ID
}

// setup seeds a live auction; mutate adjusts it before it is stored
func setup(t *testing.T, mutate func(a *models.Auction)) *fixture {
	t.Helper()
	st := memstore.New()
	seller := newUser(t, st, "DE")
	listing := &models.Listing{SellerID: seller, Title: "2004 BMW M3", Status: models.ListingApproved, StartingPrice: decimal.NewFromInt(1000), Currency: "EUR"}
	require.NoError(t, st.CreateListing(context.Background(), listing))

	auction := models.Auction{
		ID:                          uuid.New(),
		ListingID:                   listing.ID,
		StartingPrice:               decimal.NewFromInt(1000),
		Currency:                    "EUR",
		StartTime:                   now.Add(-24 * time.Hour),
		CurrentEndTime:              now.Add(time.Hour),
		OriginalEndTime:             now.Add(time.Hour),
		Status:                      models.AuctionActive,
		ReserveMet:                  true,
		MaxExtensions:               10,
		AntiSnipingEnabled:          true,
		AntiSnipingWindowMinutes:    2,
		AntiSnipingExtensionMinutes: 2,
		BidIncrement:                decimal.NewFromInt(10),
		NextBidderNumber:            1,
		CreatedAt:                   now.Add(-48 * time.Hour),
	}
	if mutate != nil {
		mutate(&auction)
	}
	st.SeedAuction(auction)

	sink := &recordingSink{}
	svc := NewService(st, st, sequencer.New(), rules.DefaultConfig(), sink, quietLogger())
	svc.SetClock(func() time.Time { return now })
	return &fixture{st: st, svc: svc, sink: sink, seller: seller, auction: auction}
}

func (f *fixture) bid(bidder uuid.UUID, amount string) (*Result, error) {
	return f.svc.PlaceBid(context.Background(), Request{
		AuctionID: f.auction.ID,
		BidderID:  bidder,
		Amount:    decimal.RequireFromString(amount),
	})
}

func TestPlaceBid_FirstBidMustReachStartingPrice(t *testing.T) {
	f := setup(t, nil)
	alice := newUser(t, f.st, "IT")

	_, err := f.bid(alice, "999")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Contains(t, err.Error(), "1000.00")

	res, err := f.bid(alice, "1000")
	require.NoError(t, err)
	assert.True(t, res.Bid.IsWinning)
	assert.Equal(t, 1, res.Bid.BidderNumber)
	require.NotNil(t, res.Bid.BidderCountry)
	assert.Equal(t, "IT", *res.Bid.BidderCountry)
	assert.True(t, res.Auction.CurrentBid.Decimal.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, 1, res.Auction.BidCount)
	assert.False(t, res.Extended)

	stored, err := f.st.GetAuction(context.Background(), f.auction.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.BidCount)
	assert.Equal(t, 2, stored.NextBidderNumber)
}

func TestPlaceBid_MinimumIncrement(t *testing.T) {
	f := setup(t, nil)
	alice := newUser(t, f.st, "IT")
	bob := newUser(t, f.st, "FR")

	_, err := f.bid(alice, "1100")
	require.NoError(t, err)

	_, err = f.bid(bob, "1105")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1111.00 EUR")

	res, err := f.bid(bob, "1111")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Bid.BidderNumber)
	assert.Equal(t, []uuid.UUID{alice}, f.sink.outbid)
	assert.Len(t, f.sink.newBids, 2)

	bids, err := f.svc.Bids(context.Background(), f.auction.ID)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.False(t, bids[0].IsWinning)
	assert.True(t, bids[1].IsWinning)

	minimum, err := f.svc.MinimumBid(context.Background(), f.auction.ID)
	require.NoError(t, err)
	assert.Equal(t, "1122.11", minimum.StringFixed(2))
}

func TestPlaceBid_ReuseBidderNumberAndNoSelfOutbid(t *testing.T) {
	f := setup(t, nil)
	alice := newUser(t, f.st, "IT")

	first, err := f.bid(alice, "1000")
	require.NoError(t, err)
	second, err := f.bid(alice, "1200")
	require.NoError(t, err)

	assert.Equal(t, first.Bid.BidderNumber, second.Bid.BidderNumber)
	assert.Empty(t, f.sink.outbid)
}

func TestPlaceBid_AntiSniping(t *testing.T) {
	tests := []struct {
		name         string
		remaining    time.Duration
		extensions   int
		enabled      bool
		wantExtended bool
	}{
		{"inside window", 90 * time.Second, 0, true, true},
		{"window boundary", 2 * time.Minute, 3, true, true},
		{"outside window", 3 * time.Minute, 0, true, false},
		{"max extensions reached", 30 * time.Second, 10, true, false},
		{"disabled", 30 * time.Second, 0, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, func(a *models.Auction) {
				a.CurrentEndTime = now.Add(tt.remaining)
				a.ExtensionCount = tt.extensions
				a.AntiSnipingEnabled = tt.enabled
			})
			alice := newUser(t, f.st, "IT")

			res, err := f.bid(alice, "1000")
			require.NoError(t, err)
			assert.Equal(t, tt.wantExtended, res.Extended)
			assert.Equal(t, tt.wantExtended, res.Bid.TriggeredExtension)
			if tt.wantExtended {
				assert.Equal(t, now.Add(tt.remaining).Add(2*time.Minute), res.Auction.CurrentEndTime)
				assert.Equal(t, tt.extensions+1, res.Auction.ExtensionCount)
				assert.Equal(t, models.AuctionExtended, res.Auction.Status)
			} else {
				assert.Equal(t, now.Add(tt.remaining), res.Auction.CurrentEndTime)
				assert.Equal(t, tt.extensions, res.Auction.ExtensionCount)
				assert.Equal(t, models.AuctionActive, res.Auction.Status)
			}
		})
	}
}

func TestPlaceBid_ReserveMet(t *testing.T) {
	f := setup(t, func(a *models.Auction) {
		a.ReservePrice = decimal.NewNullDecimal(decimal.NewFromInt(5000))
		a.ReserveMet = false
	})
	alice := newUser(t, f.st, "IT")
	bob := newUser(t, f.st, "FR")

	res, err := f.bid(alice, "1000")
	require.NoError(t, err)
	assert.False(t, res.Auction.ReserveMet)

	res, err = f.bid(bob, "5000")
	require.NoError(t, err)
	assert.True(t, res.Auction.ReserveMet)
}

func TestPlaceBid_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(a *models.Auction)
		seller  bool
		amount  string
		kind    apperr.Kind
		message string
	}{
		{name: "seller self bid", seller: true, amount: "1000", kind: apperr.KindValidation, message: "Sellers cannot bid on their own listings"},
		{name: "sold", mutate: func(a *models.Auction) { a.Status = models.AuctionSold }, amount: "1000", kind: apperr.KindValidation, message: "Auction is not accepting bids"},
		{name: "not started", mutate: func(a *models.Auction) { a.StartTime = now.Add(time.Hour) }, amount: "1000", kind: apperr.KindValidation, message: "Auction has not started yet"},
		{name: "ended", mutate: func(a *models.Auction) { a.CurrentEndTime = now.Add(-time.Second) }, amount: "1000", kind: apperr.KindValidation, message: "This auction has ended"},
		{name: "non-positive amount", amount: "0", kind: apperr.KindValidation, message: "Bid amount must be positive"},
		{name: "sub-cent amount", amount: "1000.004", kind: apperr.KindValidation, message: "Bid amount must have at most two decimal places"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, tt.mutate)
			bidder := newUser(t, f.st, "IT")
			if tt.seller {
				bidder = f.seller
			}
			_, err := f.bid(bidder, tt.amount)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
			assert.Equal(t, tt.message, err.Error())

			bids, err := f.st.ListBids(context.Background(), f.auction.ID)
			require.NoError(t, err)
			assert.Empty(t, bids)
		})
	}

	t.Run("unknown auction", func(t *testing.T) {
		f := setup(t, nil)
		_, err := f.svc.PlaceBid(context.Background(), Request{AuctionID: uuid.New(), BidderID: uuid.New(), Amount: decimal.NewFromInt(1000)})
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})
}

// stalledSink never finishes a delivery until the test ends
type stalledSink struct{ release chan struct{} }

func (s stalledSink) NotifyOutbid(ctx context.Context, userID uuid.UUID, p notify.OutbidPayload) error {
	<-s.release
	return nil
}

func (s stalledSink) BroadcastNewBid(ctx context.Context, p notify.NewBidPayload) error {
	<-s.release
	return nil
}

func (s stalledSink) NotifyWatchersAuctionEnded(ctx context.Context, p notify.AuctionEndedPayload) error {
	<-s.release
	return nil
}

func TestPlaceBid_SlowWatcherDoesNotDelayBid(t *testing.T) {
	f := setup(t, nil)
	stalled := stalledSink{release: make(chan struct{})}
	defer close(stalled.release)
	queue := notify.NewAsync(stalled, 16, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go queue.Run(ctx)

	svc := NewService(f.st, f.st, sequencer.New(), rules.DefaultConfig(), queue, quietLogger())
	svc.SetClock(func() time.Time { return now })
	alice, bob := newUser(t, f.st, "IT"), newUser(t, f.st, "FR")

	done := make(chan error, 2)
	go func() {
		for _, b := range []struct {
			bidder uuid.UUID
			amount int64
		}{{alice, 1000}, {bob, 1100}} {
			_, err := svc.PlaceBid(context.Background(), Request{AuctionID: f.auction.ID, BidderID: b.bidder, Amount: decimal.NewFromInt(b.amount)})
			done <- err
		}
	}()
	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("bid waited on notification delivery")
		}
	}
}

func TestPlaceBid_ConcurrentSameAmount(t *testing.T) {
	f := setup(t, nil)
	const n = 10
	bidders := make([]uuid.UUID, n)
	for i := range bidders {
		bidders[i] = newUser(t, f.st, "NL")
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for _, b := range bidders {
		wg.Add(1)
		go func(bidder uuid.UUID) {
			defer wg.Done()
			if _, err := f.bid(bidder, "1000"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(b)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	bids, err := f.st.ListBids(context.Background(), f.auction.ID)
	require.NoError(t, err)
	assert.Len(t, bids, 1)
}

func TestPlaceBid_ConcurrentInvariants(t *testing.T) {
	f := setup(t, nil)
	const n = 20
	bidders := make([]uuid.UUID, n)
	for i := range bidders {
		bidders[i] = newUser(t, f.st, "NL")
	}

	var wg sync.WaitGroup
	for i, b := range bidders {
		wg.Add(1)
		go func(bidder uuid.UUID, amount int64) {
			defer wg.Done()
			f.svc.PlaceBid(context.Background(), Request{AuctionID: f.auction.ID, BidderID: bidder, Amount: decimal.NewFromInt(amount)})
		}(b, 1000+int64(i)*100)
	}
	wg.Wait()

	auction, err := f.st.GetAuction(context.Background(), f.auction.ID)
	require.NoError(t, err)
	bids, err := f.st.ListBids(context.Background(), f.auction.ID)
	require.NoError(t, err)
	require.NotEmpty(t, bids)

	assert.Equal(t, len(bids), auction.BidCount)
	winning := 0
	max := decimal.Zero
	numbers := make(map[int]uuid.UUID)
	for _, b := range bids {
		if b.IsWinning {
			winning++
			assert.True(t, b.Amount.Equal(auction.CurrentBid.Decimal))
		}
		max = decimal.Max(max, b.Amount)
		if owner, ok := numbers[b.BidderNumber]; ok {
			assert.Equal(t, owner, b.BidderID)
		}
		numbers[b.BidderNumber] = b.BidderID
	}
	assert.Equal(t, 1, winning)
	assert.True(t, max.Equal(auction.CurrentBid.Decimal))
	for i := 1; i <= len(numbers); i++ {
		assert.Contains(t, numbers, i)
	}
	assert.Equal(t, len(numbers)+1, auction.NextBidderNumber)
}
