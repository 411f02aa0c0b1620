package memstore

import (
	"context"

	"github.com/google/uuid"
	"github.com/xtrntr/carauction/internal/models"
	"github.com/xtrntr/carauction/internal/store"
)

type clearOp struct {
	auctionID uuid.UUID
	keep      uuid.UUID
}

// tx buffers writes; shared state is only touched in commit
type tx struct {
	s        *Store
	held     map[uuid.UUID]chan struct{}
	auctions map[uuid.UUID]*models.Auction
	inserted map[uuid.UUID]bool
	listings map[uuid.UUID]models.ListingStatus
	newBids  []models.Bid
	clears   []clearOp
}

func (t *tx) lock(ctx context.Context, id uuid.UUID) error {
	if _, ok := t.held[id]; ok {
		return nil
	}
	ch := t.s.lockFor(id)
	select {
	case ch <- struct{}{}:
		t.held[id] = ch
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *tx) release() {
	for id, ch := range t.held {
		<-ch
		delete(t.held, id)
	}
}

// view returns the transaction's working copy of a locked auction
func (t *tx) view(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error) {
	if a, ok := t.auctions[auctionID]; ok {
		return a, nil
	}
	if err := t.lock(ctx, auctionID); err != nil {
		return nil, err
	}
	t.s.mu.RLock()
	a, ok := t.s.auctions[auctionID]
	t.s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	t.auctions[auctionID] = &a
	return &a, nil
}

func (t *tx) LockAuction(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error) {
	a, err := t.view(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	out := *a
	return &out, nil
}

func (t *tx) LockListing(ctx context.Context, listingID uuid.UUID) (*models.Listing, error) {
	if err := t.lock(ctx, listingID); err != nil {
		return nil, err
	}
	return t.GetListing(ctx, listingID)
}

func (t *tx) GetListing(ctx context.Context, listingID uuid.UUID) (*models.Listing, error) {
	l, err := t.s.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if status, ok := t.listings[listingID]; ok {
		l.Status = status
	}
	return l, nil
}

func (t *tx) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return t.s.GetUser(ctx, userID)
}

func (t *tx) AuctionExistsForListing(ctx context.Context, listingID uuid.UUID) (bool, error) {
	for _, a := range t.auctions {
		if a.ListingID == listingID {
			return true, nil
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for _, a := range t.s.auctions {
		if a.ListingID == listingID {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertAuction(ctx context.Context, auction *models.Auction) error {
	if auction.ID == uuid.Nil {
		auction.ID = uuid.New()
	}
	if err := t.lock(ctx, auction.ID); err != nil {
		return err
	}
	a := *auction
	t.auctions[a.ID] = &a
	t.inserted[a.ID] = true
	return nil
}

func (t *tx) UpdateAuction(ctx context.Context, auction *models.Auction) error {
	current, err := t.view(ctx, auction.ID)
	if err != nil {
		return err
	}
	counter := current.NextBidderNumber
	*current = *auction
	current.NextBidderNumber = counter
	return nil
}

func (t *tx) UpdateListingStatus(ctx context.Context, listingID uuid.UUID, status models.ListingStatus) error {
	if _, err := t.s.GetListing(ctx, listingID); err != nil {
		return err
	}
	t.listings[listingID] = status
	return nil
}

func (t *tx) IncrementBidderCounter(ctx context.Context, auctionID uuid.UUID) (int, error) {
	a, err := t.view(ctx, auctionID)
	if err != nil {
		return 0, err
	}
	n := a.NextBidderNumber
	a.NextBidderNumber++
	return n, nil
}

// bidsFor merges committed bids with this transaction's pending writes
func (t *tx) bidsFor(auctionID uuid.UUID) []models.Bid {
	t.s.mu.RLock()
	var bids []models.Bid
	for _, b := range t.s.bids {
		if b.AuctionID == auctionID {
			bids = append(bids, b)
		}
	}
	t.s.mu.RUnlock()

	for i := range bids {
		for _, op := range t.clears {
			if op.auctionID == auctionID && bids[i].ID != op.keep {
				bids[i].IsWinning = false
			}
		}
	}
	for _, b := range t.newBids {
		if b.AuctionID == auctionID {
			bids = append(bids, b)
		}
	}
	return bids
}

func (t *tx) EarliestBidderNumber(ctx context.Context, auctionID, userID uuid.UUID) (int, error) {
	var earliest *models.Bid
	for _, b := range t.bidsFor(auctionID) {
		if b.BidderID != userID || b.BidderNumber <= 0 {
			continue
		}
		if earliest == nil || b.CreatedAt.Before(earliest.CreatedAt) {
			b := b
			earliest = &b
		}
	}
	if earliest == nil {
		return 0, nil
	}
	return earliest.BidderNumber, nil
}

func (t *tx) WinningBid(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error) {
	for _, b := range t.bidsFor(auctionID) {
		if b.IsWinning {
			return &b, nil
		}
	}
	return nil, nil
}

func (t *tx) HighestBid(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error) {
	var top *models.Bid
	for _, b := range t.bidsFor(auctionID) {
		if top == nil || b.Amount.GreaterThan(top.Amount) ||
			(b.Amount.Equal(top.Amount) && b.CreatedAt.Before(top.CreatedAt)) {
			b := b
			top = &b
		}
	}
	return top, nil
}

func (t *tx) InsertBid(ctx context.Context, bid *models.Bid) error {
	if bid.ID == uuid.Nil {
		bid.ID = uuid.New()
	}
	t.newBids = append(t.newBids, *bid)
	return nil
}

func (t *tx) ClearWinning(ctx context.Context, auctionID, keepBidID uuid.UUID) (int64, error) {
	var n int64
	for _, b := range t.bidsFor(auctionID) {
		if b.IsWinning && b.ID != keepBidID {
			n++
		}
	}
	for i := range t.newBids {
		if t.newBids[i].AuctionID == auctionID && t.newBids[i].ID != keepBidID {
			t.newBids[i].IsWinning = false
		}
	}
	t.clears = append(t.clears, clearOp{auctionID: auctionID, keep: keepBidID})
	return n, nil
}

func (t *tx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range t.inserted {
		listingID := t.auctions[id].ListingID
		for _, a := range s.auctions {
			if a.ListingID == listingID {
				return store.ErrConflict
			}
		}
	}

	for id, a := range t.auctions {
		s.auctions[id] = *a
	}
	for id, status := range t.listings {
		l := s.listings[id]
		l.Status = status
		s.listings[id] = l
	}
	for _, op := range t.clears {
		for i := range s.bids {
			if s.bids[i].AuctionID == op.auctionID && s.bids[i].ID != op.keep {
				s.bids[i].IsWinning = false
			}
		}
	}
	s.bids = append(s.bids, t.newBids...)
	return nil
}
