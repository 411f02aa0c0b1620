// Package memstore is an in-memory store.Store. Transactions hold a
// per-auction lock and buffer their writes until commit, so concurrent bids
// on one auction serialize while different auctions proceed in parallel.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xtrntr/carauction/internal/models"
	"github.com/xtrntr/carauction/internal/store"
)

// Store keeps all rows in maps guarded by mu
type Store struct {
	mu       sync.RWMutex
	users    map[uuid.UUID]models.User
	listings map[uuid.UUID]models.Listing
	auctions map[uuid.UUID]models.Auction
	bids     []models.Bid
	alerts   []models.FraudAlert
	deposits []models.Deposit

	locksMu sync.Mutex
	locks   map[uuid.UUID]chan struct{}
}

var _ store.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		users:    make(map[uuid.UUID]models.User),
		listings: make(map[uuid.UUID]models.Listing),
		auctions: make(map[uuid.UUID]models.Auction),
		locks:    make(map[uuid.UUID]chan struct{}),
	}
}

func (s *Store) lockFor(id uuid.UUID) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	ch, ok := s.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[id] = ch
	}
	return ch
}

// WithTx runs fn against a buffered transaction and applies its writes on success
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	t := &tx{
		s:        s,
		held:     make(map[uuid.UUID]chan struct{}),
		auctions: make(map[uuid.UUID]*models.Auction),
		inserted: make(map[uuid.UUID]bool),
		listings: make(map[uuid.UUID]models.ListingStatus),
	}
	defer t.release()

	if err := fn(ctx, t); err != nil {
		return err
	}
	return t.commit()
}

// SeedAuction stores an auction directly, bypassing lifecycle rules
func (s *Store) SeedAuction(auction models.Auction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auctions[auction.ID] = auction
}

// SeedBid stores a bid directly, bypassing the bid protocol
func (s *Store) SeedBid(bid models.Bid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bids = append(s.bids, bid)
}

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == user.Username {
			return store.ErrConflict
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	s.users[user.ID] = *user
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateListing(ctx context.Context, listing *models.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if listing.ID == uuid.Nil {
		listing.ID = uuid.New()
	}
	if listing.CreatedAt.IsZero() {
		listing.CreatedAt = time.Now()
	}
	s.listings[listing.ID] = *listing
	return nil
}

func (s *Store) GetListing(ctx context.Context, listingID uuid.UUID) (*models.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.listings[listingID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &l, nil
}

func (s *Store) GetAuction(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.auctions[auctionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (s *Store) ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var bids []models.Bid
	for _, b := range s.bids {
		if b.AuctionID == auctionID {
			bids = append(bids, b)
		}
	}
	sort.SliceStable(bids, func(i, j int) bool {
		return bids[i].CreatedAt.Before(bids[j].CreatedAt)
	})
	return bids, nil
}

func (s *Store) ListExpiredAuctions(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []uuid.UUID
	for id, a := range s.auctions {
		if a.Status.AcceptsBids() && a.CurrentEndTime.Before(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *Store) CountUserBidsSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, b := range s.bids {
		if b.BidderID == userID && !b.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *Store) LastUserBidOnAuction(ctx context.Context, userID, auctionID uuid.UUID) (*models.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last *models.Bid
	for i := range s.bids {
		b := s.bids[i]
		if b.BidderID == userID && b.AuctionID == auctionID && (last == nil || b.CreatedAt.After(last.CreatedAt)) {
			last = &b
		}
	}
	return last, nil
}

func (s *Store) UserBidIPsSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var ips []string
	for _, b := range s.bids {
		if b.BidderID != userID || b.IPAddress == nil || b.CreatedAt.Before(since) {
			continue
		}
		if !seen[*b.IPAddress] {
			seen[*b.IPAddress] = true
			ips = append(ips, *b.IPAddress)
		}
	}
	return ips, nil
}

func (s *Store) CountOtherBiddersWithIP(ctx context.Context, auctionID uuid.UUID, ip string, excludeUserID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bidders := make(map[uuid.UUID]bool)
	for _, b := range s.bids {
		if b.AuctionID == auctionID && b.IPAddress != nil && *b.IPAddress == ip && b.BidderID != excludeUserID {
			bidders[b.BidderID] = true
		}
	}
	return len(bidders), nil
}

func (s *Store) CountAuctionBidsBetween(ctx context.Context, auctionID uuid.UUID, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, b := range s.bids {
		if b.AuctionID == auctionID && b.CreatedAt.After(from) && !b.CreatedAt.After(to) {
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateDeposit(ctx context.Context, deposit *models.Deposit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if deposit.ID == uuid.Nil {
		deposit.ID = uuid.New()
	}
	s.deposits = append(s.deposits, *deposit)
	return nil
}

func (s *Store) HasHeldDeposit(ctx context.Context, userID, auctionID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.deposits {
		if d.UserID == userID && d.AuctionID == auctionID && d.Status == models.DepositHeld {
			return true, nil
		}
	}
	return false, nil
}
