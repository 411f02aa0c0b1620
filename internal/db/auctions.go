package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xtrntr/carauction/internal/models"
	"github.com/xtrntr/carauction/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const auctionColumns = `id, listing_id, starting_price, current_bid, bid_count, currency,
	start_time, current_end_time, original_end_time, status, reserve_price, reserve_met,
	winner_id, final_price, buyer_fee_amount, payment_status, payment_deadline,
	extension_count, max_extensions, anti_sniping_enabled, anti_sniping_window_minutes,
	anti_sniping_extension_minutes, bid_increment, next_bidder_number, ended_at, created_at`

func scanAuction(row pgx.Row) (*models.Auction, error) {
	a := &models.Auction{}
	err := row.Scan(
		&a.ID, &a.ListingID, &a.StartingPrice, &a.CurrentBid, &a.BidCount, &a.Currency,
		&a.StartTime, &a.CurrentEndTime, &a.OriginalEndTime, &a.Status, &a.ReservePrice, &a.ReserveMet,
		&a.WinnerID, &a.FinalPrice, &a.BuyerFeeAmount, &a.PaymentStatus, &a.PaymentDeadline,
		&a.ExtensionCount, &a.MaxExtensions, &a.AntiSnipingEnabled, &a.AntiSnipingWindowMinutes,
		&a.AntiSnipingExtensionMinutes, &a.BidIncrement, &a.NextBidderNumber, &a.EndedAt, &a.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

const listingColumns = `id, seller_id, title, status, starting_price, reserve_price, currency, created_at`

func scanListing(row pgx.Row) (*models.Listing, error) {
	l := &models.Listing{}
	err := row.Scan(&l.ID, &l.SellerID, &l.Title, &l.Status, &l.StartingPrice, &l.ReservePrice, &l.Currency, &l.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return l, nil
}

func getAuction(ctx context.Context, q querier, auctionID uuid.UUID) (*models.Auction, error) {
	a, err := scanAuction(q.QueryRow(ctx, "SELECT "+auctionColumns+" FROM auctions WHERE id = $1", auctionID))
	if err != nil {
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return a, nil
}

func getListing(ctx context.Context, q querier, listingID uuid.UUID) (*models.Listing, error) {
	l, err := scanListing(q.QueryRow(ctx, "SELECT "+listingColumns+" FROM listings WHERE id = $1", listingID))
	if err != nil {
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return l, nil
}

// GetAuction retrieves an auction without locking it
func (db *DB) GetAuction(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error) {
	return getAuction(ctx, db.Pool, auctionID)
}

// GetListing retrieves a listing
func (db *DB) GetListing(ctx context.Context, listingID uuid.UUID) (*models.Listing, error) {
	return getListing(ctx, db.Pool, listingID)
}

// CreateListing inserts a new listing
func (db *DB) CreateListing(ctx context.Context, listing *models.Listing) error {
	if listing.ID == uuid.Nil {
		listing.ID = uuid.New()
	}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO listings (id, seller_id, title, status, starting_price, reserve_price, currency) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at",
		listing.ID, listing.SellerID, listing.Title, listing.Status, listing.StartingPrice, listing.ReservePrice, listing.Currency).Scan(&listing.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create listing: %w", err)
	}
	return nil
}

// ListExpiredAuctions returns auctions still accepting bids whose end time has passed
func (db *DB) ListExpiredAuctions(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id FROM auctions WHERE status IN ('ACTIVE', 'EXTENDED') AND current_end_time < $1 ORDER BY current_end_time ASC",
		now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired auctions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan auction id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// pgTx implements store.Tx on a pgx transaction
type pgTx struct {
	tx pgx.Tx
}

// LockAuction reads the auction row FOR UPDATE; concurrent bidders on the
// same auction wait here until the holder commits.
func (t *pgTx) LockAuction(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error) {
	a, err := scanAuction(t.tx.QueryRow(ctx, "SELECT "+auctionColumns+" FROM auctions WHERE id = $1 FOR UPDATE", auctionID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock auction: %w", err)
	}
	return a, nil
}

func (t *pgTx) LockListing(ctx context.Context, listingID uuid.UUID) (*models.Listing, error) {
	l, err := scanListing(t.tx.QueryRow(ctx, "SELECT "+listingColumns+" FROM listings WHERE id = $1 FOR UPDATE", listingID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock listing: %w", err)
	}
	return l, nil
}

func (t *pgTx) GetListing(ctx context.Context, listingID uuid.UUID) (*models.Listing, error) {
	return getListing(ctx, t.tx, listingID)
}

func (t *pgTx) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return getUser(ctx, t.tx, userID)
}

func (t *pgTx) AuctionExistsForListing(ctx context.Context, listingID uuid.UUID) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM auctions WHERE listing_id = $1)", listingID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check auction existence: %w", err)
	}
	return exists, nil
}

func (t *pgTx) InsertAuction(ctx context.Context, a *models.Auction) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO auctions (id, listing_id, starting_price, current_bid, bid_count, currency,
			start_time, current_end_time, original_end_time, status, reserve_price, reserve_met,
			extension_count, max_extensions, anti_sniping_enabled, anti_sniping_window_minutes,
			anti_sniping_extension_minutes, bid_increment, next_bidder_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING created_at`,
		a.ID, a.ListingID, a.StartingPrice, a.CurrentBid, a.BidCount, a.Currency,
		a.StartTime, a.CurrentEndTime, a.OriginalEndTime, a.Status, a.ReservePrice, a.ReserveMet,
		a.ExtensionCount, a.MaxExtensions, a.AntiSnipingEnabled, a.AntiSnipingWindowMinutes,
		a.AntiSnipingExtensionMinutes, a.BidIncrement, a.NextBidderNumber).Scan(&a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to create auction: %w", store.ErrConflict)
		}
		return fmt.Errorf("failed to create auction: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateAuction(ctx context.Context, a *models.Auction) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE auctions SET
			current_bid = $2, bid_count = $3, current_end_time = $4, status = $5,
			reserve_met = $6, winner_id = $7, final_price = $8, buyer_fee_amount = $9,
			payment_status = $10, payment_deadline = $11, extension_count = $12, ended_at = $13
		WHERE id = $1`,
		a.ID, a.CurrentBid, a.BidCount, a.CurrentEndTime, a.Status,
		a.ReserveMet, a.WinnerID, a.FinalPrice, a.BuyerFeeAmount,
		a.PaymentStatus, a.PaymentDeadline, a.ExtensionCount, a.EndedAt)
	if err != nil {
		return fmt.Errorf("failed to update auction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update auction: %w", store.ErrNotFound)
	}
	return nil
}

func (t *pgTx) UpdateListingStatus(ctx context.Context, listingID uuid.UUID, status models.ListingStatus) error {
	tag, err := t.tx.Exec(ctx, "UPDATE listings SET status = $1 WHERE id = $2", status, listingID)
	if err != nil {
		return fmt.Errorf("failed to update listing status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update listing status: %w", store.ErrNotFound)
	}
	return nil
}

func (t *pgTx) EarliestBidderNumber(ctx context.Context, auctionID, userID uuid.UUID) (int, error) {
	var number int
	err := t.tx.QueryRow(ctx, `
		SELECT bidder_number FROM bids
		WHERE auction_id = $1 AND bidder_id = $2 AND bidder_number > 0
		ORDER BY created_at ASC LIMIT 1`,
		auctionID, userID).Scan(&number)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up bidder number: %w", err)
	}
	return number, nil
}

// IncrementBidderCounter is a single read-modify-write on the counter column
func (t *pgTx) IncrementBidderCounter(ctx context.Context, auctionID uuid.UUID) (int, error) {
	var number int
	err := t.tx.QueryRow(ctx,
		"UPDATE auctions SET next_bidder_number = next_bidder_number + 1 WHERE id = $1 RETURNING next_bidder_number - 1",
		auctionID).Scan(&number)
	if err != nil {
		return 0, fmt.Errorf("failed to increment bidder counter: %w", notFound(err))
	}
	return number, nil
}
