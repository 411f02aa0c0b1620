package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xtrntr/carauction/internal/models"

	"github.com/jackc/pgx/v5"
)

const bidColumns = `id, auction_id, bidder_id, amount, is_winning, triggered_extension,
	bidder_number, bidder_country, ip_address, user_agent, created_at`

func scanBid(row pgx.Row) (*models.Bid, error) {
	b := &models.Bid{}
	err := row.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &b.IsWinning, &b.TriggeredExtension,
		&b.BidderNumber, &b.BidderCountry, &b.IPAddress, &b.UserAgent, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// optionalBid maps "no rows" to a nil bid
func optionalBid(row pgx.Row, what string) (*models.Bid, error) {
	b, err := scanBid(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", what, err)
	}
	return b, nil
}

func (t *pgTx) WinningBid(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error) {
	return optionalBid(t.tx.QueryRow(ctx,
		"SELECT "+bidColumns+" FROM bids WHERE auction_id = $1 AND is_winning ORDER BY created_at DESC LIMIT 1",
		auctionID), "winning bid")
}

func (t *pgTx) HighestBid(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error) {
	return optionalBid(t.tx.QueryRow(ctx,
		"SELECT "+bidColumns+" FROM bids WHERE auction_id = $1 ORDER BY amount DESC, created_at ASC LIMIT 1",
		auctionID), "highest bid")
}

func (t *pgTx) InsertBid(ctx context.Context, b *models.Bid) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO bids (id, auction_id, bidder_id, amount, is_winning, triggered_extension,
			bidder_number, bidder_country, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		b.ID, b.AuctionID, b.BidderID, b.Amount, b.IsWinning, b.TriggeredExtension,
		b.BidderNumber, b.BidderCountry, b.IPAddress, b.UserAgent, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create bid: %w", err)
	}
	return nil
}

func (t *pgTx) ClearWinning(ctx context.Context, auctionID, keepBidID uuid.UUID) (int64, error) {
	tag, err := t.tx.Exec(ctx,
		"UPDATE bids SET is_winning = FALSE WHERE auction_id = $1 AND is_winning AND id <> $2",
		auctionID, keepBidID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear winning bid: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListBids retrieves all bids of an auction in acceptance order
func (db *DB) ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+bidColumns+" FROM bids WHERE auction_id = $1 ORDER BY created_at ASC",
		auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	defer rows.Close()

	var bids []models.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, *b)
	}
	return bids, rows.Err()
}

// CountUserBidsSince counts bids placed by a user across all auctions since a moment
func (db *DB) CountUserBidsSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := db.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM bids WHERE bidder_id = $1 AND created_at >= $2",
		userID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count user bids: %w", err)
	}
	return n, nil
}

// LastUserBidOnAuction returns the user's most recent bid on the auction, or nil
func (db *DB) LastUserBidOnAuction(ctx context.Context, userID, auctionID uuid.UUID) (*models.Bid, error) {
	return optionalBid(db.Pool.QueryRow(ctx,
		"SELECT "+bidColumns+" FROM bids WHERE bidder_id = $1 AND auction_id = $2 ORDER BY created_at DESC LIMIT 1",
		userID, auctionID), "last user bid")
}

// UserBidIPsSince returns the distinct IP addresses a user has bid from
func (db *DB) UserBidIPsSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]string, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT DISTINCT ip_address FROM bids WHERE bidder_id = $1 AND ip_address IS NOT NULL AND created_at >= $2",
		userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list user bid ips: %w", err)
	}
	defer rows.Close()

	var ips []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, fmt.Errorf("failed to scan ip: %w", err)
		}
		ips = append(ips, ip)
	}
	return ips, rows.Err()
}

// CountOtherBiddersWithIP counts distinct bidders other than excludeUserID
// that bid on the auction from ip
func (db *DB) CountOtherBiddersWithIP(ctx context.Context, auctionID uuid.UUID, ip string, excludeUserID uuid.UUID) (int, error) {
	var n int
	err := db.Pool.QueryRow(ctx,
		"SELECT COUNT(DISTINCT bidder_id) FROM bids WHERE auction_id = $1 AND ip_address = $2 AND bidder_id <> $3",
		auctionID, ip, excludeUserID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count bidders by ip: %w", err)
	}
	return n, nil
}

// CountAuctionBidsBetween counts bids with from < created_at <= to
func (db *DB) CountAuctionBidsBetween(ctx context.Context, auctionID uuid.UUID, from, to time.Time) (int, error) {
	var n int
	err := db.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM bids WHERE auction_id = $1 AND created_at > $2 AND created_at <= $3",
		auctionID, from, to).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count auction bids: %w", err)
	}
	return n, nil
}
