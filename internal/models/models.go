package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User represents a registered bidder or seller
type User struct {
	ID           uuid.UUID
	Username     string
	PasswordHash string
	Country      *string
	IsAdmin      bool
	CreatedAt    time.Time // Used for account-age fraud signals
}

// ListingStatus is the moderation/sale state of a listing
type ListingStatus string

const (
	ListingPending  ListingStatus = "PENDING"
	ListingApproved ListingStatus = "APPROVED"
	ListingRejected ListingStatus = "REJECTED"
	ListingSold     ListingStatus = "SOLD"
	ListingExpired  ListingStatus = "EXPIRED"
)

// Listing represents a car submitted for sale
type Listing struct {
	ID            uuid.UUID           `json:"id"`
	SellerID      uuid.UUID           `json:"seller_id"`
	Title         string              `json:"title"`
	Status        ListingStatus       `json:"status"`
	StartingPrice decimal.Decimal     `json:"starting_price"`
	ReservePrice  decimal.NullDecimal `json:"reserve_price"`
	Currency      string              `json:"currency"`
	CreatedAt     time.Time           `json:"created_at"`
}

// AuctionStatus is the lifecycle state of an auction
type AuctionStatus string

const (
	AuctionActive    AuctionStatus = "ACTIVE"
	AuctionExtended  AuctionStatus = "EXTENDED"
	AuctionSold      AuctionStatus = "SOLD"
	AuctionNoSale    AuctionStatus = "NO_SALE"
	AuctionEnded     AuctionStatus = "ENDED"
	AuctionCancelled AuctionStatus = "CANCELLED"
)

// AcceptsBids reports whether bids may be placed in this status
func (s AuctionStatus) AcceptsBids() bool {
	return s == AuctionActive || s == AuctionExtended
}

// PaymentStatus tracks buyer payment after a sale
type PaymentStatus string

const (
	PaymentNone   PaymentStatus = ""
	PaymentUnpaid PaymentStatus = "UNPAID"
	PaymentPaid   PaymentStatus = "PAID"
)

// Auction represents one listing's live sale
type Auction struct {
	ID                          uuid.UUID           `json:"id"`
	ListingID                   uuid.UUID           `json:"listing_id"`
	StartingPrice               decimal.Decimal     `json:"starting_price"`
	CurrentBid                  decimal.NullDecimal `json:"current_bid"`
	BidCount                    int                 `json:"bid_count"`
	Currency                    string              `json:"currency"`
	StartTime                   time.Time           `json:"start_time"`
	CurrentEndTime              time.Time           `json:"current_end_time"`
	OriginalEndTime             time.Time           `json:"original_end_time"`
	Status                      AuctionStatus       `json:"status"`
	ReservePrice                decimal.NullDecimal `json:"-"`
	ReserveMet                  bool                `json:"reserve_met"`
	WinnerID                    uuid.NullUUID       `json:"winner_id"`
	FinalPrice                  decimal.NullDecimal `json:"final_price"`
	BuyerFeeAmount              decimal.NullDecimal `json:"buyer_fee_amount"`
	PaymentStatus               PaymentStatus       `json:"payment_status,omitempty"`
	PaymentDeadline             *time.Time          `json:"payment_deadline,omitempty"`
	ExtensionCount              int                 `json:"extension_count"`
	MaxExtensions               int                 `json:"max_extensions"`
	AntiSnipingEnabled          bool                `json:"anti_sniping_enabled"`
	AntiSnipingWindowMinutes    int                 `json:"anti_sniping_window_minutes"`
	AntiSnipingExtensionMinutes int                 `json:"anti_sniping_extension_minutes"`
	BidIncrement                decimal.Decimal     `json:"bid_increment"`
	NextBidderNumber            int                 `json:"-"`
	EndedAt                     *time.Time          `json:"ended_at,omitempty"`
	CreatedAt                   time.Time           `json:"created_at"`
}

// Bid represents one accepted bid event
type Bid struct {
	ID                 uuid.UUID       `json:"id"`
	AuctionID          uuid.UUID       `json:"auction_id"`
	BidderID           uuid.UUID       `json:"-"`
	Amount             decimal.Decimal `json:"amount"`
	IsWinning          bool            `json:"is_winning"`
	TriggeredExtension bool            `json:"triggered_extension"`
	BidderNumber       int             `json:"bidder_number"` // 0 = legacy/unassigned
	BidderCountry      *string         `json:"bidder_country,omitempty"`
	IPAddress          *string         `json:"-"`
	UserAgent          *string         `json:"-"`
	CreatedAt          time.Time       `json:"created_at"`
}

// DepositStatus is the hold state of a bidder deposit
type DepositStatus string

const (
	DepositHeld     DepositStatus = "HELD"
	DepositReleased DepositStatus = "RELEASED"
	DepositCaptured DepositStatus = "CAPTURED"
)

// Deposit is a bidder's hold against an auction
type Deposit struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	AuctionID uuid.UUID
	Amount    decimal.Decimal
	Status    DepositStatus
	CreatedAt time.Time
}
