package models

import (
	"time"

	"github.com/google/uuid"
)

// AlertType tags the heuristic that raised a fraud alert
type AlertType string

const (
	AlertShillBidding        AlertType = "SHILL_BIDDING"
	AlertBidVelocity         AlertType = "BID_VELOCITY"
	AlertRapidBidding        AlertType = "RAPID_BIDDING"
	AlertSellerIPMatch       AlertType = "SELLER_IP_MATCH"
	AlertCoordinatedBidding  AlertType = "COORDINATED_BIDDING"
	AlertPennyBidding        AlertType = "PENNY_BIDDING"
	AlertNewAccountHighValue AlertType = "NEW_ACCOUNT_HIGH_VALUE"
	AlertLastMinuteSurge     AlertType = "LAST_MINUTE_SURGE"
)

// Severity is ordered LOW < MEDIUM < HIGH < CRITICAL
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank returns the ordinal position of the severity
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// AlertStatus is the review state of a fraud alert
type AlertStatus string

const (
	AlertOpen          AlertStatus = "OPEN"
	AlertInvestigating AlertStatus = "INVESTIGATING"
	AlertResolved      AlertStatus = "RESOLVED"
	AlertFalsePositive AlertStatus = "FALSE_POSITIVE"
)

// FraudAlert represents one flagged anomaly
type FraudAlert struct {
	ID              uuid.UUID      `json:"id"`
	UserID          uuid.NullUUID  `json:"user_id"`
	AuctionID       uuid.NullUUID  `json:"auction_id"`
	BidID           uuid.NullUUID  `json:"bid_id"`
	AlertType       AlertType      `json:"alert_type"`
	Severity        Severity       `json:"severity"`
	Details         map[string]any `json:"details"`
	Status          AlertStatus    `json:"status"`
	ReviewedBy      uuid.NullUUID  `json:"reviewed_by"`
	ReviewedAt      *time.Time     `json:"reviewed_at,omitempty"`
	ResolutionNotes *string        `json:"resolution_notes,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// AlertFilter narrows alert listings; zero fields match everything
type AlertFilter struct {
	Status    AlertStatus
	UserID    uuid.NullUUID
	AuctionID uuid.NullUUID
	Limit     int
}
