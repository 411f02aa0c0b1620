package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xtrntr/carauction/internal/models"
	"github.com/xtrntr/carauction/internal/store"

	"github.com/jackc/pgx/v5"
)

const alertColumns = `id, user_id, auction_id, bid_id, alert_type, severity, details, status,
	reviewed_by, reviewed_at, resolution_notes, created_at`

func scanAlert(row pgx.Row) (*models.FraudAlert, error) {
	a := &models.FraudAlert{}
	err := row.Scan(&a.ID, &a.UserID, &a.AuctionID, &a.BidID, &a.AlertType, &a.Severity, &a.Details, &a.Status,
		&a.ReviewedBy, &a.ReviewedAt, &a.ResolutionNotes, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// CreateFraudAlerts inserts alerts in one batch
func (db *DB) CreateFraudAlerts(ctx context.Context, alerts []models.FraudAlert) error {
	if len(alerts) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i := range alerts {
		a := &alerts[i]
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		if a.Details == nil {
			a.Details = map[string]any{}
		}
		batch.Queue(`
			INSERT INTO fraud_alerts (id, user_id, auction_id, bid_id, alert_type, severity, details, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			a.ID, a.UserID, a.AuctionID, a.BidID, a.AlertType, a.Severity, a.Details, a.Status, a.CreatedAt)
	}
	if err := db.Pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to create fraud alerts: %w", err)
	}
	return nil
}

// GetFraudAlert retrieves one alert
func (db *DB) GetFraudAlert(ctx context.Context, alertID uuid.UUID) (*models.FraudAlert, error) {
	a, err := scanAlert(db.Pool.QueryRow(ctx, "SELECT "+alertColumns+" FROM fraud_alerts WHERE id = $1", alertID))
	if err != nil {
		return nil, fmt.Errorf("failed to get fraud alert: %w", notFound(err))
	}
	return a, nil
}

// ListFraudAlerts lists alerts newest first
func (db *DB) ListFraudAlerts(ctx context.Context, filter models.AlertFilter) ([]models.FraudAlert, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.UserID.Valid {
		args = append(args, filter.UserID.UUID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.AuctionID.Valid {
		args = append(args, filter.AuctionID.UUID)
		conds = append(conds, fmt.Sprintf("auction_id = $%d", len(args)))
	}

	query := "SELECT " + alertColumns + " FROM fraud_alerts"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list fraud alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.FraudAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fraud alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

// ReviewOpenFraudAlert closes an OPEN alert; the status guard in the WHERE
// clause makes concurrent reviews race-free.
func (db *DB) ReviewOpenFraudAlert(ctx context.Context, alertID uuid.UUID, status models.AlertStatus, reviewerID uuid.UUID, notes *string, at time.Time) (*models.FraudAlert, error) {
	a, err := scanAlert(db.Pool.QueryRow(ctx, `
		UPDATE fraud_alerts SET status = $2, reviewed_by = $3, reviewed_at = $4, resolution_notes = $5
		WHERE id = $1 AND status = 'OPEN'
		RETURNING `+alertColumns,
		alertID, status, reviewerID, at, notes))
	if err == nil {
		return a, nil
	}
	if err != pgx.ErrNoRows {
		return nil, fmt.Errorf("failed to review fraud alert: %w", err)
	}

	if _, err := db.GetFraudAlert(ctx, alertID); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("fraud alert is not open: %w", store.ErrConflict)
}
