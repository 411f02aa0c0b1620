package fraud

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/xtrntr/carauction/internal/apperr"
	"github.com/xtrntr/carauction/internal/models"
	"github.com/xtrntr/carauction/internal/store"
)

// ReviewAlert closes an OPEN alert. Severity is left untouched.
func (e *Engine) ReviewAlert(ctx context.Context, alertID, reviewerID uuid.UUID, status models.AlertStatus, notes *string) (*models.FraudAlert, error) {
	switch status {
	case models.AlertInvestigating, models.AlertResolved, models.AlertFalsePositive:
	default:
		return nil, apperr.Validation("Invalid review status %q", status)
	}

	alert, err := e.store.ReviewOpenFraudAlert(ctx, alertID, status, reviewerID, notes, e.now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, apperr.NotFound("Fraud alert not found")
	case errors.Is(err, store.ErrConflict):
		return nil, apperr.Conflict(err, "Fraud alert has already been reviewed")
	case err != nil:
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"alert_id":    alertID,
		"reviewer_id": reviewerID,
		"status":      status,
	}).Info("fraud alert reviewed")
	return alert, nil
}

// ListAlerts returns alerts matching the filter, newest first
func (e *Engine) ListAlerts(ctx context.Context, filter models.AlertFilter) ([]models.FraudAlert, error) {
	return e.store.ListFraudAlerts(ctx, filter)
}
