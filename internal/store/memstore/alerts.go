package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/xtrntr/carauction/internal/models"
	"github.com/xtrntr/carauction/internal/store"
)

func (s *Store) CreateFraudAlerts(ctx context.Context, alerts []models.FraudAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range alerts {
		if alerts[i].ID == uuid.Nil {
			alerts[i].ID = uuid.New()
		}
		s.alerts = append(s.alerts, alerts[i])
	}
	return nil
}

func (s *Store) GetFraudAlert(ctx context.Context, alertID uuid.UUID) (*models.FraudAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.alerts {
		if a.ID == alertID {
			return &a, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListFraudAlerts(ctx context.Context, filter models.AlertFilter) ([]models.FraudAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.FraudAlert
	for _, a := range s.alerts {
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.UserID.Valid && a.UserID != filter.UserID {
			continue
		}
		if filter.AuctionID.Valid && a.AuctionID != filter.AuctionID {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) ReviewOpenFraudAlert(ctx context.Context, alertID uuid.UUID, status models.AlertStatus, reviewerID uuid.UUID, notes *string, at time.Time) (*models.FraudAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		a := &s.alerts[i]
		if a.ID != alertID {
			continue
		}
		if a.Status != models.AlertOpen {
			return nil, store.ErrConflict
		}
		reviewedAt := at
		a.Status = status
		a.ReviewedBy = uuid.NullUUID{UUID: reviewerID, Valid: true}
		a.ReviewedAt = &reviewedAt
		a.ResolutionNotes = notes
		out := *a
		return &out, nil
	}
	return nil, store.ErrNotFound
}
