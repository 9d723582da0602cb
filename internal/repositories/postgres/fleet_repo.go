package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/callscribe/callscribe/internal/models"
	"github.com/callscribe/callscribe/internal/utils"
)

type FleetRepo interface {
	UpsertAmbulance(ctx context.Context, a *models.Ambulance) error
	GetAmbulance(ctx context.Context, id string) (*models.Ambulance, error)
	ListAmbulances(ctx context.Context) ([]models.Ambulance, error)
	SetAmbulanceStatus(ctx context.Context, id, status string) error

	RecordDispatch(ctx context.Context, rec *models.DispatchRecord) error
	RecentDispatchCounts(ctx context.Context, since time.Time) (map[string]int, error)
	ListDispatches(ctx context.Context, callID string) ([]models.DispatchRecord, error)
}

type fleetRepo struct {
	db *gorm.DB
}

func NewFleetRepo(db *gorm.DB) FleetRepo {
	return &fleetRepo{db: db}
}

func (r *fleetRepo) UpsertAmbulance(ctx context.Context, a *models.Ambulance) error {
	a.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Save(a).Error
}

func (r *fleetRepo) GetAmbulance(ctx context.Context, id string) (*models.Ambulance, error) {
	var row models.Ambulance
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *fleetRepo) ListAmbulances(ctx context.Context) ([]models.Ambulance, error) {
	var rows []models.Ambulance
	err := r.db.WithContext(ctx).Order("call_sign ASC").Find(&rows).Error
	return rows, err
}

func (r *fleetRepo) SetAmbulanceStatus(ctx context.Context, id, status string) error {
	res := r.db.WithContext(ctx).Model(&models.Ambulance{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func (r *fleetRepo) RecordDispatch(ctx context.Context, rec *models.DispatchRecord) error {
	if rec.DispatchedAt.IsZero() {
		rec.DispatchedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

// RecentDispatchCounts feeds the fairness component of the dispatch score.
func (r *fleetRepo) RecentDispatchCounts(ctx context.Context, since time.Time) (map[string]int, error) {
	var rows []struct {
		AmbulanceID string
		N           int
	}
	err := r.db.WithContext(ctx).Model(&models.DispatchRecord{}).
		Select("ambulance_id, COUNT(*) AS n").
		Where("dispatched_at >= ?", since).
		Group("ambulance_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.AmbulanceID] = row.N
	}
	return counts, nil
}

func (r *fleetRepo) ListDispatches(ctx context.Context, callID string) ([]models.DispatchRecord, error) {
	var rows []models.DispatchRecord
	err := r.db.WithContext(ctx).
		Where("call_id = ?", callID).
		Order("dispatched_at DESC").
		Find(&rows).Error
	return rows, err
}
