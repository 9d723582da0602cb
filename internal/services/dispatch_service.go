package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/callscribe/callscribe/internal/dispatch"
	"github.com/callscribe/callscribe/internal/models"
	pgrepo "github.com/callscribe/callscribe/internal/repositories/postgres"
	"github.com/callscribe/callscribe/internal/utils"
)

// fairnessWindow mirrors the scorer's recent-dispatch horizon.
const fairnessWindow = time.Hour

type DispatchService interface {
	Fleet(ctx context.Context) ([]models.Ambulance, error)
	Ambulance(ctx context.Context, id string) (*models.Ambulance, error)
	UpsertAmbulance(ctx context.Context, a *models.Ambulance) error
	SetAmbulanceStatus(ctx context.Context, id, status string) error
	Recommend(ctx context.Context, callID string) ([]dispatch.Recommendation, error)
	Dispatch(ctx context.Context, callID, ambulanceID string) (*models.Call, error)
	History(ctx context.Context, callID string) ([]models.DispatchRecord, error)
}

type dispatchService struct {
	fleet pgrepo.FleetRepo
	calls CallService
	log   *logrus.Logger
}

func NewDispatchService(fleet pgrepo.FleetRepo, calls CallService, log *logrus.Logger) DispatchService {
	if log == nil {
		log = logrus.New()
	}
	return &dispatchService{fleet: fleet, calls: calls, log: log}
}

func (s *dispatchService) Fleet(ctx context.Context) ([]models.Ambulance, error) {
	const op = "DispatchService.Fleet"

	out, err := s.fleet.ListAmbulances(ctx)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list fleet", err)
	}
	return out, nil
}

func (s *dispatchService) Ambulance(ctx context.Context, id string) (*models.Ambulance, error) {
	const op = "DispatchService.Ambulance"

	out, err := s.fleet.GetAmbulance(ctx, id)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "ambulance not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get ambulance", err)
	}
	return out, nil
}

func (s *dispatchService) UpsertAmbulance(ctx context.Context, a *models.Ambulance) error {
	const op = "DispatchService.UpsertAmbulance"

	if a.ID == "" || a.CallSign == "" {
		return utils.E(utils.CodeInvalidArgument, op, "id and call_sign are required", nil)
	}
	if a.Status == "" {
		a.Status = models.AmbulanceAvailable
	}
	if err := s.fleet.UpsertAmbulance(ctx, a); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to save ambulance", err)
	}
	return nil
}

func (s *dispatchService) SetAmbulanceStatus(ctx context.Context, id, status string) error {
	const op = "DispatchService.SetAmbulanceStatus"

	if err := s.fleet.SetAmbulanceStatus(ctx, id, status); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return utils.E(utils.CodeNotFound, op, "ambulance not found", err)
		}
		return utils.E(utils.CodeInternal, op, "failed to set ambulance status", err)
	}
	return nil
}

// Recommend ranks the available fleet for a call, best first.
func (s *dispatchService) Recommend(ctx context.Context, callID string) ([]dispatch.Recommendation, error) {
	const op = "DispatchService.Recommend"

	call, err := s.calls.Get(ctx, callID)
	if err != nil {
		return nil, err
	}

	fleet, err := s.fleet.ListAmbulances(ctx)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list fleet", err)
	}
	recent, err := s.fleet.RecentDispatchCounts(ctx, time.Now().UTC().Add(-fairnessWindow))
	if err != nil {
		s.log.WithError(err).Warn("dispatch history unavailable, scoring without fairness")
		recent = nil
	}

	return dispatch.Rank(*call, fleet, recent), nil
}

// Dispatch assigns an ambulance to a call. With an empty ambulanceID the
// top-ranked unit is chosen. The assignment is recorded for the fairness
// score, the unit goes en-route, and the call advances to dispatched.
func (s *dispatchService) Dispatch(ctx context.Context, callID, ambulanceID string) (*models.Call, error) {
	const op = "DispatchService.Dispatch"

	recs, err := s.Recommend(ctx, callID)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, utils.E(utils.CodeUnavailable, op, "no ambulance available", nil)
	}

	chosen := recs[0]
	if ambulanceID != "" {
		found := false
		for _, rec := range recs {
			if rec.Ambulance.ID == ambulanceID {
				chosen = rec
				found = true
				break
			}
		}
		if !found {
			return nil, utils.E(utils.CodeInvalidArgument, op, "requested ambulance is not available", nil)
		}
	}

	breakdown, err := json.Marshal(chosen.Breakdown)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to encode score breakdown", err)
	}
	rec := &models.DispatchRecord{
		ID:           uuid.NewString(),
		CallID:       callID,
		AmbulanceID:  chosen.Ambulance.ID,
		Score:        chosen.Score,
		Breakdown:    datatypes.JSON(breakdown),
		DispatchedAt: time.Now().UTC(),
	}
	if err := s.fleet.RecordDispatch(ctx, rec); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to record dispatch", err)
	}
	if err := s.fleet.SetAmbulanceStatus(ctx, chosen.Ambulance.ID, models.AmbulanceEnRoute); err != nil {
		s.log.WithError(err).WithField("ambulance_id", chosen.Ambulance.ID).
			Warn("dispatched unit status not updated")
	}

	status := models.CallStatusDispatched
	return s.calls.Update(ctx, callID, models.CallUpdate{
		Status:              &status,
		DispatchedAmbulance: &chosen.Ambulance.CallSign,
	})
}

// History returns a call's dispatch audit trail, newest first.
func (s *dispatchService) History(ctx context.Context, callID string) ([]models.DispatchRecord, error) {
	const op = "DispatchService.History"

	out, err := s.fleet.ListDispatches(ctx, callID)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list dispatches", err)
	}
	return out, nil
}
