package services

import (
	"context"
	"testing"
	"time"

	"github.com/callscribe/callscribe/internal/models"
	"github.com/callscribe/callscribe/internal/utils"
)

type fakeFleetRepo struct {
	units      map[string]*models.Ambulance
	dispatches []models.DispatchRecord
	recent     map[string]int
}

func newFakeFleetRepo() *fakeFleetRepo {
	return &fakeFleetRepo{units: map[string]*models.Ambulance{}, recent: map[string]int{}}
}

func (r *fakeFleetRepo) UpsertAmbulance(_ context.Context, a *models.Ambulance) error {
	cp := *a
	r.units[a.ID] = &cp
	return nil
}

func (r *fakeFleetRepo) GetAmbulance(_ context.Context, id string) (*models.Ambulance, error) {
	a, ok := r.units[id]
	if !ok {
		return nil, utils.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeFleetRepo) ListAmbulances(_ context.Context) ([]models.Ambulance, error) {
	out := make([]models.Ambulance, 0, len(r.units))
	for _, a := range r.units {
		out = append(out, *a)
	}
	return out, nil
}

func (r *fakeFleetRepo) SetAmbulanceStatus(_ context.Context, id, status string) error {
	a, ok := r.units[id]
	if !ok {
		return utils.ErrNotFound
	}
	a.Status = status
	return nil
}

func (r *fakeFleetRepo) RecordDispatch(_ context.Context, rec *models.DispatchRecord) error {
	r.dispatches = append(r.dispatches, *rec)
	return nil
}

func (r *fakeFleetRepo) RecentDispatchCounts(_ context.Context, _ time.Time) (map[string]int, error) {
	return r.recent, nil
}

func (r *fakeFleetRepo) ListDispatches(_ context.Context, callID string) ([]models.DispatchRecord, error) {
	var out []models.DispatchRecord
	for _, d := range r.dispatches {
		if d.CallID == callID {
			out = append(out, d)
		}
	}
	return out, nil
}

func TestAmbulanceLookup(t *testing.T) {
	fleet := newFakeFleetRepo()
	fleet.units["a1"] = &models.Ambulance{ID: "a1", CallSign: "Medic 1", Status: models.AmbulanceAvailable}
	svc := NewDispatchService(fleet, nil, nil)

	a, err := svc.Ambulance(context.Background(), "a1")
	if err != nil {
		t.Fatalf("Ambulance: %v", err)
	}
	if a.CallSign != "Medic 1" {
		t.Fatalf("call sign = %q, want %q", a.CallSign, "Medic 1")
	}

	_, err = svc.Ambulance(context.Background(), "missing")
	if !utils.IsCode(err, utils.CodeNotFound) {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
}

func TestHistoryFiltersByCall(t *testing.T) {
	fleet := newFakeFleetRepo()
	fleet.dispatches = []models.DispatchRecord{
		{ID: "d1", CallID: "c1", AmbulanceID: "a1", Score: 12.5},
		{ID: "d2", CallID: "c2", AmbulanceID: "a2", Score: 40},
		{ID: "d3", CallID: "c1", AmbulanceID: "a2", Score: 33},
	}
	svc := NewDispatchService(fleet, nil, nil)

	recs, err := svc.History(context.Background(), "c1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	for _, rec := range recs {
		if rec.CallID != "c1" {
			t.Fatalf("record %s belongs to call %s", rec.ID, rec.CallID)
		}
	}
}

func TestDispatchWritesAuditRecord(t *testing.T) {
	callRepo := newFakeCallRepo()
	calls := NewCallService(callRepo, nil, nil, nil)
	if err := calls.CreateCall(context.Background(), &models.Call{
		CallID:   "c1",
		Location: "49.2827,-123.1207",
	}); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}

	fleet := newFakeFleetRepo()
	fleet.units["a1"] = &models.Ambulance{
		ID: "a1", CallSign: "Medic 1",
		Status: models.AmbulanceAvailable, Location: "49.28,-123.12",
	}
	svc := NewDispatchService(fleet, calls, nil)

	call, err := svc.Dispatch(context.Background(), "c1", "")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if call.Status != models.CallStatusDispatched || call.DispatchedAmbulance != "Medic 1" {
		t.Fatalf("call after dispatch = %+v", call)
	}
	if fleet.units["a1"].Status != models.AmbulanceEnRoute {
		t.Fatalf("unit status = %q, want en-route", fleet.units["a1"].Status)
	}

	recs, err := svc.History(context.Background(), "c1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(recs) != 1 || recs[0].AmbulanceID != "a1" {
		t.Fatalf("audit trail = %+v", recs)
	}
	if recs[0].ID == "" || len(recs[0].Breakdown) == 0 {
		t.Fatalf("audit record missing id or breakdown: %+v", recs[0])
	}
}
