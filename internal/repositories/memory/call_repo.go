// Package memory is the fallback call store for deployments running without
// MongoDB: the live engine keeps working and calls survive for the process
// lifetime only.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/callscribe/callscribe/internal/models"
	mongorepo "github.com/callscribe/callscribe/internal/repositories/mongo"
	"github.com/callscribe/callscribe/internal/utils"
)

type callRepo struct {
	mu    sync.RWMutex
	calls map[string]*models.Call
}

func NewCallRepo() mongorepo.CallRepository {
	return &callRepo{calls: make(map[string]*models.Call)}
}

func (r *callRepo) Create(_ context.Context, c *models.Call) error {
	now := time.Now().UTC()
	if c.Timestamp.IsZero() {
		c.Timestamp = now
	}
	c.UpdatedAt = now
	if c.Transcript == nil {
		c.Transcript = []models.TranscriptLine{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.calls[c.CallID]; exists {
		return utils.E(utils.CodeConflict, "memory.Create", "call already exists", nil)
	}
	cp := *c
	r.calls[c.CallID] = &cp
	return nil
}

func (r *callRepo) GetByCallID(_ context.Context, callID string) (*models.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calls[callID]
	if !ok {
		return nil, utils.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *callRepo) List(_ context.Context, limit int64) ([]models.Call, error) {
	if limit <= 0 {
		limit = 100
	}

	r.mu.RLock()
	out := make([]models.Call, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, *c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *callRepo) Update(_ context.Context, callID string, upd models.CallUpdate) (*models.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return nil, utils.ErrNotFound
	}

	if upd.Status != nil {
		c.Status = *upd.Status
	}
	if upd.Transcript != nil {
		c.Transcript = upd.Transcript
	}
	if upd.Analysis != nil {
		c.Analysis = upd.Analysis
	}
	if upd.DispatchedAmbulance != nil {
		c.DispatchedAmbulance = *upd.DispatchedAmbulance
	}
	if upd.Notes != nil {
		c.Notes = *upd.Notes
	}
	if upd.DurationSeconds != nil {
		c.DurationSeconds = *upd.DurationSeconds
	}
	c.UpdatedAt = time.Now().UTC()

	cp := *c
	return &cp, nil
}

func (r *callRepo) SetTranscript(_ context.Context, callID string, transcript []models.TranscriptLine) error {
	return r.mutate(callID, func(c *models.Call) {
		c.Transcript = transcript
	})
}

func (r *callRepo) SetStatus(_ context.Context, callID, status string) error {
	return r.mutate(callID, func(c *models.Call) {
		c.Status = status
	})
}

func (r *callRepo) SetAnalysis(_ context.Context, callID string, analysis models.Analysis) error {
	return r.mutate(callID, func(c *models.Call) {
		c.Analysis = &analysis
	})
}

func (r *callRepo) End(_ context.Context, callID string, endedAt time.Time, durationSeconds int64) error {
	return r.mutate(callID, func(c *models.Call) {
		c.Status = models.CallStatusProcessing
		c.EndedAt = &endedAt
		c.DurationSeconds = durationSeconds
	})
}

func (r *callRepo) DeleteResolvedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, c := range r.calls {
		if c.Status == models.CallStatusResolved && c.Timestamp.Before(cutoff) {
			delete(r.calls, id)
			n++
		}
	}
	return n, nil
}

func (r *callRepo) mutate(callID string, fn func(*models.Call)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return utils.ErrNotFound
	}
	fn(c)
	c.UpdatedAt = time.Now().UTC()
	return nil
}
