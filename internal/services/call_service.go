package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/callscribe/callscribe/internal/cache"
	"github.com/callscribe/callscribe/internal/models"
	"github.com/callscribe/callscribe/internal/parser"
	mongorepo "github.com/callscribe/callscribe/internal/repositories/mongo"
	"github.com/callscribe/callscribe/internal/utils"
)

// CallEvents receives change notifications for dashboard fan-out.
type CallEvents interface {
	BroadcastCallUpdated(call *models.Call)
}

// CallService owns the persisted call record. It is the session engine's
// Persistence collaborator and the REST layer's backend.
type CallService interface {
	CreateCall(ctx context.Context, call *models.Call) error
	Get(ctx context.Context, callID string) (*models.Call, error)
	List(ctx context.Context, limit int64) ([]models.Call, error)
	Update(ctx context.Context, callID string, upd models.CallUpdate) (*models.Call, error)
	SyncTranscript(ctx context.Context, callID string, transcript []models.TranscriptLine) error
	EndSession(ctx context.Context, callID string, transcript []models.TranscriptLine, duration int64) error
	StoreAnalysis(ctx context.Context, callID string, analysis models.Analysis) error
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

type callService struct {
	calls  mongorepo.CallRepository
	snaps  cache.Cache
	events CallEvents
	log    *logrus.Logger
}

func NewCallService(calls mongorepo.CallRepository, snaps cache.Cache, events CallEvents, log *logrus.Logger) CallService {
	if log == nil {
		log = logrus.New()
	}
	return &callService{calls: calls, snaps: snaps, events: events, log: log}
}

func (s *callService) CreateCall(ctx context.Context, call *models.Call) error {
	const op = "CallService.CreateCall"

	if call.CallID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "call_id is required", nil)
	}
	if call.Status == "" {
		call.Status = models.CallStatusActive
	}
	if err := s.calls.Create(ctx, call); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to create call", err)
	}
	s.invalidate(ctx, call.CallID)
	return nil
}

func (s *callService) Get(ctx context.Context, callID string) (*models.Call, error) {
	const op = "CallService.Get"

	if callID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "call_id is required", nil)
	}

	if s.snaps != nil {
		var cached models.Call
		if hit, err := s.snaps.GetJSON(ctx, cache.CallKey(callID), &cached); err == nil && hit {
			return &cached, nil
		}
	}

	out, err := s.calls.GetByCallID(ctx, callID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "call not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get call", err)
	}

	if s.snaps != nil {
		_ = s.snaps.SetJSON(ctx, cache.CallKey(callID), out, cache.CallSnapshotTTL)
	}
	return out, nil
}

// List returns recent calls, newest first. The default page is cached
// briefly; dashboards poll it in lockstep.
func (s *callService) List(ctx context.Context, limit int64) ([]models.Call, error) {
	const op = "CallService.List"
	const defaultLimit = 100

	cacheable := s.snaps != nil && limit == defaultLimit
	if cacheable {
		var cached []models.Call
		if hit, err := s.snaps.GetJSON(ctx, cache.CallListKey(), &cached); err == nil && hit {
			return cached, nil
		}
	}

	out, err := s.calls.List(ctx, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list calls", err)
	}

	if cacheable {
		_ = s.snaps.SetJSON(ctx, cache.CallListKey(), out, cache.CallListTTL)
	}
	return out, nil
}

func (s *callService) Update(ctx context.Context, callID string, upd models.CallUpdate) (*models.Call, error) {
	const op = "CallService.Update"

	if callID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "call_id is required", nil)
	}

	out, err := s.calls.Update(ctx, callID, upd)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "call not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to update call", err)
	}

	s.invalidate(ctx, callID)
	if s.events != nil {
		s.events.BroadcastCallUpdated(out)
	}
	return out, nil
}

// SyncTranscript replicates committed lines to the store. Keywords are
// tagged on the way out so dashboard readers see them without waiting for
// the full triage pass.
func (s *callService) SyncTranscript(ctx context.Context, callID string, transcript []models.TranscriptLine) error {
	const op = "CallService.SyncTranscript"

	tagged := make([]models.TranscriptLine, len(transcript))
	for i, line := range transcript {
		if line.Keywords == nil {
			line.Keywords = parser.Keywords(line.Text)
		}
		tagged[i] = line
	}

	if err := s.calls.SetTranscript(ctx, callID, tagged); err != nil {
		return utils.E(utils.CodeSync, op, "failed to sync transcript", err)
	}
	s.invalidate(ctx, callID)
	return nil
}

func (s *callService) EndSession(ctx context.Context, callID string, transcript []models.TranscriptLine, duration int64) error {
	const op = "CallService.EndSession"

	if err := s.SyncTranscript(ctx, callID, transcript); err != nil {
		s.log.WithError(err).WithField("call_id", callID).Warn("final transcript sync failed")
	}
	if err := s.calls.End(ctx, callID, time.Now().UTC(), duration); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to end call", err)
	}
	s.invalidate(ctx, callID)
	return nil
}

func (s *callService) StoreAnalysis(ctx context.Context, callID string, analysis models.Analysis) error {
	const op = "CallService.StoreAnalysis"

	if err := s.calls.SetAnalysis(ctx, callID, analysis); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to store analysis", err)
	}
	if err := s.calls.SetStatus(ctx, callID, models.CallStatusQueued); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to queue call", err)
	}
	s.invalidate(ctx, callID)
	return nil
}

// Cleanup removes resolved calls older than the retention window.
func (s *callService) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	const op = "CallService.Cleanup"

	cutoff := time.Now().UTC().Add(-olderThan)
	n, err := s.calls.DeleteResolvedBefore(ctx, cutoff)
	if err != nil {
		return 0, utils.E(utils.CodeInternal, op, "failed to clean up calls", err)
	}
	if s.snaps != nil {
		_ = s.snaps.Del(ctx, cache.CallListKey())
	}
	return n, nil
}

func (s *callService) invalidate(ctx context.Context, callID string) {
	if s.snaps == nil {
		return
	}
	_ = s.snaps.Del(ctx, cache.CallKey(callID), cache.CallListKey())
}
