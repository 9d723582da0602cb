package session

import (
	"context"
	"sync"

	"github.com/callscribe/callscribe/internal/models"
	"github.com/callscribe/callscribe/internal/observability"
	"github.com/callscribe/callscribe/internal/utils"
)

// Manager tracks the live controllers, one per active call. The process
// holds exactly one transport handle per live session; controllers are
// removed once their analysis handoff completes.
type Manager struct {
	mu   sync.Mutex
	cfg  Config
	live map[string]*Controller
}

func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, live: make(map[string]*Controller)}
}

// StartSession builds a fresh controller, starts it, and registers it.
func (m *Manager) StartSession(ctx context.Context, from string) (*Controller, *models.Call, error) {
	ctl := NewController(m.cfg)

	call, err := ctl.Start(ctx, from)
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	m.live[ctl.CallID] = ctl
	m.mu.Unlock()
	observability.ActiveSessions.Inc()

	go func() {
		<-ctl.Done()
		m.mu.Lock()
		delete(m.live, ctl.CallID)
		m.mu.Unlock()
		observability.ActiveSessions.Dec()
	}()

	return ctl, call, nil
}

// Get returns the live controller for callID.
func (m *Manager) Get(callID string) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctl, ok := m.live[callID]
	if !ok {
		return nil, utils.E(utils.CodeNotFound, "Manager.Get", "no live session for call", nil)
	}
	return ctl, nil
}

// CommitRecognized feeds a server-side recognition result into the live
// session's reconciler. Results for finished sessions are dropped.
func (m *Manager) CommitRecognized(callID string, speaker models.Speaker, text string) {
	ctl, err := m.Get(callID)
	if err != nil {
		return
	}
	ctl.Aggregator().CommitAuto(speaker, text)
}

// ActiveCount reports how many sessions are currently live.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}
