package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/callscribe/callscribe/internal/models"
	"github.com/callscribe/callscribe/internal/observability"
)

// Client is one websocket subscriber. Writes are serialized through the
// client's own mutex, matching gorilla's one-writer rule.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *Client) writeText(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// Hub tracks connected clients and their call rooms. Lifecycle events go to
// every client (the dashboard call queue); partials and audio go only to the
// call's room. With a Redis client configured every emit is mirrored onto
// pub/sub so peer nodes deliver it to their own clients.
type Hub struct {
	nodeID string
	rdb    *redis.Client // optional
	log    *logrus.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
}

func NewHub(rdb *redis.Client, log *logrus.Logger) *Hub {
	if log == nil {
		log = logrus.New()
	}
	return &Hub{
		nodeID:  uuid.NewString(),
		rdb:     rdb,
		log:     log,
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
	}
}

// EventsChannel carries lifecycle envelopes between nodes.
const EventsChannel = "calls:events"

func (h *Hub) Register(conn *websocket.Conn) *Client {
	c := &Client{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	observability.ConnectedClients.Inc()
	return c
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	for callID, room := range h.rooms {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, callID)
		}
	}
	h.mu.Unlock()
	if present {
		observability.ConnectedClients.Dec()
	}
}

// Join subscribes the client to one call's room events.
func (h *Hub) Join(c *Client, callID string) {
	h.mu.Lock()
	room, ok := h.rooms[callID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[callID] = room
	}
	room[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) Leave(c *Client, callID string) {
	h.mu.Lock()
	if room, ok := h.rooms[callID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, callID)
		}
	}
	h.mu.Unlock()
}

// Send delivers one envelope to a single client only.
func (h *Hub) Send(c *Client, e Envelope) {
	if err := c.writeText(e.encode()); err != nil {
		h.drop(c, err)
	}
}

func (h *Hub) emitAll(e Envelope) {
	h.deliverAll(e)
	h.mirror(e)
}

func (h *Hub) emitRoom(e Envelope) {
	h.deliverRoom(e)
	h.mirror(e)
}

// deliverAll pushes to every local client.
func (h *Hub) deliverAll(e Envelope) {
	b := e.encode()
	for _, c := range h.snapshotAll() {
		if err := c.writeText(b); err != nil {
			h.drop(c, err)
		}
	}
}

// deliverRoom pushes to local members of the envelope's call room.
func (h *Hub) deliverRoom(e Envelope) {
	b := e.encode()
	for _, c := range h.snapshotRoom(e.CallID) {
		if err := c.writeText(b); err != nil {
			h.drop(c, err)
		}
	}
}

func (h *Hub) snapshotAll() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) snapshotRoom(callID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.rooms[callID]
	out := make([]*Client, 0, len(room))
	for c := range room {
		out = append(out, c)
	}
	return out
}

func (h *Hub) drop(c *Client, err error) {
	h.log.WithError(err).Debug("client write failed, dropping connection")
	h.Unregister(c)
	_ = c.conn.Close()
}

// mirror publishes the envelope for peer nodes. Fire-and-forget: local
// delivery already happened.
func (h *Hub) mirror(e Envelope) {
	if h.rdb == nil {
		return
	}
	e.Origin = h.nodeID
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.rdb.Publish(ctx, EventsChannel, string(e.encode())).Err(); err != nil {
		h.log.WithError(err).Debug("event mirror publish failed")
	}
}

// DeliverForeign replays an envelope received from a peer node to local
// clients. Envelopes this node emitted are skipped.
func (h *Hub) DeliverForeign(e Envelope) {
	if e.Origin == h.nodeID {
		return
	}
	switch e.Type {
	case EvtCallPartial, EvtAudioMessage, EvtTurnState, EvtRecordingComplete:
		h.deliverRoom(e)
	default:
		h.deliverAll(e)
	}
}

// --- session.Broadcaster ---

func (h *Hub) BroadcastPartial(frame models.PartialFrame) {
	h.emitRoom(Envelope{
		Type:    EvtCallPartial,
		CallID:  frame.CallID,
		Speaker: frame.Speaker,
		Text:    frame.Text,
	})
}

func (h *Hub) BroadcastLine(callID string, line models.TranscriptLine, transcript []models.TranscriptLine) {
	h.emitAll(Envelope{
		Type:       EvtCallUpdated,
		CallID:     callID,
		Line:       &line,
		Transcript: transcript,
	})
}

// --- session.Events ---

func (h *Hub) BroadcastIncomingCall(callID, from string, ts time.Time) {
	h.emitAll(Envelope{
		Type:      EvtIncomingCall,
		CallID:    callID,
		From:      from,
		Timestamp: ts.UTC().Format(time.RFC3339),
	})
}

func (h *Hub) BroadcastStatus(callID, status string) {
	h.emitAll(Envelope{
		Type:   EvtCallStatus,
		CallID: callID,
		Status: status,
	})
}

func (h *Hub) BroadcastAnalyzed(callID string, transcript []models.TranscriptLine, analysis models.Analysis) {
	h.emitAll(Envelope{
		Type:       EvtCallAnalyzed,
		CallID:     callID,
		Transcript: transcript,
		Analysis:   &analysis,
	})
}

// --- services.CallEvents ---

func (h *Hub) BroadcastCallUpdated(call *models.Call) {
	h.emitAll(Envelope{
		Type:   EvtCallUpdated,
		CallID: call.CallID,
		Call:   call,
	})
}

// --- relay fan-out ---

func (h *Hub) BroadcastAudio(msg models.AudioMessage) {
	h.emitRoom(AudioEnvelope(msg))
}

func (h *Hub) BroadcastTurnState(callID string, live models.Speaker) {
	h.emitRoom(Envelope{
		Type:   EvtTurnState,
		CallID: callID,
		Live:   live,
	})
}

func (h *Hub) BroadcastRecordingComplete(callID string, speaker models.Speaker) {
	h.emitRoom(Envelope{
		Type:    EvtRecordingComplete,
		CallID:  callID,
		Speaker: speaker,
	})
}
