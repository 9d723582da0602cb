package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/callscribe/callscribe/internal/session"
	"github.com/callscribe/callscribe/internal/transcode"
	"github.com/callscribe/callscribe/internal/translate"
	"github.com/callscribe/callscribe/internal/transport"
	"github.com/callscribe/callscribe/internal/utils"
	"github.com/callscribe/callscribe/internal/workers"
)

// WSHandler terminates the session socket. One socket serves dashboards and
// call participants alike: clients join call rooms and drive the session
// with typed frames.
type WSHandler struct {
	hub        *transport.Hub
	manager    *session.Manager
	redis      *redis.Client // optional; nil means single-node, in-process relay
	transcoder *transcode.Pipeline
	translator *translate.Client
	log        *logrus.Logger
	upgrader   websocket.Upgrader
}

func NewWSHandler(hub *transport.Hub, manager *session.Manager, rdb *redis.Client, transcoder *transcode.Pipeline, translator *translate.Client, log *logrus.Logger) *WSHandler {
	if log == nil {
		log = logrus.New()
	}
	return &WSHandler{
		hub:        hub,
		manager:    manager,
		redis:      rdb,
		transcoder: transcoder,
		translator: translator,
		log:        log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // TODO: restrict origin in prod
		},
	}
}

func (h *WSHandler) Socket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote the response in most cases
		return
	}
	defer conn.Close()

	client := h.hub.Register(conn)
	defer h.hub.Unregister(client)

	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, rerr := conn.ReadMessage()
		if rerr != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		var msg transport.ClientMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(client, utils.E(utils.CodeInvalidArgument, "WSHandler", "invalid json", err))
			continue
		}

		h.dispatch(c, client, msg)
	}
}

func (h *WSHandler) dispatch(c *gin.Context, client *transport.Client, msg transport.ClientMsg) {
	switch msg.Type {
	case transport.MsgJoin:
		h.handleJoin(client, msg)
	case transport.MsgStartCall:
		h.handleStartCall(c, client, msg)
	case transport.MsgEndCall:
		h.handleEndCall(c, client, msg)
	case transport.MsgTurnAcquire:
		h.handleTurnAcquire(client, msg)
	case transport.MsgTurnRelease:
		h.handleTurnRelease(client, msg)
	case transport.MsgPartial:
		h.handlePartial(client, msg)
	case transport.MsgCommit:
		h.handleCommit(client, msg, false)
	case transport.MsgCommitNow:
		h.handleCommit(client, msg, true)
	case transport.MsgAudio:
		h.handleAudio(c, client, msg)
	case transport.MsgAudioChunk:
		h.handleAudioChunk(client, msg)
	case transport.MsgTranslateLine:
		h.handleTranslateLine(c, client, msg)
	default:
		h.sendError(client, utils.E(utils.CodeInvalidArgument, "WSHandler", "unknown message type", nil))
	}
}

// handleJoin subscribes the client to a call room and replays the current
// session state so a late joiner starts consistent.
func (h *WSHandler) handleJoin(client *transport.Client, msg transport.ClientMsg) {
	if msg.CallID == "" {
		h.sendError(client, utils.E(utils.CodeInvalidArgument, "WSHandler.Join", "callId is required", nil))
		return
	}
	h.hub.Join(client, msg.CallID)

	ctl, err := h.manager.Get(msg.CallID)
	if err != nil {
		return // joined a finished call's room; history comes over REST
	}
	h.hub.Send(client, transport.Envelope{
		Type:       transport.EvtCallUpdated,
		CallID:     msg.CallID,
		Transcript: ctl.Store().Snapshot(),
	})
	h.hub.Send(client, transport.Envelope{
		Type:   transport.EvtTurnState,
		CallID: msg.CallID,
		Live:   ctl.Gate().Live(),
	})
}

func (h *WSHandler) handleStartCall(c *gin.Context, client *transport.Client, msg transport.ClientMsg) {
	ctl, call, err := h.manager.StartSession(c.Request.Context(), msg.From)
	if err != nil {
		h.sendError(client, err)
		return
	}

	// Mirror every turn transition into the room.
	callID := ctl.CallID
	ctl.Gate().Subscribe(func(st session.TurnState) {
		h.hub.BroadcastTurnState(callID, st.LiveSpeaker)
	})

	h.hub.Join(client, callID)
	h.hub.Send(client, transport.Envelope{
		Type:   transport.EvtCallUpdated,
		CallID: callID,
		Call:   call,
	})
}

func (h *WSHandler) handleEndCall(c *gin.Context, client *transport.Client, msg transport.ClientMsg) {
	ctl, err := h.manager.Get(msg.CallID)
	if err != nil {
		h.sendError(client, err)
		return
	}
	ctl.Stop(c.Request.Context())
}

func (h *WSHandler) handleTurnAcquire(client *transport.Client, msg transport.ClientMsg) {
	ctl, err := h.manager.Get(msg.CallID)
	if err != nil {
		h.sendError(client, err)
		return
	}
	if err := ctl.Gate().TryAcquire(msg.Speaker); err != nil {
		h.sendError(client, err)
		return
	}
}

func (h *WSHandler) handleTurnRelease(client *transport.Client, msg transport.ClientMsg) {
	ctl, err := h.manager.Get(msg.CallID)
	if err != nil {
		h.sendError(client, err)
		return
	}
	ctl.Gate().Release(msg.Speaker)
}

func (h *WSHandler) handlePartial(client *transport.Client, msg transport.ClientMsg) {
	ctl, err := h.manager.Get(msg.CallID)
	if err != nil {
		h.sendError(client, err)
		return
	}
	ctl.Aggregator().OnPartial(msg.Speaker, msg.Text)
}

func (h *WSHandler) handleCommit(client *transport.Client, msg transport.ClientMsg, manual bool) {
	ctl, err := h.manager.Get(msg.CallID)
	if err != nil {
		h.sendError(client, err)
		return
	}
	if manual {
		ctl.Aggregator().CommitNow(msg.Speaker)
		return
	}
	ctl.Aggregator().CommitAuto(msg.Speaker, msg.Text)
}

// handleAudio routes one captured utterance. With Redis the clip rides the
// relay stream so any node's workers can normalize and fan it out;
// single-node deployments transcode inline and broadcast directly.
func (h *WSHandler) handleAudio(c *gin.Context, client *transport.Client, msg transport.ClientMsg) {
	ctl, err := h.manager.Get(msg.CallID)
	if err != nil {
		h.sendError(client, err)
		return
	}
	if !msg.Speaker.Valid() {
		h.sendError(client, utils.E(utils.CodeInvalidArgument, "WSHandler.Audio", "speaker is required", nil))
		return
	}

	clip, err := transport.DecodeAudio(transport.Envelope{
		CallID:      msg.CallID,
		Speaker:     msg.Speaker,
		MimeType:    msg.MimeType,
		AudioBase64: msg.AudioBase64,
	})
	if err != nil || len(clip.Payload) == 0 {
		h.sendError(client, utils.E(utils.CodeInvalidArgument, "WSHandler.Audio", "audioBase64 is required", err))
		return
	}

	if h.redis != nil {
		if err := workers.PublishAudio(c.Request.Context(), h.redis, "", clip); err != nil {
			h.sendError(client, utils.E(utils.CodeUnavailable, "WSHandler.Audio", "failed to enqueue audio", err))
			return
		}
	} else {
		if h.transcoder != nil {
			clip = h.transcoder.Normalize(c.Request.Context(), clip)
		}
		h.hub.BroadcastAudio(clip)
	}

	h.hub.BroadcastRecordingComplete(ctl.CallID, msg.Speaker)
}

// handleAudioChunk feeds one live capture frame into the session's streaming
// recognizer. Chunks are transient: they drive partials and committed lines
// but are never relayed or stored as clips.
func (h *WSHandler) handleAudioChunk(client *transport.Client, msg transport.ClientMsg) {
	ctl, err := h.manager.Get(msg.CallID)
	if err != nil {
		h.sendError(client, err)
		return
	}
	if !msg.Speaker.Valid() {
		h.sendError(client, utils.E(utils.CodeInvalidArgument, "WSHandler.AudioChunk", "speaker is required", nil))
		return
	}

	chunk, err := base64.StdEncoding.DecodeString(msg.AudioBase64)
	if err != nil || len(chunk) == 0 {
		h.sendError(client, utils.E(utils.CodeInvalidArgument, "WSHandler.AudioChunk", "audioBase64 is required", err))
		return
	}

	if err := ctl.FeedAudio(msg.Speaker, chunk); err != nil {
		h.sendError(client, err)
	}
}

// handleTranslateLine annotates one committed line with a translation and
// re-broadcasts it. The translation is additive; the line's text, speaker
// and timestamp stay untouched.
func (h *WSHandler) handleTranslateLine(c *gin.Context, client *transport.Client, msg transport.ClientMsg) {
	ctl, err := h.manager.Get(msg.CallID)
	if err != nil {
		h.sendError(client, err)
		return
	}
	if msg.Target == "" {
		h.sendError(client, utils.E(utils.CodeInvalidArgument, "WSHandler.Translate", "target language is required", nil))
		return
	}

	snap := ctl.Store().Snapshot()
	if msg.Index < 0 || msg.Index >= len(snap) {
		h.sendError(client, utils.E(utils.CodeInvalidArgument, "WSHandler.Translate", "line index out of range", nil))
		return
	}

	out := h.translator.TranslateLines(c.Request.Context(), []string{snap[msg.Index].Text}, msg.Target)
	ctl.Store().Annotate(msg.Index, out[0])

	line := snap[msg.Index]
	line.Translation = out[0]
	h.hub.BroadcastLine(msg.CallID, line, ctl.Store().Snapshot())
}

func (h *WSHandler) sendError(client *transport.Client, err error) {
	e := transport.Envelope{Type: transport.EvtError, Code: string(utils.CodeInternal), Message: "internal error"}
	var ae *utils.AppError
	if errors.As(err, &ae) {
		e.Code = string(ae.Code)
		e.Message = ae.Message
	}
	h.hub.Send(client, e)
}
