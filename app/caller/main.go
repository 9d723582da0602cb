// Command caller is a headless push-to-talk client for exercising a call
// end to end from a terminal: it dials the session socket, starts a call,
// and relays microphone audio while playing back whatever the operator
// sends.
package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/callscribe/callscribe/config"
	"github.com/callscribe/callscribe/internal/logger"
	"github.com/callscribe/callscribe/internal/models"
	"github.com/callscribe/callscribe/internal/relay"
	"github.com/callscribe/callscribe/internal/transport"
	"github.com/callscribe/callscribe/internal/utils"
)

// conn serializes writes on the socket; gorilla allows one writer at a time.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) send(msg transport.ClientMsg) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

// remoteGate satisfies relay.Gate over the socket: acquire is a round-trip
// confirmed by the server's turn-state broadcast, release is fire and forget.
type remoteGate struct {
	c      *conn
	callID string

	mu     sync.Mutex
	waiter chan error // non-nil while an acquire is in flight
}

func (g *remoteGate) TryAcquire(speaker models.Speaker) error {
	const op = "remoteGate.TryAcquire"

	ch := make(chan error, 1)
	g.mu.Lock()
	g.waiter = ch
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.waiter = nil
		g.mu.Unlock()
	}()

	if err := g.c.send(transport.ClientMsg{Type: transport.MsgTurnAcquire, CallID: g.callID, Speaker: speaker}); err != nil {
		return utils.E(utils.CodeUnavailable, op, "failed to request the turn", err)
	}

	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		return utils.E(utils.CodeUnavailable, op, "no turn-state reply from server", nil)
	}
}

func (g *remoteGate) Release(speaker models.Speaker) {
	_ = g.c.send(transport.ClientMsg{Type: transport.MsgTurnRelease, CallID: g.callID, Speaker: speaker})
}

// resolve completes a pending acquire from the reader goroutine.
func (g *remoteGate) resolve(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.waiter != nil {
		select {
		case g.waiter <- err:
		default:
		}
	}
}

// wsTransmitter ships finalized utterances as audio-message frames.
type wsTransmitter struct {
	c *conn
}

func (t *wsTransmitter) SendAudio(ctx context.Context, msg models.AudioMessage) error {
	return t.c.send(transport.ClientMsg{
		Type:        transport.MsgAudio,
		CallID:      msg.CallID,
		Speaker:     msg.Speaker,
		MimeType:    msg.MimeType,
		AudioBase64: base64.StdEncoding.EncodeToString(msg.Payload),
	})
}

func main() {
	_ = godotenv.Load()
	log := logger.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	url := os.Getenv("SERVER_WS_URL")
	if url == "" {
		url = "ws://localhost:8080/ws"
	}
	from := os.Getenv("CALLER_FROM")
	if from == "" {
		from = "console-caller"
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		log.WithError(err).Fatal("failed to dial session socket")
	}
	defer ws.Close()
	c := &conn{ws: ws}

	if err := c.send(transport.ClientMsg{Type: transport.MsgStartCall, From: from}); err != nil {
		log.WithError(err).Fatal("failed to start call")
	}

	// The first call-updated frame carries our call identity.
	callID, err := awaitCall(ws)
	if err != nil {
		log.WithError(err).Fatal("no call confirmation from server")
	}
	log.WithField("call_id", callID).Info("call started")

	gate := &remoteGate{c: c, callID: callID}
	queue := relay.NewPlaybackQueue(relay.NewFFplayPlayer(config.FFplayPath()), log)

	r := relay.NewAudioRelay(
		callID,
		models.SpeakerCaller,
		gate,
		relay.NewFFmpegCapture(config.FFmpegPath()),
		&wsTransmitter{c: c},
		queue,
		log,
	)
	defer r.Shutdown()

	go readLoop(ws, gate, r, log, cancel)

	fmt.Println("commands: t = talk, s = stop and send, q = hang up")
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		switch strings.TrimSpace(sc.Text()) {
		case "t":
			if err := r.StartCapture(ctx); err != nil {
				log.WithError(err).Warn("cannot talk yet")
			}
		case "s":
			if err := r.StopCapture(ctx); err != nil {
				log.WithError(err).Warn("send failed")
			}
		case "q":
			_ = r.StopCapture(ctx)
			_ = c.send(transport.ClientMsg{Type: transport.MsgEndCall, CallID: callID})
			return
		}
	}
}

func awaitCall(ws *websocket.Conn) (string, error) {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		_ = ws.SetReadDeadline(deadline)
		var e transport.Envelope
		if err := ws.ReadJSON(&e); err != nil {
			return "", err
		}
		if e.Type == transport.EvtCallUpdated && e.CallID != "" {
			return e.CallID, nil
		}
		if e.Type == transport.EvtError {
			return "", fmt.Errorf("%s: %s", e.Code, e.Message)
		}
	}
	return "", fmt.Errorf("timed out waiting for call confirmation")
}

func readLoop(ws *websocket.Conn, gate *remoteGate, r *relay.AudioRelay, log *logrus.Logger, cancel context.CancelFunc) {
	defer cancel()
	for {
		_ = ws.SetReadDeadline(time.Time{})
		var e transport.Envelope
		if err := ws.ReadJSON(&e); err != nil {
			log.WithError(err).Info("socket closed")
			return
		}

		switch e.Type {
		case transport.EvtTurnState:
			if e.Live == models.SpeakerCaller {
				gate.resolve(nil)
			}
		case transport.EvtError:
			if e.Code == string(utils.CodeChannelBusy) {
				gate.resolve(utils.E(utils.CodeChannelBusy, "remoteGate.TryAcquire", e.Message, nil))
				continue
			}
			log.WithFields(logrus.Fields{"code": e.Code, "message": e.Message}).Warn("server error")
		case transport.EvtAudioMessage:
			msg, err := transport.DecodeAudio(e)
			if err != nil {
				continue
			}
			r.OnAudioMessage(msg)
		case transport.EvtCallStatus:
			log.WithField("status", e.Status).Info("call status")
			if e.Status == string(models.CallStatusProcessing) {
				return
			}
		case transport.EvtCallAnalyzed:
			log.Info("call analyzed")
		}
	}
}
