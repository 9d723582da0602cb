package workers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/callscribe/callscribe/internal/models"
	"github.com/callscribe/callscribe/internal/observability"
	"github.com/callscribe/callscribe/internal/providers/stt"
	"github.com/callscribe/callscribe/internal/transcode"
)

// CommitSink receives server-side recognition results for clips that flow
// through the relay. Implemented by the session layer; optional.
type CommitSink interface {
	CommitRecognized(callID string, speaker models.Speaker, text string)
}

// RelayWorkerPool drains the relay stream: each entry is one captured
// utterance. Workers normalize the clip, fan it out on the call's pub/sub
// channel for delivery to the peer, and optionally run recognition so the
// transcript fills in even when the sending client has no local STT.
type RelayWorkerPool struct {
	Redis      *redis.Client
	Transcoder *transcode.Pipeline
	NumWorkers int

	STT     stt.Provider // optional
	Commits CommitSink   // optional

	Logger *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string
}

// PublishAudio enqueues a relay unit onto the stream. The payload is base64
// in the entry; the stream is capped so a slow consumer cannot grow it
// unbounded.
func PublishAudio(ctx context.Context, rdb *redis.Client, stream string, msg models.AudioMessage) error {
	if stream == "" {
		stream = "audio:relay"
	}
	return rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]any{
			"call_id":      msg.CallID,
			"speaker":      string(msg.Speaker),
			"mime_type":    msg.MimeType,
			"audio_base64": base64.StdEncoding.EncodeToString(msg.Payload),
		},
	}).Err()
}

// AudioChannel is the per-call pub/sub channel normalized clips fan out on.
func AudioChannel(callID string) string {
	return "call:" + callID + ":audio"
}

func (p *RelayWorkerPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Transcoder == nil {
		return errors.New("RelayWorkerPool missing dependency: Redis and Transcoder must be set")
	}
	if p.Stream == "" {
		p.Stream = "audio:relay"
	}
	if p.Group == "" {
		p.Group = "relay-workers"
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "c"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 5
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err() // ignore BUSYGROUP

	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		go p.runConsumer(ctx, consumer)
	}
	return nil
}

func (p *RelayWorkerPool) runConsumer(ctx context.Context, consumer string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if err == redis.Nil {
				continue
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				p.handleMsg(ctx, msg)
				_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
			}
		}
	}
}

func (p *RelayWorkerPool) handleMsg(ctx context.Context, msg redis.XMessage) {
	getStr := func(k string) string {
		v, ok := msg.Values[k]
		if !ok || v == nil {
			return ""
		}
		s, _ := v.(string)
		return s
	}

	callID := getStr("call_id")
	speaker := models.Speaker(getStr("speaker"))
	if callID == "" || !speaker.Valid() {
		return
	}

	log := p.Logger.WithFields(logrus.Fields{
		"redis_id": msg.ID,
		"call_id":  callID,
		"speaker":  speaker,
	})

	raw := getStr("audio_base64")
	if i := strings.Index(raw, ","); i >= 0 {
		raw = raw[i+1:] // strip data:...;base64,
	}
	payload, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(payload) == 0 {
		log.WithError(err).Warn("relay entry carries no decodable audio")
		return
	}

	clip := models.AudioMessage{
		CallID:   callID,
		Speaker:  speaker,
		MimeType: getStr("mime_type"),
		Payload:  payload,
	}
	clip = p.Transcoder.Normalize(ctx, clip)
	observability.RelayClips.WithLabelValues(clip.MimeType).Inc()

	out, _ := json.Marshal(map[string]any{
		"type":        "audio-message",
		"callId":      clip.CallID,
		"speaker":     clip.Speaker,
		"mimeType":    clip.MimeType,
		"audioBase64": base64.StdEncoding.EncodeToString(clip.Payload),
	})
	if err := p.Redis.Publish(ctx, AudioChannel(callID), string(out)).Err(); err != nil {
		log.WithError(err).Warn("audio fan-out publish failed")
	}

	if p.STT == nil || p.Commits == nil {
		return
	}

	text, conf, err := p.STT.Transcribe(ctx, clip.Payload, "")
	if err != nil {
		log.WithError(err).Warn("server-side recognition failed")
		return
	}
	if strings.TrimSpace(text) == "" {
		return
	}
	log.WithFields(logrus.Fields{"confidence": conf}).Debug("clip recognized")
	p.Commits.CommitRecognized(callID, speaker, text)
}
