package transport

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Bridge subscribes to the cross-node channels and replays peer events into
// the local hub. It runs until ctx is cancelled.
type Bridge struct {
	rdb *redis.Client
	hub *Hub
	log *logrus.Logger
}

func NewBridge(rdb *redis.Client, hub *Hub, log *logrus.Logger) *Bridge {
	if log == nil {
		log = logrus.New()
	}
	return &Bridge{rdb: rdb, hub: hub, log: log}
}

// Run blocks on the pub/sub feed. The audio pattern covers the per-call
// channels the relay workers publish normalized clips on.
func (b *Bridge) Run(ctx context.Context) {
	pubsub := b.rdb.PSubscribe(ctx, EventsChannel, "call:*:audio")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var e Envelope
			if err := json.Unmarshal([]byte(m.Payload), &e); err != nil {
				b.log.WithError(err).WithField("channel", m.Channel).Debug("unparseable bridge payload")
				continue
			}
			if e.Type == "" {
				continue
			}
			b.hub.DeliverForeign(e)
		}
	}
}
