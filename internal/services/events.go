package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jjudge-oj/marketplace/internal/logger"
	"github.com/jjudge-oj/marketplace/internal/mq"
	"github.com/jjudge-oj/marketplace/types"
)

const publishTimeout = 5 * time.Second

// Publisher is the subset of mq.MQ used to emit catalog events.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// Events publishes catalog events. A nil *Events drops everything.
type Events struct {
	pub     Publisher
	channel string
	now     func() time.Time
}

func NewEvents(pub Publisher, channel string) *Events {
	return &Events{pub: pub, channel: channel, now: time.Now}
}

// emit never fails the caller; broker errors are logged.
func (e *Events) emit(ctx context.Context, event types.CatalogEvent) {
	if e == nil || e.pub == nil {
		return
	}
	event.OccurredAt = e.now().UTC()

	log := logger.FromContext(ctx)
	data, err := json.Marshal(event)
	if err != nil {
		log.Warn().Err(err).Str("event", event.Type).Msg("failed to encode catalog event")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	id, err := e.pub.Publish(ctx, e.channel, data, map[string]string{
		mq.AttrContentType: "application/json",
		mq.AttrEventType:   event.Type,
	})
	if err != nil {
		log.Warn().Err(err).
			Str("event", event.Type).
			Int("product_id", event.ProductID).
			Msg("failed to publish catalog event")
		return
	}
	log.Debug().Str("event", event.Type).Str("message_id", id).Msg("catalog event published")
}
