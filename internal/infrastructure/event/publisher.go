package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ordo/vendor-engine/internal/domain/vendor"
)

const (
	// ChannelHistoryFetch carries history fetch outcome events.
	ChannelHistoryFetch = "engine.history_fetch"
	// ChannelRelink carries relink-required events.
	ChannelRelink = "engine.relink"
)

// envelope is the wire form of a published event.
type envelope struct {
	Event      string    `json:"event"`
	OfficeID   string    `json:"office_id"`
	VendorID   string    `json:"vendor_id"`
	Slug       string    `json:"slug"`
	Created    int       `json:"created,omitempty"`
	Updated    int       `json:"updated,omitempty"`
	Error      string    `json:"error,omitempty"`
	Failures   int       `json:"failures,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RedisPublisher delivers engine events over redis pub/sub for the
// notification collaborator to pick up. Delivery is best effort: a publish
// failure is logged and swallowed, the engine operation already succeeded
// or failed on its own terms.
type RedisPublisher struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPublisher creates a redis-backed event publisher.
func NewRedisPublisher(client *redis.Client, logger *zap.Logger) *RedisPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{client: client, logger: logger}
}

// HistoryFetchSucceeded implements vendor.EventPublisher.
func (p *RedisPublisher) HistoryFetchSucceeded(ctx context.Context, res vendor.HistoryFetchResult) {
	p.publish(ctx, ChannelHistoryFetch, historyEnvelope(vendor.EventHistoryFetchSucceeded, res))
}

// HistoryFetchFailed implements vendor.EventPublisher.
func (p *RedisPublisher) HistoryFetchFailed(ctx context.Context, res vendor.HistoryFetchResult) {
	p.publish(ctx, ChannelHistoryFetch, historyEnvelope(vendor.EventHistoryFetchFailed, res))
}

// RelinkRequired implements vendor.EventPublisher.
func (p *RedisPublisher) RelinkRequired(ctx context.Context, ev vendor.RelinkRequiredEvent) {
	p.publish(ctx, ChannelRelink, envelope{
		Event:      vendor.EventRelinkRequired,
		OfficeID:   ev.OfficeID.String(),
		VendorID:   ev.VendorID.String(),
		Slug:       ev.Slug.String(),
		Failures:   ev.Failures,
		OccurredAt: time.Now(),
	})
}

func (p *RedisPublisher) publish(ctx context.Context, channel string, env envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("event payload marshal failed",
			zap.String("event", env.Event), zap.Error(err))
		return
	}
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		p.logger.Warn("event publish failed",
			zap.String("event", env.Event),
			zap.String("channel", channel),
			zap.Error(err))
	}
}

func historyEnvelope(name string, res vendor.HistoryFetchResult) envelope {
	occurred := res.FinishedAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	return envelope{
		Event:      name,
		OfficeID:   res.OfficeID.String(),
		VendorID:   res.VendorID.String(),
		Slug:       res.Slug.String(),
		Created:    res.Created,
		Updated:    res.Updated,
		Error:      res.Error,
		OccurredAt: occurred,
	}
}

var _ vendor.EventPublisher = (*RedisPublisher)(nil)
