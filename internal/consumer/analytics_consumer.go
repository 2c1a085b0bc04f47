package consumer

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/discuno/discuno-sub000/internal/domain"
	"github.com/discuno/discuno-sub000/internal/service"
	"github.com/discuno/discuno-sub000/pkg/mq"
)

// routing key -> event type
var routingEvents = map[string]domain.AnalyticsEventType{
	"analytics.profile_viewed":    domain.EventProfileView,
	"analytics.booking_completed": domain.EventBookingCompleted,
	"analytics.review_received":   domain.EventReviewReceived,
}

// RoutingKeys lists the bindings this consumer needs on its queue.
func RoutingKeys() []string {
	keys := make([]string, 0, len(routingEvents))
	for k := range routingEvents {
		keys = append(keys, k)
	}
	return keys
}

type analyticsEvent struct {
	MentorID string `json:"mentor_id"`
	ActorID  string `json:"actor_id"`
}

// AnalyticsConsumer appends inbound analytics events to the ranking store.
// Scoring happens in the ranker's batch pass, not here.
type AnalyticsConsumer struct {
	ranker *service.Ranker
	cons   *mq.Consumer
	log    *zap.Logger
}

func NewAnalyticsConsumer(ranker *service.Ranker, cons *mq.Consumer, log *zap.Logger) *AnalyticsConsumer {
	return &AnalyticsConsumer{ranker: ranker, cons: cons, log: log}
}

func (c *AnalyticsConsumer) Run(ctx context.Context) error {
	msgs, err := c.cons.Deliveries(ctx)
	if err != nil {
		return err
	}
	go func() {
		for d := range msgs {
			et, ok := routingEvents[d.RoutingKey]
			if !ok {
				_ = d.Ack(false)
				continue
			}
			var evt analyticsEvent
			if err := json.Unmarshal(d.Body, &evt); err != nil || evt.MentorID == "" {
				c.log.Warn("dropping unparseable analytics event",
					zap.String("routing_key", d.RoutingKey), zap.Error(err))
				_ = d.Ack(false)
				continue
			}
			var actor *string
			if evt.ActorID != "" {
				actor = &evt.ActorID
			}
			if err := c.ranker.Ingest(ctx, evt.MentorID, actor, et); err != nil {
				c.log.Error("ingest analytics event", zap.Error(err))
				_ = d.Nack(false, true)
				continue
			}
			_ = d.Ack(false)
		}
	}()
	return nil
}
