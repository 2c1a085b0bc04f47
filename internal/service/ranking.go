package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/discuno/discuno-sub000/internal/domain"
)

type RankingStore interface {
	Append(ctx context.Context, ev *domain.AnalyticsEvent) error
	ProcessUnprocessed(ctx context.Context, limit int, weights map[domain.AnalyticsEventType]float64) (int, error)
	ApplyDecay(ctx context.Context, factor float64) error
	ScoreByMentor(ctx context.Context, mentorID string) (float64, error)
}

// Ranker consumes analytics events and maintains the discovery ranking
// aggregate. Event increments and periodic decay are independent
// operations; either may run first.
type Ranker struct {
	store     RankingStore
	weights   map[domain.AnalyticsEventType]float64
	decay     float64
	batchSize int
	log       *zap.Logger
}

func NewRanker(store RankingStore, weights map[domain.AnalyticsEventType]float64, decay float64, batchSize int, log *zap.Logger) *Ranker {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Ranker{store: store, weights: weights, decay: decay, batchSize: batchSize, log: log}
}

// Ingest appends one event; scoring happens later in ProcessBatch.
func (r *Ranker) Ingest(ctx context.Context, mentorID string, actorID *string, et domain.AnalyticsEventType) error {
	if _, ok := r.weights[et]; !ok {
		return &domain.MalformedWebhookError{Reason: "unknown analytics event type " + string(et)}
	}
	return r.store.Append(ctx, &domain.AnalyticsEvent{
		MentorID:  mentorID,
		ActorID:   actorID,
		EventType: et,
	})
}

// ProcessBatch drains up to one batch of unprocessed events.
func (r *Ranker) ProcessBatch(ctx context.Context) (int, error) {
	n, err := r.store.ProcessUnprocessed(ctx, r.batchSize, r.weights)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.Info("ranking batch processed", zap.Int("events", n))
	}
	return n, nil
}

// ApplyDecay multiplies every score by the configured factor.
func (r *Ranker) ApplyDecay(ctx context.Context) error {
	return r.store.ApplyDecay(ctx, r.decay)
}

func (r *Ranker) Score(ctx context.Context, mentorID string) (float64, error) {
	return r.store.ScoreByMentor(ctx, mentorID)
}
