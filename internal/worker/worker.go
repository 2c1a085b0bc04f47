package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/discuno/discuno-sub000/internal/service"
)

// Worker drives the externally-triggered batch jobs on timers: transfer
// eligibility scans, ranking batches and score decay. Every job is safe to
// run concurrently with request traffic and with overlapping runs of
// itself (claims and SKIP LOCKED handle the overlap).
type Worker struct {
	settlement *service.Settlement
	ranker     *service.Ranker

	transferInterval time.Duration
	rankingInterval  time.Duration
	decayInterval    time.Duration

	log *zap.Logger
}

func New(settlement *service.Settlement, ranker *service.Ranker, transferInterval, rankingInterval, decayInterval time.Duration, log *zap.Logger) *Worker {
	return &Worker{
		settlement:       settlement,
		ranker:           ranker,
		transferInterval: transferInterval,
		rankingInterval:  rankingInterval,
		decayInterval:    decayInterval,
		log:              log,
	}
}

func (w *Worker) Start(ctx context.Context) {
	transfer := time.NewTicker(w.transferInterval)
	ranking := time.NewTicker(w.rankingInterval)
	decay := time.NewTicker(w.decayInterval)
	defer transfer.Stop()
	defer ranking.Stop()
	defer decay.Stop()

	w.log.Info("batch worker started",
		zap.Duration("transfer_interval", w.transferInterval),
		zap.Duration("ranking_interval", w.rankingInterval),
		zap.Duration("decay_interval", w.decayInterval))

	for {
		select {
		case <-ctx.Done():
			w.log.Info("batch worker shutting down")
			return
		case <-transfer.C:
			if n, err := w.settlement.RunTransferBatch(ctx); err != nil {
				w.log.Error("transfer batch", zap.Error(err))
			} else if n > 0 {
				w.log.Info("transfer batch complete", zap.Int("transferred", n))
			}
		case <-ranking.C:
			if _, err := w.ranker.ProcessBatch(ctx); err != nil {
				w.log.Error("ranking batch", zap.Error(err))
			}
		case <-decay.C:
			if err := w.ranker.ApplyDecay(ctx); err != nil {
				w.log.Error("ranking decay", zap.Error(err))
			}
		}
	}
}
