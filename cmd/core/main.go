package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/discuno/discuno-sub000/internal/calcom"
	cons "github.com/discuno/discuno-sub000/internal/consumer"
	"github.com/discuno/discuno-sub000/internal/domain"
	httpx "github.com/discuno/discuno-sub000/internal/http"
	"github.com/discuno/discuno-sub000/internal/processor"
	"github.com/discuno/discuno-sub000/internal/repository"
	"github.com/discuno/discuno-sub000/internal/service"
	"github.com/discuno/discuno-sub000/internal/worker"
	"github.com/discuno/discuno-sub000/pkg/config"
	"github.com/discuno/discuno-sub000/pkg/db"
	"github.com/discuno/discuno-sub000/pkg/logger"
	"github.com/discuno/discuno-sub000/pkg/mq"
	"github.com/discuno/discuno-sub000/pkg/obs"
)

func must[T any](v T, err error) T {
	if err != nil {
		log.Fatal(err)
	}
	return v
}

func main() {
	cfg := must(config.Load())
	zl := must(logger.New(cfg.Env))
	defer func() { _ = zl.Sync() }()

	shutdownTracer := obs.InitTracer("scheduling-core")
	defer func() { _ = shutdownTracer(context.Background()) }()

	// DB + repositories
	gdb := must(db.Open(cfg.PGCoreDSN))
	credRepo := repository.NewCredentialRepo(gdb)
	bookingRepo := repository.NewBookingRepo(gdb)
	paymentRepo := repository.NewPaymentRepo(gdb)
	rankingRepo := repository.NewRankingRepo(gdb)
	accountRepo := repository.NewAccountRepo(gdb)
	must(0, errJoin(
		credRepo.Migrate(),
		bookingRepo.Migrate(),
		paymentRepo.Migrate(),
		rankingRepo.Migrate(),
		accountRepo.Migrate(),
	))

	// MQ
	pub := must(mq.NewPublisher(cfg.RabbitURL, cfg.CoreExchange))
	defer pub.Close()
	analyticsCons := must(mq.NewConsumer(cfg.RabbitURL, cfg.AnalyticsExchange, cfg.AnalyticsQueue, cons.RoutingKeys(), cfg.RankingBatchSize))
	defer analyticsCons.Close()

	// External clients
	calClient := calcom.NewClient(cfg.CalBaseURL, cfg.CalAuthURL, cfg.CalClientID, cfg.CalClientSecret, cfg.CalRedirectURL)
	procClient := processor.NewClient(cfg.StripeBaseURL, cfg.StripeSecretKey)

	// Services
	tokens := service.NewTokenManager(credRepo, calClient, zl)
	sync := service.NewSynchronizer(bookingRepo, tokens, calClient, pub, zl)
	settlement := service.NewSettlement(paymentRepo, accountRepo, procClient, domain.FeePolicy{
		PlatformBps: cfg.PlatformFeeBps,
		PlatformMin: cfg.PlatformFeeMin,
	}, time.Duration(cfg.DisputeWindowDays)*24*time.Hour, pub, zl)
	ranker := service.NewRanker(rankingRepo, map[domain.AnalyticsEventType]float64{
		domain.EventProfileView:      cfg.WeightProfileView,
		domain.EventBookingCompleted: cfg.WeightBookingCompleted,
		domain.EventReviewReceived:   cfg.WeightReviewReceived,
	}, cfg.RankingDecayFactor, cfg.RankingBatchSize, zl)
	availability := service.NewAvailabilityMapper(tokens, calClient)
	eventTypes := service.NewEventTypes(accountRepo, accountRepo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Analytics consumer
	ac := cons.NewAnalyticsConsumer(ranker, analyticsCons, zl)
	must(0, ac.Run(ctx))
	zl.Info("analytics consumer started", zap.String("queue", cfg.AnalyticsQueue))

	// Batch worker
	w := worker.New(settlement, ranker, cfg.TransferInterval, cfg.RankingInterval, cfg.DecayInterval, zl)
	go w.Start(ctx)

	// HTTP
	server := httpx.NewServer(sync, settlement, ranker, availability, tokens, eventTypes, cfg.CalWebhookToken, cfg.JWTSecret, zl)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: server.Router()}
	go func() {
		zl.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("http server", zap.Error(err))
		}
	}()

	// graceful shutdown
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)
	zl.Info("stopped")
}

func errJoin(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
