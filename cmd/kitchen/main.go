package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-tiffin-subscriptions/internal/config"
	"github.com/ariefcatur/go-tiffin-subscriptions/internal/httpx"
	kafkax "github.com/ariefcatur/go-tiffin-subscriptions/internal/kafka"
	"github.com/ariefcatur/go-tiffin-subscriptions/internal/kitchen"
	"github.com/ariefcatur/go-tiffin-subscriptions/internal/logging"
	"github.com/ariefcatur/go-tiffin-subscriptions/internal/metrics"
	"github.com/ariefcatur/go-tiffin-subscriptions/internal/redisx"
	"github.com/ariefcatur/go-tiffin-subscriptions/internal/subscriptions"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logging.New(cfg.LogLevel, cfg.ServiceName+"-kitchen")
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &kitchen.Service{
		Redis:   rdb,
		Log:     log.Named("kitchen"),
		Metrics: metrics.New(prometheus.DefaultRegisterer),
		Name:    cfg.KitchenGroup,
	}

	// metrics + health on the side
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpx.NewRouter(log.Named("http"), promhttp.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", zap.Error(err))
		}
	}()

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.KitchenGroup, subscriptions.TopicMealState, cfg.KitchenWorkers, log)

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("kitchen consumer started",
			zap.String("group", cfg.KitchenGroup),
			zap.String("topic", subscriptions.TopicMealState),
			zap.Int("workers", cfg.KitchenWorkers))
		if err := cons.Start(ctx, svc.HandleMealState); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Info("shutting down consumer")
	case <-ctx.Done():
	}
	cancel()
	<-done

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
}
