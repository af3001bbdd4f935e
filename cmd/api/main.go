package main

import (
	"context"
	"errors"
	"fmt"
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
	"github.com/ariefcatur/go-tiffin-subscriptions/internal/postgres"
	"github.com/ariefcatur/go-tiffin-subscriptions/internal/reconcile"
	"github.com/ariefcatur/go-tiffin-subscriptions/internal/redisx"
	"github.com/ariefcatur/go-tiffin-subscriptions/internal/subscriptions"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tiffin-api",
		Short: "Tiffin subscription API",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
		},
	}
	root.AddCommand(newServeCmd(), newMigrateCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			db, err := postgres.Connect(ctx, cfg.PostgresDSN)
			if err != nil {
				return fmt.Errorf("db connect: %w", err)
			}
			defer db.Close()
			return postgres.Migrate(ctx, db)
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(config.Load())
		},
	}
}

func serve(cfg config.Config) error {
	log, err := logging.New(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()
	if cfg.MigrateOnStart {
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, subscriptions.TopicMealState, 1024, log.Named("producer"))
	prod.Start(ctx)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	orders := &subscriptions.OrderRepo{DB: db}
	ledger := &subscriptions.LedgerRepo{DB: db}
	svc := reconcile.New(
		orders,
		&subscriptions.CatalogRepo{DB: db},
		ledger,
		&subscriptions.SelectionRepo{DB: db, Lock: cfg.SelectionLock},
		cfg.DefaultMealTime,
		log,
		m,
	)
	if !cfg.SelectionLock {
		log.Warn("selection lock disabled; concurrent confirmations for one order may overwrite each other")
	}

	router := httpx.NewRouter(log.Named("http"), promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	(&httpx.MealsHandler{
		Ledger:     ledger,
		Reconciler: svc,
		Cache:      &redisx.StatusCache{R: rdb, TTL: cfg.StatusCacheTTL},
		Producer:   prod,
		Service:    cfg.ServiceName,
		Timeout:    cfg.RequestTimeout,
		Log:        log.Named("meals"),
		Metrics:    m,
	}).Register(router)
	(&httpx.OrdersHandler{
		Orders:  orders,
		Plans:   &subscriptions.PlanRepo{DB: db},
		Timeout: cfg.RequestTimeout,
		Log:     log.Named("orders"),
	}).Register(router)
	(&httpx.KitchenHandler{
		Kitchen: &kitchen.Service{Redis: rdb, Log: log.Named("kitchen")},
		Log:     log.Named("kitchen"),
	}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Info("shutting down", zap.String("signal", s.String()))
	case err = <-errc:
		log.Error("http server", zap.Error(err))
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close() // flush queued events and close the writer
	prod.WaitClosed()
	return err
}
