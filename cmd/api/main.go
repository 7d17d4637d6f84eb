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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"carewatch-backend/internal/alerts"
	"carewatch-backend/internal/api"
	"carewatch-backend/internal/bus"
	"carewatch-backend/internal/config"
	"carewatch-backend/internal/lock"
	"carewatch-backend/internal/rules"
	"carewatch-backend/internal/storage"
	"carewatch-backend/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := log.Init(log.Config{
		Level:        cfg.Logger.Level,
		Mode:         cfg.Logger.Mode,
		Encoding:     cfg.Logger.Encoding,
		ColorEnabled: cfg.Logger.ColorEnabled,
		Service:      "carewatch-api",
	})
	defer func() { _ = logger.Sync() }()
	ctx := context.Background()

	store, err := storage.NewStore(ctx, cfg.Postgres.DSN)
	if err != nil {
		logger.Fatalf(ctx, "api: connect postgres: %v", err)
	}
	defer store.Close()

	publisher, err := bus.NewPublisher(cfg.NATS.URL)
	if err != nil {
		logger.Fatalf(ctx, "api: connect nats: %v", err)
	}
	defer publisher.Close()

	var locker lock.Locker = lock.NewLocal()
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer client.Close()
		locker = lock.NewRedis(client, cfg.Redis.LockTTL, logger)
	}

	manager := alerts.NewManager(alerts.Options{
		Store:    storage.NewAlertRepository(store),
		Locker:   locker,
		Observer: bus.NewAlertObserver(publisher, logger),
		SLA:      alerts.SLAPolicy{Critical: cfg.SLA.Critical, High: cfg.SLA.High, Medium: cfg.SLA.Medium},
		Logger:   logger,
	})
	handler := &api.Handler{
		Alerts:     manager,
		Rules:      storage.NewRuleRepository(store),
		Registry:   rules.DefaultRegistry(),
		Deliveries: storage.NewDeliveryRepository(store),
		Bus:        publisher,
		Timeout:    cfg.Server.RequestTimeout,
		Logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	logger.Infof(ctx, "api: listening on :%s", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf(ctx, "api: server error: %v", err)
	}
}
