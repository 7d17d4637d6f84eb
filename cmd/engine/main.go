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

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"carewatch-backend/internal/alerts"
	"carewatch-backend/internal/bus"
	"carewatch-backend/internal/config"
	"carewatch-backend/internal/escalation"
	"carewatch-backend/internal/lock"
	"carewatch-backend/internal/notify"
	"carewatch-backend/internal/observations"
	"carewatch-backend/internal/retry"
	"carewatch-backend/internal/rules"
	"carewatch-backend/internal/scheduler"
	"carewatch-backend/internal/security"
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
		Service:      "carewatch-engine",
	})
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatalf(ctx, "engine: %v", err)
	}
	logger.Infof(ctx, "engine: stopped")
}

func run(ctx context.Context, cfg *config.Config, logger log.Logger) error {
	store, err := storage.NewStore(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()
	alertRepo := storage.NewAlertRepository(store)
	ruleRepo := storage.NewRuleRepository(store)
	deliveryRepo := storage.NewDeliveryRepository(store)

	publisher, err := bus.NewPublisher(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer publisher.Close()
	subscriber, err := bus.NewSubscriber(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer subscriber.Close()

	locker, closeLocker, err := buildLocker(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	source, err := buildSource(ctx, cfg.Observations)
	if err != nil {
		return err
	}
	defer source.Close()

	book := scheduler.NewRuleBook(rules.DefaultRegistry(), ruleRepo, cfg.Rules.File, logger)
	if _, err := book.Reload(ctx); err != nil {
		logger.Warnf(ctx, "engine: initial rule load: %v", err)
	}

	dispatcher, err := buildDispatcher(cfg, deliveryRepo, publisher, logger)
	if err != nil {
		return err
	}
	queueCtx, cancelQueue := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelQueue()
	queue := notify.NewQueue(dispatcher, cfg.Engine.NotifyQueueLength, cfg.Engine.NotifyWorkers, logger)
	queue.Start(queueCtx)

	manager := alerts.NewManager(alerts.Options{
		Store:            alertRepo,
		Locker:           locker,
		Notifier:         queue,
		Observer:         bus.NewAlertObserver(publisher, logger),
		SLA:              alerts.SLAPolicy{Critical: cfg.SLA.Critical, High: cfg.SLA.High, Medium: cfg.SLA.Medium},
		AutoResolveGrace: cfg.Engine.AutoResolveGrace,
		Logger:           logger,
	})
	orchestrator := scheduler.NewOrchestrator(scheduler.Options{
		Source:     source,
		Rules:      book,
		Manager:    manager,
		Limits:     cfg.Observations.Limits(),
		Retry:      retry.DefaultPolicy(),
		Workers:    cfg.Engine.WorkerCount,
		JobTimeout: cfg.Engine.JobTimeout,
		Interval:   cfg.Engine.EvaluateInterval,
		Location:   cfg.Location(),
		Logger:     logger,
	})
	reconcileAtStart(ctx, manager, logger)
	escalator := escalation.NewScheduler(manager, book, queue, cfg.Engine.EscalateInterval, nil, logger)

	if _, err := subscriber.SubscribeRules(func(evt bus.RuleEvent) {
		reloadCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		logger.Infof(reloadCtx, "engine: %s for rule %s, reloading", evt.Action, evt.RuleID)
		if _, err := book.Reload(reloadCtx); err != nil {
			logger.Errorf(reloadCtx, "engine: reload after %s: %v", evt.Action, err)
		}
	}); err != nil {
		return fmt.Errorf("subscribe rule events: %w", err)
	}

	adminSrv := &http.Server{
		Addr:              ":" + cfg.Admin.Port,
		Handler:           newAdmin(book, escalator, store, logger).routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orchestrator.Run(gctx) })
	g.Go(func() error { return escalator.Run(gctx) })
	g.Go(func() error { return reloadLoop(gctx, book, cfg.Rules.ReloadInterval, logger) })
	if cfg.Rules.File != "" {
		g.Go(func() error {
			err := rules.Watch(gctx, cfg.Rules.File, logger, func(defs []rules.Definition) {
				book.ReplaceFile(gctx, defs)
			})
			if err != nil {
				logger.Errorf(gctx, "engine: rules file watch disabled: %v", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		logger.Infof(gctx, "engine: admin listening on :%s", cfg.Admin.Port)
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return adminSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	queue.Close()
	return err
}

type reconciler interface {
	Reconcile(ctx context.Context) (int, error)
}

// reconcileAtStart repairs duplicate open instances left by a previous run before any sweep.
func reconcileAtStart(ctx context.Context, r reconciler, logger log.Logger) int {
	n, err := r.Reconcile(ctx)
	if err != nil {
		logger.Warnf(ctx, "engine: startup reconcile: %v", err)
		return n
	}
	if n > 0 {
		logger.Warnf(ctx, "engine: startup reconcile cancelled %d duplicate instances", n)
	}
	return n
}

func reloadLoop(ctx context.Context, book *scheduler.RuleBook, interval time.Duration, logger log.Logger) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := book.Reload(ctx); err != nil {
				logger.Warnf(ctx, "engine: periodic rule reload: %v", err)
			}
		}
	}
}

// buildLocker returns the Redis lock when REDIS_ADDR is set, else an in-process lock.
func buildLocker(ctx context.Context, cfg config.RedisConfig, logger log.Logger) (lock.Locker, func(), error) {
	if cfg.Addr == "" {
		logger.Infof(ctx, "engine: REDIS_ADDR not set, using in-process dedupe lock")
		return lock.NewLocal(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	return lock.NewRedis(client, cfg.LockTTL, logger), func() { _ = client.Close() }, nil
}

func buildSource(ctx context.Context, cfg config.ObservationsConfig) (observations.Source, error) {
	mapping := observations.DefaultMapping()
	if cfg.MappingFile != "" {
		loaded, err := observations.LoadMapping(cfg.MappingFile)
		if err != nil {
			return nil, err
		}
		mapping = loaded
	}
	source, err := observations.NewSource(ctx, observations.Options{
		Type:      cfg.Type,
		DSN:       cfg.DSN,
		Mapping:   mapping,
		Allowlist: security.Allowlist{Tables: cfg.AllowedTables},
		Limits:    cfg.Limits(),
	})
	if err != nil {
		return nil, fmt.Errorf("observation source: %w", err)
	}
	return source, nil
}

func buildDispatcher(cfg *config.Config, recorder notify.DeliveryRecorder, publisher *bus.Publisher, logger log.Logger) (*notify.Dispatcher, error) {
	directory, err := notify.LoadDirectory(cfg.Notify.RecipientsFile)
	if err != nil {
		return nil, err
	}
	// unconfigured channels stay unregistered and are recorded as failed deliveries
	channels := []notify.Channel{notify.PhoneChannel{}}
	if cfg.Notify.SMTP.Host != "" {
		channels = append(channels, notify.NewEmailChannel(notify.EmailConfig{
			Host:     cfg.Notify.SMTP.Host,
			Port:     cfg.Notify.SMTP.Port,
			User:     cfg.Notify.SMTP.User,
			Password: cfg.Notify.SMTP.Password,
			From:     cfg.Notify.SMTP.From,
		}, nil))
	}
	if cfg.Notify.SMS.GatewayURL != "" {
		channels = append(channels, notify.NewSMSChannel(notify.SMSConfig{
			GatewayURL: cfg.Notify.SMS.GatewayURL,
			APIKey:     cfg.Notify.SMS.APIKey,
			Sender:     cfg.Notify.SMS.Sender,
		}, &http.Client{Timeout: cfg.Notify.Timeout}))
	}
	if cfg.Notify.PushEnabled {
		channels = append(channels, notify.NewPushChannel(publisher))
	}
	return notify.NewDispatcher(notify.Options{
		Channels:       channels,
		Directory:      directory,
		Recorder:       recorder,
		Retry:          retry.Policy{Attempts: cfg.Notify.Attempts, Backoff: cfg.Notify.Backoff, MaxBackoff: 30 * time.Second},
		Timeout:        cfg.Notify.Timeout,
		RatePerSecond:  cfg.Notify.RatePerSecond,
		SupervisorRole: cfg.Engine.SupervisorRole,
		PushEnabled:    cfg.Notify.PushEnabled,
		Logger:         logger,
	}), nil
}
