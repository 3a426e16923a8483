// cmd/scheduler/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"popup-events/internal/common/config"
	"popup-events/internal/common/database"
	"popup-events/internal/common/logger"
	"popup-events/internal/push"
	"popup-events/internal/scheduler"
	"popup-events/internal/server"
	"popup-events/internal/store"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting popup-events scheduler...")

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	if err := database.RunMigrations(cfg.Database.Postgres.GetURL(), cfg.Database.Postgres.MigrationsPath); err != nil {
		zapLog.Fatal("migrations failed", zap.Error(err))
	}
	zapLog.Info("Database migrations applied")

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Stores ---
	events := store.NewEventStore(pg.GetDB())
	devices := store.NewDeviceStore(pg.GetDB())

	// --- Push transports ---
	var apns push.Transport
	if cfg.Push.APNs.Enabled {
		client, err := push.NewAPNsClient(cfg.Push.APNs, devices, log)
		if err != nil {
			zapLog.Fatal("apns client failed", zap.Error(err))
		}
		apns = client
		zapLog.Info("APNs client initialized")
	}

	var fcm push.Transport
	if cfg.Push.FCM.Enabled {
		client, err := push.NewFCMClient(ctx, cfg.Push.FCM, devices, log)
		if err != nil {
			zapLog.Fatal("fcm client failed", zap.Error(err))
		}
		fcm = client
		zapLog.Info("FCM client initialized")
	}

	fanout := push.NewFanout(devices, apns, fcm, log)

	// --- Scheduler ---
	loc, err := time.LoadLocation(cfg.Events.Timezone)
	if err != nil {
		zapLog.Fatal("invalid timezone", zap.String("timezone", cfg.Events.Timezone), zap.Error(err))
	}
	sched := scheduler.New(events, fanout, loc, log)
	lock := scheduler.NewTickLock(redis.Client)

	// --- Cron trigger ---
	c := cron.New()
	_, err = c.AddFunc(cfg.Events.TickInterval, func() {
		tickCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		ok, err := lock.Acquire(tickCtx)
		if err != nil {
			log.Error("acquire tick lock", map[string]interface{}{"error": err})
			return
		}
		if !ok {
			log.Debug("tick already running, skipping", nil)
			return
		}
		defer lock.Release(tickCtx)

		if _, err := sched.Tick(tickCtx, time.Now().UTC()); err != nil {
			log.Error("scheduled tick", map[string]interface{}{"error": err})
		}
	})
	if err != nil {
		zapLog.Fatal("invalid tick interval", zap.String("interval", cfg.Events.TickInterval), zap.Error(err))
	}
	c.Start()
	zapLog.Info("Notification cron started", zap.String("interval", cfg.Events.TickInterval))

	// --- HTTP server ---
	srv := server.New(*cfg, events, devices, sched, lock, fanout, pg, log)
	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      srv.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("http server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cronCtx := c.Stop()
	select {
	case <-cronCtx.Done():
	case <-shutdownCtx.Done():
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("http server shutdown", zap.Error(err))
	}

	zapLog.Info("Scheduler stopped gracefully")
}
