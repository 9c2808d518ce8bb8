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

	"github.com/richardliu001/subscription-webhooks/internal/config"
	"github.com/richardliu001/subscription-webhooks/internal/dispatch"
	"github.com/richardliu001/subscription-webhooks/internal/logger"
	"github.com/richardliu001/subscription-webhooks/internal/model"
	"github.com/richardliu001/subscription-webhooks/internal/notify"
	"github.com/richardliu001/subscription-webhooks/internal/pkg/clock"
	"github.com/richardliu001/subscription-webhooks/internal/repo"
	"github.com/richardliu001/subscription-webhooks/internal/scheduler"
	"github.com/richardliu001/subscription-webhooks/internal/service"
	httptransport "github.com/richardliu001/subscription-webhooks/internal/transport/http"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	// 1. load config
	cfg, err := config.Load(configPath())
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(model.All()...); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}
	defer rdb.Close()

	// 5. kafka writer
	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	defer kw.Close()

	// 6. repo, dispatcher & service
	clk := clock.NewRealClock()
	repository := repo.NewRepository(gdb, rdb, clk, log)
	notifier := notify.NewBestEffort(notify.NewKafkaSender(kw), 10*time.Second, log)
	dispatcher := dispatch.NewDispatcher(repository, notifier, clk, log)
	svc := service.NewWebhookService(repository, repository, dispatcher, log).
		WithSweepBatch(cfg.Scheduler.SweepBatch)
	maint := service.NewMaintenance(repository, repository, clk,
		time.Duration(cfg.Scheduler.EventRetentionDays)*24*time.Hour, log)

	// 7. scheduler
	sched := scheduler.New(clk, cfg.Scheduler.Tick, log)
	mustRegister(log.Fatalf, sched.AddIntervalJob("retry-sweep", cfg.Scheduler.SweepInterval, svc.SweepJob))
	mustRegister(log.Fatalf, sched.AddDailyJob("expire-lapsed-subscriptions", *cfg.Scheduler.ExpireHourUTC, maint.ExpireLapsedSubscriptions))
	mustRegister(log.Fatalf, sched.AddDailyJob("prune-processed-events", *cfg.Scheduler.PruneHourUTC, maint.PruneProcessedEvents))
	mustRegister(log.Fatalf, sched.AddDailyJob("report-failed-events", *cfg.Scheduler.ReportHourUTC, maint.ReportFailedEvents))
	sched.Start(ctx)

	// 8. gin router
	router := httptransport.NewRouter(svc, sched, repository, httptransport.Options{
		RateLimit:  cfg.RateLimit,
		AdminToken: cfg.Admin.Token,
	}, log)

	// 9. serve
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Infof("webhook-server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("http shutdown: %v", err)
	}
	sched.Stop()
	notifier.Wait()
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "internal/config/config.yaml"
}

func mustRegister(fatalf func(string, ...interface{}), err error) {
	if err != nil {
		fatalf("register job: %v", err)
	}
}
