// Command sweeper runs retry sweeps from the command line, for operators who
// need to drain the retry queue without waiting for the server's schedule.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardliu001/subscription-webhooks/internal/config"
	"github.com/richardliu001/subscription-webhooks/internal/dispatch"
	"github.com/richardliu001/subscription-webhooks/internal/logger"
	"github.com/richardliu001/subscription-webhooks/internal/notify"
	"github.com/richardliu001/subscription-webhooks/internal/pkg/clock"
	"github.com/richardliu001/subscription-webhooks/internal/repo"
	"github.com/richardliu001/subscription-webhooks/internal/service"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/segmentio/kafka-go"
)

func main() {
	cfgPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	loop := flag.Bool("loop", false, "keep sweeping until interrupted")
	every := flag.Duration("every", 0, "loop period, defaults to scheduler.sweep_interval")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}

	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	defer kw.Close()

	// no redis here: the processed cache is only an ingress shortcut
	clk := clock.NewRealClock()
	repository := repo.NewRepository(gdb, nil, clk, log)
	notifier := notify.NewBestEffort(notify.NewKafkaSender(kw), 10*time.Second, log)
	defer notifier.Wait()
	svc := service.NewWebhookService(repository, repository,
		dispatch.NewDispatcher(repository, notifier, clk, log), log).
		WithSweepBatch(cfg.Scheduler.SweepBatch)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !*loop {
		rep, err := svc.Sweep(ctx)
		if err != nil {
			log.Errorf("sweep: %v", err)
			return
		}
		log.Infow("sweep done", "picked", rep.Picked, "succeeded", rep.Succeeded, "rescheduled", rep.Rescheduled, "dead", rep.Dead)
		return
	}

	period := *every
	if period <= 0 {
		period = cfg.Scheduler.SweepInterval
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	log.Infof("webhook-sweeper started, every %s", period)
	for {
		if _, err := svc.Sweep(ctx); err != nil {
			log.Errorf("sweep: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
