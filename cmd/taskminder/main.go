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

	"taskminder/internal/auth"
	"taskminder/internal/clock"
	"taskminder/internal/config"
	"taskminder/internal/db"
	httpx "taskminder/internal/http"
	"taskminder/internal/jobs"
	"taskminder/internal/logger"
	"taskminder/internal/metrics"
	"taskminder/internal/notify"
	"taskminder/internal/reminder"
	"taskminder/internal/task"

	"golang.org/x/time/rate"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	defer func() { _ = log.Close() }()

	gdb, err := db.Connect(cfg.DatabaseURL, log)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() { _ = db.Close(gdb) }()
	if err := db.AutoMigrateAndIndexes(gdb); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	m := metrics.New()
	clk := clock.Real{}

	store := &jobs.Repo{
		DB:      gdb,
		Clock:   clk,
		Lease:   cfg.Dispatch.Lease,
		Channel: jobs.NotifyChannel,
	}
	scheduler := &reminder.Scheduler{
		Store:    store,
		Clock:    clk,
		Location: cfg.Location,
		Log:      log.WithComponent("scheduler"),
		Metrics:  m,
	}
	tasks := &task.Service{
		DB:       gdb,
		Hooks:    scheduler,
		Policy:   cfg.Policy,
		Location: cfg.Location,
		Log:      log.WithComponent("tasks"),
	}

	var notifier notify.Notifier = &notify.Log{Log: log.WithComponent("notify")}
	if cfg.SMTP.Host != "" {
		smtp, err := notify.NewSMTP(notify.SMTPConfig(cfg.SMTP))
		if err != nil {
			return err
		}
		notifier = smtp
	} else {
		log.Warn("SMTP_HOST not set, reminders will only be logged")
	}

	worker := &jobs.Worker{
		ID:            cfg.Dispatch.WorkerID,
		Store:         store,
		Notifier:      notifier,
		Clock:         clk,
		Log:           log.WithComponent("dispatcher"),
		Metrics:       m,
		Interval:      cfg.Dispatch.Interval,
		Concurrency:   cfg.Dispatch.Concurrency,
		NotifyTimeout: cfg.Dispatch.NotifyTimeout,
	}
	if cfg.Dispatch.Rate > 0 {
		worker.Limiter = rate.NewLimiter(rate.Limit(cfg.Dispatch.Rate), 1)
	}

	// polling still works without the listener, it only shortens the wait
	listener, err := jobs.Listen(cfg.DatabaseURL, jobs.NotifyChannel, log.WithComponent("listener"))
	if err != nil {
		log.Warnw("job listener unavailable, polling only", "error", err)
	} else {
		defer func() { _ = listener.Close() }()
		worker.Wake = listener.C()
	}

	jwtSvc := auth.NewJWT(cfg.JWTSecret, cfg.JWTTTL)
	r := httpx.NewRouter(cfg, httpx.Deps{
		DB:      gdb,
		JWT:     jwtSvc,
		Tasks:   tasks,
		Metrics: m,
		Log:     log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Infow("listening", "addr", cfg.HTTPAddr, "policy", cfg.Policy, "worker", cfg.Dispatch.WorkerID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	// graceful shutdown
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-ch:
		log.Infow("shutting down", "signal", sig.String())
	case err := <-srvErr:
		log.Errorw("http server failed", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("http shutdown", "error", err)
	}

	cancel()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		log.Warn("dispatcher did not stop in time")
	}
	return nil
}
