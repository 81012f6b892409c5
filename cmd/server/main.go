package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tablematch/tablematch/internal/cleanup"
	"github.com/tablematch/tablematch/internal/config"
	"github.com/tablematch/tablematch/internal/events"
	"github.com/tablematch/tablematch/internal/lifecycle"
	"github.com/tablematch/tablematch/internal/presence"
	"github.com/tablematch/tablematch/internal/reconcile"
	"github.com/tablematch/tablematch/internal/server"
	"github.com/tablematch/tablematch/internal/service"
	"github.com/tablematch/tablematch/internal/storage/sqlite"
	"github.com/tablematch/tablematch/internal/venue"
	"github.com/tablematch/tablematch/pkg/logging"
)

func main() {
	logging.Setup()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("Storage initialized", "database", cfg.DBPath)

	var pub events.Publisher
	if cfg.RabbitURL != "" {
		pub, err = events.NewAMQPPublisher(cfg.RabbitURL, cfg.EventExchange)
		if err != nil {
			slog.Error("Failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		slog.Info("Event publisher connected", "exchange", cfg.EventExchange)
	} else {
		pub = events.LogPublisher{}
		slog.Warn("RABBIT_URL not set, publishing events to log only")
	}
	defer pub.Close()

	machine := lifecycle.New(store, pub)

	finder := venue.NewHTTPFinder(cfg.VenueSearchURL, cfg.VenueTimeout)
	assigner := venue.NewAssigner(store, finder, pub, venue.Config{
		Timeout:     cfg.VenueTimeout,
		MaxAttempts: cfg.VenueMaxAttempts,
		LeadTime:    cfg.MeetingLeadTime,
	}, nil)
	worker := venue.NewWorker(assigner, 64)
	machine.OnConfirm(worker.Nudge)

	tracker := presence.NewTracker(store, presence.Thresholds{
		Connected: cfg.ConnectedWithin,
		Waiting:   cfg.WaitingWithin,
		Passive:   cfg.PassiveWithin,
	}, nil)

	rec := reconcile.New(store, machine, cfg.MinEmptyAge, nil)
	janitor := cleanup.New(store, machine, rec, worker, cleanup.Config{
		Interval:           cfg.CleanupInterval,
		AbandonAfter:       cfg.AbandonAfter,
		MinEmptyAge:        cfg.MinEmptyAge,
		CompleteAfter:      cfg.CompleteAfter,
		CompletedRetention: cfg.CompletedRetention,
		TriggerTTL:         cfg.TriggerTTL,
	})

	match := service.NewMatchService(store, machine, tracker, cfg.GroupCapacity, cfg.MatchRadiusKm)
	admin := service.NewAdminService(rec, janitor, machine)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go worker.Run(ctx)
	go janitor.Run(ctx)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.NewRouter(match, admin),
	}

	go func() {
		slog.Info("Server starting", "address", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown failed", "error", err)
	}
}
