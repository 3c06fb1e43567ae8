package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"warmer/internal/ai"
	"warmer/internal/attendance"
	"warmer/internal/dedup"
	"warmer/internal/events"
	"warmer/internal/gateway"
	httpapi "warmer/internal/http"
	"warmer/internal/model"
	"warmer/internal/monitor"
	"warmer/internal/router"
	"warmer/internal/scheduler"
	"warmer/internal/sender"
	"warmer/internal/storage"
	"warmer/internal/wa"
)

const shutdownTimeout = 15 * time.Second

func serve(ctx context.Context) error {
	loc := cfg.Location()

	store, err := storage.Open(cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	manager, err := wa.NewManager(ctx, cfg.DB.WADSN, store, logger)
	if err != nil {
		return fmt.Errorf("open whatsmeow store: %w", err)
	}

	gw := gateway.New(cfg.Gateway.BaseURL, cfg.Gateway.BearerToken, cfg.Gateway.Timeout, logger)
	snd := sender.New(gw, manager, cfg.Sender.RatePerMinute, logger)

	var completer ai.Completer
	if cfg.Gemini.APIKey != "" {
		g, err := ai.NewGemini(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			return err
		}
		completer = g
	} else {
		logger.Warn("gemini.api_key not set, conversations use fallbacks and bots stay silent")
	}
	gen := ai.NewGenerator(completer, logger)

	sched := scheduler.New(store, snd, gen, logger, scheduler.Options{
		Location:  loc,
		StartHour: cfg.Warming.StartHour,
		EndHour:   cfg.Warming.EndHour,
	})
	defer sched.Stop()

	var seen dedup.Store
	if cfg.Redis.Addr != "" {
		rdb, err := dedup.OpenRedis(ctx, dedup.RedisConfig{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			return err
		}
		defer rdb.Close()
		seen = dedup.NewRedis(rdb, dedup.DefaultTTL)
		logger.Info("inbound de-duplication on redis", zap.String("addr", cfg.Redis.Addr))
	} else {
		seen = dedup.NewMemory(dedup.DefaultTTL)
	}

	att := attendance.New(store, snd, loc, logger)
	rt := router.New(store, snd, gen, completer, att, seen, logger, router.Options{Location: loc})
	defer rt.Close()
	// Devices disconnect before the router drains.
	defer manager.Close()

	manager.OnMessage(func(_ context.Context, msg model.InboundMessage) { rt.Go(msg) })
	manager.ConnectAll(ctx)

	var pub events.Publisher
	if cfg.Nats.URL != "" {
		nc, err := events.ConnectNATS(cfg.Nats.URL, logger)
		if err != nil {
			return err
		}
		defer func() { _ = nc.Drain() }()
		pub = nc
	}
	evlog := events.NewLog(pub, cfg.Nats.Subject, logger)

	mon := monitor.New(store, gw, manager, cfg.Monitor.Interval, logger)

	srv := &http.Server{
		Addr: cfg.HTTPAddr(),
		Handler: httpapi.NewRouter(httpapi.Deps{
			Store:      store,
			Attendance: att,
			Events:     evlog,
			Inbound:    rt,
			Warming:    sched,
			Pairing:    manager,
			Sessions:   gw,
			Status:     mon,
			Completer:  completer,
			Location:   loc,
			Logger:     logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mon.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("HTTP listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
