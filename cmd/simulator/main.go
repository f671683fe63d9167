package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"schoolbus-tracker/internal/config"
	"schoolbus-tracker/internal/db"
	"schoolbus-tracker/internal/metrics"
	"schoolbus-tracker/internal/natsfeed"
	"schoolbus-tracker/internal/sim"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := cfg.RequireDatabase(); err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sqlDB, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	defer sqlDB.Close()
	if err := db.Ping(ctx, sqlDB); err != nil {
		log.Fatalf("db ping error: %v", err)
	}
	store := db.NewStore(sqlDB)

	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.Tracking.FlushInterval, cfg.Tracking.StaleAfter)
		srv := mcol.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	pub, err := natsfeed.Connect(cfg.NATSURL, "schoolbus-simulator", cfg.NATSSubject, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol))
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	defer pub.Close()

	now := time.Now().In(cfg.Location)
	trips, err := store.FetchTrips(ctx, now)
	if err != nil {
		log.Fatalf("fetch trips error: %v", err)
	}
	if len(trips) == 0 {
		log.Printf("no trips for %s", now.Format("2006-01-02"))
	}

	mgr := sim.NewManager(store, pub, cfg.PublishInterval, cfg.SpeedMultiplier, cfg.Location, cfg.TripsRefreshInterval, mcol)
	mgr.Start(ctx, trips)
	mgr.StartRefresher(ctx)

	<-ctx.Done()
	mgr.Stop()
	log.Println("shutdown complete")
}

func wrapPublisherMetrics(c *metrics.Collector) natsfeed.Metrics {
	if c == nil {
		return nil
	}
	return metrics.NATS{C: c}
}
