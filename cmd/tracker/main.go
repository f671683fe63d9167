package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"schoolbus-tracker/internal/api"
	"schoolbus-tracker/internal/config"
	"schoolbus-tracker/internal/db"
	"schoolbus-tracker/internal/feed"
	"schoolbus-tracker/internal/fleet"
	"schoolbus-tracker/internal/live"
	"schoolbus-tracker/internal/metrics"
	"schoolbus-tracker/internal/model"
	"schoolbus-tracker/internal/natsfeed"
	"schoolbus-tracker/internal/status"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := cfg.RequireDatabase(); err != nil {
		log.Fatalf("config error: %v", err)
	}

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
		// sharing the API address mounts /metrics on the API router instead
		if cfg.MetricsAddr != cfg.HTTPAddr {
			srv := mcol.Serve(cfg.MetricsAddr)
			defer shutdown(srv)
		}
	}

	positions := feed.New(wrapFeedMetrics(mcol))
	seed, err := store.FetchLatestPositions(ctx)
	if err != nil {
		log.Printf("seed positions error: %v", err)
	} else {
		positions.Ingest(seed)
		log.Printf("seeded %d bus positions", len(seed))
	}

	rules := fleet.Rules{
		Estimator:  status.NewEstimator(cfg.Tracking.LateAfterMinutes, cfg.Tracking.NearStartMeters, cfg.Location),
		Classifier: status.NewClassifier(cfg.Tracking.StaleAfter),
	}
	view := fleet.NewView(rules, nil, wrapFleetMetrics(mcol))
	detach := view.Attach(positions)
	defer detach()
	view.StartRefresher(ctx, store, cfg.TripsRefreshInterval)
	defer view.StopRefresher()
	go view.Run(ctx, cfg.Tracking.FlushInterval)

	nc, err := natsfeed.Connect(cfg.NATSURL, "schoolbus-tracker", cfg.NATSSubject, cfg.LogNATSSubjects, wrapNATSMetrics(mcol))
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	defer nc.Close()
	if err := nc.Subscribe(func(batch []model.VehiclePosition) { positions.Ingest(batch) }); err != nil {
		log.Fatalf("nats subscribe error: %v", err)
	}
	log.Printf("listening for positions on %s.>", cfg.NATSSubject)

	if cfg.HTTPAddr == "" {
		<-ctx.Done()
		log.Println("shutdown complete")
		return
	}

	hub := live.NewHub(api.FleetRenderer(view), wrapLiveMetrics(mcol))
	go hub.Run(ctx)
	view.OnChange(hub.Notify)
	go hub.NotifyEvery(ctx, cfg.Tracking.StaleAfter/2)

	opts := api.Options{CORSOrigins: cfg.CORSOrigins, AccessLog: true}
	if mcol != nil && cfg.MetricsAddr == cfg.HTTPAddr {
		opts.Metrics = mcol.Handler()
	}
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: api.NewRouter(view, hub, opts)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
			cancel()
		}
	}()
	log.Printf("http listening on %s", cfg.HTTPAddr)

	<-ctx.Done()
	shutdown(srv)
	log.Println("shutdown complete")
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func wrapFeedMetrics(c *metrics.Collector) feed.Metrics {
	if c == nil {
		return nil
	}
	return metrics.Feed{C: c}
}

func wrapFleetMetrics(c *metrics.Collector) fleet.Metrics {
	if c == nil {
		return nil
	}
	return metrics.Fleet{C: c}
}

func wrapNATSMetrics(c *metrics.Collector) natsfeed.Metrics {
	if c == nil {
		return nil
	}
	return metrics.NATS{C: c}
}

func wrapLiveMetrics(c *metrics.Collector) live.Metrics {
	if c == nil {
		return nil
	}
	return metrics.Live{C: c}
}
