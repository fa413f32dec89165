package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dailydrive/config"
	"dailydrive/internal/api"
	"dailydrive/internal/db"
	"dailydrive/internal/mq"
	"dailydrive/internal/notifier"
	redisclient "dailydrive/internal/redis"
	"dailydrive/internal/repository"
	"dailydrive/internal/session"
	"dailydrive/internal/store"
	habitsync "dailydrive/internal/sync"
	"dailydrive/pkg/logger"
)

func main() {
	// 1. Load config
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	// 2. Resolve the tracked month (current calendar month unless pinned)
	year, month := cfg.Tracker.Year, cfg.Tracker.Month
	if year == 0 || month == 0 {
		now := time.Now()
		year, month = now.Year(), int(now.Month())
	}
	log.Info("Tracking month", zap.Int("year", year), zap.Int("month", month))

	// 3. Local store is mandatory: it is the durability guarantee
	local, err := store.OpenLocal(cfg.Local.Path, log)
	if err != nil {
		log.Fatal("Local store initialization failed", zap.Error(err))
	}
	defer local.Close()

	ctx := context.Background()

	// 4. Online infrastructure is best effort: the tracker must come up
	// even with the network stack down, so failures only log.
	var remote habitsync.RemoteStore
	pool, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Warn("Remote store unavailable, running local-only", zap.Error(err))
	} else {
		defer pool.Close()
		repo := repository.NewDatasetRepository(pool, log)
		if err := repo.EnsureSchema(ctx); err != nil {
			log.Warn("Remote schema check failed, running local-only", zap.Error(err))
		} else {
			remote = repo
		}
	}

	var producer habitsync.Publisher
	p, err := mq.NewProducer(cfg.MQ.URL)
	if err != nil {
		log.Warn("Change event producer unavailable", zap.Error(err))
	} else {
		defer p.Close()
		producer = p
	}

	rdb := redisclient.NewClient(cfg.Redis)
	defer rdb.Close()
	deduper := notifier.NewDeduper(rdb, time.Hour)
	subscriber := notifier.NewSubscriber(cfg.MQ.URL, local.DeviceID(), deduper, log)

	// 5. Reconciliation engine + session controller
	engine := habitsync.New(local, remote, producer, local.DeviceID(), year, month, log)
	controller := session.NewController(engine, subscriber, local, log)
	if err := controller.Start(ctx); err != nil {
		log.Warn("Session restore failed", zap.Error(err))
	}

	// 6. Handlers + router
	sessionHandler := api.NewSessionHandler(controller, cfg.JWT.Secret)
	datasetHandler := api.NewDatasetHandler(engine)
	statsHandler := api.NewStatsHandler(engine)
	router := api.NewRouter(sessionHandler, datasetHandler, statsHandler)

	// 7. Run server
	if err := router.Run(cfg.Server.Port); err != nil {
		log.Fatal("server start failed", zap.Error(err))
	}
}
