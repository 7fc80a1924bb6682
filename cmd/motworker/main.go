package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"MotPad/global/config"
	"MotPad/logger"
	"MotPad/service/model"
	"MotPad/service/natsx"
	"MotPad/service/publisher"
	"MotPad/service/storage"
	motredis "MotPad/service/storage/redis"
	"MotPad/service/worker"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var configPath = flag.String("config", "", "config file (json/yaml/toml)")

func main() {
	flag.Parse()
	if envPath := os.Getenv("MOT_CONFIG"); envPath != "" {
		*configPath = envPath
	}
	cfg := config.MustLoad(*configPath)
	logger.Init(cfg.Log.Level)
	defer logger.Sync()
	log := logger.Named("worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb redis.UniversalClient
	idem := natsx.NewMemIdem(cfg.Worker.IdemTTL)
	if cfg.Redis.Enabled {
		c, err := motredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("redis init failed", zap.Error(err))
		}
		defer c.Close()
		rdb = c
		idem = storage.NewRedisIdem(c, cfg.Worker.IdemTTL)
	}

	pub, err := publisher.FromConfig(cfg.Hub, rdb, logger.Named("publisher"))
	if err != nil {
		log.Fatal("publisher init failed", zap.Error(err))
	}
	if pub == nil {
		log.Fatal("no publish path: configure hub.endpoint/name/secret or enable redis")
	}

	mgr, err := natsx.NewNatsManager(cfg.Nats, logger.Named("natsx"),
		natsx.NatsxLogMiddleware(logger.Named("natsx")),
		natsx.NatsxIdemMiddleware(idem, worker.RequestKey, log),
	)
	if err != nil {
		log.Fatal("nats init failed", zap.Error(err))
	}
	defer mgr.Close()

	m := model.New(model.OptionsFromConfig(cfg.Model), logger.Named("model"))
	w := worker.New(worker.OptionsFromConfig(cfg.Worker), m, pub, idem, log)

	if err := w.Run(ctx, mgr); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker stopped", zap.Error(err))
		return
	}
	log.Info("worker stopped")
}
