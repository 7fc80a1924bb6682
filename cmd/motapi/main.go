package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"MotPad/global/config"
	"MotPad/logger"
	"MotPad/service/api"
	"MotPad/service/natsx"
	"MotPad/service/publisher"
	motredis "MotPad/service/storage/redis"

	"github.com/gin-gonic/gin"
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
	log := logger.Named("api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr, err := natsx.NewNatsManager(cfg.Nats, logger.Named("natsx"))
	if err != nil {
		log.Fatal("nats init failed", zap.Error(err))
	}
	defer mgr.Close()

	var rdb redis.UniversalClient
	if cfg.Redis.Enabled {
		c, err := motredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("redis init failed", zap.Error(err))
		}
		defer c.Close()
		rdb = c
	}

	pub, err := publisher.FromConfig(cfg.Hub, rdb, logger.Named("publisher"))
	if err != nil {
		log.Fatal("publisher init failed", zap.Error(err))
	}
	if pub == nil {
		log.Warn("hub not configured, ack replies disabled")
	}

	gin.SetMode(gin.ReleaseMode)
	srv := api.NewServer(api.Options{
		Hub:             cfg.Hub,
		AckReplyEnabled: cfg.Ingress.AckReplyEnabled,
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
		Logger:          log,
	}, &natsx.NatsxSyncPublisher{P: mgr, Retries: 2, Backoff: 200 * time.Millisecond}, pub)

	httpSrv := &http.Server{Addr: cfg.HTTP.Addr, Handler: srv.Engine()}
	go func() {
		log.Info("api listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("api server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("api shutdown", zap.Error(err))
	}
	log.Info("api stopped")
}
