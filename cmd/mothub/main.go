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
	"MotPad/service/hub"
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
	log := logger.Named("hub")

	if cfg.Hub.Secret == "" {
		log.Fatal("hub.secret is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb redis.UniversalClient
	if cfg.Redis.Enabled {
		c, err := motredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("redis init failed", zap.Error(err))
		}
		defer c.Close()
		rdb = c
	}

	gin.SetMode(gin.ReleaseMode)
	srv := hub.NewServer(hub.OptionsFromConfig(cfg.Hub, rdb, log))

	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run(ctx) }()

	httpSrv := &http.Server{Addr: cfg.Hub.Addr, Handler: srv.Engine()}
	go func() {
		log.Info("hub listening", zap.String("addr", cfg.Hub.Addr), zap.String("hub", cfg.Hub.Name), zap.Bool("redis", rdb != nil))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("hub server stopped", zap.Error(err))
			stop()
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-runErr:
		if err != nil {
			log.Error("hub fanout stopped", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("hub shutdown", zap.Error(err))
	}
	srv.Close()
	log.Info("hub stopped")
}
