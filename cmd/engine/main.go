package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/crstnmac/FencePing-sub003/config"
	"github.com/crstnmac/FencePing-sub003/module/engine"
)

func main() {
	cfg := config.Load()

	log, err := config.NewLogger()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	db, err := config.NewPostgres(cfg)
	if err != nil {
		log.Fatal("postgres", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	amqpConn, err := config.NewRabbitMQ(cfg)
	if err != nil {
		log.Fatal("rabbitmq", zap.Error(err))
	}
	defer func() { _ = amqpConn.Close() }()

	mqttClient, err := config.NewMQTT(cfg)
	if err != nil {
		log.Fatal("mqtt", zap.Error(err))
	}
	defer mqttClient.Disconnect(250)

	rdb, err := config.NewRedis(cfg)
	if err != nil {
		log.Fatal("redis", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()

	mod, err := engine.Build(db, amqpConn, mqttClient, rdb, engine.Config{
		Partitions:           cfg.Partitions,
		PartitionBuffer:      cfg.PartitionBuffer,
		RetryAttempts:        cfg.RetryAttempts,
		RetryBackoff:         cfg.RetryBackoff,
		IndexRefreshInterval: cfg.IndexRefreshInterval,
		StateIdleTTL:         cfg.StateIdleTTL,
		MaxAccuracyMeters:    cfg.MaxAccuracyMeters,
		PersistAttempts:      cfg.PersistAttempts,
		PersistBackoff:       cfg.PersistBackoff,
	}, log)
	if err != nil {
		log.Fatal("build engine", zap.Error(err))
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	config.NewHealthChecker(db, amqpConn, mqttClient, rdb).Register(r)
	mod.RegisterRoutes(&r.RouterGroup)

	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return mod.RunWorkers(gctx)
	})
	g.Go(func() error {
		return mod.RunIndex(gctx)
	})
	g.Go(func() error {
		log.Info("listening", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down: stopping intake")
		mod.StopIntake()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := mod.StartSubscriber(); err != nil {
		log.Fatal("start subscriber", zap.Error(err))
	}
	log.Info("engine started",
		zap.Int("partitions", cfg.Partitions),
		zap.Duration("index_refresh", cfg.IndexRefreshInterval),
	)

	if err := g.Wait(); err != nil {
		log.Fatal("engine terminated", zap.Error(err))
	}
	log.Info("engine stopped cleanly")
}
