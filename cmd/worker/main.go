package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"grinder/internal/config"
	"grinder/internal/logging"
	"grinder/internal/worker"
	"grinder/internal/worker/executor"
	"grinder/pkg/report"
	"grinder/pkg/store"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to the config file (default configs/config.yaml)")
	speed := flag.Float64("speed", 1, "Speed-up factor for the effect executor")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// 1. Etcd
	etcdManager, err := store.NewEtcdManager(cfg.Etcd.Endpoints, logger.Zap())
	if err != nil {
		logger.Error("Failed to connect to etcd", zap.Error(err))
		os.Exit(1)
	}
	defer etcdManager.Close()

	// 2. Executor
	var exec executor.Executor
	switch cfg.Worker.Executor {
	case "docker":
		exec, err = executor.NewDockerExecutor(logger)
		if err != nil {
			logger.Error("Failed to init docker executor", zap.Error(err))
			os.Exit(1)
		}
	default:
		effect := executor.NewEffectExecutor(etcdManager, logger)
		effect.Speed = *speed
		exec = effect
	}

	var rep report.Reporter = report.Nop{}
	if cfg.Redis.Enabled {
		r, err := report.NewRedisReporter(report.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger.Zap().Named("redis"))
		if err != nil {
			logger.Warning("Result publishing disabled", zap.Error(err))
		} else {
			rep = r
		}
	}
	defer rep.Close()

	// 3. Agent
	agent := worker.NewAgent(worker.Config{
		ID:                cfg.Worker.ID,
		Capacity:          cfg.Worker.Capacity,
		Neighbors:         cfg.Worker.Neighbors,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
	}, etcdManager, exec, rep, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		agent.Run(ctx)
		close(done)
	}()

	// 4. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	cancel()
	<-done
}
