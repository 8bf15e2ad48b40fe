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
	"grinder/internal/master/environment"
	"grinder/internal/master/scheduler"
	"grinder/internal/master/status"
	"grinder/internal/metrics"
	"grinder/pkg/model"
	"grinder/pkg/report"
	"grinder/pkg/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to the config file (default configs/config.yaml)")
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

	// 1. Etcd holds nodes, targets and dispatches
	etcdManager, err := store.NewEtcdManager(cfg.Etcd.Endpoints, logger.Zap())
	if err != nil {
		logger.Error("Failed to connect to etcd", zap.Error(err))
		os.Exit(1)
	}
	defer etcdManager.Close()
	logger.Info("Connected to Etcd successfully.")

	schedCfg, err := cfg.Scheduler.Build()
	if err != nil {
		logger.Error("Invalid scheduler config", zap.Error(err))
		os.Exit(1)
	}
	env, err := environment.New(etcdManager, environment.Config{Home: schedCfg.Home, Payloads: cfg.PayloadSet()})
	if err != nil {
		logger.Error("Invalid environment", zap.Error(err))
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 2. Scheduler
	sched, err := scheduler.NewScheduler(env, schedCfg, logger, m)
	if err != nil {
		logger.Error("Failed to build scheduler", zap.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sched.Run(ctx)

	// 3. Status server
	srv := status.NewServer(cfg.Status.Addr, sched, etcdManager, reg, logger.Zap().Named("status"))
	go func() {
		if err := srv.Run(ctx); err != nil {
			logger.Error("Status server stopped", zap.Error(err))
		}
	}()

	// 4. Results feed from workers
	if cfg.Redis.Enabled {
		rep, err := report.NewRedisReporter(report.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger.Zap().Named("redis"))
		if err != nil {
			logger.Warning("Results feed disabled", zap.Error(err))
		} else {
			defer rep.Close()
			go func() {
				err := rep.Subscribe(ctx, func(r *model.Result) {
					m.ObserveResult(r)
					logger.Debug("[Result]", zap.String("dispatch", r.DispatchID), zap.String("op", string(r.Op)),
						zap.String("target", r.TargetID), zap.Float64("value", r.Value), zap.String("error", r.Error))
				})
				if err != nil {
					logger.Warning("Results feed stopped", zap.Error(err))
				}
			}()
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down master...")
}
