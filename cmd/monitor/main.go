// Package main 是资金盘口流动性监控器的入口点。
// 周期性抓取 Bitfinex 资金盘口快照，聚合为双边深度视图，
// 并对用户定义的利率阈值告警进行评估，通过 HTTP/WebSocket 对外展示。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"funding-depth-monitor/internal/alertstore"
	"funding-depth-monitor/internal/config"
	"funding-depth-monitor/internal/core/cycle"
	"funding-depth-monitor/internal/core/normalize"
	"funding-depth-monitor/internal/core/store"
	"funding-depth-monitor/internal/metrics"
	"funding-depth-monitor/internal/output/jsonl"
	"funding-depth-monitor/internal/output/ws"
	"funding-depth-monitor/internal/server"
	"funding-depth-monitor/internal/source/bitfinex"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "配置文件路径（为空时只使用默认值与环境变量）")
	flag.Parse()

	// .env 可选
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.App.LogLevel).With(zap.String("app", cfg.App.Name))
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("监控器异常退出", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 捕获 SIGINT/SIGTERM，触发优雅退出
	sigCh := make(chan os.Signal, 2)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("收到退出信号，开始优雅关闭")
		cancel()
	}()

	schema, err := normalize.ParseSchema(cfg.Source.Schema)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	alertStore, closeStore, err := openAlertStore(ctx, cfg.Alerts)
	if err != nil {
		return err
	}
	defer closeStore()

	registry, err := alertstore.NewRegistry(ctx, alertStore, logger)
	if err != nil {
		return err
	}

	latest := store.New()
	hub := ws.NewHub(logger)
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go hub.Run(hubCtx)

	publishers := cycle.Publishers{latest, hub}

	var recorder *jsonl.Recorder
	if cfg.Output.CyclesEnabled {
		recorder, err = jsonl.NewRecorder(cfg.Output.Dir, cfg.Output.BufferSize, logger)
		if err != nil {
			return fmt.Errorf("创建周期记录器失败: %w", err)
		}
		publishers = append(publishers, recorder)
	}

	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.New(cfg.Server.Port, server.Deps{
			Book:     latest,
			Alerts:   registry,
			Hub:      hub,
			Gatherer: reg,
			Logger:   logger,
		})
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				logger.Error("HTTP 服务退出", zap.Error(err))
				cancel()
			}
		}()
	}

	fetcher := bitfinex.NewFetcher(cfg.Source, logger)
	runner := cycle.NewRunner(cfg.Book, fetcher, registry, publishers, normalize.New(schema), m, logger)

	logger.Info("监控器启动",
		zap.String("symbol", cfg.Source.Symbol),
		zap.String("schema", string(schema)),
		zap.Ints("period_ids", cfg.Book.PeriodIDs),
		zap.Int("alerts", len(registry.Alerts())),
	)

	if err := runner.Run(ctx); err != nil {
		logger.Error("周期驱动器退出", zap.Error(err))
	}

	return shutdown(logger, srv, recorder, hubCancel)
}

// openAlertStore 按配置创建告警存储
// 返回的关闭函数总是非 nil
func openAlertStore(ctx context.Context, cfg config.AlertsConfig) (alertstore.Store, func(), error) {
	switch strings.ToLower(cfg.Backend) {
	case "redis":
		rs, err := alertstore.NewRedisStore(ctx, cfg.RedisURL, cfg.RedisPassword, cfg.RedisKey)
		if err != nil {
			return nil, func() {}, err
		}
		return rs, func() { _ = rs.Close() }, nil
	default:
		return alertstore.NewFileStore(cfg.Path), func() {}, nil
	}
}

// shutdown 优雅关闭（10s 超时）
func shutdown(logger *zap.Logger, srv *server.Server, recorder *jsonl.Recorder, stopHub context.CancelFunc) error {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	done := make(chan error, 1)
	go func() {
		var err error
		if srv != nil {
			err = multierr.Append(err, srv.Shutdown(shutdownCtx))
		}
		stopHub()
		if recorder != nil {
			err = multierr.Append(err, recorder.Close())
		}
		done <- err
	}()

	select {
	case <-shutdownCtx.Done():
		logger.Warn("关闭超时，强制退出")
		return nil
	case err := <-done:
		if err != nil {
			logger.Warn("关闭过程中出现错误", zap.Error(err))
		}
		logger.Info("关闭完成")
		return nil
	}
}

func newLogger(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
