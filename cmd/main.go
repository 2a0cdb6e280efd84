package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signal-relay/internal/api"
	"signal-relay/internal/execution"
	"signal-relay/internal/model"
	"signal-relay/internal/service"
	"signal-relay/internal/strategy"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	// 读配置前先用默认级别输出日志
	_ = service.InitLogger(service.LogConfig{Level: "info"})

	configPath := "config"
	if dir := os.Getenv("RELAY_CONFIG_DIR"); dir != "" {
		configPath = dir
	}
	cfg, err := service.LoadConfig(configPath)
	if err != nil {
		service.Logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if err := service.InitLogger(cfg.Log); err != nil {
		service.Logger.Fatal("Failed to init logger", zap.Error(err))
	}
	defer service.Logger.Sync()

	if err := cfg.Validate(); err != nil {
		service.Logger.Fatal("Invalid configuration", zap.Error(err))
	}
	logger := service.Logger.With(zap.String("exchange", cfg.Exchange.Name), zap.String("symbol", cfg.Instrument.Symbol))
	logger.Info("Starting signal relay",
		zap.String("credentials", cfg.Credentials().String()),
		zap.Bool("dry_run", cfg.Exchange.DryRun),
		zap.String("volatility_source", cfg.Volatility.Source))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. 交易所客户端
	client, err := execution.NewClient(&execution.ClientConfig{
		Exchange:         cfg.Exchange.Name,
		RESTURL:          cfg.Exchange.RESTURL,
		Timeout:          cfg.Exchange.Timeout,
		UseServerTime:    cfg.Exchange.UseServerTime,
		TimeSyncInterval: cfg.Exchange.TimeSyncInterval,
		Demo:             cfg.Exchange.Demo,
		ProductType:      cfg.Instrument.ProductType,
		MarginMode:       cfg.Instrument.MarginMode,
		MarginAsset:      cfg.Instrument.MarginAsset,
		Credentials:      cfg.Credentials(),
	}, service.Logger)
	if err != nil {
		logger.Fatal("Failed to create exchange client", zap.Error(err))
	}

	if cfg.Exchange.UseServerTime {
		syncCtx, cancel := context.WithTimeout(ctx, cfg.Exchange.Timeout)
		if _, err := client.SyncServerTime(syncCtx); err != nil {
			logger.Warn("Initial server time sync failed, using local clock", zap.Error(err))
		}
		cancel()
	}

	var exchange execution.Exchange = client
	if cfg.Exchange.DryRun {
		exchange = execution.NewDryRunExchange(client, cfg.Exchange.Name, service.Logger)
	}

	// 2. 波动率数据源
	var source strategy.CandleSource
	switch cfg.Volatility.Source {
	case "stream":
		interval, err := service.ParseIntervalDuration(cfg.Volatility.Interval)
		if err != nil {
			logger.Fatal("Invalid volatility interval", zap.Error(err))
		}
		connector, err := api.NewConnector(cfg.Exchange.Name, cfg.Exchange.WSURL, cfg.Instrument.Symbol, cfg.Instrument.ProductType, service.Logger)
		if err != nil {
			logger.Fatal("Failed to create market stream", zap.Error(err))
		}
		aggregator := model.NewCandleAggregator(cfg.Instrument.Symbol, interval, service.FormatInterval(interval),
			cfg.Volatility.Window, connector.Tickers(), service.Logger)
		go connector.Run(ctx)
		go aggregator.Run(ctx)
		source = aggregator
	default:
		source = &execution.RESTCandleSource{Client: client, Interval: cfg.Volatility.Interval, Window: cfg.Volatility.Window}
	}

	// 3. 仓位计算和信号路由
	sizer := strategy.NewSizer(strategy.SizerConfig{
		RiskRatio:          decimal.NewFromFloat(cfg.Risk.RiskRatio),
		Leverage:           cfg.Risk.Leverage,
		StopLossPct:        decimal.NewFromFloat(cfg.Risk.StopLossPct),
		TrailingMultiplier: decimal.NewFromFloat(cfg.Risk.TrailingMultiplier),
		TrailingFloor:      decimal.NewFromFloat(cfg.Risk.TrailingFloor),
		TrailingMode:       model.TrailingMode(cfg.Risk.TrailingMode),
		SizePrecision:      cfg.Instrument.SizePrecision,
		PricePrecision:     cfg.Instrument.PricePrecision,
		RatePrecision:      cfg.Instrument.RatePrecision,
	})
	estimator := strategy.NewVolatilityEstimator(source, cfg.Volatility.Method, cfg.Volatility.ATRPeriod, service.Logger)
	router := strategy.NewSignalRouter(exchange, estimator, sizer, cfg.Instrument.Symbol, cfg.Instrument.MarginAsset, logger)

	// 4. Webhook 服务
	webhook := api.NewWebhookServer(router, cfg.Server, logger)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           webhook.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Webhook server listening", zap.String("addr", cfg.Server.Addr), zap.String("path", cfg.Server.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Webhook server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}
