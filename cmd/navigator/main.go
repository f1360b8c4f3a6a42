package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/langchou/motonav/internal/api/backend"
	"github.com/langchou/motonav/internal/api/directions"
	"github.com/langchou/motonav/internal/api/geocoder"
	"github.com/langchou/motonav/internal/api/handlers"
	"github.com/langchou/motonav/internal/config"
	"github.com/langchou/motonav/internal/location"
	"github.com/langchou/motonav/internal/metrics"
	"github.com/langchou/motonav/internal/notify"
	"github.com/langchou/motonav/internal/outbox"
	"github.com/langchou/motonav/internal/repository"
	"github.com/langchou/motonav/internal/service"
	"github.com/langchou/motonav/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg)
	defer logger.Sync()

	logger.Info("Starting motonav", zap.String("port", cfg.ServerPort))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Navigator exited with error", zap.Error(err))
	}
	logger.Info("Server exited")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// 路线服务
	provider, err := directions.NewAdapter(directions.Config{
		APIKey:          cfg.GoogleMapsAPIKey,
		BaseURL:         cfg.DirectionsBaseURL,
		Avoid:           cfg.RouteAvoid,
		MinAlternatives: cfg.MinAlternatives,
	}, logger)
	if err != nil {
		return fmt.Errorf("create directions adapter: %w", err)
	}

	m := metrics.New()
	wsHub := ws.NewHub(logger)
	dispatcher := notify.NewDispatcher(logger, wsHub, m)

	deps := service.Deps{
		Provider:    provider,
		Notifier:    dispatcher,
		Metrics:     m,
		Broadcaster: wsHub,
	}

	// 行程日志（可选）
	var journal *repository.Journal
	if cfg.DatabaseURL != "" {
		db, err := repository.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		logger.Info("Database migrated successfully")

		journal = repository.NewJournal(db.Pool, logger)
		deps.Journal = journal
	}

	// 后端同步（可选）
	if cfg.BackendURL != "" {
		deps.Backend = backend.NewClient(cfg.BackendURL, cfg.BackendToken, logger)
	} else {
		logger.Warn("BACKEND_URL not set, trips are kept locally only")
	}

	if cfg.OutboxPath != "" {
		store, err := outbox.Open(cfg.OutboxPath, logger)
		if err != nil {
			return fmt.Errorf("open outbox: %w", err)
		}
		defer store.Close()
		deps.Outbox = store
	}

	gc, err := geocoder.NewClient(geocoder.Config{
		GoogleAPIKey: cfg.GoogleMapsAPIKey,
		NominatimURL: cfg.NominatimURL,
	}, logger)
	if err != nil {
		return fmt.Errorf("create geocoder: %w", err)
	}
	deps.Geocoder = gc

	// MQTT 通知（可选）
	if cfg.MQTTBroker != "" {
		publisher, err := notify.ConnectMQTT(notify.MQTTConfig{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
			QoS:         1,
		}, logger)
		if err != nil {
			logger.Error("MQTT unavailable, notifications will not be published", zap.Error(err))
		} else {
			defer publisher.Close()
			dispatcher.Add(publisher)
		}
	}

	// 定位来源
	switch {
	case cfg.LocationFeedURL != "":
		deps.Source = location.NewFeedSource(location.FeedConfig{
			URL:   cfg.LocationFeedURL,
			Token: cfg.LocationFeedToken,
		}, logger)
	case cfg.LocationReplayFile != "":
		deps.Source = location.NewReplaySource(cfg.LocationReplayFile, cfg.ReplayInterval, logger)
	default:
		logger.Info("No location source configured, accepting positions from the control API")
	}

	navService := service.NewNavigationService(cfg, logger, deps)
	wsHub.SetInitDataProvider(func() interface{} {
		return navService.Snapshot()
	})

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	handlers.NewHandler(logger, navService, journal, wsHub, m.Handler()).RegisterRoutes(router)

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return wsHub.Run(ctx) })
	eg.Go(func() error { return navService.Run(ctx) })
	eg.Go(func() error {
		logger.Info("Server started", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down server...")

		// 优雅关闭
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", zap.Error(err))
		}
		return nil
	})

	return eg.Wait()
}

// initLogger 初始化日志，配置了 LOG_FILE 时同时写入轮转文件
func initLogger(cfg *config.Config) *zap.Logger {
	var zc zap.Config
	if cfg.Debug {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
	}

	logger, err := zc.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	if cfg.LogFile == "" {
		return logger
	}

	file := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB, // MB
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
		Compress:   true,
	})
	fileEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, zapcore.NewCore(fileEncoder, file, zc.Level))
	}))
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
