package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/emojify/internal/assets"
	"github.com/example/emojify/internal/auth"
	"github.com/example/emojify/internal/config"
	"github.com/example/emojify/internal/emojifier"
	"github.com/example/emojify/internal/facedetect"
	"github.com/example/emojify/internal/grpcclient"
	"github.com/example/emojify/internal/handlers"
	"github.com/example/emojify/internal/logging"
	"github.com/example/emojify/internal/mqttworker"
	"github.com/example/emojify/internal/repository"
	"github.com/example/emojify/internal/usecase"
)

func main() {
	cfg, err := config.Load(os.Getenv("EMOJIFY_CONFIG"))
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(logging.Options{
		Mode:       cfg.Server.Mode,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db := initDatabase(ctx, cfg.Database, cfg.Server.Mode, logger)
	repo := repository.NewEmojifyRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg.Redis, logger)

	stickers := initStickers(cfg.Assets, logger)

	detector, conn := initDetector(ctx, cfg.Detector, logger)
	if conn != nil {
		defer conn.Close()
	}

	cache := usecase.NewRedisCache(redisClient)
	pipeline := emojifier.New(stickers, logger)
	uc := usecase.NewEmojifyUseCase(repo, cache, detector, pipeline, logger,
		usecase.WithResultTTL(cfg.Redis.TTL),
		usecase.WithMaxPixels(cfg.Imaging.MaxPixels))

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	if cfg.MQTT.Broker != "" {
		worker := mqttworker.NewWorker(uc, logger, cfg.MQTT.TopicPrefix, cfg.MQTT.QoS)
		client := mqtt.NewClient(worker.ClientOptions(cfg.MQTT))
		go func() {
			if err := worker.Run(workerCtx, client); err != nil {
				logger.Error("mqtt worker stopped", zap.Error(err))
			}
		}()
		logger.Info("mqtt worker enabled", zap.String("broker", cfg.MQTT.Broker), zap.String("topic", worker.RequestTopic()))
	}

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(logger))
	r.MaxMultipartMemory = handlers.MaxUploadSize

	authMiddleware := auth.JWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience)
	handlers.RegisterRoutes(r, uc, authMiddleware)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	logger.Info("emojify API listening", zap.String("addr", cfg.Server.Addr))
	if err := serveHTTPServer(server, cfg.Server.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, cfg config.DatabaseConfig, mode string, zapLogger *zap.Logger) *gorm.DB {
	level := gormlogger.Info
	if mode == gin.ReleaseMode {
		level = gormlogger.Warn
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: gormlogger.Default.LogMode(level)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, cfg config.RedisConfig, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func initStickers(cfg config.AssetsConfig, zapLogger *zap.Logger) *assets.Set {
	if cfg.Dir == "" {
		set, err := assets.Builtin(cfg.BuiltinSize)
		if err != nil {
			zapLogger.Fatal("failed to render built-in stickers", zap.Error(err))
		}
		zapLogger.Info("using built-in stickers", zap.Int("size", cfg.BuiltinSize))
		return set
	}
	set, err := assets.LoadDir(cfg.Dir)
	if err != nil {
		zapLogger.Fatal("failed to load stickers", zap.String("dir", cfg.Dir), zap.Error(err))
	}
	zapLogger.Info("loaded stickers", zap.String("dir", cfg.Dir))
	return set
}

// initDetector dials the face detector when one is configured. Without it,
// requests must carry their own face list.
func initDetector(ctx context.Context, cfg config.DetectorConfig, zapLogger *zap.Logger) (facedetect.Detector, *grpc.ClientConn) {
	if cfg.Addr == "" {
		zapLogger.Warn("no face detector configured; requests must supply faces")
		return nil, nil
	}
	detector, conn, err := grpcclient.DialFaceDetector(ctx, cfg.Addr, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to connect to face detector", zap.Error(err))
	}
	return facedetect.WithTimeout(detector, cfg.Timeout), conn
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
