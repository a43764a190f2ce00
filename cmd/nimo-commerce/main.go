package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/handler"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/repository"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/service"
	"github.com/bitfantasy/nimo-commerce/internal/config"
	"github.com/bitfantasy/nimo-commerce/internal/middleware"
	"github.com/bitfantasy/nimo-commerce/internal/shared/cache"
	"github.com/bitfantasy/nimo-commerce/internal/shared/events"
	"github.com/bitfantasy/nimo-commerce/internal/shared/idgen"
	"github.com/bitfantasy/nimo-commerce/internal/shared/storage"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 加载 .env 文件
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting nimo-commerce service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	if err := idgen.Init(cfg.Commerce.NodeID); err != nil {
		zapLogger.Fatal("Failed to init id generator", zap.Error(err))
	}

	// 初始化数据库
	db, err := initDatabase(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect database", zap.Error(err))
	}
	zapLogger.Info("Database connected", zap.String("driver", cfg.Database.Driver))

	if cfg.Database.AutoMigrate {
		if err := entity.AutoMigrate(db); err != nil {
			zapLogger.Fatal("Failed to migrate database", zap.Error(err))
		}
		zapLogger.Info("Database migrated")
	}

	// 初始化Redis（幂等键）
	rdb, err := cache.NewRedisClient(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()
	idemStore := cache.NewRedisIdempotencyStore(rdb, cfg.Redis.KeyPrefix)

	// 事件发布：进程内推送 + 可选 Kafka
	hub := events.NewHub(zapLogger, 64)
	pub := events.Multi{hub}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
		pub = append(pub, events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicPrefix))
		zapLogger.Info("Kafka publisher enabled", zap.Strings("brokers", cfg.Kafka.Brokers))
	}
	defer pub.Close()

	// 对象存储（签收凭证）
	var store storage.ObjectStore
	if cfg.MinIO.Endpoint != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		ms, err := storage.NewMinIOStore(ctx, cfg.MinIO.Endpoint, cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, cfg.MinIO.Bucket, cfg.MinIO.UseSSL)
		cancel()
		if err != nil {
			zapLogger.Warn("MinIO unavailable, proof upload disabled", zap.Error(err))
		} else {
			store = ms
		}
	}

	taxRate, err := decimal.NewFromString(cfg.Commerce.CommissionTaxRate)
	if err != nil {
		zapLogger.Fatal("Invalid commission tax rate", zap.String("value", cfg.Commerce.CommissionTaxRate))
	}

	repos := repository.NewRepositories(db)
	services := service.NewServices(repos, pub, store, zapLogger, service.Options{
		LowStockThreshold:   cfg.Commerce.LowStockThreshold,
		MaxDeliveryAttempts: cfg.Commerce.MaxDeliveryAttempts,
		CommissionTaxRate:   taxRate,
		ProofURLExpiry:      cfg.Commerce.ProofURLExpiry,
	})
	handlers := handler.NewHandlers(services, zapLogger)
	handlers.Events = handler.NewEventsHandler(hub)

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(zapLogger))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": Version})
	})

	var jwtOpts []jwt.ParserOption
	if cfg.JWT.Issuer != "" {
		jwtOpts = append(jwtOpts, jwt.WithIssuer(cfg.JWT.Issuer))
	}
	v1 := router.Group("/api/v1", middleware.JWTAuth(cfg.JWT.Secret, jwtOpts...))
	handler.RegisterRoutes(v1, handlers, middleware.Idempotency(idemStore, cfg.Redis.IdempotencyTTL, zapLogger))

	// 创建HTTP服务器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 启动服务器
	go func() {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// 先结束 SSE 长连接
	hub.Close()
	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("Server exited")
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN())
	default:
		dialector = postgres.Open(cfg.DSN())
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}
