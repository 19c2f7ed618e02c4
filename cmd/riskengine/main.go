package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/kaenozu/Ult-sub007/internal/riskengine/application"
	"github.com/kaenozu/Ult-sub007/internal/riskengine/domain"
	"github.com/kaenozu/Ult-sub007/internal/riskengine/infrastructure/messaging"
	"github.com/kaenozu/Ult-sub007/internal/riskengine/infrastructure/persistence/mysql"
	riskhttp "github.com/kaenozu/Ult-sub007/internal/riskengine/interfaces/http"
	"github.com/kaenozu/Ult-sub007/pkg/config"
	"github.com/kaenozu/Ult-sub007/pkg/db"
	"github.com/kaenozu/Ult-sub007/pkg/logger"
	"github.com/kaenozu/Ult-sub007/pkg/metrics"
	"github.com/kaenozu/Ult-sub007/pkg/middleware"
	"github.com/kaenozu/Ult-sub007/pkg/mq"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "configs/riskengine/config.toml", "path to config file")
	flag.Parse()

	// 1. Config
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("load config failed: %v", err))
	}

	// 2. Logger
	if err := logger.Init(cfg.Logger); err != nil {
		panic(fmt.Sprintf("init logger failed: %v", err))
	}
	ctx := context.Background()
	logger.Info(ctx, "starting risk engine service",
		"service", cfg.ServiceName,
		"version", cfg.Version,
		"environment", cfg.Environment,
	)

	// 3. Metrics
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.ServiceName)
		if err := m.Register(); err != nil {
			panic(fmt.Sprintf("register metrics failed: %v", err))
		}
	}

	// 4. Archive repository (optional)
	var archive application.ArchiveRepository
	if cfg.Database.Enabled {
		conn, err := db.Open(db.Config{
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			LogEnabled:      cfg.Environment != "prod",
		})
		if err != nil {
			panic(fmt.Sprintf("connect db failed: %v", err))
		}

		repo := mysql.NewArchiveRepository(conn)
		if err := repo.AutoMigrate(); err != nil {
			panic(fmt.Sprintf("migrate db failed: %v", err))
		}
		archive = repo
		logger.Info(ctx, "alert/action archive enabled")
	}

	// 5. Event publisher (optional)
	var publisher domain.EventPublisher = domain.NoopEventPublisher{}
	var producer *mq.KafkaProducer
	if cfg.Kafka.Enabled {
		producer, err = mq.NewProducer(mq.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			MaxRetries:   cfg.Kafka.MaxRetries,
			RetryBackoff: cfg.Kafka.RetryBackoff,
		})
		if err != nil {
			panic(fmt.Sprintf("create kafka producer failed: %v", err))
		}
		publisher = messaging.NewKafkaEventPublisher(producer)
		logger.Info(ctx, "kafka event publishing enabled", "brokers", cfg.Kafka.Brokers)
	}

	// 6. Application
	service, err := application.NewRiskEngineService(cfg, publisher, archive, m)
	if err != nil {
		panic(fmt.Sprintf("create risk engine service failed: %v", err))
	}

	// 7. HTTP
	if cfg.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogging())

	sys := r.Group("/sys")
	{
		sys.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "UP"}) })
		sys.GET("/ready", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "READY"}) })
	}
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}
	pp := r.Group("/debug/pprof")
	{
		pp.GET("/", gin.WrapF(pprof.Index))
		pp.GET("/cmdline", gin.WrapF(pprof.Cmdline))
		pp.GET("/profile", gin.WrapF(pprof.Profile))
		pp.GET("/symbol", gin.WrapF(pprof.Symbol))
		pp.GET("/trace", gin.WrapF(pprof.Trace))
	}

	handler := riskhttp.NewRiskEngineHandler(service)
	handler.RegisterRoutes(&r.RouterGroup)

	// 8. Start
	g, gctx := errgroup.WithContext(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}
	g.Go(func() error {
		logger.Info(gctx, "HTTP server starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// 9. Graceful shutdown
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			logger.Info(gctx, "shutdown signal received")
		case <-gctx.Done():
			logger.Info(gctx, "context cancelled, shutting down")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error(shutdownCtx, "HTTP server shutdown failed", "error", err)
		}
		if producer != nil {
			if err := producer.Close(); err != nil {
				logger.Error(shutdownCtx, "kafka producer close failed", "error", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error(ctx, "server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info(ctx, "risk engine service stopped")
}
