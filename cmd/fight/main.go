package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"

	"github.com/alferparedes26yanez-art/espuelabrava/internal/config"
	fightHttp "github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/adapter/http"
	fightKafka "github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/adapter/kafka"
	fightRedis "github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/adapter/redis"
	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/adapter/ws"
	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/domain"
	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/machine"
	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/notifier"
	fightDB "github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/repository/db"
	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/repository/memory"
	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/usecase"
	"github.com/alferparedes26yanez-art/espuelabrava/pkg/admin"
	"github.com/alferparedes26yanez-art/espuelabrava/pkg/logger"
	"github.com/alferparedes26yanez-art/espuelabrava/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (optional)")
	background := flag.Bool("d", false, "Run in background mode (disable console logging)")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.InitWithFile(cfg.Log.File, cfg.Log.Level, cfg.Log.Format, cfg.Log.Console && !*background); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx).Str("name", cfg.Server.Name).Msg("Starting fight server...")

	// 2. Initialize Infrastructure
	domain.SetNodeID(cfg.Fight.NodeID)

	store, err := openStore(cfg)
	if err != nil {
		logger.Fatal(ctx).Err(err).Msg("Failed to open store")
	}
	defer store.Close()

	m := metrics.New()
	changes := notifier.New()
	clock := machine.NewClock(cfg.Fight.TickInterval)

	// 3. Initialize Modules
	fightUC := usecase.NewFightUseCase(store, clock, changes, m)
	fightUC.SetDriverLease(cfg.Fight.DriverLease)
	userUC := usecase.NewUserUseCase(store, cfg.JWT.Secret, cfg.JWT.Duration, cfg.Fight.BcryptCost)
	historyUC := usecase.NewHistoryUseCase(store)

	if cfg.Kafka.Enabled {
		publisher, err := fightKafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.ClientID)
		if err != nil {
			logger.Fatal(ctx).Err(err).Msg("Failed to connect to kafka")
		}
		defer publisher.Close()
		fightUC.SetPublisher(publisher)
		logger.Info(ctx).Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("Settlement stream enabled")
	}

	wsManager := ws.NewManager(ws.Options{
		PingInterval:   cfg.WebSocket.PingInterval,
		WriteWait:      cfg.WebSocket.WriteWait,
		PongWait:       cfg.WebSocket.PongWait,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
	}, m)
	go wsManager.Run(ctx)
	changes.Subscribe(wsManager.Observe)

	var snapshot fightHttp.StateSnapshot
	if cfg.Redis.Enabled {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal(ctx).Err(err).Msg("Failed to connect to redis")
		}

		broadcaster := fightRedis.NewBroadcaster(rdb, cfg.Redis.Channel, fightUC)
		changes.Subscribe(broadcaster.Observe)
		snapshot = broadcaster
		go func() {
			if err := broadcaster.Listen(ctx, wsManager.Observe); err != nil {
				logger.Error(ctx).Err(err).Msg("Redis change listener stopped")
			}
		}()
		logger.Info(ctx).Str("addr", cfg.Redis.Addr()).Str("channel", cfg.Redis.Channel).Msg("Redis change feed enabled")
	}

	if err := userUC.EnsureOperator(ctx, cfg.Operator.Username, cfg.Operator.Password, cfg.Operator.Name); err != nil {
		logger.Fatal(ctx).Err(err).Msg("Failed to seed operator account")
	}
	if err := fightUC.Resume(ctx); err != nil {
		logger.Fatal(ctx).Err(err).Msg("Failed to resume round")
	}

	// 4. Setup HTTP Server
	gin.SetMode(gin.ReleaseMode)
	handler := fightHttp.NewHandler(fightUC, userUC, historyUC, wsManager)
	if snapshot != nil {
		handler.SetStateSnapshot(snapshot)
	}
	router := fightHttp.NewRouter(handler, m.Handler(), admin.NewProfiler())

	srv := &http.Server{
		Addr:    ":" + cfg.Server.HTTPPort,
		Handler: router,
	}

	go func() {
		logger.Info(ctx).
			Str("port", cfg.Server.HTTPPort).
			Str("ws_url", fmt.Sprintf("ws://localhost:%s/ws?token=YOUR_TOKEN", cfg.Server.HTTPPort)).
			Msg("Fight server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal(ctx).Err(err).Msg("HTTP server failed")
		}
	}()

	// 5. Graceful Shutdown
	<-ctx.Done()
	logger.Info(context.Background()).Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx).Err(err).Msg("HTTP server forced to shutdown")
	}

	// The open round stays persisted; Resume picks it up on the next start.
	// wsManager.Run already closed every client when ctx was cancelled.
	fightUC.Shutdown()

	logger.Info(shutdownCtx).Msg("Server exited properly")
}

func openStore(cfg *config.FightConfig) (domain.Store, error) {
	if cfg.Fight.RepoType == "memory" {
		logger.InfoGlobal().Msg("Repository: Memory")
		return memory.NewStore(), nil
	}

	store, err := fightDB.Open(fightDB.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.ConnectionString(),
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		LogLevel:        cfg.Database.LogLevel,
	})
	if err != nil {
		return nil, err
	}
	logger.InfoGlobal().Str("driver", cfg.Database.Driver).Msg("Repository: Database")
	return store, nil
}
