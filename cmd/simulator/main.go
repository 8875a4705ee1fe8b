package main

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/marketpulse/simulator/internal/alert"
	"github.com/marketpulse/simulator/internal/auth"
	"github.com/marketpulse/simulator/internal/engine"
	"github.com/marketpulse/simulator/internal/feed"
	"github.com/marketpulse/simulator/internal/gateway"
	"github.com/marketpulse/simulator/internal/ledger"
	"github.com/marketpulse/simulator/internal/market"
	"github.com/marketpulse/simulator/internal/registry"
	"github.com/marketpulse/simulator/internal/trade"
	"github.com/marketpulse/simulator/pkg/config"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	store := ledger.NewRedisStore(rdb)
	locks := ledger.NewLocker()

	ctx := context.Background()
	if cfg.Market.SeedFile != "" {
		if err := ledger.LoadSeedFile(ctx, store, cfg.Market.SeedFile, logger); err != nil {
			logger.Fatal("Seed failed", zap.Error(err))
		}
	} else if cfg.App.Env == "local" {
		if err := ledger.SeedDemo(ctx, store, logger); err != nil {
			logger.Fatal("Demo seed failed", zap.Error(err))
		}
	}

	model := market.NewModel(market.DefaultBasePrices, rand.New(rand.NewSource(time.Now().UnixNano())))
	sessions := registry.New(logger)
	trades := trade.NewEngine(store, locks, model, sessions, logger)
	alerts := alert.NewEngine(store, locks, sessions, model.Tickers(), logger)

	var journal *feed.Journal
	if cfg.Kafka.Enabled {
		feed.EnsureTopic(cfg.Kafka.Brokers[0], cfg.Kafka.Topic, logger)
		journal = feed.NewJournal(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
	}

	eng := engine.New(model, sessions, store, locks, trades, alerts, journal,
		time.Duration(cfg.Market.TickIntervalMs)*time.Millisecond, logger)
	eng.Start()

	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gateway.ServeWS(verifier, eng, logger))

	srv := &http.Server{Addr: cfg.App.Port, Handler: mux}

	go func() {
		logger.Info("Server Started", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	eng.Stop()
	if journal != nil {
		if err := journal.Close(); err != nil {
			logger.Error("Error closing Kafka writer", zap.Error(err))
		}
	}
	srv.Shutdown(context.Background())
	store.Close()
	logger.Info("Shutdown Complete")
}
