package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/adaptor/v2"
	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"go.uber.org/zap"

	"papertrade/internal/config"
	"papertrade/internal/database"
	"papertrade/internal/ledger"
	"papertrade/internal/logger"
	"papertrade/internal/quote"
	"papertrade/internal/server"
	"papertrade/internal/trade"
)

func main() {
	cfg := config.Load()
	_ = logger.Init("papertrade-app")
	log := logger.L()

	db := &database.PostgreSQL{URI: cfg.DatabaseURI()}
	pool, err := db.Connect(context.Background())
	if err != nil {
		log.Fatal("failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pool.Close()
	log.Info("connected to PostgreSQL")

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	queue := asynq.NewClient(redisOpt)
	defer queue.Close()

	store := ledger.NewPostgres(pool)
	quotes := quote.NewClient(cfg.QuoteBaseURL, cfg.QuoteAPIKey, cfg.QuoteTimeout)
	engine := trade.NewEngine(store, quotes)

	srv := server.New(store, engine, quotes, queue, cfg.SessionTTL)
	app := srv.Router()

	// Asynqmon web UI for the export queue.
	mon := asynqmon.New(asynqmon.Options{
		RootPath:     "/monitor",
		RedisConnOpt: redisOpt,
	})
	app.Use("/monitor", adaptor.HTTPHandler(mon))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutdown signal received")
		_ = app.Shutdown()
	}()

	log.Info("listening", zap.String("addr", cfg.Addr))
	if err := app.Listen(cfg.Addr); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}
