package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/zlog"

	contenthandler "github.com/alimpk/filegate/internal/api/handlers/content"
	"github.com/alimpk/filegate/internal/api/router"
	"github.com/alimpk/filegate/internal/api/server"
	"github.com/alimpk/filegate/internal/config"
	"github.com/alimpk/filegate/internal/keygen"
	tickethandler "github.com/alimpk/filegate/internal/rabbitmq/handlers/ticket"
	"github.com/alimpk/filegate/internal/rabbitmq/queue"
	contentrepo "github.com/alimpk/filegate/internal/repository/content"
	pendingrepo "github.com/alimpk/filegate/internal/repository/pending"
	ticketrepo "github.com/alimpk/filegate/internal/repository/ticket"
	contentsvc "github.com/alimpk/filegate/internal/service/content"
	"github.com/alimpk/filegate/internal/service/membership"
	"github.com/alimpk/filegate/internal/worker"
	"github.com/alimpk/filegate/pkg/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Init()
	cfg := config.Must()
	val := validator.New()

	conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL(), cfg.RabbitMQ.Retries, cfg.RabbitMQ.Pause)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to rabbitmq")
	}

	ch, err := conn.Channel()
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to open channel")
	}

	q, err := queue.NewTicketQueue(ch, cfg.Delivery.GracePeriod)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to create ticket queue")
	}

	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
	for _, s := range cfg.Database.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	rdb := redis.New(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.Database)
	if err = rdb.Ping(ctx).Err(); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to redis")
	}

	tgClient := telegram.NewClient(cfg.Telegram.Token)
	gate := membership.NewGate(tgClient, cfg.Gate.Channels, cfg.Gate.Policy)

	contents := contentrepo.NewRepository(db)
	pendings := pendingrepo.NewRepository(db)
	tickets := ticketrepo.NewRepository(db)

	service := contentsvc.NewService(
		keygen.New(),
		contents,
		pendings,
		tickets,
		q,
		tgClient,
		gate,
		rdb,
		contentsvc.Options{
			SourceChannelID: cfg.Telegram.SourceChannelID,
			BotUsername:     cfg.Telegram.BotUsername,
			GracePeriod:     cfg.Delivery.GracePeriod,
			MaxKeyAttempts:  cfg.Delivery.MaxKeyAttempts,
		},
	)

	messageHandler := tickethandler.NewHandler(service)
	reaper := worker.NewReaper(q, messageHandler, service, cfg.Delivery.ScanInterval)
	go reaper.Run(ctx, cfg.Retry, cfg.Workers.Count)

	if cfg.Telegram.ScratchChatID != 0 {
		prober := telegram.NewProber(tgClient, cfg.Telegram.SourceChannelID, cfg.Telegram.ScratchChatID)
		reconciler := worker.NewReconciler(contents, prober, service, cfg.Delivery.ReconcileInterval)
		go reconciler.Run(ctx, cfg.Retry)
	}

	handler := contenthandler.NewHandler(service, val, cfg)
	r := router.New(handler)
	s := server.New(cfg.Server.HTTPPort, r)

	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	zlog.Logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}

	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	if err := db.Master.Close(); err != nil {
		zlog.Logger.Printf("failed to close master DB: %v", err)
	}

	for i, s := range db.Slaves {
		if err := s.Close(); err != nil {
			zlog.Logger.Printf("failed to close slave DB %d: %v", i, err)
		}
	}

	if err := ch.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close RabbitMQ channel")
	}

	if err := conn.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close RabbitMQ connection")
	}
}
