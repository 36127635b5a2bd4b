package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/shutterhub/shutterhub-api/internal/config"
	"github.com/shutterhub/shutterhub-api/internal/domain/booking"
	"github.com/shutterhub/shutterhub-api/internal/domain/dispute"
	"github.com/shutterhub/shutterhub-api/internal/domain/escrow"
	"github.com/shutterhub/shutterhub-api/internal/domain/session"
	"github.com/shutterhub/shutterhub-api/internal/domain/user"
	"github.com/shutterhub/shutterhub-api/internal/pkg/database"
	"github.com/shutterhub/shutterhub-api/internal/pkg/paygate"
)

func main() {
	cfg := config.Load()
	setupLogger(cfg)

	log.Info().Msg("Starting settlement-worker")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	gateway := paygate.NewClient(paygate.Config{
		BaseURL:     cfg.GatewayBaseURL,
		MerchantID:  cfg.GatewayMerchantID,
		SecretKey:   cfg.GatewaySecretKey,
		Timeout:     cfg.GatewayTimeout,
		MaxAttempts: cfg.GatewayMaxAttempts,
	})

	userRepo := user.NewRepository(db)
	sessionRepo := session.NewRepository(db)
	bookingRepo := booking.NewRepository(db)
	escrowRepo := escrow.NewRepository(db)

	escrowService := escrow.NewService(escrowRepo, gateway, escrow.Config{
		SettleDeadline: cfg.SettleDeadline,
		ReconcileGrace: cfg.ReconcileGrace,
	})
	bookingService := booking.NewService(bookingRepo, sessionRepo, userRepo, escrowService, nil, rdb, booking.Config{
		OfferTTL:     cfg.OfferTTL,
		CancelCutoff: cfg.CancelCutoff,
	})

	worker := dispute.NewWorker(escrowService, bookingService, cfg.SweepInterval, cfg.ReconcileBatchSize)
	worker.Start()
	defer worker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down settlement-worker")
}

func setupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}
}
