package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fixflow/backend/internal/config"
	"github.com/fixflow/backend/internal/db"
	httpapi "github.com/fixflow/backend/internal/http"
	"github.com/fixflow/backend/internal/invalidate"
	"github.com/fixflow/backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "fixflow-backend").Logger()

	ctx := context.Background()
	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect db")
	}
	defer store.Close()

	var invalidator invalidate.Invalidator
	if cfg.NATSURL == "" {
		invalidator = invalidate.Noop{}
		logger.Info().Msg("no NATS URL configured, invalidation events disabled")
	} else {
		natsInv, err := invalidate.NewNATS(cfg.NATSURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect NATS")
		}
		defer natsInv.Close()
		invalidator = natsInv
	}

	reconciler := &service.Reconciler{Devices: store, Logger: logger}
	appointments := &service.AppointmentService{
		Store:       store,
		Reconciler:  reconciler,
		Invalidator: invalidator,
		Logger:      logger,
	}
	converter := &service.Converter{
		Appointments: store,
		Tickets:      store,
		Catalog:      store,
		Reconciler:   reconciler,
		Invalidator:  invalidator,
		Logger:       logger,
		LinkRetries:  cfg.ConvertLinkRetries,
	}

	router := httpapi.Router(cfg, store, appointments, converter, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}
