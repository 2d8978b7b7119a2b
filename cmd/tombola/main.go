package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/mwynn/tombola/internal/config"
	"github.com/mwynn/tombola/internal/gateway"
	"github.com/mwynn/tombola/internal/mirror"
	"github.com/mwynn/tombola/internal/registry"
	"github.com/mwynn/tombola/internal/rooms"
	"github.com/mwynn/tombola/internal/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := setupDatabase(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	repo := store.NewRepository(store.New(pool))

	regCfg := registry.Config{
		RevealDelay: cfg.Draw.RevealDelay(),
		Clock:       clockwork.NewRealClock(),
	}

	var mirrorPub *mirror.Publisher
	if cfg.Nats.Enabled {
		mirrorCfg := mirror.DefaultConfig()
		mirrorCfg.URL = cfg.Nats.URL
		mirrorCfg.StreamName = cfg.Nats.StreamName
		mirrorCfg.SubjectPrefix = cfg.Nats.SubjectPrefix
		mirrorPub, err = mirror.NewPublisher(mirrorCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect event mirror")
		}
		defer mirrorPub.Close()
		regCfg.Mirror = mirrorPub
	}

	reg := registry.New(repo, regCfg)
	gw := gateway.New(reg, gateway.DefaultConfig())
	roomsHandler := rooms.NewHandler(rooms.NewApp(repo))

	server := setupServer(cfg, gw, roomsHandler, reg)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	reg.Shutdown()
	cancel()

	log.Info().Msg("tombola shutdown complete")
}
