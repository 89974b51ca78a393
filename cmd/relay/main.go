package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/sebastiansandqvist/p2p-game-lobby/config"
	"github.com/sebastiansandqvist/p2p-game-lobby/registry"
	"github.com/sebastiansandqvist/p2p-game-lobby/relay"
	"github.com/sebastiansandqvist/p2p-game-lobby/service"
	websocketServer "github.com/sebastiansandqvist/p2p-game-lobby/server/websocket"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)
	var (
		port     = fs.IntP("port", "p", cfg.Port, "signaling listen port")
		logLevel = fs.StringP("log-level", "l", cfg.LogLevel, "log level")
	)
	if err = fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}
	cfg.Port = *port
	cfg.LogLevel = *logLevel

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	svc := service.New(service.Config{
		Registry: registry.New(&logger),
		Relay:    relay.New(&logger),
		Logger:   &logger,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:           &logger,
		SignalingService: svc,
		ListenAddr:       cfg.ListenAddr(),
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 1)
	)
	wg.Add(1)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
