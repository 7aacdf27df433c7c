package main

import (
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/salachat/server/internal/registry"
	"github.com/salachat/server/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	config := server.NewConfigFromEnv()
	server.SetConfig(config)
	server.SetupLogger(config.Env, config.LogLevel)

	log.Info().Str("env", config.Env).Str("port", config.Port).Msg("starting SalaChat server")

	// The hub owns the connections; the registry owns the rooms. The hub is
	// the registry's transport port, and the registry handles the hub's
	// disconnect notifications.
	hub := server.NewHub()
	reg := registry.New(hub,
		registry.WithGracePeriod(config.GracePeriod),
		registry.WithHostInfo(server.HostInfo()),
	)
	hub.OnDisconnect(reg.Disconnect)
	go hub.Run()

	handler := server.SetupRoutes(hub, reg)
	httpServer := server.CreateServer(config.Port, handler)

	errs := make(chan error, 1)
	go func() {
		errs <- server.StartServer(httpServer)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	}

	if err := server.ShutdownServer(httpServer, shutdownTimeout); err != nil {
		log.Error().Err(err).Msg("forced HTTP shutdown")
	}
	if err := hub.Shutdown(shutdownTimeout); err != nil {
		log.Error().Err(err).Msg("hub did not drain in time")
	}
}
