// Command apm-server serves the APM transaction-groups API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/deppfellow/apm-transactions/internal/config"
	"github.com/deppfellow/apm-transactions/internal/handler"
	"github.com/deppfellow/apm-transactions/internal/logger"
	"github.com/deppfellow/apm-transactions/internal/repository"
	"github.com/deppfellow/apm-transactions/internal/route"
	"github.com/deppfellow/apm-transactions/internal/router"
	"github.com/deppfellow/apm-transactions/internal/server"
	"github.com/deppfellow/apm-transactions/internal/service"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	loggerService := logger.NewLoggerService(&cfg.Observability)
	log := logger.NewLoggerWithService(&cfg.Observability, loggerService)

	srv, err := server.New(cfg, &log, loggerService)
	if err != nil {
		loggerService.Shutdown()
		log.Fatal().Err(err).Msg("failed to initialize server")
	}

	services := service.NewServices(repository.NewRepositories(cfg))
	handlers := handler.NewHandlers(srv, services)

	r, err := router.NewRouter(srv, handlers)
	if err != nil {
		var cfgErr *route.ConfigError
		if errors.As(err, &cfgErr) {
			log.Fatal().Err(err).Str("method", cfgErr.Method).Str("path", cfgErr.Path).Msg("invalid route declaration")
		}
		log.Fatal().Err(err).Msg("failed to initialize router")
	}

	srv.SetupHTTPServer(r)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server stopped")
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}
	log.Info().Msg("server exited")
}
