// Command gateway-api runs the access-control gateway.
//
// Startup order matters: the first rule load must succeed before the
// server accepts traffic, otherwise every node would fall back to the
// default policy for mapped routes. A failed initial load is fatal.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/bootstrap"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/config"
	authhandlers "github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/httpapi/auth"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/httpapi/menus"
	gwmiddleware "github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/httpapi/middleware"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/httpapi/roles"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/httpapi/users"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/logging"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/server"
)

func main() {
	cfg := config.MustLoad()
	logger := logging.New(cfg.ServiceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Initialize(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("bootstrap failed")
	}
	defer rt.Close()

	// Block until the rule table is loaded. Startup without rules is
	// worse than no startup at all.
	if err := rt.Gatekeeper.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("initial rule load failed")
	}
	rt.Gatekeeper.Run(ctx, cfg.RuleRefreshInterval)
	logger.Info().
		Int("rules", rt.Gatekeeper.Snapshot().Len()).
		Dur("refresh_interval", cfg.RuleRefreshInterval).
		Msg("gatekeeper ready")

	authHandler := authhandlers.NewHandler(rt.Postgres, rt.Sessions, rt.Issuer, rt.Lockout, rt.Audit, logger)
	menuHandler := menus.NewHandler(rt.Postgres, rt.Gatekeeper, rt.Audit, logger)
	userHandler := users.NewHandler(rt.Postgres, rt.Sessions, rt.Audit, logger)
	roleHandler := roles.NewHandler(rt.Postgres, rt.Audit, logger)

	srv := server.New(server.Options{
		Port:        cfg.HTTPPort,
		Logger:      logger,
		ServiceName: cfg.ServiceName,
		Readiness:   rt.Readiness,
		RegisterRoutes: func(r chi.Router) {
			// Login stands outside the gatekeeper. Everything else runs
			// through authenticate + authorize, governed by the rule table.
			authHandler.RegisterPublic(r)

			r.Group(func(pr chi.Router) {
				pr.Use(gwmiddleware.Authenticate(rt.Issuer, rt.Sessions, logger))
				pr.Use(gwmiddleware.Authorize(rt.Gatekeeper, logger))

				authHandler.RegisterProtected(pr)
				menuHandler.Register(pr)
				userHandler.Register(pr)
				roleHandler.Register(pr)
			})
		},
	})

	go func() {
		logger.Info().Int("port", cfg.HTTPPort).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown failed")
	}
	logger.Info().Msg("shutdown complete")
}
