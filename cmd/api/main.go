package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/sisreg-api/internal/app"
	"github.com/jwalitptl/sisreg-api/internal/config"
	"github.com/jwalitptl/sisreg-api/internal/handler/health"
	promHandler "github.com/jwalitptl/sisreg-api/internal/handler/prometheus"
	"github.com/jwalitptl/sisreg-api/internal/repository/postgres"
	"github.com/jwalitptl/sisreg-api/pkg/logger"
	"github.com/jwalitptl/sisreg-api/pkg/metrics"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Pretty)
	gin.SetMode(gin.ReleaseMode)

	// Initialize database
	db, err := postgres.NewDB(postgres.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Name:            cfg.Database.Name,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry, cfg.Server.MetricsPrefix)
	httpMetrics := promHandler.New(registry, cfg.Server.MetricsPrefix)

	services, err := app.NewServices(app.PostgresStores(db), cfg, appMetrics)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize services")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Bootstrap.Enabled {
		if err := postgres.ApplySchema(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("failed to apply schema")
		}
		if err := services.Bootstrap(ctx, cfg.Bootstrap); err != nil {
			log.Fatal().Err(err).Msg("failed to bootstrap")
		}
	}

	r, err := services.Router(cfg.Server, app.HTTPOptions{
		Checks: map[string]health.Check{
			"database": db.PingContext,
		},
		Metrics:        httpMetrics.Middleware(),
		MetricsHandler: httpMetrics.Handler(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build router")
	}

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server exited properly")
}
