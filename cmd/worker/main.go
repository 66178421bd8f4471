package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/sisreg-api/internal/app"
	"github.com/jwalitptl/sisreg-api/internal/config"
	"github.com/jwalitptl/sisreg-api/internal/email"
	"github.com/jwalitptl/sisreg-api/internal/repository/postgres"
	"github.com/jwalitptl/sisreg-api/internal/service/audit"
	"github.com/jwalitptl/sisreg-api/pkg/logger"
	"github.com/jwalitptl/sisreg-api/pkg/messaging/redis"
	"github.com/jwalitptl/sisreg-api/pkg/metrics"
	"github.com/jwalitptl/sisreg-api/pkg/worker"
)

const healthAddr = ":8081"

func setupHealthCheck(registry *prometheus.Registry, l *logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/health/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: healthAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error(err, "Health check server failed")
		}
	}()
	return srv
}

func main() {
	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Initialize logger
	l := logger.Setup(cfg.Log.Level, cfg.Log.Pretty).WithFields(map[string]interface{}{
		"component": "outbox-worker",
	})

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
		l.Fatal(err, "Failed to connect to database")
	}
	defer db.Close()

	// Initialize Redis broker
	broker, err := redis.NewRedisBroker(redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, &l.ZL)
	if err != nil {
		l.Fatal(err, "Failed to create Redis broker")
	}
	defer broker.Close()

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry, cfg.Server.MetricsPrefix)
	stores := app.PostgresStores(db)

	var notifier worker.Notifier
	if cfg.SMTP.Enabled {
		mail := email.NewService(email.Config{
			Host:               cfg.SMTP.Host,
			Port:               cfg.SMTP.Port,
			Username:           cfg.SMTP.Username,
			Password:           cfg.SMTP.Password,
			From:               cfg.SMTP.From,
			SenderName:         cfg.SMTP.SenderName,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
		}, audit.LoadLocation(cfg.Audit.Timezone))
		notifier = email.NewReferralNotifier(stores.Users, mail)
	} else {
		l.Info("SMTP disabled, e-mail notifications are off")
	}

	processor := worker.NewOutboxProcessor(
		stores.Outbox,
		broker,
		notifier,
		worker.OutboxProcessorConfig{
			BatchSize:     cfg.Outbox.BatchSize,
			PollInterval:  cfg.Outbox.PollInterval,
			RetryAttempts: cfg.Outbox.RetryAttempts,
			RetryDelay:    cfg.Outbox.RetryDelay,
			ClaimTimeout:  cfg.Outbox.ClaimTimeout,
		},
		l,
		m,
	)
	cleanup := worker.NewOutboxCleanupWorker(stores.Outbox, cfg.Outbox.RetentionDays, cfg.Outbox.CleanupEvery, l)

	// Setup health check endpoints
	healthSrv := setupHealthCheck(registry, l)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		cleanup.Start(ctx)
	}()

	l.Info("Worker started", "health_addr", healthAddr)
	<-ctx.Done()
	l.Info("Shutting down...")
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = healthSrv.Shutdown(shutdownCtx)
}
