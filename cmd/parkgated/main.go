package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"parkgate/internal/api"
	"parkgate/internal/availability"
	"parkgate/internal/booking"
	"parkgate/internal/config"
	"parkgate/internal/db"
	"parkgate/internal/gate"
	"parkgate/internal/metrics"
	"parkgate/internal/monitor"
	"parkgate/internal/notify"
	"parkgate/internal/otp"
	"parkgate/internal/relocation"
	"parkgate/internal/report"
	"parkgate/internal/store"
)

func main() {
	_ = godotenv.Load()

	// Initialize logger
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("PARKGATE_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	documents, err := store.OpenSQLite(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("open store error")
	}
	defer documents.Close()

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}

	database := db.New(documents)
	resolver := availability.NewResolver(database, cfg.Lot, logger)

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.Notifications.RatePerSecond > 0 {
		burst := cfg.Notifications.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Notifications.RatePerSecond), burst)
	}
	emitter := notify.NewEmitter(database, limiter, logger)

	bookings := booking.NewService(database, resolver, cfg.Rates, logger)
	coordinator := relocation.NewCoordinator(database, resolver, emitter, logger)

	var accessGate *gate.Gate
	if rdb != nil {
		codes := otp.NewService(rdb, consoleSender{logger: logger}, cfg.OTPTTL(), logger)
		accessGate = gate.NewGate(database, codes, bookings, cfg.GateSessionTimeout(), logger)
	} else {
		logger.Warn().Msg("redis not configured, visitor verification disabled")
	}

	apiServer := api.NewHTTPServer(bookings, coordinator, accessGate, report.NewExporter(database), logger)

	monitorCfg := &monitor.Config{
		CheckInterval:   cfg.MonitorCheckInterval(),
		DetectionWindow: cfg.MonitorDetectionWindow(),
		ReminderLead:    cfg.MonitorReminderLead(),
	}
	watcher := monitor.NewService(monitorCfg, database, resolver, emitter, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, documents, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	go startAPIServer(ctx, cfg.API.Port, apiServer.Handler(), &logger)

	watcher.Start(ctx)
	logger.Info().Int("api_port", cfg.API.Port).Msg("parkgate engine started")

	<-ctx.Done()
	watcher.Stop()
}

// consoleSender stands in for a real OTP delivery transport; codes go to
// the operator console log.
type consoleSender struct {
	logger zerolog.Logger
}

func (s consoleSender) SendCode(_ context.Context, bookingID, code string) error {
	s.logger.Info().
		Str("booking_id", bookingID).
		Str("code", code).
		Msg("visitor access code issued")
	return nil
}

func startAPIServer(ctx context.Context, port int, handler http.Handler, logger *zerolog.Logger) {
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: handler}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("api server error")
	}
}

func startHealthServer(ctx context.Context, port int, documents *store.SQLite, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := documents.Ping(ctxPing); err != nil {
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
