package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmline/internal/cache"
	healthcheck "github.com/vladislavdragonenkov/farmline/internal/health"
	"github.com/vladislavdragonenkov/farmline/internal/metrics"
	"github.com/vladislavdragonenkov/farmline/internal/service/httpapi"
	"github.com/vladislavdragonenkov/farmline/internal/version"
)

// Run запускает сервис: HTTP API, сервер метрик и фоновые воркеры.
// Блокируется до отмены ctx или фатальной ошибки сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	ledgerMetrics := metrics.NewLedgerMetrics()

	services, err := buildServices(deps, cfg, logger, ledgerMetrics)
	if err != nil {
		return err
	}

	// Kafka опциональна: без брокера события копятся в outbox.
	kafkaProducer, kafkaErr := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(kafkaProducer, logger)

	if worker := createOutboxWorker(deps, kafkaProducer, cfg, logger); worker != nil {
		go worker.Run(ctx)
	}
	go createCleanupWorker(deps, cfg, logger).Run(ctx)

	var orderCache *cache.Cache
	if cfg.RedisAddr != "" {
		orderCache = cache.New(cfg.RedisAddr, logger, cache.WithTTL(cfg.CacheTTL))
		defer func() { _ = orderCache.Close() }()
		logger.WithField("addr", cfg.RedisAddr).Info("redis cache initialized")
	}

	// Инвалидация кэша по событиям: мутация на одном инстансе сбрасывает
	// снапшоты на всех. Ошибка не фатальна: записи истекут по TTL.
	invalidator, _ := startCacheInvalidator(ctx, cfg, orderCache, kafkaProducer, logger)
	defer stopCacheInvalidator(invalidator, logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	registerHealthCheckers(healthHandler, deps, orderCache, services, cfg, kafkaErr)

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	apiHandler := httpapi.NewHandler(
		services.Catalog,
		services.Engine,
		services.Arbiter,
		orderCache,
		deps.idempotencyRepo,
		logger,
	)

	apiSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           apiHandler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		errCh <- apiSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP API")
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// registerHealthCheckers подключает проверки: хранилище и custody критичны,
// кэш и Kafka переводят сервис лишь в degraded.
func registerHealthCheckers(
	handler *healthcheck.Handler,
	deps *runtimeDependencies,
	orderCache *cache.Cache,
	services *Services,
	cfg Config,
	kafkaErr error,
) {
	if deps.store != nil {
		handler.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return deps.store.Ping(ctx)
		}))
	}

	handler.RegisterChecker("custody", healthcheck.NewCustodyChecker(func() error {
		escrowed, expected, err := services.Engine.ReconcileCustody()
		if err != nil {
			return err
		}
		if escrowed != expected {
			return fmt.Errorf("escrow drift: vault=%d open orders=%d", escrowed, expected)
		}
		return nil
	}))

	if orderCache != nil {
		handler.RegisterChecker("redis", healthcheck.NewDegradedChecker("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return orderCache.Ping(ctx)
		}))
	}

	if cfg.KafkaBrokers != "" && kafkaErr != nil {
		handler.RegisterChecker("kafka", healthcheck.NewDegradedChecker("kafka", func() error {
			return kafkaErr
		}))
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics и health-эндпоинты.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
