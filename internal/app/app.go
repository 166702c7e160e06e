package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/MiloszKom/EcommerceAPI-sub000/internal/api"
	"github.com/MiloszKom/EcommerceAPI-sub000/internal/gateway"
	healthcheck "github.com/MiloszKom/EcommerceAPI-sub000/internal/health"
	"github.com/MiloszKom/EcommerceAPI-sub000/internal/resilience"
	"github.com/MiloszKom/EcommerceAPI-sub000/internal/service/orders"
	"github.com/MiloszKom/EcommerceAPI-sub000/internal/version"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	CartBaseURL    string
	CatalogBaseURL string

	// PostgresDSN пустой — заказы живут в памяти.
	PostgresDSN string
	// KafkaBrokers пустой — события заказов не публикуются.
	KafkaBrokers string
}

// DefaultConfig возвращает базовые адреса API, метрик и внешних сервисов.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:       ":8080",
		MetricsAddr:    ":9090",
		CartBaseURL:    "http://localhost:8081",
		CatalogBaseURL: "http://localhost:8082",
	}
}

func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close(logger)

	// Сборка оркестратора: с Kafka, если брокеры настроены.
	var orchestrator *orders.Orchestrator
	if deps.KafkaProducer != nil {
		orchestrator = orders.NewOrchestratorWithKafka(
			deps.Repo,
			deps.Carts,
			deps.Inventory,
			deps.KafkaProducer,
			logger.WithField("layer", "saga"),
		)
	} else {
		orchestrator = orders.NewOrchestrator(
			deps.Repo,
			deps.Carts,
			deps.Inventory,
			logger.WithField("layer", "saga"),
		)
	}

	apiMux := http.NewServeMux()
	handler := api.NewHandler(orchestrator, logger.WithField("layer", "http"))
	handler.Register(apiMux)

	// HTTP Health checks
	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if deps.Postgres != nil {
		healthHandler.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return deps.Postgres.Ping(pingCtx)
		}))
	}
	// Открытый circuit до удалённого сервиса деградирует сервис, но не снимает
	// readiness: чтения и отказ по таксономии ошибок продолжают работать.
	for _, dependency := range []string{gateway.DependencyCart, gateway.DependencyCatalog} {
		healthHandler.RegisterChecker(dependency, healthcheck.NewDegradedChecker(dependency, breakerCheck(deps.Caller, dependency)))
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	apiSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: apiMux}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		errCh <- apiSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
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

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus.
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

// breakerCheck сообщает состояние circuit breaker зависимости для health check.
func breakerCheck(caller *resilience.Caller, dependency string) func() error {
	return func() error {
		if state := caller.State(dependency); state != gobreaker.StateClosed {
			return fmt.Errorf("circuit breaker is %s", state)
		}
		return nil
	}
}

func splitBrokers(raw string) []string {
	parts := strings.Split(raw, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}
