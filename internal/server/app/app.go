// Package app связывает конфигурацию, хранилище, сервисы и HTTP серверы
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/iudanet/authgate/internal/config"
	"github.com/iudanet/authgate/internal/server/credentials"
	"github.com/iudanet/authgate/internal/server/ledger"
	"github.com/iudanet/authgate/internal/server/metrics"
	"github.com/iudanet/authgate/internal/server/middleware"
	"github.com/iudanet/authgate/internal/server/storage"
	"github.com/iudanet/authgate/internal/server/tokens"
)

// App сервер authgate
type App struct {
	cfg           *config.Config
	logger        *slog.Logger
	store         storage.Storage
	limiter       *middleware.SlidingWindowLimiter
	server        *http.Server
	metricsServer *http.Server
}

// New открывает хранилище и собирает HTTP серверы.
// Ошибка конфигурации ключа подписи останавливает запуск до открытия портов.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, version string) (*App, error) {
	issuer, err := tokens.NewIssuer([]byte(cfg.JWTSecret))
	if err != nil {
		return nil, err
	}

	store, err := OpenStorage(ctx, cfg.StorageDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.StorageDriver, err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	limiter := middleware.NewSlidingWindowLimiter(cfg.RateLimitWindow, logger,
		middleware.WithSweepInterval(cfg.RateLimitSweepInterval))

	l := ledger.New(store, issuer, logger,
		ledger.WithTTL(cfg.RefreshTokenTTL),
		ledger.WithRotation(cfg.RotateRefreshTokens))

	router := NewRouter(RouterDeps{
		Logger:      logger,
		Issuer:      issuer,
		Credentials: credentials.New(store, cfg.BcryptCost, logger),
		Ledger:      l,
		Limiter:     limiter,
		Storage:     store,
		Metrics:     collector,
		Version:     version,
		CORSOrigins: cfg.CORSAllowedOrigins,
		RateLimit: middleware.RateLimitConfig{
			AuthenticatedLimit: cfg.AuthenticatedLimit,
			AnonymousLimit:     cfg.AnonymousLimit,
			TrustProxyHeaders:  cfg.TrustProxyHeaders,
		},
	})

	a := &App{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		limiter: limiter,
		server: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
		},
	}

	if cfg.MetricsAddr != "" {
		a.metricsServer = &http.Server{
			Addr:        cfg.MetricsAddr,
			Handler:     metrics.SetupMetricsRoute(registry),
			ReadTimeout: cfg.ReadTimeout,
		}
	}

	return a, nil
}

// Handler возвращает HTTP API (для тестов)
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Run слушает адреса из конфигурации до отмены ctx
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Addr, err)
	}

	var metricsLn net.Listener
	if a.metricsServer != nil {
		metricsLn, err = net.Listen("tcp", a.cfg.MetricsAddr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("failed to listen on %s: %w", a.cfg.MetricsAddr, err)
		}
	}

	return a.Serve(ctx, ln, metricsLn)
}

// Serve обслуживает уже открытые listeners до отмены ctx, затем
// выполняет graceful shutdown. metricsLn может быть nil.
func (a *App) Serve(ctx context.Context, ln, metricsLn net.Listener) error {
	errC := make(chan error, 2)
	var wg sync.WaitGroup

	serve := func(srv *http.Server, l net.Listener, name string) {
		defer wg.Done()
		a.logger.Info("listening", slog.String("server", name), slog.String("addr", l.Addr().String()))
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errC <- fmt.Errorf("%s server: %w", name, err)
		}
	}

	wg.Add(1)
	go serve(a.server, ln, "api")

	if a.metricsServer != nil && metricsLn != nil {
		wg.Add(1)
		go serve(a.metricsServer, metricsLn, "metrics")
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case runErr = <-errC:
		a.logger.Error("server failed", slog.Any("error", runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown failed", slog.Any("error", err))
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}

	wg.Wait()

	return runErr
}

// Close останавливает limiter и закрывает хранилище
func (a *App) Close() error {
	a.limiter.Stop()
	return a.store.Close()
}
