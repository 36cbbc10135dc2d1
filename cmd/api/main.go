package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"telemetra.io/internal/auth"
	"telemetra.io/internal/config"
	"telemetra.io/internal/grpcapi"
	"telemetra.io/internal/httpapi"
	"telemetra.io/internal/migrate"
	"telemetra.io/internal/obs"
	"telemetra.io/internal/store/memory"
	"telemetra.io/internal/store/pg"
	"telemetra.io/internal/store/redisledger"
	"telemetra.io/internal/stream"
	"telemetra.io/migrations"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("TELEMETRA_CONFIG"), "path to YAML config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "telemetra-api: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := obs.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	logger = logger.With(zap.String("service", "telemetra-api"), zap.String("version", version))
	obs.SetLogger(logger)
	defer func() { _ = logger.Sync() }()

	// Инициализация observability (регистрация метрик, build info)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	if cfg.Tracing.Enabled {
		shutdown, err := obs.InitTracing(obs.TracingConfig{
			ServiceName: "telemetra-api",
			Version:     version,
			SampleRatio: cfg.Tracing.SampleRatio,
			LogSpans:    cfg.Tracing.LogSpans,
		}, logger.Named("trace"))
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, pgStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if pgStore != nil {
		defer pgStore.Close()
	}

	ledger, closeLedger, err := openLedger(ctx, cfg, pgStore, logger)
	if err != nil {
		return err
	}
	defer closeLedger()

	svc, err := auth.NewService(store,
		auth.WithSigningKey(cfg.Auth.SigningKey),
		auth.WithAlgorithm(cfg.Auth.Algorithm),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
		auth.WithLedger(ledger),
		auth.WithLogger(logger.Named("auth")),
		auth.WithObserver(obs.AuthMetrics{}),
	)
	if err != nil {
		return fmt.Errorf("auth service: %w", err)
	}

	probe := httpapi.ReadyProbe{}
	if pgStore != nil {
		probe.DB = pgStore.DB()
	}

	proxies, err := cfg.Security.TrustedProxyPrefixes()
	if err != nil {
		return err
	}
	opts := httpapi.Options{
		Version:        version,
		CORSOrigins:    cfg.Security.CORSOrigins,
		MaxBodyBytes:   cfg.Security.MaxBodyBytes,
		TrustedProxies: proxies,
	}
	if cfg.Security.RateLimit.Enabled {
		opts.RateLimitBurst = cfg.Security.RateLimit.Burst
		opts.RateLimitRPS = cfg.Security.RateLimit.RPS
	}
	opts.Hub = stream.New()
	api := httpapi.New(svc, probe, opts)
	defer api.Close()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http listen: %w", err)
		}
	}()

	var grpcSrv *grpcapi.Server
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = grpcapi.New(svc, probe, logger.Named("grpc"))
		go grpcSrv.WatchReadiness(ctx, 10*time.Second)
		go func() {
			logger.Info("grpc listening", zap.String("addr", cfg.GRPC.Addr))
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc serve: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("stopped")
	return nil
}

// openStore selects Postgres when a DSN is configured and the in-memory
// store otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (auth.Store, *pg.Store, error) {
	if cfg.Database.DSN == "" {
		logger.Warn("database dsn is empty; using the in-memory store")
		return memory.New(), nil, nil
	}
	st, err := pg.Open(cfg.Database.DSN, pg.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := st.Ping(pingCtx); err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		applied, err := migrate.NewManager(st.DB(), migrations.Schema, nil, migrate.WithLogger(logger.Named("migrate"))).Up(ctx)
		if err != nil {
			_ = st.Close()
			return nil, nil, fmt.Errorf("auto migrate: %w", err)
		}
		logger.Info("schema up to date", zap.Strings("applied", applied))
	}
	return st, st, nil
}

// openLedger builds the configured revocation ledger and starts the purge
// loop for backends that do not expire entries themselves.
func openLedger(ctx context.Context, cfg *config.Config, pgStore *pg.Store, logger *zap.Logger) (auth.RevocationLedger, func(), error) {
	switch cfg.Ledger.Backend {
	case config.LedgerPostgres:
		if pgStore == nil {
			return nil, nil, errors.New("ledger backend postgres requires database.dsn")
		}
		l, err := pg.NewLedger(pgStore.DB(), time.Now)
		if err != nil {
			return nil, nil, err
		}
		purgeCtx, cancel := context.WithCancel(ctx)
		go purgeLoop(purgeCtx, l, cfg.Ledger.PurgeInterval, logger)
		return l, cancel, nil
	case config.LedgerRedis:
		l, err := redisledger.New(redisledger.Options{
			Addr:     cfg.Ledger.Redis.Addr,
			Password: cfg.Ledger.Redis.Password,
			DB:       cfg.Ledger.Redis.DB,
			Prefix:   cfg.Ledger.Redis.Prefix,
		}, time.Now)
		if err != nil {
			return nil, nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := l.Ping(pingCtx); err != nil {
			_ = l.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return l, closer(l, logger), nil
	default:
		if cfg.Ledger.Backend != config.LedgerMemory {
			return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
		}
		logger.Warn("revocation ledger is process-local; run a single replica or configure postgres/redis")
		return auth.NewMemoryLedger(time.Now), func() {}, nil
	}
}

func closer(c io.Closer, logger *zap.Logger) func() {
	return func() {
		if err := c.Close(); err != nil {
			logger.Warn("close ledger", zap.Error(err))
		}
	}
}

type purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

func purgeLoop(ctx context.Context, p purger, every time.Duration, logger *zap.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("purge revoked tokens", zap.Error(err))
				continue
			}
			obs.LedgerPurged(n)
			if n > 0 {
				logger.Debug("purged revoked tokens", zap.Int64("count", n))
			}
		}
	}
}
