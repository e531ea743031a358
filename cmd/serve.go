package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/korvuslabs/prowl/internal/api"
	"github.com/korvuslabs/prowl/internal/browser"
	"github.com/korvuslabs/prowl/internal/config"
	"github.com/korvuslabs/prowl/internal/executor"
	"github.com/korvuslabs/prowl/internal/fingerprint"
	"github.com/korvuslabs/prowl/internal/humanoid"
	"github.com/korvuslabs/prowl/internal/observability"
	"github.com/korvuslabs/prowl/internal/platform"
	"github.com/korvuslabs/prowl/internal/pool"
	"github.com/korvuslabs/prowl/internal/proxy"
	"github.com/korvuslabs/prowl/internal/session"
	"github.com/korvuslabs/prowl/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session pool and its HTTP surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runServe(cmd.Context(), cfg)
	},
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer observability.Sync(logger)

	logger.Info("Starting prowl",
		zap.String("version", Version),
		zap.String("driver", cfg.Browser.Driver),
		zap.String("stealth_level", string(cfg.Stealth.Level)),
	)

	launcher, err := newLauncher(logger, cfg)
	if err != nil {
		return err
	}

	var proxies *proxy.Manager
	if cfg.Proxy.Enabled {
		proxies, err = proxy.NewManager(logger, cfg.Proxy)
		if err != nil {
			return err
		}
		if cfg.Proxy.TestOnInit {
			proxies.TestAll(ctx, cfg.Platform.BaseURL)
		}
	}

	factory := browser.NewSessionFactory(launcher, logger, cfg.Browser.IgnoreTLSErrors)
	sessions := pool.New(logger, cfg.Session, factory)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sessions.Run(sweepCtx)

	seed := time.Now().UnixNano()
	var execOpts []executor.Option
	if cfg.Browser.Driver == config.DriverCDP {
		execOpts = append(execOpts, executor.WithEngines(session.EngineChromium))
	}
	exec := executor.New(
		logger,
		cfg.Retry,
		cfg.Stealth,
		sessions,
		fingerprint.New(seed),
		humanoid.New(cfg.Stealth.Level, seed),
		proxyRotation(proxies),
		execOpts...,
	)

	audit, dbPool, err := newAuditStore(ctx, logger, cfg.Postgres)
	if err != nil {
		return err
	}
	if dbPool != nil {
		defer dbPool.Close()
	}

	srv := api.NewServer(
		logger,
		cfg.Server,
		exec,
		platform.NewCatalog(cfg.Platform),
		sessions,
		proxyStats(proxies),
		audit,
	)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP surface listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Session.DrainTimeout+10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown did not finish cleanly", zap.Error(err))
	}
	stopSweep()
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Session pool shutdown reported errors", zap.Error(err))
	}
	if err := launcher.Close(shutdownCtx); err != nil {
		logger.Warn("Browser driver shutdown reported errors", zap.Error(err))
	}
	return nil
}

func newLauncher(logger *zap.Logger, cfg *config.Config) (browser.Launcher, error) {
	domain := cookieDomain(cfg.Platform.BaseURL)
	switch cfg.Browser.Driver {
	case config.DriverCDP:
		return browser.NewCDPLauncher(logger, domain), nil
	default:
		return browser.NewPlaywrightLauncher(logger, domain)
	}
}

// cookieDomain extracts the host the access-token cookie must be pinned to.
func cookieDomain(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return "www.tiktok.com"
	}
	return u.Host
}

// proxyRotation adapts the optional manager to the executor's interface,
// keeping the nil check in one place.
func proxyRotation(m *proxy.Manager) executor.ProxyRotation {
	if m == nil {
		return nil
	}
	return m
}

func proxyStats(m *proxy.Manager) func() map[string]any {
	if m == nil {
		return nil
	}
	return m.Stats
}

func newAuditStore(ctx context.Context, logger *zap.Logger, cfg config.PostgresConfig) (api.Auditor, *pgxpool.Pool, error) {
	if cfg.URL == "" {
		logger.Info("Outcome persistence disabled, no postgres url configured")
		return nil, nil, nil
	}
	dbPool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	st, err := store.New(ctx, dbPool, logger)
	if err != nil {
		dbPool.Close()
		return nil, nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		dbPool.Close()
		return nil, nil, err
	}
	return &auditAdapter{st: st}, dbPool, nil
}

// auditAdapter maps the API layer's audit record onto the store's row type.
type auditAdapter struct {
	st *store.Store
}

func (a *auditAdapter) RecordOutcome(ctx context.Context, rec api.AuditRecord) error {
	return a.st.RecordOutcome(ctx, store.OutcomeRecord{
		Owner:     rec.Owner,
		Operation: rec.Operation,
		Kind:      rec.Kind,
		Message:   rec.Message,
		Attempts:  rec.Attempts,
		Latency:   time.Duration(rec.LatencyMS) * time.Millisecond,
	})
}
