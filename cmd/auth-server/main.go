package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinauth/clinauth/internal/config"
	"github.com/clinauth/clinauth/internal/platform/audit"
	"github.com/clinauth/clinauth/internal/platform/auth"
	"github.com/clinauth/clinauth/internal/platform/db"
	"github.com/clinauth/clinauth/internal/platform/middleware"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "auth-server",
		Short: "SMART on FHIR authorization server",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	root.AddCommand(serveCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("database_url is required for migrate")
			}
			log := newLogger(cfg)
			pool, err := db.NewPool(cmd.Context(), cfg.DatabaseURL, log)
			if err != nil {
				return err
			}
			defer pool.Close()
			return db.Migrate(cmd.Context(), pool, log, auth.MigrationAuth, audit.Migration)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := newLogger(cfg)

	var (
		tokenStore   auth.TokenStore
		userStore    auth.UserStore
		grantStore   auth.EmergencyAccessStore
		authn        auth.UserAuthenticator
		auditLogger  auth.AuditLogger
		createLaunch func(ctx context.Context, lc *auth.LaunchContext) (string, error)
	)

	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool, log, auth.MigrationAuth, audit.Migration); err != nil {
			return err
		}

		pgUsers := auth.NewPGUserStore(pool)
		tokenStore = auth.NewPGTokenStore(pool)
		userStore = pgUsers
		grantStore = auth.NewPGEmergencyAccessStore(pool)
		authn = pgUsers
		auditLogger = audit.NewPGAuditLogger(pool, log)
		createLaunch = func(ctx context.Context, lc *auth.LaunchContext) (string, error) {
			token, err := auth.NewLaunchToken()
			if err != nil {
				return "", err
			}
			if err := pgUsers.SaveLaunchContext(ctx, token, lc, time.Now().Add(cfg.LaunchTTL)); err != nil {
				return "", err
			}
			return token, nil
		}
	} else {
		log.Warn().Msg("no database_url set, running with in-memory stores")
		memUsers := auth.NewMemoryUserStore(cfg.LaunchTTL)
		tokenStore = auth.NewMemoryTokenStore()
		userStore = memUsers
		grantStore = auth.NewMemoryEmergencyAccessStore()
		authn = memUsers
		auditLogger = auth.NewZerologAuditLogger(log)
		createLaunch = func(_ context.Context, lc *auth.LaunchContext) (string, error) {
			return memUsers.CreateLaunchToken(lc)
		}
	}

	engine := auth.NewPermissionEngine(grantStore, auditLogger)
	server := auth.NewAuthorizationServer(auth.ServerConfig{
		Issuer:     cfg.Issuer,
		SigningKey: []byte(cfg.SigningKey),
		CodeTTL:    cfg.CodeTTL,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	}, tokenStore, userStore)
	handler := auth.NewHandler(server, engine, userStore, authn, createLaunch, log)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(
		middleware.Recovery(log),
		middleware.RequestLogger(log),
		middleware.SecurityHeaders(),
		middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).Middleware(),
	)
	handler.RegisterRoutes(e)
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		log.Info().Str("addr", addr).Str("issuer", cfg.Issuer).Msg("authorization server listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.IsProduction() {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger.Level(level).With().Timestamp().Logger()
}
