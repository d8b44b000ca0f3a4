package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/classgate/classgate/internal/api"
	"github.com/classgate/classgate/internal/auth"
	"github.com/classgate/classgate/internal/config"
	"github.com/classgate/classgate/internal/invite"
	"github.com/classgate/classgate/internal/metrics"
	"github.com/classgate/classgate/internal/ratelimit"
	"github.com/classgate/classgate/internal/signup"
	"github.com/classgate/classgate/internal/user"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Classgate server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required (or set CLASSGATE_JWT_SECRET)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return err
	}
	slog.Info("connected to database")

	userStore := user.NewStore(pool)
	inviteStore := invite.NewStore(pool)
	signupService := signup.NewService(pool, userStore, inviteStore)
	authService := auth.NewService(userStore, cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
	limiter := ratelimit.New(cfg.RateLimit.Login, cfg.RateLimit.Window)

	m := metrics.New()
	m.RegisterDBCollector(func() (int32, int32, int32) {
		stat := pool.Stat()
		return stat.TotalConns(), stat.IdleConns(), stat.AcquiredConns()
	})

	router := api.NewRouter(api.RouterDeps{
		UserStore:         userStore,
		InviteStore:       inviteStore,
		Signup:            signupService,
		Auth:              authService,
		Limiter:           limiter,
		Metrics:           m,
		DB:                pool,
		AllowedOrigins:    cfg.CORS.AllowedOrigins,
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	return srv.Shutdown(shutdownCtx)
}
