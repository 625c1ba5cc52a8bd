package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/coursepack/internal/archive"
	"github.com/MarcoPoloResearchLab/coursepack/internal/auth"
	"github.com/MarcoPoloResearchLab/coursepack/internal/config"
	"github.com/MarcoPoloResearchLab/coursepack/internal/logging"
	"github.com/MarcoPoloResearchLab/coursepack/internal/metrics"
	"github.com/MarcoPoloResearchLab/coursepack/internal/server"
	"github.com/MarcoPoloResearchLab/coursepack/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP upload API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
	defaults := config.NewViper()
	cmd.Flags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	if err := viper.BindPFlag("http.address", cmd.Flags().Lookup("http-address")); err != nil {
		panic(err)
	}
	return cmd
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if err := appConfig.RequireSigningSecret(); err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, logging.FormatJSON)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	promMetrics := metrics.NewProm(serviceName)
	rt, err := buildRuntime(ctx, appConfig, logger, promMetrics)
	if err != nil {
		return err
	}
	defer rt.close(context.Background())

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
	})
	if err != nil {
		return err
	}
	userService, err := users.NewService(users.ServiceConfig{Database: rt.db, Logger: logger})
	if err != nil {
		return err
	}

	janitor, err := archive.NewJanitor(archive.JanitorConfig{
		Root:     appConfig.TempDir,
		Schedule: appConfig.JanitorSchedule,
		MaxAge:   appConfig.JanitorMaxAge,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	janitor.Start()
	defer janitor.Stop()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Importer:         rt.importer,
		SessionValidator: validator,
		Users:            userService,
		MetricsHandler:   metrics.Handler(),
		MaxUploadBytes:   appConfig.MaxUploadBytes,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
