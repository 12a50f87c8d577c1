package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/boothsurvey/internal/activity"
	"github.com/dukerupert/boothsurvey/internal/archive"
	"github.com/dukerupert/boothsurvey/internal/handler"
	"github.com/dukerupert/boothsurvey/internal/server"
	"github.com/dukerupert/boothsurvey/internal/sms"
	"github.com/spf13/cobra"
)

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := a.cfg
	logger := a.logger

	db, err := a.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	srvCfg := server.Config{
		Auth: handler.AuthConfig{
			CountryCode: cfg.Auth.CountryCode,
			OTPTTL:      cfg.Auth.OTPTTL,
			SessionTTL:  cfg.Auth.SessionTTL,
		},
		WatchdogTimeout: cfg.Watchdog.Timeout,
		SMS:             sms.NewClient(cfg.SMS.Endpoint, cfg.SMS.APIKey, cfg.SMS.SenderID),
		Location:        cfg.Location(),
		Archive: archive.Config{
			S3: archive.S3Config{
				Endpoint:  cfg.Archive.S3.Endpoint,
				Bucket:    cfg.Archive.S3.Bucket,
				Region:    cfg.Archive.S3.Region,
				AccessKey: cfg.Archive.S3.AccessKey,
				SecretKey: cfg.Archive.S3.SecretKey,
			},
			Passphrase:    cfg.Archive.Passphrase,
			Hour:          cfg.Archive.Hour,
			RetentionDays: cfg.Archive.RetentionDays,
		},
	}

	if cfg.Redis.URL != "" {
		client, err := activity.DialRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer client.Close()
		srvCfg.Markers = activity.NewRedisStore(client, markerTTL(cfg.Auth.SessionTTL, cfg.Watchdog.Timeout))
		logger.Info("activity markers in redis")
	}

	if !srvCfg.SMS.Configured() {
		logger.Warn("sms gateway not configured, login codes will be logged")
	}
	if !cfg.Archive.Enabled() {
		logger.Info("archives disabled, storage or passphrase not configured")
	}

	srv := server.New(db, srvCfg, logger)
	srv.Start(ctx)
	defer srv.Stop()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("boothsurvey running", "url", cfg.Server.BaseURL, "watchdog_timeout", cfg.Watchdog.Timeout)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// markerTTL keeps a Redis marker for as long as its session can be used.
func markerTTL(sessionTTL, timeout time.Duration) time.Duration {
	return max(sessionTTL, 2*timeout)
}
