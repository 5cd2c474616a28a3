package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-catalog/pkg/gateway/config"
	gatewayserver "github.com/vango-go/vai-catalog/pkg/gateway/server"
	"github.com/vango-go/vai-catalog/pkg/gateway/uistream"
)

func newServeCmd(logger func() *slog.Logger, deps cliDeps) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local control server",
		Long: `Serve exposes session control, catalog search, search history and a
websocket event stream for a presentation client, plus the /api/session
token route.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), logger(), deps, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides VAI_CATALOG_ADDR)")
	return cmd
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runServe(ctx context.Context, logger *slog.Logger, deps cliDeps, addr string) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.buildServices == nil {
		return errors.New("missing buildServices dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if addr != "" {
		cfg.Addr = addr
	}

	hub := uistream.NewHub(uistream.Config{
		Buffer:         cfg.EventsBuffer,
		MaxSubscribers: cfg.EventsMaxSubscribers,
		PingInterval:   cfg.EventsPingInterval,
		WriteTimeout:   cfg.EventsWriteTimeout,
	}, logger)
	defer hub.Close()

	svc, err := deps.buildServices(ctx, cfg, logger, hub)
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()
		if err := svc.Close(closeCtx); err != nil {
			logger.Warn("close services", "error", err)
		}
	}()
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	svc.Start(bgCtx)

	gw := gatewayserver.New(cfg, gatewayserver.Deps{App: svc.app, Tokens: svc.issuer, Events: hub}, logger)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting control server", "addr", cfg.Addr, "connect_enabled", cfg.CanConnect(), "model", cfg.Model)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("context done, shutting down")
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()
	svc.app.Disconnect()
	hub.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitEventStreams(waitCtx) {
		gw.CancelEventStreams()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("control server stopped")
	return nil
}
