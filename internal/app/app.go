package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ismistube/backend/internal/chatclient"
	"github.com/ismistube/backend/internal/config"
	"github.com/ismistube/backend/internal/handlers"
	"github.com/ismistube/backend/internal/httpserver"
	"github.com/ismistube/backend/internal/logging"
)

// Run bootstraps the IsmisTube backend application.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("expected command: serve, migrate, useradd, or chat")
	}

	switch args[0] {
	case "serve":
		return serve(ctx)
	case "migrate":
		return runMigrations(ctx, args[1:])
	case "useradd":
		return runUserAdd(ctx, args[1:], os.Stdin, os.Stdout)
	case "chat":
		return runChat(ctx, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := buildDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	svc.start(runCtx)

	srv := httpserver.New(cfg.AppPort, handlers.NewRouter(svc.deps))

	logger.Info("starting http server",
		"port", cfg.AppPort,
		"store", cfg.Store,
		"assets", cfg.Assets,
	)

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down server", "reason", context.Cause(ctx))
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	// Hijacked websocket connections are not tracked by the server, so the
	// hub has to be stopped explicitly after the listener closes.
	shutdownErr := httpserver.GracefulShutdown(srv, svc.close)
	cancelRun()

	if err := errors.Join(serveErr, shutdownErr); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func runChat(ctx context.Context, args []string) error {
	addr := chatclient.DefaultURL
	if len(args) > 0 {
		addr = args[0]
	}
	target, err := chatclient.ChatURL(addr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return chatclient.Run(ctx, target)
}
