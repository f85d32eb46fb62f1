package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/excella/pkg/api"
	"github.com/odvcencio/excella/pkg/bus"
	"github.com/odvcencio/excella/pkg/email"
	"github.com/odvcencio/excella/pkg/logging"
)

const serveShutdownTimeout = 10 * time.Second

func runServeCommand(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	bind := fs.String("bind", "", "listen address (default server.bind)")
	token := fs.String("token", "", "bearer token (default server.auth_token or EXCELLA_SERVER_TOKEN)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if v := strings.TrimSpace(*bind); v != "" {
		cfg.Server.Bind = v
	}
	if v := strings.TrimSpace(*token); v != "" {
		cfg.Server.AuthToken = v
	}
	// Flags bypass the loader, so the bind/token pairing is checked again.
	if err := cfg.Validate(); err != nil {
		return withExitCode(fmt.Errorf("refusing to serve: %w", err), exitConfig)
	}

	a, err := newAppFn(cfg, "", appOptions{watch: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if a.watcher != nil {
		a.watcher.Start(ctx)
	}
	bridge := bus.NewBridge(a.hub, a.bus, a.logger)
	bridge.Start(ctx)
	defer bridge.Stop()

	server := api.NewServer(api.ServerConfig{
		Server:    cfg.Server,
		Registry:  a.registry(a.storeReviewer()),
		Engine:    a.engine,
		Validator: a.validator,
		Snapshots: a.snapshotProvider(),
		Store:     a.store,
		Hub:       a.hub,
		Logger:    a.logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		worker := email.NewWorker(a.bus, cfg.Email.OutboxQueue, email.NewLogMailer(a.logger), a.logger)
		if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("email worker: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), serveShutdownTimeout)
		defer done()
		a.logger.Info(logging.CategoryNetwork, "server_stopping", "shutting down", nil)
		return server.Shutdown(shutdownCtx)
	})

	if !quietMode {
		newWriter().Info("listening on %s", server.Addr())
	}
	return g.Wait()
}
