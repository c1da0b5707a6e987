package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"votegate/internal/platform/config"
	"votegate/internal/platform/httpserver"
	"votegate/internal/platform/logger"
	"votegate/internal/platform/tracing"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// main wires the gate, its SMS dispatcher and the HTTP router, then runs the
// server and the dispatcher until SIGINT or SIGTERM.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "votegate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, "votegate")
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("failed to flush traces", "error", err)
		}
	}()

	a, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	log.Info("starting votegate",
		"version", version,
		"addr", cfg.Server.Addr,
		"election_id", cfg.Gate.ElectionID,
		"sms_provider", cfg.SMS.Provider,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.dispatcher.Run(ctx)
	})
	g.Go(func() error {
		srv := httpserver.New(cfg.Server.Addr, a.router)
		return httpserver.Serve(ctx, srv, cfg.Server.ShutdownTimeout, log)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("votegate stopped")
	return nil
}
