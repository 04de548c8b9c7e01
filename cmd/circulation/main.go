// cmd/circulation/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"lmscirc/internal/clock"
	"lmscirc/internal/config"
	"lmscirc/internal/logger"
	"lmscirc/internal/server"
	"lmscirc/internal/telemetry"
)

func main() {
	configFile := flag.String("config", "", "path to a YAML config file (default ./config.yaml if present)")
	flag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "circulation: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	var opts []config.Option
	if configFile != "" {
		opts = append(opts, config.WithConfigFile(configFile))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return err
	}
	log := logger.Setup(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint, log)
	if err != nil {
		return err
	}

	app, err := server.New(ctx, cfg, clock.System(), log)
	if err != nil {
		return err
	}
	defer app.Close()

	app.Sweeper.Start()

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting circulation service", "addr", app.Server.Addr, "store", cfg.Store.Driver)
		if err := app.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := app.Server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	app.Sweeper.Stop(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("telemetry shutdown", "error", err)
	}
	log.Info("stopped")
	return serveErr
}
