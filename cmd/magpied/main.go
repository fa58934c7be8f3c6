// Command magpied runs an SMTP receiving server from a YAML config file.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/corvuslabs/magpie"
)

func main() {
	configPath := flag.String("config", "magpied.yaml", "path to the YAML configuration file")
	flag.Parse()

	fileCfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("configuration error", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: fileCfg.logLevel(),
	}))

	serverCfg, closeStore, err := fileCfg.buildServerConfig(logger)
	if err != nil {
		logger.Error("configuration error", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("store close failed", slog.Any("error", err))
		}
	}()

	server, err := magpie.NewServer(serverCfg)
	if err != nil {
		logger.Error("server setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	if fileCfg.MetricsAddr != "" {
		go serveMetrics(logger, fileCfg.MetricsAddr)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", slog.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("shutdown incomplete, sessions were force-closed", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, magpie.ErrServerClosed) {
			logger.Error("server stopped", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

func serveMetrics(logger *slog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("metrics listener started", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics listener failed", slog.Any("error", err))
	}
}
