// Package main is the entry point for the reliabilityd daemon.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PROM8EUS/reliability/internal/admin"
	"github.com/PROM8EUS/reliability/internal/orchestrator"
	"github.com/PROM8EUS/reliability/pkg/config"
	"github.com/PROM8EUS/reliability/pkg/logging"
	"github.com/PROM8EUS/reliability/pkg/telemetry"
)

const defaultConfigPath = "reliability.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	listenAddr := flag.String("listen", "", "Admin address to listen on (overrides config)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	prettyLogs := flag.Bool("pretty", false, "Enable pretty console logging")
	flag.Parse()

	provider, err := config.NewFileProvider(*configPath, slog.Default())
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := provider.Close(); err != nil {
			slog.Error("Failed to close config provider", "error", err)
		}
	}()
	cfg := provider.Current()

	if *listenAddr != "" {
		cfg.Server.AdminAddress = *listenAddr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: *prettyLogs || cfg.Logging.Pretty,
	})
	slog.SetDefault(logger)

	logger.Info("Starting reliabilityd", "config", *configPath, "groups", len(cfg.Groups))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: "reliabilityd",
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Environment: cfg.Telemetry.Environment,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		logger.Error("Failed to initialize telemetry", "error", err)
		os.Exit(1)
	}

	engine := orchestrator.New(cfg.Engine.ToOrchestrator(), orchestrator.Options{Logger: logger})
	for _, gc := range cfg.Groups {
		if err := engine.RegisterGroup(gc.ToGroup()); err != nil {
			logger.Error("Failed to register group", "group", gc.ID, "error", err)
			os.Exit(1)
		}
	}
	engine.Start(ctx)

	go watchConfig(ctx, provider, engine, logger)

	server := &http.Server{
		Addr:              cfg.Server.AdminAddress,
		Handler:           admin.NewServer(engine, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Admin server listening", "addr", cfg.Server.AdminAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin server failed", "error", err)
			os.Exit(1)
		}
	}()

	waitForShutdown(server, shutdownTelemetry, logger)
}

// watchConfig re-registers groups whenever the config file reloads.
// Groups removed from the file are unregistered.
func watchConfig(ctx context.Context, provider *config.FileProvider, engine *orchestrator.Engine, logger *slog.Logger) {
	updates := provider.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			wanted := make(map[string]struct{}, len(cfg.Groups))
			for _, gc := range cfg.Groups {
				wanted[gc.ID] = struct{}{}
				if err := engine.RegisterGroup(gc.ToGroup()); err != nil {
					logger.Error("Failed to re-register group", "group", gc.ID, "error", err)
				}
			}
			for _, id := range engine.GroupIDs() {
				if _, keep := wanted[id]; !keep {
					if err := engine.RemoveGroup(id); err != nil {
						logger.Error("Failed to remove group", "group", id, "error", err)
					}
				}
			}
		}
	}
}

func waitForShutdown(server *http.Server, shutdownTelemetry func(context.Context) error, logger *slog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Admin server shutdown error", "error", err)
	}
	if err := shutdownTelemetry(ctx); err != nil {
		logger.Error("Telemetry shutdown error", "error", err)
	}
}
