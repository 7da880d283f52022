// Package main is the entry point for the streamclient subscription
// client.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alphastream/streamclient/internal/buildinfo"
	"github.com/alphastream/streamclient/internal/config"
	"github.com/alphastream/streamclient/internal/orchestrator"
	"github.com/alphastream/streamclient/internal/sinks"
	"github.com/alphastream/streamclient/internal/stream"
	"github.com/alphastream/streamclient/internal/subscription"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "run":
			os.Exit(runClient(logger, *configPath))
		case "version":
			fmt.Println(buildinfo.String())
			for k, v := range buildinfo.BuildInfo() {
				fmt.Printf("  %-12s %s\n", k+":", v)
			}
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
			os.Exit(1)
		}
		return
	}

	fmt.Println("streamclient - upstream event subscription client")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run       Connect, subscribe, and fan out events until stopped")
	fmt.Println("  version   Show version")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

// runClient loads configuration, wires the pipeline, and runs until a
// termination signal arrives or the initial connect fails fatally. It
// returns the process exit code: 0 on graceful stop, non-zero on a
// fatal initialization error.
func runClient(logger *slog.Logger, configPath string) int {
	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Error("config", "error", err)
		return 1
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		return 1
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			return 1
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	logger.Info("config loaded", "path", cfgPath, "base_url", cfg.BaseURL)

	channels := make([]subscription.Channel, len(cfg.Channels))
	for i, c := range cfg.Channels {
		channels[i] = subscription.Channel(c)
	}

	orc := orchestrator.New(orchestrator.Config{
		Stream: stream.Config{
			URL:   cfg.BaseURL,
			Token: cfg.Token,
			Backoff: stream.BackoffConfig{
				Initial:     cfg.Reconnect.Initial,
				Max:         cfg.Reconnect.Max,
				Multiplier:  cfg.Reconnect.Multiplier,
				MaxAttempts: cfg.Reconnect.MaxAttempts,
			},
			Logger: logger,
		},
		Subscription: subscription.State{Channels: channels, Users: cfg.Users},
		DedupTTL:     cfg.DedupTTL,
		Logger:       logger,
	})

	var dashboard *sinks.Dashboard
	if cfg.Outputs.CLI.Enabled {
		cli := sinks.NewCLI(os.Stdout)
		orc.Subscribe("cli", cli.Write)
	}
	if cfg.Outputs.Dashboard.Enabled {
		dashboard = sinks.NewDashboard(cfg.Outputs.Dashboard.Backlog, logger)
		orc.Subscribe("dashboard", dashboard.Write)
		go func() {
			if err := dashboard.Start(cfg.Outputs.Dashboard.Address); err != nil {
				logger.Error("dashboard feed failed", "error", err)
			}
		}()
	}
	if cfg.Outputs.Webhook.Enabled {
		wh := sinks.NewWebhook(cfg.Outputs.Webhook.URL, cfg.Outputs.Webhook.Timeout)
		orc.Subscribe("alerts", wh.Write)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
		if err := orc.Stop(); err != nil {
			logger.Error("error during shutdown", "error", err)
		}
		if dashboard != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = dashboard.Shutdown(shutdownCtx)
		}
	}()

	if err := orc.Start(ctx); err != nil {
		logger.Error("failed to connect", "error", err)
		return 1
	}

	<-ctx.Done()
	logger.Info("streamclient stopped")
	return 0
}
