package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/iudanet/authgate/internal/config"
	"github.com/iudanet/authgate/internal/logger"
	"github.com/iudanet/authgate/internal/server/app"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	args := os.Args[1:]

	// -version обрабатывается до загрузки конфигурации, чтобы не требовать секрет
	if hasVersionFlag(args) {
		printVersion()
		os.Exit(0)
	}

	if err := run(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "authgate-server: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("failed to close server resources", slog.Any("error", err))
		}
	}()

	log.Info("authgate server starting",
		slog.String("version", Version),
		slog.String("addr", cfg.Addr),
		slog.String("metrics_addr", cfg.MetricsAddr),
		slog.String("storage", cfg.StorageDriver))

	if err := a.Run(ctx); err != nil {
		return err
	}

	log.Info("authgate server stopped")
	return nil
}

func hasVersionFlag(args []string) bool {
	for _, arg := range args {
		switch arg {
		case "-version", "--version":
			return true
		case "--":
			return false
		}
	}
	return false
}

func printVersion() {
	fmt.Printf("AuthGate Server\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
