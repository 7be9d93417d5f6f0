package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/iudanet/authgate/internal/authctl"
	"github.com/iudanet/authgate/internal/config"
	"github.com/iudanet/authgate/internal/logger"
	"github.com/iudanet/authgate/internal/server/app"
	"github.com/iudanet/authgate/internal/server/credentials"
	"github.com/iudanet/authgate/internal/server/ledger"
	"github.com/iudanet/authgate/internal/server/tokens"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		stop()
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, rest, err := config.LoadCommand(args)
	if err != nil {
		return err
	}

	stdio := authctl.NewStdio()

	if len(rest) == 0 {
		authctl.PrintUsage(stdio)
		return nil
	}

	if rest[0] == "version" {
		printVersion()
		return nil
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}

	store, err := app.OpenStorage(ctx, cfg.StorageDriver, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	// authctl не выпускает access tokens, поэтому секреты берутся без JWT ключа
	l := ledger.New(store, tokens.RandomSecrets{}, log, ledger.WithTTL(cfg.RefreshTokenTTL))
	creds := credentials.New(store, cfg.BcryptCost, log)

	return authctl.New(stdio, creds, l).Run(ctx, rest)
}

func printVersion() {
	fmt.Printf("AuthGate authctl\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
