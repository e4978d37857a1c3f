// Command swarmencd runs the coordinator daemon: it owns the project
// registry, drives splitting and joining, and serves the HTTP API workers
// and the CLI talk to.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"

	"swarmenc/internal/config"
	"swarmenc/internal/deps"
	"swarmenc/internal/logging"
	"swarmenc/internal/project"
	"swarmenc/internal/server"
)

func main() {
	configFlag := flag.String("config", "", "configuration file path")
	flag.Parse()

	if err := run(*configFlag); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	logger, err := logging.NewFromConfig(cfg, "swarmencd")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	lock := flock.New(cfg.LockFilePath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return errors.New("another swarmencd instance is already running")
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("release instance lock", slog.String("error", err.Error()))
		}
	}()

	for _, status := range deps.CheckBinaries(deps.Required(cfg)) {
		if !status.Available && !status.Optional {
			logger.Warn("external tool unavailable",
				slog.String("tool", status.Name),
				slog.String("detail", status.Detail))
		}
	}

	store, err := project.OpenStore(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open project store: %w", err)
	}
	defer store.Close()

	registry := project.NewRegistry(store, newCollaborators(cfg, logger), project.PathConfig{
		SplitRoot:  cfg.SplitRoot(),
		EncodeRoot: cfg.EncodeRoot(),
		OutputDir:  cfg.Paths.OutputDir,
	}, logger)
	defer registry.Close()
	registerCompletionActions(registry)

	if err := registry.Load(ctx); err != nil {
		return fmt.Errorf("restore projects: %w", err)
	}
	logger.Info("projects restored", slog.Int("count", registry.Len()))

	apiServer := server.New(cfg, registry, logger)
	if err := apiServer.Start(ctx); err != nil {
		return err
	}
	defer apiServer.Stop()

	<-ctx.Done()
	logger.Info("swarmencd shutting down")
	return nil
}
