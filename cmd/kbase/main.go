package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/dshills/kbase/internal/app"
	"github.com/dshills/kbase/internal/config"
	"github.com/dshills/kbase/internal/logging"
	"github.com/dshills/kbase/internal/mcp"
	"github.com/dshills/kbase/internal/searcher"
	"github.com/dshills/kbase/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const usage = `Usage: kbase [command]

Commands:
  (none)     Serve the MCP tools on stdio
  reindex    Re-embed every entry into the vector index
  probe      Select an embedding provider and report the index state
  init       Write a default config file
  --version  Print build information
`

func main() {
	os.Exit(run())
}

func run() int {
	command := ""
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "--version", "version":
		fmt.Printf("kbase\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", storage.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
		fmt.Printf("Vector Extension: %v\n", storage.VectorExtensionAvailable)
		return 0
	case "--help", "-h", "help":
		fmt.Print(usage)
		return 0
	case "init":
		if err := writeDefaultConfig(); err != nil {
			color.Red("init failed: %v", err)
			return 1
		}
		return 0
	case "", "serve", "reindex", "probe":
	default:
		fmt.Fprint(os.Stderr, usage)
		return 2
	}

	// stdout is reserved for the MCP protocol
	log.SetOutput(os.Stderr)

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}

	logger, err := logging.New(cfg.Debug)
	if err != nil {
		log.Printf("Failed to create logger: %v", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	// Set up graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", zap.Error(err))
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("shutdown error", zap.Error(err))
		}
	}()

	switch command {
	case "reindex":
		err = runReindex(ctx, a)
	case "probe":
		err = runProbe(ctx, a)
	default:
		err = runServer(ctx, a, logger)
	}
	if err != nil {
		logger.Error("command failed", zap.String("command", command), zap.Error(err))
		return 1
	}
	return 0
}

func runServer(ctx context.Context, a *app.App, logger *zap.Logger) error {
	logger.Info("kbase MCP server starting",
		zap.String("version", version),
		zap.String("build_mode", storage.BuildMode),
		zap.String("driver", storage.DriverName),
		zap.String("vector_backend", a.Config.Vector.Backend),
		zap.String("database", a.Config.Storage.DatabasePath),
	)

	server := mcp.NewServer(a, version)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Serve(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal, stopping")
		return nil
	case err := <-errChan:
		return err
	}
}

func runReindex(ctx context.Context, a *app.App) error {
	start := time.Now()
	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(os.Stderr, "Reindexing %s\n", a.Config.Storage.DatabasePath)

	indexed, err := a.Engine.ReindexAll(ctx, func(done, total int) {
		fmt.Fprintf(os.Stderr, "\r  %s %d/%d", color.CyanString("embedding"), done, total)
	})
	fmt.Fprintln(os.Stderr)

	switch {
	case errors.Is(err, searcher.ErrSemanticUnavailable):
		color.Yellow("No embedding provider or vector index is available; nothing to do.")
		return err
	case err != nil:
		color.Red("Reindex failed after %d entries: %v", indexed, err)
		return err
	}

	color.Green("Indexed %d entries with %s in %s", indexed, a.Embeddings.ProviderName(), time.Since(start).Round(time.Millisecond))
	return nil
}

func runProbe(ctx context.Context, a *app.App) error {
	fmt.Printf("Configured provider: %s\n", a.Config.Embedding.Provider)
	fmt.Printf("Vector backend:      %s\n", a.Config.Vector.Backend)
	fmt.Printf("Vector index:        %s\n", a.Index.State(ctx))

	if err := a.Embeddings.Initialize(ctx); err != nil {
		color.Red("No embedding provider: %v", err)
		return err
	}

	dims, err := a.Embeddings.Dimensions()
	if err != nil {
		return err
	}
	color.Green("Selected provider:   %s (%s, %d dims)", a.Embeddings.ProviderName(), a.Embeddings.ModelName(), dims)

	count, err := a.Index.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Indexed vectors:     %d\n", count)
	return nil
}

func writeDefaultConfig() error {
	path := config.DefaultPath()
	if path == "" {
		return errors.New("cannot determine config path")
	}
	if _, err := os.Stat(path); err == nil {
		color.Yellow("%s already exists", path)
		return nil
	}

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if err := config.Save(path, cfg); err != nil {
		return err
	}
	color.Green("Wrote %s", path)
	return nil
}
