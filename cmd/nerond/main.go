// Nerond serves a personal notes store over the Model Context Protocol,
// guarded by a static bearer token issued through a minimal OAuth 2.1
// authorization-code flow with PKCE.
//
// Configuration comes from an optional YAML file plus environment
// variables; AUTH_TOKEN, DATABASE_PASSWORD and EMBEDDINGS_API_KEY are
// required.
//
// Usage:
//
//	# Start with defaults
//	nerond
//
//	# Configure via environment
//	SERVER_PORT=8443 nerond
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/neron/internal/auth"
	"github.com/fyrsmithlabs/neron/internal/config"
	"github.com/fyrsmithlabs/neron/internal/embeddings"
	nhttp "github.com/fyrsmithlabs/neron/internal/http"
	"github.com/fyrsmithlabs/neron/internal/logging"
	"github.com/fyrsmithlabs/neron/internal/mcp"
	"github.com/fyrsmithlabs/neron/internal/notes"
	"github.com/fyrsmithlabs/neron/internal/oauth"
	"github.com/fyrsmithlabs/neron/internal/search"
	"github.com/fyrsmithlabs/neron/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/neron/config.yaml)")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  nerond           Start the nerond server\n")
			fmt.Fprintf(os.Stderr, "  nerond version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("nerond by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run initializes all dependencies and blocks until ctx is cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting nerond",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("public_url", cfg.Server.PublicURL),
		zap.String("embedding_model", cfg.Embeddings.Model),
	)

	tel, err := telemetry.New(&telemetry.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version,
		Enabled:        cfg.Observability.EnableMetrics,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	// The provisioned token is the process's single credential; refuse
	// to start without it rather than accept all or no tokens.
	creds, err := auth.NewCredentialStore(cfg.Auth.Token)
	if err != nil {
		return fmt.Errorf("credential store: %w", err)
	}

	pool, err := notes.NewPool(ctx, cfg.Database.ConnString())
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	store, err := notes.NewPostgresStore(pool, cfg.Database.QueryTimeout.Duration(), logger)
	if err != nil {
		return fmt.Errorf("notes store: %w", err)
	}

	embedder, err := embeddings.NewService(embeddings.Config{
		BaseURL:   cfg.Embeddings.BaseURL,
		Model:     cfg.Embeddings.Model,
		APIKey:    cfg.Embeddings.APIKey,
		Dimension: cfg.Embeddings.Dimension,
		Timeout:   cfg.Embeddings.Timeout.Duration(),
	})
	if err != nil {
		return fmt.Errorf("embedding service: %w", err)
	}

	ranker, err := search.NewRanker(embedder, store, logger)
	if err != nil {
		return fmt.Errorf("ranker: %w", err)
	}

	broker, err := oauth.NewBroker(creds, oauth.Config{
		Issuer:  cfg.Server.PublicURL,
		CodeTTL: cfg.Auth.CodeTTL.Duration(),
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("oauth broker: %w", err)
	}

	mcpServer, err := mcp.NewServer(mcp.Config{
		Store:               store,
		Ranker:              ranker,
		Creds:               creds,
		ResourceMetadataURL: broker.ResourceMetadataURL(),
		Logger:              logger,
	})
	if err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	httpServer, err := nhttp.NewServer(broker, mcpServer.Handler(), store, logger, nhttp.Config{
		Host:                  cfg.Server.Host,
		Port:                  cfg.Server.Port,
		RegisterRatePerMinute: cfg.Auth.RegisterRatePerMinute,
		TokenRatePerMinute:    cfg.Auth.TokenRatePerMinute,
		EnableMetrics:         cfg.Observability.EnableMetrics,
	})
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		logger.Info(shutdownCtx, "shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func initLogger(cfg *config.Config) (*logging.Logger, error) {
	logCfg := logging.NewDefaultConfig()
	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	logCfg.Level = level
	logCfg.Format = cfg.Logging.Format
	return logging.NewLogger(logCfg, nil)
}
