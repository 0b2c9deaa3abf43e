package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/marchuk/docdeck/internal/auth"
	"github.com/marchuk/docdeck/internal/backend"
	"github.com/marchuk/docdeck/internal/config"
	"github.com/marchuk/docdeck/internal/dms"
	"github.com/marchuk/docdeck/internal/querycache"
	"github.com/marchuk/docdeck/internal/storage"
)

var version = "dev"

var noColor bool
var verbose bool

var rootCmd = &cobra.Command{
	Use:           "docdeck",
	Short:         "Document workspace client: upload, organize, and query documents",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		loginCmd, logoutCmd,
		uploadCmd, docsCmd, statusCmd, askCmd, bulkCmd,
		projectsCmd, tagsCmd, orgCmd,
		serveCmd, mcpCmd, versionCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the docdeck version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("docdeck", version)
	},
}

// app bundles everything a command needs. Close the store when done.
type app struct {
	cfg    config.Config
	store  *storage.Store
	auth   *auth.Manager
	client *dms.Client
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

// newApp is swapped out by command tests.
var newApp = func() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}

	tokens := auth.NewManager(store, cfg.Backend.BaseURL)

	opts := []backend.Option{
		backend.WithTokenSource(tokens),
		backend.WithTimeout(cfg.Backend.Timeout()),
		backend.WithRetryPolicy(backend.RetryPolicy{
			MaxRetries: cfg.Backend.MaxRetries,
			BaseDelay:  cfg.Backend.RetryDelay(),
			Multiplier: cfg.Backend.BackoffMultiplier,
		}),
		backend.WithRequestInterceptor(backend.RequestID()),
		backend.WithRequestInterceptor(backend.UserAgent(version)),
		backend.WithErrorInterceptor(backend.FriendlyErrors()),
	}
	if cfg.Backend.CircuitBreaker {
		opts = append(opts, backend.WithCircuitBreaker())
	}
	api := backend.New(cfg.Backend.BaseURL, opts...)

	clientOpts := []dms.ClientOption{
		dms.WithCache(querycache.New(cfg.Query.CacheTTL())),
		dms.WithRepository(store),
		dms.WithCollection(cfg.Query.Collection),
	}
	if cfg.Pipeline.Local {
		clientOpts = append(clientOpts, dms.WithLocalMode())
	}

	return &app{
		cfg:    cfg,
		store:  store,
		auth:   tokens,
		client: dms.NewClient(api, clientOpts...),
	}, nil
}
