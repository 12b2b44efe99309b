package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/symbolindex/indexd/pkg/api"
	"github.com/symbolindex/indexd/pkg/config"
	"github.com/symbolindex/indexd/pkg/monitoring"
	"github.com/symbolindex/indexd/pkg/project"
	"github.com/symbolindex/indexd/pkg/storage"
	"github.com/symbolindex/indexd/pkg/workspace"
)

var (
	// Global flags
	configFile string
	logLevel   string
	logFormat  string
	cacheDir   string
	enableHTTP bool
	httpPort   int

	// Build info (set by build system)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "indexd",
		Short: "Project symbol index daemon",
		Long: `indexd maintains an incremental symbol index for a set of projects.
It parses source files in parallel, resolves assembly references, keeps a
persistent binary content cache per project, and can expose the index over
a local HTTP API.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		RunE:    runDaemon,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&logFormat, "log-format", "f", "", "log format (json, console)")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "content cache directory")
	rootCmd.PersistentFlags().BoolVar(&enableHTTP, "http", false, "enable the HTTP API server")
	rootCmd.PersistentFlags().IntVarP(&httpPort, "port", "p", 0, "HTTP API port")

	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Command line flags override the config file.
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if cacheDir != "" {
		cfg.Index.CacheDir = cacheDir
	}
	if enableHTTP {
		cfg.Server.Enabled = true
	}
	if httpPort > 0 {
		cfg.Server.Port = httpPort
	}

	logger, err := setupLogging(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("cache_dir", cfg.Index.CacheDir).
		Bool("http_enabled", cfg.Server.Enabled).
		Msg("Starting indexd")

	if err := cfg.CreateDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	shutdownTracing, err := monitoring.InitTracing(monitoring.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     version,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	manifests, err := storage.NewManifestStore(cfg.Index.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open manifest store: %w", err)
	}
	defer manifests.Close()

	hub := api.NewHub(logger)

	ws, err := workspace.New(workspace.Config{
		CacheDir:      cfg.Index.CacheDir,
		Workers:       cfg.Index.Workers,
		ParseMemoSize: cfg.Index.ParseMemoSize,
		Manifest:      manifests,
		Progress:      hub.Progress,
	})
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}

	if err := loadProjects(ws, hub, cfg.Index.ProjectGlobs); err != nil {
		return fmt.Errorf("failed to load projects: %w", err)
	}

	if cfg.Index.StatsRetention > 0 {
		if err := manifests.CleanupParseRecords(context.Background(), cfg.Index.StatsRetention); err != nil {
			logger.Warn().Err(err).Msg("Parse record cleanup failed")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	var server *api.Server
	if cfg.Server.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)
		server = api.NewServer(api.ServerConfig{
			Address:      addr,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}, ws, manifests, hub, logger)
		go func() {
			errCh <- server.Start()
		}()
	} else {
		go func() {
			// No server: block until the initial index settles, then
			// wait for a signal.
			if err := ws.WaitReady(ctx); err != nil && ctx.Err() == nil {
				errCh <- err
				return
			}
			logger.Info().Msg("Initial index complete")
			<-ctx.Done()
			errCh <- nil
		}()
	}

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("Daemon error")
			cancel()
			closeAll(ctx, server, ws, shutdownTracing, logger)
			return err
		}
	}

	closeAll(context.Background(), server, ws, shutdownTracing, logger)
	logger.Info().Msg("Shutdown complete")
	return nil
}

func closeAll(ctx context.Context, server *api.Server, ws *workspace.Workspace, shutdownTracing func(context.Context) error, logger zerolog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if server != nil {
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("API server shutdown error")
		}
	}
	if err := ws.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Workspace shutdown error")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Tracing shutdown error")
	}
}

// loadProjects expands the configured globs, loads each descriptor and
// registers it with the workspace. A bad descriptor is logged and
// skipped rather than failing startup.
func loadProjects(ws *workspace.Workspace, hub *api.Hub, globs []string) error {
	seen := map[string]bool{}
	for _, pattern := range globs {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return fmt.Errorf("bad project glob %q: %w", pattern, err)
		}
		for _, path := range matches {
			abs, err := filepath.Abs(path)
			if err != nil {
				continue
			}
			if seen[abs] {
				continue
			}
			seen[abs] = true

			p, err := project.LoadDescriptor(abs)
			if err != nil {
				log.Warn().Err(err).Str("path", abs).Msg("Skipping invalid project descriptor")
				continue
			}
			if _, err := ws.AddProject(p); err != nil {
				log.Warn().Err(err).Str("project", p.Name).Msg("Failed to add project")
				continue
			}
			hub.ProjectAdded(p.ID)
			log.Info().
				Str("project", p.Name).
				Str("project_id", p.ID).
				Int("source_files", len(p.SourceFiles())).
				Msg("Project loaded")
		}
	}
	log.Info().Int("count", len(seen)).Msg("Project discovery complete")
	return nil
}

func setupLogging(cfg config.LoggingConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	switch cfg.Format {
	case "console":
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	case "json":
		fallthrough
	default:
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return logger, nil
}

func newConfigCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()

			if outputPath == "" {
				outputPath = "indexd.yaml"
			}

			if err := cfg.SaveConfig(outputPath); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Printf("Generated default configuration: %s\n", outputPath)
			return nil
		},
	}
	generateCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			fmt.Printf("Configuration is valid\n")
			fmt.Printf("Cache dir: %s\n", cfg.Index.CacheDir)
			fmt.Printf("Database: %s\n", cfg.Index.DatabasePath)
			fmt.Printf("Project globs: %d\n", len(cfg.Index.ProjectGlobs))
			return nil
		},
	}

	cmd.AddCommand(generateCmd)
	cmd.AddCommand(validateCmd)

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("indexd %s\ncommit: %s\nbuilt: %s\n", version, commit, date)
		},
	}
}
