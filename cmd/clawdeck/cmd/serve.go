package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/castleridge-io/clawdeck-sub002/internal/api"
	"github.com/castleridge-io/clawdeck-sub002/internal/config"
	"github.com/castleridge-io/clawdeck-sub002/internal/engine"
	"github.com/castleridge-io/clawdeck-sub002/internal/logging"
	"github.com/castleridge-io/clawdeck-sub002/internal/store"
	"github.com/castleridge-io/clawdeck-sub002/internal/workflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine and its HTTP API",
	Long: `Run the workflow engine in the foreground.

Configuration is read from ~/.clawdeck/config.toml and .clawdeck/config.toml
in the working directory. The server and the abandoned-step reaper run until
SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveAddr   string
	serveDriver string
	serveConfig string
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveDriver, "store", "", "store driver: memory or yaml (overrides config)")
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "config file (default: standard locations)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	dir, err := getWorkDir()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	var cfg *config.Config
	if serveConfig != "" {
		cfg, err = config.Load(serveConfig)
	} else {
		cfg, err = config.LoadFromDir(dir)
	}
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if serveDriver != "" {
		cfg.Store.Driver = config.StoreDriver(serveDriver)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, closer, err := logging.NewFromConfig(cfg, dir)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	d, err := newDaemon(cfg, dir, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}

// daemon wires the store, engine, API server and reaper of one process.
type daemon struct {
	store  store.Store
	engine *engine.Engine
	server *api.Server
	reaper *engine.Reaper
	logger *slog.Logger
}

func newDaemon(cfg *config.Config, baseDir string, logger *slog.Logger) (*daemon, error) {
	st, err := openStore(cfg, baseDir, logger)
	if err != nil {
		return nil, err
	}

	loader := workflow.NewLoader(cfg.WorkflowDir(baseDir))
	loader.Builtins = !cfg.Workflows.DisableBuiltins
	registry, err := workflow.LoadRegistry(loader)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("loading workflows: %w", err)
	}

	eng := engine.New(st, registry, engine.OptionsFromConfig(cfg, logger))
	return &daemon{
		store:  st,
		engine: eng,
		server: api.NewServer(eng, cfg.Server, api.WithLogger(logger)),
		reaper: engine.NewReaper(eng, cfg.Engine.ReapInterval),
		logger: logger,
	}, nil
}

func openStore(cfg *config.Config, baseDir string, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory store, state is lost on exit")
		return store.NewMemoryStore(), nil
	case config.StoreDriverYAML:
		st, err := store.NewYAMLStore(cfg.StorePath(baseDir), logger)
		if err != nil {
			return nil, err
		}
		logger.Info("opened state file", "path", st.Path())
		return st, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// Run serves until ctx is cancelled or a component fails.
func (d *daemon) Run(ctx context.Context) error {
	d.logger.Info("clawdeck starting", "version", Version, "workflows", len(d.engine.Templates().List()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.server.Serve(ctx) })
	g.Go(func() error { return d.reaper.Run(ctx) })

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	d.logger.Info("clawdeck stopped")
	return nil
}

func (d *daemon) Close() error {
	return d.store.Close()
}
