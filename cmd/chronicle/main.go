package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/chronicle/internal/applog"
	"github.com/stellarlinkco/chronicle/internal/config"
	"github.com/stellarlinkco/chronicle/internal/gateway"
	"github.com/stellarlinkco/chronicle/internal/narrator"
	"github.com/stellarlinkco/chronicle/internal/session"
	"github.com/stellarlinkco/chronicle/internal/store"
)

// Options for running commands with custom dependencies
type Options struct {
	RuntimeFactory narrator.RuntimeFactory
	Stdin          io.Reader
	Stdout         io.Writer
	Stderr         io.Writer
}

type app struct {
	opts Options
	cfg  *config.Config
}

func main() {
	if err := newRootCmd(Options{}).Execute(); err != nil {
		os.Exit(1)
	}
	applog.Sync()
}

func newRootCmd(opts Options) *cobra.Command {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.RuntimeFactory == nil {
		opts.RuntimeFactory = narrator.DefaultRuntimeFactory
	}
	a := &app{opts: opts}

	root := &cobra.Command{
		Use:          "chronicle",
		Short:        "chronicle - tiered state archive for long-running narrative sessions",
		SilenceUsage: true,
	}
	root.SetIn(opts.Stdin)
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)

	root.AddCommand(
		a.replayCmd(),
		a.contextCmd(),
		a.sessionsCmd(),
		a.dropCmd(),
		a.serveCmd(),
		a.narrateCmd(),
		a.statusCmd(),
		a.onboardCmd(),
	)
	return root
}

// setup loads configuration and installs the logger for commands that need
// a valid config.
func (a *app) setup() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applog.Init(applog.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: a.opts.Stderr,
	})
	a.cfg = cfg
	return nil
}

func (a *app) openRegistry() (*store.Store, *session.Registry, error) {
	st, err := store.Open(a.cfg.Store.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return st, session.NewRegistry(a.cfg.Archive, st), nil
}

func (a *app) serveCmd() *cobra.Command {
	var host string
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve sessions over HTTP with scheduled pruning",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			if host != "" {
				a.cfg.Gateway.Host = host
			}
			if port != 0 {
				a.cfg.Gateway.Port = port
			}
			gw, err := gateway.New(a.cfg)
			if err != nil {
				return fmt.Errorf("create gateway: %w", err)
			}
			return gw.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Listen host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides config)")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show chronicle status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := a.opts.Stdout
			if err := a.setup(); err != nil {
				fmt.Fprintf(out, "Config: error (%v)\n", err)
				return nil
			}
			cfg := a.cfg

			fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
			fmt.Fprintf(out, "Database: %s\n", cfg.Store.DBPath)
			fmt.Fprintf(out, "Archive: current=%d recent=%d interval=%d injection=%d\n",
				cfg.Archive.MaxCurrent, cfg.Archive.MaxRecent, cfg.Archive.ArchiveInterval, cfg.Archive.InjectionPeriod)
			fmt.Fprintf(out, "Model: %s\n", cfg.Narrator.Model)
			fmt.Fprintf(out, "Provider: %s\n", providerDisplay(cfg.Provider.Type))
			fmt.Fprintf(out, "API Key: %s\n", maskKey(cfg.Provider.APIKey))

			if _, err := os.Stat(cfg.Store.DBPath); err != nil {
				fmt.Fprintln(out, "Sessions: no database yet")
				return nil
			}
			st, err := store.Open(cfg.Store.DBPath)
			if err != nil {
				fmt.Fprintf(out, "Sessions: error (%v)\n", err)
				return nil
			}
			defer st.Close()
			infos, err := st.Sessions(cmd.Context())
			if err != nil {
				fmt.Fprintf(out, "Sessions: error (%v)\n", err)
				return nil
			}
			fmt.Fprintf(out, "Sessions: %d stored\n", len(infos))
			return nil
		},
	}
}

func (a *app) onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Initialize config and workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := a.opts.Stdout
			cfgDir := config.ConfigDir()
			cfgPath := config.ConfigPath()

			if err := os.MkdirAll(cfgDir, 0755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := config.SaveConfig(config.DefaultConfig()); err != nil {
					return fmt.Errorf("write config: %w", err)
				}
				fmt.Fprintf(out, "Created config: %s\n", cfgPath)
			} else {
				fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
			}

			if err := a.setup(); err != nil {
				return err
			}
			if err := os.MkdirAll(a.cfg.Narrator.Workspace, 0755); err != nil {
				return fmt.Errorf("create workspace: %w", err)
			}
			fmt.Fprintf(out, "Workspace ready: %s\n", a.cfg.Narrator.Workspace)
			fmt.Fprintln(out, "\nNext steps:")
			fmt.Fprintf(out, "  1. Edit %s to set your API key\n", cfgPath)
			fmt.Fprintln(out, "  2. Or set CHRONICLE_API_KEY environment variable")
			fmt.Fprintln(out, "  3. Run 'chronicle replay turns.jsonl' to build an archive")
			return nil
		},
	}
}

func providerDisplay(t string) string {
	if t == "" {
		return "anthropic (default)"
	}
	return t
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "not set"
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	default:
		return "set"
	}
}
