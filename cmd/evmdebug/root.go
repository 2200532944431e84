package main

import (
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/cobra"

	"github.com/dshills/evmdebug/internal/artifacts"
	"github.com/dshills/evmdebug/internal/config"
	"github.com/dshills/evmdebug/internal/debug"
	"github.com/dshills/evmdebug/internal/trace"
	"github.com/dshills/evmdebug/internal/trace/evm"
	"github.com/dshills/evmdebug/internal/trace/fixture"
)

// app holds what every command shares: the loaded configuration and the
// resources built from it.
type app struct {
	configPath string
	logLevel   string
	logFormat  string
	engineName string
	provider   string

	cfg       *config.Config
	logCloser io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "evmdebug",
		Short:         "Debug adapter for mined EVM transactions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.logCloser != nil {
				return a.logCloser.Close()
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "path to a TOML or YAML configuration file")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (trace, debug, info, warn, error, crit)")
	flags.StringVar(&a.logFormat, "log-format", "", "log format (terminal, logfmt, json)")
	flags.StringVar(&a.engineName, "engine", "", "trace engine (evm, fixture)")
	flags.StringVar(&a.provider, "provider", "", "default JSON-RPC provider URL")

	root.AddCommand(
		newServeCmd(a),
		newReplayCmd(a),
		newRecordCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads the configuration, applies flag overrides and installs the
// root logger.
func (a *app) setup(cmd *cobra.Command) error {
	path := a.configPath
	if path == "" {
		path = config.UserConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
	if flags.Changed("engine") {
		cfg.Engine.Name = a.engineName
	}
	if flags.Changed("provider") {
		cfg.Engine.ProviderURL = a.provider
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	closer, err := config.SetupLogging(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logCloser = closer
	log.Debug("Configuration loaded", "file", path, "engine", cfg.Engine.Name)
	return nil
}

// engines returns the registry of built-in trace engines.
func engines() *trace.Registry {
	r := trace.NewRegistry()
	r.Register(evm.Name, evm.NewEngine)
	r.Register(fixture.Name, fixture.NewEngine)
	return r
}

// sessionOptions builds the engine and artifact store for debug sessions.
// The caller closes the returned store.
func (a *app) sessionOptions() (debug.Options, *artifacts.Store, error) {
	logger := log.Root()

	engine, err := engines().Create(a.cfg.Engine.Name, a.cfg.TraceConfig(logger))
	if err != nil {
		return debug.Options{}, nil, err
	}
	store, err := artifacts.NewStore(a.cfg.StoreConfig(), logger)
	if err != nil {
		return debug.Options{}, nil, fmt.Errorf("artifact store: %w", err)
	}

	opts := debug.Options{
		Engine:      engine,
		Contracts:   store,
		Logger:      logger,
		StopOnEntry: a.cfg.Server.StopOnEntry,
		ProviderURL: a.cfg.Engine.ProviderURL,
		EventBuffer: a.cfg.Server.EventBuffer,
	}
	// recorded traces carry their own contracts
	if a.cfg.Engine.Name == fixture.Name {
		opts.Contracts = nil
	}
	return opts, store, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "evmdebug %s\n", version)
			fmt.Fprintf(out, "Commit: %s\n", commit)
			fmt.Fprintf(out, "Built: %s\n", date)
		},
	}
}
