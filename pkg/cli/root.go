package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	appCtx "github.com/jlrickert/cli-toolkit/apppaths"
	"github.com/jlrickert/cli-toolkit/toolkit"
	"github.com/spf13/cobra"

	"github.com/jlrickert/wikidex/pkg/config"
	"github.com/jlrickert/wikidex/pkg/log"
	"github.com/jlrickert/wikidex/pkg/wikidex"
)

// Version is set at build time.
var Version = "dev"

type Deps struct {
	Runtime *toolkit.Runtime

	ConfigPath string
	LogFile    string
	LogLevel   string
	LogJSON    bool

	// Config is the parsed config file, nil when it does not exist.
	Config *config.Config
	// Wikidex is built on first use by service.
	Wikidex  *wikidex.Wikidex
	Shutdown func() error
}

// initConfigPath is where init writes the config file: the --config flag,
// then $WIKIDEX_CONFIG, then wikidex.yaml in the working directory.
func (d *Deps) initConfigPath() string {
	if d.ConfigPath != "" {
		return d.ConfigPath
	}
	if p := d.Runtime.Get("WIKIDEX_CONFIG"); p != "" {
		return p
	}
	return config.FileName
}

// configPath is the config file the other commands read. It falls back to
// the user config dir when it has a config and the working directory does
// not.
func (d *Deps) configPath() string {
	rt := d.Runtime
	p := d.initConfigPath()
	if d.ConfigPath != "" || rt.Get("WIKIDEX_CONFIG") != "" {
		return p
	}
	if _, err := rt.Stat(p, true); err == nil {
		return p
	}
	wd, _ := rt.Getwd()
	if paths, err := appCtx.NewAppPaths(rt, wd, "wikidex"); err == nil {
		user := filepath.Join(paths.ConfigRoot, config.FileName)
		if _, err := rt.Stat(user, true); err == nil {
			return user
		}
	}
	return p
}

// absPath resolves a file argument against the runtime's working directory.
func (d *Deps) absPath(p string) (string, error) {
	return d.Runtime.AbsPath(p)
}

// service returns the wikidex service over the config file.
func (d *Deps) service() (*wikidex.Wikidex, error) {
	if d.Wikidex != nil {
		return d.Wikidex, nil
	}
	if d.Config == nil {
		cfg, err := config.Read(d.Runtime, d.configPath())
		if err != nil {
			if errors.Is(err, config.ErrNotExist) {
				return nil, fmt.Errorf("%w (run \"wikidex init\" first)", err)
			}
			return nil, err
		}
		d.Config = cfg
	}
	w, err := wikidex.New(wikidex.Options{Config: d.Config, Runtime: d.Runtime})
	if err != nil {
		return nil, err
	}
	d.Wikidex = w
	return w, nil
}

func (d *Deps) close() error {
	var errs []error
	if d.Wikidex != nil {
		errs = append(errs, d.Wikidex.Close())
	}
	if d.Shutdown != nil {
		errs = append(errs, d.Shutdown())
	}
	return errors.Join(errs...)
}

// NewRootCmd builds the root cobra command and wires the persistent flags.
// PersistentPreRunE installs a logger only when the command context does not
// carry one yet, so tests can inject a test logger through the context. The
// service is opened lazily by the subcommands that need it.
func NewRootCmd(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = &Deps{}
	}

	cmd := &cobra.Command{
		Use:   "wikidex",
		Short: "index and query a revisioned wiki store",
		Long: `wikidex keeps two search indexes over a revision backend: one with every
revision ever stored and one with the newest revision of each item.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if deps.Runtime == nil {
				rt, err := toolkit.NewRuntime()
				if err != nil {
					return fmt.Errorf("unable to create runtime: %w", err)
				}
				deps.Runtime = rt
			}

			// settings from the config file apply unless a flag overrides them
			if cfg, err := config.Read(deps.Runtime, deps.configPath()); err == nil {
				deps.Config = cfg
				flags := cmd.Flags()
				if !flags.Changed("log-level") && cfg.Log.Level != "" {
					deps.LogLevel = cfg.Log.Level
				}
				if !flags.Changed("log-json") && cfg.Log.JSON {
					deps.LogJSON = true
				}
				if !flags.Changed("log-file") && cfg.Log.File != "" {
					deps.LogFile = cfg.Path(cfg.Log.File)
				}
			} else if !errors.Is(err, config.ErrNotExist) {
				return err
			}

			if !log.HasLogger(ctx) {
				out := deps.Runtime.Stream().Err
				if deps.LogFile != "" {
					path, err := deps.absPath(deps.LogFile)
					if err != nil {
						return err
					}
					f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
					if err != nil {
						return err
					}
					out = f
				}
				level, err := log.ParseLevel(deps.LogLevel)
				if err != nil {
					return err
				}
				lg, shutdown, err := log.NewLogger(log.LoggerConfig{
					Version: Version,
					Out:     out,
					Level:   level,
					JSON:    deps.LogJSON,
				})
				if err != nil {
					return err
				}
				deps.Shutdown = shutdown
				ctx = log.ContextWithLogger(ctx, lg)
			}
			cmd.SetContext(ctx)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&deps.LogFile, "log-file", "", "write logs to file (default stderr)")
	cmd.PersistentFlags().StringVar(&deps.LogLevel, "log-level", "warn", "minimum log level")
	cmd.PersistentFlags().BoolVar(&deps.LogJSON, "log-json", false, "output logs as JSON")
	cmd.PersistentFlags().StringVarP(&deps.ConfigPath, "config", "c", "", "path to config file (default $WIKIDEX_CONFIG, ./wikidex.yaml, then the user config dir)")

	cmd.AddCommand(
		NewInitCmd(deps),
		NewIndexCmd(deps),
		NewPutCmd(deps),
		NewGetCmd(deps),
		NewHistoryCmd(deps),
		NewSearchCmd(deps),
		NewDestroyItemCmd(deps),
		NewSaveCmd(deps),
		NewLoadCmd(deps),
		NewWatchCmd(deps),
		NewMetricsCmd(deps),
	)

	return cmd
}
