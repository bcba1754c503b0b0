package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jlrickert/wikidex/pkg/backend"
	"github.com/jlrickert/wikidex/pkg/config"
	"github.com/jlrickert/wikidex/pkg/wikidex"
)

// NewInitCmd returns the `init` cobra command.
//
// Usage examples:
//
//	wikidex init
//	wikidex init --wikiname TeamWiki --driver bolt
//	wikidex init --namespace users --namespace help
func NewInitCmd(deps *Deps) *cobra.Command {
	var (
		wikiName   string
		driver     string
		namespaces []string
		force      bool
		noCreate   bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "write a config file and create an empty store",
		Long: `Write a default wikidex.yaml and create the backend and empty indexes
next to it. Every --namespace gets a backend partition of its own; all other
items are stored in the default partition. An existing config file is kept
unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := deps.initConfigPath()
			if _, err := deps.Runtime.Stat(path, true); err == nil && !force {
				return fmt.Errorf("%s: %w (use --force to overwrite)", path, os.ErrExist)
			}

			cfg := config.Default()
			if wikiName != "" {
				cfg.WikiName = wikiName
			}
			part, err := initPartition(driver)
			if err != nil {
				return err
			}
			cfg.Backends["default"] = part("default")
			var mappings []backend.Mapping
			for _, ns := range namespaces {
				if ns == "" || ns == "default" {
					return fmt.Errorf("%w: namespace %q cannot have its own partition", config.ErrInvalid, ns)
				}
				cfg.Backends[ns] = part(ns)
				mappings = append(mappings, backend.Mapping{Namespace: ns, Backend: ns})
			}
			cfg.Namespaces = append(mappings, cfg.Namespaces...)
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Write(deps.Runtime, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			deps.Config = cfg
			if noCreate {
				return nil
			}

			w, err := deps.service()
			if err != nil {
				return err
			}
			out, err := w.Create(ctx, wikidex.CreateOptions{Idempotent: force})
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&wikiName, "wikiname", "", "name of the wiki")
	cmd.Flags().StringVar(&driver, "driver", config.DriverBadger, "backend driver: badger, bolt or memory")
	cmd.Flags().StringArrayVar(&namespaces, "namespace", nil, "store a namespace in a partition of its own (repeatable)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config file")
	cmd.Flags().BoolVar(&noCreate, "no-create", false, "only write the config file")
	return cmd
}

// initPartition returns a constructor of named partitions for driver.
func initPartition(driver string) (func(name string) config.Partition, error) {
	switch driver {
	case config.DriverBadger:
		return func(name string) config.Partition {
			return config.Partition{Driver: config.DriverBadger, Path: filepath.Join("data", name), Compress: config.CompressZstd}
		}, nil
	case config.DriverBolt:
		return func(name string) config.Partition {
			return config.Partition{Driver: config.DriverBolt, Path: filepath.Join("data", name+".db"), Compress: config.CompressZstd}
		}, nil
	case config.DriverMemory:
		return func(string) config.Partition {
			return config.Partition{Driver: config.DriverMemory}
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown driver %q", config.ErrInvalid, driver)
	}
}
