package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jlrickert/wikidex/pkg/wikidex"
)

// NewIndexCmd returns the `index` cobra command grouping the index
// maintenance operations.
//
// Usage examples:
//
//	wikidex index create
//	wikidex index build --procs 4
//	wikidex index update
//	wikidex index dump --index latest_revs
func NewIndexCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "create, rebuild and inspect the indexes",
	}
	cmd.AddCommand(
		newIndexCreateCmd(deps),
		newIndexDestroyCmd(deps),
		newIndexBuildCmd(deps),
		newIndexUpdateCmd(deps),
		newIndexMoveCmd(deps),
		newIndexOptimizeCmd(deps),
		newIndexDumpCmd(deps),
	)
	return cmd
}

func newIndexCreateCmd(deps *Deps) *cobra.Command {
	var opts wikidex.CreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "create the backend and empty indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := deps.service()
			if err != nil {
				return err
			}
			out, err := w.Create(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.Tmp, "tmp", false, "create the staging indexes")
	cmd.Flags().BoolVar(&opts.SkipBackend, "index-only", false, "leave the backend alone")
	cmd.Flags().BoolVar(&opts.Idempotent, "idempotent", false, "keep indexes that already exist")
	return cmd
}

func newIndexDestroyCmd(deps *Deps) *cobra.Command {
	var opts wikidex.DestroyOptions
	var yes bool
	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "remove the indexes, and with --backend all revisions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Backend && !yes {
				return fmt.Errorf("refusing to destroy the backend without --yes")
			}
			w, err := deps.service()
			if err != nil {
				return err
			}
			out, err := w.Destroy(cmd.Context(), opts)
			fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().BoolVar(&opts.Tmp, "tmp", false, "destroy the staging indexes")
	cmd.Flags().BoolVar(&opts.Backend, "backend", false, "also destroy every stored revision")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm destroying the backend")
	return cmd
}

func newIndexBuildCmd(deps *Deps) *cobra.Command {
	var opts wikidex.RebuildOptions
	cmd := &cobra.Command{
		Use:   "build",
		Short: "rebuild both indexes from the backend",
		Long: `Rebuild both indexes from the backend into the staging location, promote
them to the live location and absorb revisions stored meanwhile.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := deps.service()
			if err != nil {
				return err
			}
			out, err := w.Rebuild(cmd.Context(), opts)
			fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().IntVar(&opts.Procs, "procs", 0, "parallel workers (default from config, else number of CPUs)")
	cmd.Flags().BoolVar(&opts.NoMove, "no-move", false, "leave the result in the staging location")
	return cmd
}

func newIndexUpdateCmd(deps *Deps) *cobra.Command {
	var opts wikidex.UpdateOptions
	cmd := &cobra.Command{
		Use:   "update",
		Short: "reconcile the indexes with the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := deps.service()
			if err != nil {
				return err
			}
			stats, err := w.Update(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), wikidex.FormatUpdate(stats))
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.Tmp, "tmp", false, "update the staging indexes")
	return cmd
}

func newIndexMoveCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "move",
		Short: "promote the staging indexes to the live location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := deps.service()
			if err != nil {
				return err
			}
			out, err := w.Move(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func newIndexOptimizeCmd(deps *Deps) *cobra.Command {
	var opts wikidex.OptimizeOptions
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "compact the indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := deps.service()
			if err != nil {
				return err
			}
			out, err := w.Optimize(cmd.Context(), opts)
			fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().BoolVar(&opts.Backend, "backend", false, "also compact the backend")
	return cmd
}

func newIndexDumpCmd(deps *Deps) *cobra.Command {
	var opts wikidex.DumpOptions
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "print every stored field of every indexed document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := deps.service()
			if err != nil {
				return err
			}
			_, err = w.Dump(cmd.Context(), opts, cmd.OutOrStdout())
			return err
		},
	}
	cmd.Flags().BoolVar(&opts.Tmp, "tmp", false, "dump the staging indexes")
	cmd.Flags().StringVar(&opts.Index, "index", "", "all_revs (default) or latest_revs")
	_ = cmd.RegisterFlagCompletionFunc("index", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return wikidex.IndexNames(), cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}
