package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jlrickert/wikidex/pkg/dex"
	"github.com/jlrickert/wikidex/pkg/wikidex"
)

// NewWatchCmd returns the `watch` cobra command.
func NewWatchCmd(deps *Deps) *cobra.Command {
	var opts wikidex.WatchOptions
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "update the indexes whenever the backend changes on disk",
		Long: `Watch the directories of the on-disk backend partitions and run an index
update once a burst of changes settles. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := deps.service()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			opts.OnUpdate = func(stats dex.UpdateStats, err error) {
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
					return
				}
				if stats.Changed() {
					fmt.Fprint(out, wikidex.FormatUpdate(stats))
				}
			}
			return w.Watch(cmd.Context(), opts)
		},
	}
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", wikidex.DefaultDebounce, "quiet period before updating")
	return cmd
}

// NewMetricsCmd returns the `metrics` cobra command.
func NewMetricsCmd(deps *Deps) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "print or serve the index metrics",
		Long: `Print the index metrics in the Prometheus text format. With --listen the
metrics are served under /metrics until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := deps.service()
			if err != nil {
				return err
			}
			if listen != "" {
				return w.ServeMetrics(cmd.Context(), listen)
			}
			return w.Metrics(cmd.Context(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "serve on this address, for example :9100")
	return cmd
}
