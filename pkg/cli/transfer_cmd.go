package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jlrickert/wikidex/pkg/wikidex"
)

// NewSaveCmd returns the `save` cobra command.
func NewSaveCmd(deps *Deps) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "serialize every revision of the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := deps.service()
			if err != nil {
				return err
			}
			if file == "" || file == "-" {
				_, err := w.Save(cmd.Context(), cmd.OutOrStdout())
				return err
			}
			path, err := deps.absPath(file)
			if err != nil {
				return err
			}
			f, err := os.CreateTemp(filepath.Dir(path), ".wikidex-save-*")
			if err != nil {
				return err
			}
			defer os.Remove(f.Name())
			n, err := w.Save(cmd.Context(), f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			if err := os.Rename(f.Name(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Saved %d revisions to %s\n", n, file)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "output file (default stdout)")
	return cmd
}

// NewLoadCmd returns the `load` cobra command.
func NewLoadCmd(deps *Deps) *cobra.Command {
	var (
		file   string
		oldNS  string
		newNS  string
		skipNS string
		opts   wikidex.LoadOptions
	)
	cmd := &cobra.Command{
		Use:   "load",
		Short: "store serialized revisions and update the indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("old-ns") {
				opts.OldNamespace = &oldNS
			}
			if cmd.Flags().Changed("new-ns") {
				opts.NewNamespace = &newNS
			}
			if cmd.Flags().Changed("skip-ns") {
				opts.SkipNamespace = &skipNS
			}
			var in io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				path, err := deps.absPath(file)
				if err != nil {
					return err
				}
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				in = bufio.NewReader(f)
			}
			w, err := deps.service()
			if err != nil {
				return err
			}
			n, stats, err := w.Load(cmd.Context(), in, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d revisions\n", n)
			if !opts.NoUpdate {
				fmt.Fprint(cmd.OutOrStdout(), wikidex.FormatUpdate(stats))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "input file (default stdin)")
	cmd.Flags().StringVar(&oldNS, "old-ns", "", "namespace to move revisions out of")
	cmd.Flags().StringVar(&newNS, "new-ns", "", "namespace to move revisions into")
	cmd.Flags().StringVar(&skipNS, "skip-ns", "", "namespace to skip")
	cmd.Flags().BoolVar(&opts.NoUpdate, "no-update", false, "do not update the indexes")
	return cmd
}
