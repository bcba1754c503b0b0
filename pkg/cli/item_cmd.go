package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jlrickert/wikidex/pkg/wikidex"
)

// NewPutCmd returns the `put` cobra command.
//
// Usage examples:
//
//	wikidex put Home home.md --content-type 'text/x-markdown;charset=utf-8'
//	echo hello | wikidex put users/Jane --tag profile
func NewPutCmd(deps *Deps) *cobra.Command {
	var opts wikidex.PutOptions
	cmd := &cobra.Command{
		Use:   "put NAME [FILE]",
		Short: "store a file as the new current revision of an item",
		Long: `Store FILE, or stdin when FILE is omitted or "-", as a new revision of the
item NAME. Namespaced items are named "namespace/name".`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Name = args[0]
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 2 && args[1] != "-" {
				path, err := deps.absPath(args[1])
				if err != nil {
					return err
				}
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			opts.Data = in
			w, err := deps.service()
			if err != nil {
				return err
			}
			res, err := w.Put(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored revision %d of %s: %s\n", res.RevNumber, opts.Name, res.RevID)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.ContentType, "content-type", "", "content type (default text/plain;charset=utf-8)")
	cmd.Flags().StringVarP(&opts.Comment, "comment", "m", "", "revision comment")
	cmd.Flags().StringSliceVarP(&opts.Tags, "tag", "t", nil, "tag, may be repeated")
	cmd.Flags().StringVar(&opts.UserID, "user", "", "user id of the author")
	cmd.Flags().BoolVar(&opts.Trash, "trash", false, "mark the item as trashed")
	return cmd
}

// NewGetCmd returns the `get` cobra command.
func NewGetCmd(deps *Deps) *cobra.Command {
	var opts wikidex.GetOptions
	cmd := &cobra.Command{
		Use:   "get NAME",
		Short: "print the content or metadata of a revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Name = args[0]
			w, err := deps.service()
			if err != nil {
				return err
			}
			return w.Get(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.RevID, "rev", "r", "", "revision id (default current)")
	cmd.Flags().BoolVar(&opts.Meta, "meta", false, "print the metadata as YAML")
	return cmd
}

// NewHistoryCmd returns the `history` cobra command.
func NewHistoryCmd(deps *Deps) *cobra.Command {
	var opts wikidex.HistoryOptions
	cmd := &cobra.Command{
		Use:   "history NAME",
		Short: "list the revisions of an item, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Name = args[0]
			w, err := deps.service()
			if err != nil {
				return err
			}
			entries, err := w.History(cmd.Context(), opts)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "REV\tREVID\tMTIME\tSIZE\tUSER\tCOMMENT")
			for _, e := range entries {
				mark := ""
				if e.Current {
					mark = "*"
				}
				fmt.Fprintf(tw, "%d%s\t%s\t%s\t%d\t%s\t%s\n",
					e.RevNumber, mark, e.RevID, wikidex.FormatTime(e.MTime), e.Size, e.UserID, e.Comment)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "show at most this many revisions")
	return cmd
}

// NewSearchCmd returns the `search` cobra command.
//
// Usage examples:
//
//	wikidex search
//	wikidex search '+tags:wiki content:index'
//	wikidex search --all --page 2 itemid:0123abcd
func NewSearchCmd(deps *Deps) *cobra.Command {
	var opts wikidex.SearchOptions
	cmd := &cobra.Command{
		Use:   "search [QUERY]",
		Short: "search the latest or all revisions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.Query = args[0]
			}
			w, err := deps.service()
			if err != nil {
				return err
			}
			hits, err := w.Search(cmd.Context(), opts)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAMES\tMTIME\tREVID")
			for _, h := range hits {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", h.Names, wikidex.FormatTime(h.MTime), h.RevID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&opts.All, "all", false, "search every revision")
	cmd.Flags().IntVar(&opts.Page, "page", 0, "page number starting at 1")
	cmd.Flags().IntVar(&opts.PageLen, "page-len", 10, "hits per page")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "show at most this many hits")
	return cmd
}

// NewDestroyItemCmd returns the `destroy-item` cobra command.
func NewDestroyItemCmd(deps *Deps) *cobra.Command {
	var opts wikidex.DestroyItemOptions
	cmd := &cobra.Command{
		Use:   "destroy-item NAME",
		Short: "irreversibly remove an item or one of its revisions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Name = args[0]
			w, err := deps.service()
			if err != nil {
				return err
			}
			n, err := w.DestroyItem(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Destroyed %d revisions of %s\n", n, opts.Name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.RevID, "rev", "r", "", "destroy only this revision")
	return cmd
}
