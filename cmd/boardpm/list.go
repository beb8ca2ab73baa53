package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"boardpm/internal/app"
	syncsvc "boardpm/internal/sync"
)

func newListCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls", "status"},
		Short:   "Show desired plugins and their install status",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			items, err := svc.List(cmd.Context(), offline)
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(cmd.OutOrStdout(), true, items, "")
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no plugins in manifest")
				return nil
			}
			renderList(cmd.OutOrStdout(), items, offline)
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "skip remote lookups")
	return cmd
}

func renderList(w io.Writer, items []syncsvc.ListItem, offline bool) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	header := table.Row{"ID", "REF", "LOCKED", "HEAD", "STATUS"}
	if !offline {
		header = append(header, "REMOTE", "NEWER")
	}
	tw.AppendHeader(header)
	for _, it := range items {
		ref := it.Ref
		if ref == "" {
			ref = "(default)"
		}
		row := table.Row{it.ID, ref, shortCommit(it.LockedCommit), shortCommit(it.Head), string(it.Status)}
		if !offline {
			row = append(row, shortCommit(it.ResolvedCommit), it.Latest)
		}
		tw.AppendRow(row)
	}
	tw.Render()
}
