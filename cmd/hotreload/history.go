package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/funvibe/hotreload/internal/config"
	"github.com/funvibe/hotreload/internal/journal"
)

func newHistoryCommand(g *globals) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the reloads recorded in the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := g.journalPath()
			if err != nil {
				return err
			}
			if path == "" {
				return fmt.Errorf("no journal configured; pass --journal")
			}
			ctx := cmd.Context()
			j, err := journal.Open(ctx, path)
			if err != nil {
				return err
			}
			defer j.Close()
			entries, err := j.List(ctx, limit)
			if err != nil {
				return err
			}
			writeHistory(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of reloads to show (0 for all)")
	return cmd
}

// journalPath is --journal, else the journal of the config file in use.
func (g *globals) journalPath() (string, error) {
	if g.journal != "" {
		return g.journal, nil
	}
	path := g.configPath
	if path == "" {
		found, err := config.FindConfig(".")
		if err != nil || found == "" {
			return "", err
		}
		path = found
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return "", err
	}
	return cfg.Journal, nil
}

func writeHistory(w io.Writer, entries []journal.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no reloads recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tRESULT\tPHASE\tDURATION\tLIBRARIES\tCLASSES\tOBJECTS\tERROR")
	for _, e := range entries {
		result := "ok"
		if !e.Success {
			result = "rejected"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			e.StartedAt.Local().Format(time.DateTime), result, e.Phase, e.Duration().Round(time.Microsecond),
			e.LibrariesChanged, e.ClassesMigrated, e.ObjectsMigrated, e.Error)
	}
	tw.Flush()
}
