package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var tasksLimit int

var tasksCmd = &cobra.Command{
	Use:   "tasks <chat>",
	Short: "List the most recent persisted tasks of a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		nodes, err := a.store.ListTasks(cmd.Context(), args[0], tasksLimit)
		if err != nil {
			return err
		}
		if len(nodes) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No tasks for %s\n", args[0])
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tPROGRESS\tUPDATED\tDESCRIPTION")
		for _, n := range nodes {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%s\t%s\n",
				n.ID, n.Type, n.TaskStatus, n.Progress,
				n.LastUpdated.Format(time.DateTime), truncate(n.Description, 60))
		}
		return w.Flush()
	},
}

func init() {
	tasksCmd.Flags().IntVar(&tasksLimit, "limit", 20, "maximum number of tasks to show")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
