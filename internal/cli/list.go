package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/cairn-dev/cairn/internal/lifecycle"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show every tracked agent run",
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := ensureOrchestrator(cmd)
		if err != nil {
			return err
		}
		defer o.Close()

		recs, err := o.ListLifecycles()
		if err != nil {
			return err
		}
		sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })

		if len(recs) == 0 {
			fmt.Println("no tracked agent runs")
			return nil
		}
		for _, rec := range recs {
			padded := fmt.Sprintf("%-9s", rec.State)
			fmt.Printf("%s  %s  %s\n", rec.AgentID, stateColor(rec.State, padded), truncate(rec.Task, 60))
		}
		return nil
	},
}

func stateColor(s lifecycle.State, text string) string {
	switch s {
	case lifecycle.StateAccepted:
		return colorBold + text + colorReset
	case lifecycle.StateRejected:
		return colorRed + text + colorReset
	case lifecycle.StateRunning:
		return styleBoldCyan + text + colorReset
	default:
		return text
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func init() {
	rootCmd.AddCommand(listCmd)
}
