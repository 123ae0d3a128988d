package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var acceptCmd = &cobra.Command{
	Use:   "accept",
	Short: "Merge a completed agent run into stable",
	Long: `Drops an accept token for the orchestrator's running "cairn watch" process
to pick up, rather than acting directly: a separate CLI invocation has no
visibility into which agents that process currently has in flight.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("agent")
		if id == "" {
			return fmt.Errorf("--agent is required")
		}

		home, err := resolveCairnHome(cmd)
		if err != nil {
			return err
		}
		if err := signalToken(home, "accept", id); err != nil {
			return err
		}
		fmt.Printf("%saccept queued%s for %s\n", colorBold, colorReset, id)
		warn("takes effect once cairn watch's signal watcher next sweeps %s/signals", home)
		return nil
	},
}

func init() {
	acceptCmd.Flags().String("agent", "", "Agent ID to accept")
	rootCmd.AddCommand(acceptCmd)
}
