package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cairn-dev/cairn/internal/cairnerr"
)

var rejectCmd = &cobra.Command{
	Use:   "reject",
	Short: "Discard an agent run's changes, cancelling it if still running",
	Long: `Drops a reject token for the orchestrator's running "cairn watch" process
to pick up. Rejecting a RUNNING agent cancels its in-flight executor, which
only that process's goroutine table can do.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("agent")
		if id == "" {
			return fmt.Errorf("--agent is required")
		}

		home, err := resolveCairnHome(cmd)
		if err != nil {
			return err
		}
		if err := signalToken(home, "reject", id); err != nil {
			return err
		}
		fmt.Printf("%sreject queued%s for %s\n", colorRed, colorReset, id)
		warn("takes effect once cairn watch's signal watcher next sweeps %s/signals", home)
		return nil
	},
}

// signalToken drops an empty "<kind>-<agentID>" token file into
// home/signals for the orchestrator's signal watcher to pick up.
func signalToken(home, kind, agentID string) error {
	dir := filepath.Join(home, "signals")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return cairnerr.IO("cli.signalToken", err)
	}
	path := filepath.Join(dir, kind+"-"+agentID)
	if err := os.WriteFile(path, nil, 0644); err != nil {
		return cairnerr.IO("cli.signalToken", err)
	}
	return nil
}

func init() {
	rejectCmd.Flags().String("agent", "", "Agent ID to reject")
	rootCmd.AddCommand(rejectCmd)
}
