package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show one agent run's lifecycle state and diff preview",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("agent")
		if id == "" {
			return fmt.Errorf("--agent is required")
		}

		home, err := resolveCairnHome(cmd)
		if err != nil {
			return err
		}
		o, err := ensureOrchestrator(cmd)
		if err != nil {
			return err
		}
		defer o.Close()

		rec, err := o.GetLifecycle(id)
		if err != nil {
			return err
		}

		fmt.Printf("%s%s%s\n", colorBold, rec.AgentID, colorReset)
		fmt.Printf("  state:   %s\n", rec.State)
		fmt.Printf("  task:    %s\n", rec.Task)
		if rec.Source != "" {
			fmt.Printf("  source:  %d bytes generated\n", len(rec.Source))
		}
		if rec.Summary != "" {
			fmt.Printf("  summary: %s\n", rec.Summary)
		}
		if len(rec.ChangedFiles) > 0 {
			fmt.Printf("  changed: %v\n", rec.ChangedFiles)
		}
		if rec.Err != "" {
			fmt.Printf("  %serror:%s   %s\n", colorRed, colorReset, rec.Err)
		}
		fmt.Printf("  created: %s\n", rec.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("  updated: %s\n", rec.UpdatedAt.Format("2006-01-02 15:04:05"))

		previewPath := filepath.Join(home, "previews", id+".diff")
		if data, err := os.ReadFile(previewPath); err == nil {
			fmt.Printf("\n%sdiff preview%s (%s):\n%s\n", colorDim, colorReset, previewPath, data)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().String("agent", "", "Agent ID to inspect")
	rootCmd.AddCommand(statusCmd)
}
