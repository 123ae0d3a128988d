package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cairn-dev/cairn/internal/taskqueue"
)

var priorityNames = map[string]taskqueue.Priority{
	"low":    taskqueue.Low,
	"normal": taskqueue.Normal,
	"high":   taskqueue.High,
	"urgent": taskqueue.Urgent,
}

func parsePriority(s string) (taskqueue.Priority, error) {
	p, ok := priorityNames[strings.ToLower(s)]
	if !ok {
		return 0, fmt.Errorf("unknown priority %q (want low, normal, high or urgent)", s)
	}
	return p, nil
}

var spawnCmd = &cobra.Command{
	Use:   "spawn",
	Short: "Queue a new agent run",
	RunE: func(cmd *cobra.Command, args []string) error {
		task, _ := cmd.Flags().GetString("task")
		if task == "" {
			return fmt.Errorf("--task is required")
		}
		priorityFlag, _ := cmd.Flags().GetString("priority")
		priority, err := parsePriority(priorityFlag)
		if err != nil {
			return err
		}

		o, err := ensureOrchestrator(cmd)
		if err != nil {
			return err
		}
		defer o.Close()

		id, err := o.Spawn(task, priority)
		if err != nil {
			return err
		}
		fmt.Printf("%sspawned%s %s\n", colorBold, colorReset, id)
		warn("queued; run %scairn watch%s in this project to admit it", colorBold, colorReset)
		return nil
	},
}

func init() {
	spawnCmd.Flags().String("task", "", "Task text describing the agent's goal")
	spawnCmd.Flags().String("priority", "normal", "Priority: low, normal, high or urgent")
	rootCmd.AddCommand(spawnCmd)
}
