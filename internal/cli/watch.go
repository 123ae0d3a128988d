package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cairn-dev/cairn/internal/diag"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the orchestrator in the foreground: watch, admit, retain",
	Long: `Starts the file watcher, signal watcher, admission loop and retention
loop and blocks until interrupted. This is the one process that actually
runs agents; "cairn spawn"/"accept"/"reject"/"list" from other terminals
operate against the same on-disk state and, for accept/reject, leave a
token for this process's signal watcher to act on.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := ensureOrchestrator(cmd)
		if err != nil {
			return err
		}
		defer o.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("%scairn watch%s running, ctrl-c to stop\n", colorBold, colorReset)
		diag.Log("cli", "watch: starting orchestrator loops")
		err = o.Run(ctx)
		if err != nil && err != context.Canceled {
			return err
		}
		fmt.Println("stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
