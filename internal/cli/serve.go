package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cairn-dev/cairn/internal/diag"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator plus an NDJSON status feed over websocket",
	Long: `Like "cairn watch", but additionally hosts the lifecycle status feed at
ws://<addr>/status for dashboards and other observers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		o, err := ensureOrchestrator(cmd)
		if err != nil {
			return err
		}
		defer o.Close()

		mux := http.NewServeMux()
		mux.HandleFunc("/status", o.StatusFeed().ServeHTTP)
		srv := &http.Server{Addr: addr, Handler: mux}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- o.Run(ctx) }()

		go func() {
			diag.Logf("cli", "serve: status feed listening on %s", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				diag.Logf("cli", "serve: http server: %v", err)
			}
		}()

		fmt.Printf("%scairn serve%s running on %s, ctrl-c to stop\n", colorBold, colorReset, addr)
		runErr := <-errCh

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)

		if runErr != nil && runErr != context.Canceled {
			return runErr
		}
		fmt.Println("stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", ":7777", "Address to host the status feed on")
	rootCmd.AddCommand(serveCmd)
}
