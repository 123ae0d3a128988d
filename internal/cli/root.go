package cli

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/cairn-dev/cairn/internal/buildinfo"
	"github.com/cairn-dev/cairn/internal/cfg"
	"github.com/cairn-dev/cairn/internal/diag"
)

// ansi returns code unchanged when stdout is a terminal, or "" when output
// is piped or redirected, so banners and status lines never leak escape
// sequences into logs.
func ansi(code string) string {
	if isatty.IsTerminal(os.Stdout.Fd()) {
		return code
	}
	return ""
}

var (
	colorReset  = ansi("\033[0m")
	colorBold   = ansi("\033[1m")
	colorDim    = ansi("\033[2m")
	colorRed    = ansi("\033[31m")
	colorYellow = ansi("\033[33m")

	styleBoldCyan  = ansi("\033[1;36m")
	styleBoldWhite = ansi("\033[1;37m")
)

var rootCmd = &cobra.Command{
	Use:   "cairn",
	Short: "Overlay-backed agent orchestrator core",
	Long: colorBold + `
   _____       _
  / ____|     (_)
 | |     __ _ _ _ __ _ __
 | |    / _` + "`" + ` | | '__| '_ \
 | |___| (_| | | |  | | | |
  \_____\__,_|_|_|  |_| |_|` + colorReset + `

  ` + styleBoldCyan + `Cairn` + colorReset + ` v` + buildinfo.Current().Version + `

  Queues agent runs against an isolated overlay of your project tree, and
  lets you accept or reject their changes without ever touching disk until
  you say so.

` + colorBold + `Getting Started:` + colorReset + `
  cairn spawn --task "add a README"     Queue a new agent run
  cairn list                            Show every tracked run
  cairn status --agent <id>             Show one run's state and diff
  cairn accept --agent <id>             Merge a completed run into stable
  cairn reject --agent <id>             Discard a run's changes
  cairn watch                           Run the orchestrator in the foreground
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.PersistentFlags().Bool("debug", false, "Enable verbose debug logging to <cairn-home>/debug/")
	rootCmd.PersistentFlags().String("cairn-home", "", "Override the cairn home directory (default $CAIRN_HOME or ~/.cairn)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		home, err := resolveCairnHome(cmd)
		if err != nil {
			return err
		}

		debugFlag, _ := cmd.Flags().GetBool("debug")
		if !debugFlag && !diag.ShouldEnableFromEnv() {
			return nil
		}
		logPath, err := diag.Init(home)
		if err != nil {
			return fmt.Errorf("initializing debug logger: %w", err)
		}
		fmt.Fprintf(os.Stderr, "%s[debug]%s logging to %s\n", colorDim, colorReset, logPath)
		bi := buildinfo.Current()
		diag.LogKV("cli", "cairn starting",
			"version", bi.Version,
			"commit", bi.CommitHash,
			"command", cmd.Name(),
			"args", args,
		)
		return nil
	}
}

func resolveCairnHome(cmd *cobra.Command) (string, error) {
	if v, _ := cmd.Flags().GetString("cairn-home"); v != "" {
		return v, nil
	}
	return cfg.Home()
}

// Execute runs the root command.
func Execute() {
	defer diag.Close()
	if err := rootCmd.Execute(); err != nil {
		diag.Logf("cli", "exit with error: %v", err)
		fmt.Fprintf(os.Stderr, "%sError: %s%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}
	diag.Log("cli", "exit success")
}

func warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "%s%s%s\n", colorYellow, msg, colorReset)
}
