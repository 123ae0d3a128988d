package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cairn-dev/cairn/internal/cfg"
	"github.com/cairn-dev/cairn/internal/orchestrator"
)

// ensureOrchestrator builds an Orchestrator rooted at the current working
// directory, backed by the resolved cairn home. Every subcommand that
// touches orchestrator state goes through this, so a "cairn spawn" and a
// "cairn watch" running as separate processes agree on the same on-disk
// overlay, lifecycle and signal state.
func ensureOrchestrator(cmd *cobra.Command) (*orchestrator.Orchestrator, error) {
	home, err := resolveCairnHome(cmd)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(home, 0755); err != nil {
		return nil, err
	}

	config, err := cfg.Load(filepath.Join(home, "config.json"))
	if err != nil {
		return nil, err
	}

	root, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	o, err := orchestrator.New(root, home, config, noopGenerator{}, noopExecutor{}, nil)
	if err != nil {
		return nil, err
	}
	// Only the long-running process recovers: a short-lived spawn/list/status
	// would otherwise reject agents the running watch process is driving.
	if name := cmd.Name(); name == "watch" || name == "serve" {
		if err := o.Recover(); err != nil {
			warn("recover: %v", err)
		}
	}
	return o, nil
}
