// Package generator defines the collaborator that turns a task description
// into agent source code. The orchestrator core treats it as an opaque
// external dependency, the same way it treats Executor: it calls Generate
// once per run and stores whatever text comes back, without interpreting
// it.
package generator

import "context"

// Generator produces the source an Executor will run for a given task.
type Generator interface {
	Generate(ctx context.Context, task string) (string, error)
}
