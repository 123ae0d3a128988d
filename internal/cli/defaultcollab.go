package cli

import (
	"context"

	"github.com/cairn-dev/cairn/internal/executor"
)

// noopGenerator echoes the task text back as "source". It exists so
// cairnd can run standalone for local testing; production deployments
// wire in a real CodeGenerator that talks to a language model.
type noopGenerator struct{}

func (noopGenerator) Generate(ctx context.Context, task string) (string, error) {
	return task, nil
}

// noopExecutor immediately submits a result with no changed files, without
// writing any file in the agent's namespace. Like noopGenerator, it is a
// placeholder: a real
// deployment supplies an Executor that actually runs generated code in a
// sandbox.
type noopExecutor struct{}

func (noopExecutor) Execute(ctx context.Context, req executor.Request) (executor.Result, error) {
	if err := req.Capabilities.SubmitResult("no executor configured; nothing changed", nil); err != nil {
		return executor.Result{}, err
	}
	return executor.Result{Success: true}, nil
}
