// Command cairnd is the reference CLI front end for the cairn orchestrator
// core. It wires the noop generator/executor placeholders defined in
// internal/cli; embedders linking against pkg/cairn directly supply their
// own Generator and Executor instead of running this binary.
package main

import "github.com/cairn-dev/cairn/internal/cli"

func main() {
	cli.Execute()
}
