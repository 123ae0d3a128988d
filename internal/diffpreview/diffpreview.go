// Package diffpreview renders a unified diff between an agent's effective
// view and the stable namespace it branched from, for operators deciding
// whether to accept or reject a completed run.
package diffpreview

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/cairn-dev/cairn/internal/cairnerr"
	"github.com/cairn-dev/cairn/internal/overlay"
)

// Compute returns a single unified-diff document covering every path that
// differs between the stable namespace and the agent namespace's effective
// view.
func Compute(ov *overlay.Store, stableNS, agentNS, agentID string) (string, error) {
	stablePaths, err := ov.WalkEffectiveFiles(stableNS)
	if err != nil {
		return "", err
	}
	agentPaths, err := ov.WalkEffectiveFiles(agentNS)
	if err != nil {
		return "", err
	}

	all := map[string]bool{}
	for _, p := range stablePaths {
		all[p] = true
	}
	for _, p := range agentPaths {
		all[p] = true
	}
	paths := make([]string, 0, len(all))
	for p := range all {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var out string
	for _, p := range paths {
		before, beforeErr := ov.ReadFile(stableNS, p)
		after, afterErr := ov.ReadFile(agentNS, p)
		if beforeErr != nil && afterErr != nil {
			continue
		}
		if string(before) == string(after) {
			continue
		}

		fromFile, toFile := p, p
		if beforeErr != nil {
			fromFile = "/dev/null"
		}
		if afterErr != nil {
			toFile = "/dev/null"
		}

		diff := difflib.UnifiedDiff{
			A:        difflib.SplitLines(string(before)),
			B:        difflib.SplitLines(string(after)),
			FromFile: fromFile,
			ToFile:   toFile,
			Context:  3,
		}
		text, err := difflib.GetUnifiedDiffString(diff)
		if err != nil {
			return "", cairnerr.IO("diffpreview.Compute", err)
		}
		out += text
	}
	if out == "" {
		out = fmt.Sprintf("# %s: no changes relative to stable\n", agentID)
	}
	return out, nil
}

// Write persists the rendered diff under cairnHome/previews/<agentID>.diff.
func Write(cairnHome, agentID, diffText string) error {
	dir := filepath.Join(cairnHome, "previews")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return cairnerr.IO("diffpreview.Write", err)
	}
	path := filepath.Join(dir, agentID+".diff")
	if err := os.WriteFile(path, []byte(diffText), 0644); err != nil {
		return cairnerr.IO("diffpreview.Write", err)
	}
	return nil
}

// Remove deletes the preview file for agentID. Idempotent.
func Remove(cairnHome, agentID string) error {
	path := filepath.Join(cairnHome, "previews", agentID+".diff")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return cairnerr.IO("diffpreview.Remove", err)
	}
	return nil
}
