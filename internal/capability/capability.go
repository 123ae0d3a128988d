// Package capability builds the per-agent capability table: a struct of
// bound function values exposing exactly the filesystem and submission
// operations an agent is allowed to perform against its own overlay
// namespace. The table is handed to the external Executor as plain data,
// not a dynamic string-keyed dispatch surface, so a CodeGenerator cannot
// invoke anything the orchestrator did not explicitly wire up.
package capability

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/cairn-dev/cairn/internal/cairnerr"
	"github.com/cairn-dev/cairn/internal/overlay"
)

// ContentMatch is one hit returned by SearchContent.
type ContentMatch struct {
	Path string
	Line int
	Text string
}

// LLMCaller delegates ask_llm to whatever language model collaborator the
// embedder configured. It is intentionally the only capability that leaves
// the overlay store: everything else is pure filesystem plumbing.
type LLMCaller interface {
	Ask(prompt, context string) (string, error)
}

// Table is the set of operations exposed to one agent run, each bound to
// that agent's namespace.
type Table struct {
	ReadFile      func(path string) (string, error)
	WriteFile     func(path, content string) error
	DeleteFile    func(path string) error
	ListDir       func(path string) ([]string, error)
	FileExists    func(path string) bool
	SearchFiles   func(glob string) ([]string, error)
	SearchContent func(pattern, underPath string) ([]ContentMatch, error)
	AskLLM        func(prompt, context string) (string, error)
	SubmitResult  func(summary string, changedFiles []string) error
	Log           func(message string) error
}

// Build returns a Table bound to ns, the namespace allocated for one agent
// run. llm may be nil, in which case AskLLM reports an external-collaborator
// error.
func Build(ov *overlay.Store, ns string, llm LLMCaller) *Table {
	t := &Table{}

	t.ReadFile = func(p string) (string, error) {
		clean, err := validatePath(p)
		if err != nil {
			return "", err
		}
		data, err := ov.ReadFile(ns, clean)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	t.WriteFile = func(p, content string) error {
		clean, err := validatePath(p)
		if err != nil {
			return err
		}
		return ov.WriteFile(ns, clean, []byte(content))
	}

	t.DeleteFile = func(p string) error {
		clean, err := validatePath(p)
		if err != nil {
			return err
		}
		return ov.DeleteFile(ns, clean)
	}

	t.ListDir = func(p string) ([]string, error) {
		clean, err := validatePath(p)
		if err != nil {
			return nil, err
		}
		if clean == "." {
			clean = ""
		}
		return ov.ListDir(ns, clean)
	}

	t.FileExists = func(p string) bool {
		clean, err := validatePath(p)
		if err != nil {
			return false
		}
		return ov.FileExists(ns, clean)
	}

	t.SearchFiles = func(glob string) ([]string, error) {
		all, err := ov.WalkEffectiveFiles(ns)
		if err != nil {
			return nil, err
		}
		var matches []string
		for _, p := range all {
			ok, err := doublestar.Match(glob, p)
			if err != nil {
				return nil, cairnerr.Invalid("capability.SearchFiles", fmt.Errorf("bad glob %q: %w", glob, err))
			}
			if ok {
				matches = append(matches, p)
			}
		}
		return matches, nil
	}

	t.SearchContent = func(pattern, underPath string) ([]ContentMatch, error) {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, cairnerr.Invalid("capability.SearchContent", fmt.Errorf("bad pattern %q: %w", pattern, err))
		}
		clean := ""
		if underPath != "" {
			clean, err = validatePath(underPath)
			if err != nil {
				return nil, err
			}
		}
		if clean == "." {
			clean = ""
		}
		all, err := ov.WalkEffectiveFiles(ns)
		if err != nil {
			return nil, err
		}
		var matches []ContentMatch
		for _, p := range all {
			if clean != "" && p != clean && !strings.HasPrefix(p, clean+"/") {
				continue
			}
			data, err := ov.ReadFile(ns, p)
			if err != nil {
				continue
			}
			for i, line := range strings.Split(string(data), "\n") {
				if re.MatchString(line) {
					matches = append(matches, ContentMatch{Path: p, Line: i + 1, Text: line})
				}
			}
		}
		return matches, nil
	}

	t.AskLLM = func(prompt, context string) (string, error) {
		if llm == nil {
			return "", cairnerr.External("capability.AskLLM", fmt.Errorf("no language model collaborator configured"))
		}
		reply, err := llm.Ask(prompt, context)
		if err != nil {
			return "", cairnerr.External("capability.AskLLM", err)
		}
		return reply, nil
	}

	t.SubmitResult = func(summary string, changedFiles []string) error {
		return writeSubmission(ov, ns, summary, changedFiles)
	}

	t.Log = func(message string) error {
		return appendLog(ov, ns, message)
	}

	return t
}

// validatePath rejects absolute paths and any path that would escape the
// namespace root via "..", then returns the cleaned, slash-form relative
// path.
func validatePath(p string) (string, error) {
	if p == "" {
		return "", cairnerr.Invalid("capability.validatePath", fmt.Errorf("empty path"))
	}
	if strings.HasPrefix(p, "/") {
		return "", cairnerr.Invalid("capability.validatePath", fmt.Errorf("absolute path %q not allowed", p))
	}
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", cairnerr.Invalid("capability.validatePath", fmt.Errorf("path %q escapes the namespace", p))
	}
	return clean, nil
}
