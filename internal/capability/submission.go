package capability

import (
	"encoding/json"
	"fmt"

	"github.com/cairn-dev/cairn/internal/cairnerr"
	"github.com/cairn-dev/cairn/internal/overlay"
)

const (
	submissionKey = "__cairn_submission__"
	logKey        = "__cairn_log__"
)

// Submission is the strict shape submit_result persists and the agent
// runner validates before a run can reach COMPLETED.
type Submission struct {
	Summary      string   `json:"summary"`
	ChangedFiles []string `json:"changed_files"`
}

func writeSubmission(ov *overlay.Store, ns, summary string, changedFiles []string) error {
	if summary == "" {
		return cairnerr.Invalid("capability.SubmitResult", fmt.Errorf("summary must not be empty"))
	}
	data, err := json.Marshal(Submission{Summary: summary, ChangedFiles: changedFiles})
	if err != nil {
		return cairnerr.Invalid("capability.SubmitResult", err)
	}
	return ov.SetKV(ns, submissionKey, data)
}

// ReadSubmission loads and strictly validates the submission recorded for
// ns. Called by the agent runner after Executor.Execute returns
// successfully.
func ReadSubmission(ov *overlay.Store, ns string) (*Submission, error) {
	data, err := ov.GetKV(ns, submissionKey)
	if err != nil {
		return nil, err
	}
	var sub Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, cairnerr.Invalid("capability.ReadSubmission", fmt.Errorf("malformed submission: %w", err))
	}
	if sub.Summary == "" {
		return nil, cairnerr.Invalid("capability.ReadSubmission", fmt.Errorf("submission missing summary"))
	}
	return &sub, nil
}

func appendLog(ov *overlay.Store, ns, message string) error {
	existing, err := ov.GetKV(ns, logKey)
	if err != nil && !cairnerr.Is(err, cairnerr.KindNotFound) {
		return err
	}
	updated := append(existing, []byte(message+"\n")...)
	return ov.SetKV(ns, logKey, updated)
}

// ReadLog returns the accumulated log text for ns, or "" if nothing was
// ever logged.
func ReadLog(ov *overlay.Store, ns string) (string, error) {
	data, err := ov.GetKV(ns, logKey)
	if err != nil {
		if cairnerr.Is(err, cairnerr.KindNotFound) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}
