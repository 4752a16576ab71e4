// Package history persists finished and in-flight engine runs under
// .tfdeck/runs/. Each run gets a directory holding record.yaml (summary
// metadata) and events.ndjson (the raw -json stream, append-only).
package history

import "time"

// Run outcome values.
const (
	OutcomeRunning   = "running"
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
)

// RunRecord is the record.yaml file for one engine run. The json tags cover
// the share server's runs API and `tfdeck runs --json`.
type RunRecord struct {
	ID            string    `yaml:"id" json:"id"`
	Operation     string    `yaml:"operation" json:"operation"`
	Command       string    `yaml:"command" json:"command"`
	Workspace     string    `yaml:"workspace" json:"workspace"`
	EngineVersion string    `yaml:"engine_version,omitempty" json:"engine_version,omitempty"`
	StartedAt     time.Time `yaml:"started_at" json:"started_at"`
	FinishedAt    time.Time `yaml:"finished_at,omitempty" json:"finished_at,omitzero"`
	Outcome       string    `yaml:"outcome" json:"outcome"`
	ExitCode      int       `yaml:"exit_code" json:"exit_code"`
	Added         int       `yaml:"added" json:"added"`
	Changed       int       `yaml:"changed" json:"changed"`
	Removed       int       `yaml:"removed" json:"removed"`
	Errors        int       `yaml:"errors" json:"errors"`
	Warnings      int       `yaml:"warnings" json:"warnings"`
}

// Finished reports whether the run has reached a terminal outcome.
func (r *RunRecord) Finished() bool {
	switch r.Outcome {
	case OutcomeSucceeded, OutcomeFailed, OutcomeCanceled:
		return true
	}
	return false
}
