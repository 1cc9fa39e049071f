package report

import (
	"fmt"
	"time"
)

// Manifest is the machine-readable summary of a restore run.
type Manifest struct {
	RunID    string       `json:"run_id"`
	Window   WindowInfo   `json:"window"`
	Index    string       `json:"index"`
	Archive  string       `json:"archive"`
	Restore  string       `json:"restore_path"`
	DryRun   bool         `json:"dry_run,omitempty"`
	Counts   Counts       `json:"counts"`
	Reports  []string     `json:"reports,omitempty"`
	Error    string       `json:"error,omitempty"`
	Producer ProducerInfo `json:"producer"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// WindowInfo describes the requested time window.
type WindowInfo struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	StartEpoch int64     `json:"start_epoch"`
	EndEpoch   int64     `json:"end_epoch"`
}

// Counts holds the number of buckets per verdict.
type Counts struct {
	Selected     int `json:"selected"`
	Relocated    int `json:"relocated"`
	Passed       int `json:"integrity_passed"`
	Failed       int `json:"integrity_failed"`
	Unverifiable int `json:"integrity_unverifiable"`
	Rebuilt      int `json:"rebuilt"`
	RebuildFail  int `json:"rebuild_failed"`
}

// ProducerInfo describes the software that performed the run.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha,omitempty"`
}

// Filename returns the base name the manifest is written under.
func (m *Manifest) Filename() string {
	return fmt.Sprintf("%s_run.json", m.StartedAt.Format(filenameLayout))
}
