package aggregate

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/nuketools/burnup/internal/element"
)

// summaryFileMode is the file mode for the run summary document.
const summaryFileMode = 0o644

// UnitSummary is the per-element record in the run summary.
type UnitSummary struct {
	Seq             int            `json:"seq"`
	Name            string         `json:"name"`
	Assembly        string         `json:"assembly"`
	Status          element.Status `json:"status"`
	Error           string         `json:"error,omitempty"`
	Hard            bool           `json:"hard_failure,omitempty"`
	DurationSeconds float64        `json:"duration_seconds"`
	TotalMassGrams  float64        `json:"total_mass_g,omitempty"`
	DensityGPerCC   float64        `json:"density_g_cc,omitempty"`
	NuclideCount    int            `json:"nuclide_count,omitempty"`
}

// StageSummary records one pipeline stage in the run summary.
type StageSummary struct {
	Stage           string  `json:"stage"`
	Total           int     `json:"total"`
	Dispatched      int     `json:"dispatched"`
	Succeeded       int     `json:"succeeded"`
	Failed          int     `json:"failed"`
	HardFailures    int     `json:"hard_failures"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Summary is the machine-readable run summary written at the run root.
// A partially completed or aborted run still gets a valid summary.
type Summary struct {
	RunName     string         `json:"run_name"`
	State       string         `json:"state"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Command     string         `json:"scale_command"`
	Workers     map[string]int `json:"workers"`
	Cleanup     string         `json:"cleanup_level"`
	Total       int            `json:"total"`
	Succeeded   int            `json:"succeeded"`
	Failed      int            `json:"failed"`
	Aborted     bool           `json:"aborted,omitempty"`
	AbortReason string         `json:"abort_reason,omitempty"`
	Stages      []StageSummary `json:"stages"`
	Units       []UnitSummary  `json:"units"`
}

// WriteSummary writes the summary atomically: a temp file in the same
// directory, synced, then renamed over the target.
func WriteSummary(path string, summary Summary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}

	tmp := path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, summaryFileMode)
	if err != nil {
		return fmt.Errorf("create run summary %s: %w", tmp, err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("write run summary %s: %w", tmp, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync run summary %s: %w", tmp, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close run summary %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish run summary %s: %w", path, err)
	}
	return nil
}

// ReadSummary loads an existing summary document.
func ReadSummary(path string) (Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Summary{}, fmt.Errorf("read run summary %s: %w", path, err)
	}
	var summary Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return Summary{}, fmt.Errorf("parse run summary %s: %w", path, err)
	}
	return summary, nil
}
