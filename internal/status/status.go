// Package status reports the on-disk state of a run directory.
package status

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nuketools/burnup/internal/aggregate"
	"github.com/nuketools/burnup/internal/element"
	"github.com/nuketools/burnup/internal/format"
	"github.com/nuketools/burnup/internal/health"
	"github.com/nuketools/burnup/internal/rundir"
)

const (
	seqColumnWidth      = 6
	artifactColumnWidth = 12
	outcomeColumnWidth  = 12
	nameColumnWidth     = 36
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	cellStyle = lipgloss.NewStyle()

	separatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	summaryStyle = lipgloss.NewStyle().
			Bold(true)
)

// ArtifactState classifies a unit's output file as found on disk.
type ArtifactState string

const (
	// ArtifactPending means no output file exists yet.
	ArtifactPending ArtifactState = "pending"
	// ArtifactIncomplete means an output exists but carries no terminal marker.
	ArtifactIncomplete ArtifactState = "incomplete"
	// ArtifactComplete means the output passes the completeness predicate.
	ArtifactComplete ArtifactState = "complete"
)

// UnitRow is one element's status as reconstructed from the run directory.
type UnitRow struct {
	Seq      int
	Name     string
	Artifact ArtifactState
	// Outcome is the recorded unit status from the run summary, empty
	// when no summary exists or the summary does not know the unit.
	Outcome string
}

// Report summarizes a run directory purely from what is on disk.
type Report struct {
	RunDir     string
	Decks      int
	Complete   int
	Incomplete int
	Pending    int
	Units      []UnitRow
	// Summary is the parsed run summary, nil when none has been written.
	Summary *aggregate.Summary
}

// Collect inspects a run directory and builds a Report. It never
// consults in-memory pipeline state, so it works on live, finished, and
// abandoned runs alike.
func Collect(runRoot string) (Report, error) {
	dir, err := rundir.Open(runRoot)
	if err != nil {
		return Report{}, err
	}

	files, err := dir.ListInputFiles()
	if err != nil {
		return Report{}, err
	}
	elements, err := element.FromDeckFiles(files)
	if err != nil {
		return Report{}, fmt.Errorf("reconstruct units: %w", err)
	}

	report := Report{RunDir: dir.Root, Decks: len(elements)}
	outcomes, summary, err := loadSummaryOutcomes(dir)
	if err != nil {
		return Report{}, err
	}
	report.Summary = summary

	for _, el := range elements {
		completeness, err := health.ScanArtifact(filepath.Join(dir.Inputs, el.OutputFile()))
		if err != nil {
			return Report{}, err
		}
		row := UnitRow{Seq: el.Seq, Name: el.Name, Outcome: outcomes[el.Seq]}
		switch {
		case completeness.Complete():
			row.Artifact = ArtifactComplete
			report.Complete++
		case completeness.Exists:
			row.Artifact = ArtifactIncomplete
			report.Incomplete++
		default:
			row.Artifact = ArtifactPending
			report.Pending++
		}
		report.Units = append(report.Units, row)
	}

	sort.Slice(report.Units, func(i, j int) bool {
		return report.Units[i].Seq < report.Units[j].Seq
	})
	return report, nil
}

func loadSummaryOutcomes(dir rundir.Dir) (map[int]string, *aggregate.Summary, error) {
	path := dir.SummaryPath()
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("stat run summary: %w", err)
	}
	summary, err := aggregate.ReadSummary(path)
	if err != nil {
		return nil, nil, err
	}
	outcomes := make(map[int]string, len(summary.Units))
	for _, unit := range summary.Units {
		outcome := string(unit.Status)
		if unit.Hard {
			outcome += " (hard)"
		}
		outcomes[unit.Seq] = outcome
	}
	return outcomes, &summary, nil
}

// String returns the formatted report.
func (r Report) String() string {
	var b strings.Builder

	state := "in progress"
	elapsed := ""
	if r.Summary != nil {
		state = r.Summary.State
		if r.Summary.FinishedAt.After(r.Summary.StartedAt) {
			elapsed = ", took " + format.DurationShort(r.Summary.FinishedAt.Sub(r.Summary.StartedAt))
		}
	}
	header := summaryStyle.Render(fmt.Sprintf(
		"Run %s [%s] (%d decks, %d complete, %d incomplete, %d pending%s)",
		r.RunDir, state, r.Decks, r.Complete, r.Incomplete, r.Pending, elapsed,
	))
	b.WriteString(header)
	b.WriteString("\n\n")

	if len(r.Units) == 0 {
		b.WriteString("No input decks found.\n")
		return b.String()
	}

	headers := []string{
		padRight("Seq", seqColumnWidth),
		padRight("Artifact", artifactColumnWidth),
		padRight("Outcome", outcomeColumnWidth),
		"Element",
	}
	b.WriteString(headerStyle.Render(strings.Join(headers, "  ")))
	b.WriteString("\n")

	totalWidth := seqColumnWidth + artifactColumnWidth + outcomeColumnWidth + nameColumnWidth + 6
	b.WriteString(separatorStyle.Render(strings.Repeat("─", totalWidth)))
	b.WriteString("\n")

	for _, row := range r.Units {
		outcome := row.Outcome
		if outcome == "" {
			outcome = "-"
		}
		line := fmt.Sprintf("%s  %s  %s  %s",
			padRight(fmt.Sprintf("E%04d", row.Seq), seqColumnWidth),
			padRight(string(row.Artifact), artifactColumnWidth),
			padRight(outcome, outcomeColumnWidth),
			truncate(row.Name, nameColumnWidth),
		)
		b.WriteString(cellStyle.Render(line))
		b.WriteString("\n")
	}

	return b.String()
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
