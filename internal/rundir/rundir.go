// Package rundir owns the on-disk layout of a pipeline run and the
// post-run cleanup policy.
package rundir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nuketools/burnup/internal/naming"
)

const (
	// InputsDirName holds generated decks and raw SCALE outputs.
	InputsDirName = "inputs"
	// CardsDirName holds the consolidated material cards and database.
	CardsDirName = "cards"
	// LogsDirName holds pipeline and per-unit execution logs.
	LogsDirName = "logs"
	// ArchiveDirName holds compressed intermediate artifacts.
	ArchiveDirName = "archive"
	// SummaryFileName is the machine-readable run summary at the run root.
	SummaryFileName = "run_summary.json"

	// dirMode is the permission for run directories.
	dirMode = 0o755
)

// runNameFormat is the timestamp prefix for run directory names.
const runNameFormat = "2006-01-02_15-04-05"

// Dir is the resolved layout of one run directory. The manager is the
// only component that creates or removes these paths; stages receive
// them read-made.
type Dir struct {
	Root    string
	Inputs  string
	Cards   string
	Logs    string
	Archive string
}

// SummaryPath returns the fixed top-level summary document path.
func (d Dir) SummaryPath() string {
	return filepath.Join(d.Root, SummaryFileName)
}

// RunName derives the timestamped directory name for a run.
func RunName(name string, now time.Time) string {
	slug := naming.Slugify(name)
	if slug == "" {
		slug = "run"
	}
	return now.Format(runNameFormat) + "_" + slug
}

// CreateLayout creates the fixed run layout under root and returns it.
func CreateLayout(root string, runName string) (Dir, error) {
	if strings.TrimSpace(root) == "" {
		return Dir{}, errors.New("run root is required")
	}
	if strings.TrimSpace(runName) == "" {
		return Dir{}, errors.New("run name is required")
	}

	dir := layoutAt(filepath.Join(root, runName))
	for _, path := range []string{dir.Root, dir.Inputs, dir.Cards, dir.Logs, dir.Archive} {
		if err := os.MkdirAll(path, dirMode); err != nil {
			return Dir{}, fmt.Errorf("create run directory %s: %w", path, err)
		}
	}
	return dir, nil
}

// Open resolves an existing run directory for resume. The inputs area
// must already exist; missing subdirectories that hold only derived
// artifacts are recreated.
func Open(runRoot string) (Dir, error) {
	if strings.TrimSpace(runRoot) == "" {
		return Dir{}, errors.New("run directory is required")
	}
	info, err := os.Stat(runRoot)
	if err != nil {
		return Dir{}, fmt.Errorf("open run directory %s: %w", runRoot, err)
	}
	if !info.IsDir() {
		return Dir{}, fmt.Errorf("run directory %s is not a directory", runRoot)
	}

	dir := layoutAt(runRoot)
	for _, path := range []string{dir.Cards, dir.Logs, dir.Archive} {
		if err := os.MkdirAll(path, dirMode); err != nil {
			return Dir{}, fmt.Errorf("recreate run directory %s: %w", path, err)
		}
	}
	return dir, nil
}

// layoutAt maps the fixed subpaths onto a run root.
func layoutAt(root string) Dir {
	return Dir{
		Root:    root,
		Inputs:  filepath.Join(root, InputsDirName),
		Cards:   filepath.Join(root, CardsDirName),
		Logs:    filepath.Join(root, LogsDirName),
		Archive: filepath.Join(root, ArchiveDirName),
	}
}

// ListInputFiles returns the filenames (not paths) in the inputs area.
func (d Dir) ListInputFiles() ([]string, error) {
	entries, err := os.ReadDir(d.Inputs)
	if err != nil {
		return nil, fmt.Errorf("read inputs area %s: %w", d.Inputs, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}
