package rundir

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
)

// CleanupLevel selects how much intermediate data a finished run keeps.
type CleanupLevel string

const (
	// CleanupMinimal removes nothing.
	CleanupMinimal CleanupLevel = "minimal"
	// CleanupModerate archives large raw outputs, then removes the
	// originals once the archive verifies readable.
	CleanupModerate CleanupLevel = "moderate"
	// CleanupAggressive additionally discards the inputs area entirely,
	// keeping only final outputs and the run summary.
	CleanupAggressive CleanupLevel = "aggressive"
)

// outputArchiveName is the archive for raw SCALE outputs.
const outputArchiveName = "scale_outputs.zip"

// ParseCleanupLevel resolves a cleanup level from its flag value.
func ParseCleanupLevel(value string) (CleanupLevel, error) {
	switch CleanupLevel(strings.TrimSpace(value)) {
	case CleanupMinimal, "":
		return CleanupMinimal, nil
	case CleanupModerate:
		return CleanupModerate, nil
	case CleanupAggressive:
		return CleanupAggressive, nil
	}
	return "", fmt.Errorf("unknown cleanup level %q", value)
}

// Cleanup applies the post-run cleanup policy. It must only be called
// after aggregation has durably recorded its results: a failure while
// archiving leaves the uncompressed originals in place rather than
// losing data, and the returned error is advisory.
func (d Dir) Cleanup(level CleanupLevel) error {
	switch level {
	case CleanupMinimal, "":
		return nil
	case CleanupModerate:
		return d.archiveRawOutputs(false)
	case CleanupAggressive:
		return d.archiveRawOutputs(true)
	}
	return fmt.Errorf("unknown cleanup level %q", level)
}

// archiveRawOutputs compresses the raw .out/.msg artifacts into the
// archive area, verifies the archive, and only then removes originals.
// When dropInputs is set the whole inputs area is removed afterwards.
func (d Dir) archiveRawOutputs(dropInputs bool) error {
	names, err := d.ListInputFiles()
	if err != nil {
		return err
	}
	var raw []string
	for _, name := range names {
		switch filepath.Ext(name) {
		case ".out", ".msg":
			raw = append(raw, name)
		}
	}
	if len(raw) == 0 && !dropInputs {
		return nil
	}

	archivePath := filepath.Join(d.Archive, outputArchiveName)
	if len(raw) > 0 {
		if err := writeArchive(archivePath, d.Inputs, raw); err != nil {
			return fmt.Errorf("archive raw outputs: %w", err)
		}
		if err := verifyArchive(archivePath, len(raw)); err != nil {
			// Leave originals untouched when the archive cannot be trusted.
			return fmt.Errorf("verify archive %s: %w", archivePath, err)
		}
		for _, name := range raw {
			if err := os.Remove(filepath.Join(d.Inputs, name)); err != nil {
				return fmt.Errorf("remove archived original %s: %w", name, err)
			}
		}
	}

	if dropInputs {
		if err := os.RemoveAll(d.Inputs); err != nil {
			return fmt.Errorf("remove inputs area %s: %w", d.Inputs, err)
		}
	}
	return nil
}

// writeArchive builds a zip of the named files from baseDir.
func writeArchive(archivePath string, baseDir string, names []string) error {
	file, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := zip.NewWriter(file)
	writer.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestSpeed)
	})

	for _, name := range names {
		source, err := os.Open(filepath.Join(baseDir, name))
		if err != nil {
			writer.Close()
			return err
		}
		entry, err := writer.Create(name)
		if err != nil {
			source.Close()
			writer.Close()
			return err
		}
		if _, err := io.Copy(entry, source); err != nil {
			source.Close()
			writer.Close()
			return err
		}
		source.Close()
	}
	if err := writer.Close(); err != nil {
		return err
	}
	return file.Sync()
}

// verifyArchive reads every entry back to force CRC validation before
// any original is deleted.
func verifyArchive(archivePath string, expectEntries int) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer reader.Close()

	if len(reader.File) != expectEntries {
		return fmt.Errorf("archive holds %d entries, expected %d", len(reader.File), expectEntries)
	}
	for _, entry := range reader.File {
		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("open archive entry %s: %w", entry.Name, err)
		}
		if _, err := io.Copy(io.Discard, rc); err != nil {
			rc.Close()
			return fmt.Errorf("read archive entry %s: %w", entry.Name, err)
		}
		rc.Close()
	}
	return nil
}
