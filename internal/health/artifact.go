package health

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
)

// artifactTailBytes bounds how much of a large output file is read when
// looking for the terminal marker; the summary always sits at the end.
const artifactTailBytes = 50 * 1024

// terminalMarkers match the lines SCALE emits only after a case ran to
// completion. Any one of them satisfies the completeness predicate.
var terminalMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?im)^-{6,}\s*end summary\s*-{6,}\s*$`),
	regexp.MustCompile(`(?im)^\s*scale job .+ is finished\b`),
	regexp.MustCompile(`(?im)^\s*origen finished\b`),
}

// Completeness reports the per-artifact checks behind the resume
// decision. Resume logic is a pure function of these fields.
type Completeness struct {
	Exists   bool
	NonEmpty bool
	Terminal bool
}

// Complete reports whether the artifact represents finished work.
func (c Completeness) Complete() bool {
	return c.Exists && c.NonEmpty && c.Terminal
}

// ScanArtifact applies the completeness predicate to one output file:
// the file must exist, be non-empty, and carry a terminal marker in its
// tail. A unit whose artifact fails any check is re-enqueued on resume.
func ScanArtifact(path string) (Completeness, error) {
	var result Completeness

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("stat artifact %s: %w", path, err)
	}
	result.Exists = true
	if info.Size() == 0 {
		return result, nil
	}
	result.NonEmpty = true

	tail, err := readTail(path, info.Size())
	if err != nil {
		return result, fmt.Errorf("read artifact %s: %w", path, err)
	}
	for _, pattern := range terminalMarkers {
		if pattern.Match(tail) {
			result.Terminal = true
			break
		}
	}
	return result, nil
}

// readTail reads the last artifactTailBytes of the file.
func readTail(path string, size int64) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	offset := int64(0)
	if size > artifactTailBytes {
		offset = size - artifactTailBytes
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(file)
}
