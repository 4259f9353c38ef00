// Package deck generates SCALE/ORIGEN input decks from a shared power
// history and per-element flux data.
package deck

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// HistoryEntry is one irradiation (or shutdown) period.
type HistoryEntry struct {
	PowerMW         float64
	DurationMinutes float64
}

// History is the reactor power history shared by every generated deck.
type History struct {
	Entries   []HistoryEntry
	DateRange string
}

// TotalMinutes returns the summed duration of all periods.
func (h History) TotalMinutes() float64 {
	total := 0.0
	for _, e := range h.Entries {
		total += e.DurationMinutes
	}
	return total
}

// ShutdownPeriods counts zero-power entries.
func (h History) ShutdownPeriods() int {
	count := 0
	for _, e := range h.Entries {
		if e.PowerMW == 0 {
			count++
		}
	}
	return count
}

// history card file section labels.
const (
	powerBlockHeader = "# POWER BLOCK (MW)"
	timeBlockHeader  = "# TIME BLOCK (minutes)"
	dateRangePrefix  = "# Date range:"
)

// LoadHistory parses a power/time cards file. The file carries comment
// header metadata followed by a power block and a time block of
// whitespace-separated values; both blocks must hold the same number of
// entries.
func LoadHistory(path string) (History, error) {
	file, err := os.Open(path)
	if err != nil {
		return History{}, fmt.Errorf("open power cards %s: %w", path, err)
	}
	defer file.Close()

	var history History
	var powers, times []float64
	section := ""

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == powerBlockHeader:
			section = "power"
			continue
		case line == timeBlockHeader:
			section = "time"
			continue
		case strings.HasPrefix(line, dateRangePrefix):
			history.DateRange = strings.TrimSpace(strings.TrimPrefix(line, dateRangePrefix))
			continue
		case strings.HasPrefix(line, "#"):
			continue
		}

		values, err := parseValueLine(line)
		if err != nil {
			return History{}, fmt.Errorf("parse power cards %s: %w", path, err)
		}
		switch section {
		case "power":
			powers = append(powers, values...)
		case "time":
			times = append(times, values...)
		default:
			return History{}, fmt.Errorf("parse power cards %s: data before a block header: %q", path, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return History{}, fmt.Errorf("read power cards %s: %w", path, err)
	}

	if len(powers) == 0 {
		return History{}, errors.New("power cards file has no power entries")
	}
	if len(powers) != len(times) {
		return History{}, fmt.Errorf("power block has %d entries but time block has %d", len(powers), len(times))
	}

	history.Entries = make([]HistoryEntry, len(powers))
	for i := range powers {
		if times[i] <= 0 {
			return History{}, fmt.Errorf("time entry %d is %g, must be positive", i+1, times[i])
		}
		history.Entries[i] = HistoryEntry{PowerMW: powers[i], DurationMinutes: times[i]}
	}
	return history, nil
}

// parseValueLine splits one data line into floats.
func parseValueLine(line string) ([]float64, error) {
	fields := strings.Fields(line)
	values := make([]float64, 0, len(fields))
	for _, field := range fields {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("bad value %q: %w", field, err)
		}
		values = append(values, v)
	}
	return values, nil
}
