// Package parse extracts final nuclide compositions from SCALE/ORIGEN
// output files and renders them as MCNP material cards.
package parse

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/nuketools/burnup/internal/health"
)

const (
	// DefaultVolumeCC is the element volume used for density when none
	// is configured.
	DefaultVolumeCC = 9.7439768643435
	// minMassGrams is the significance floor for a nuclide row.
	minMassGrams = 1e-12
	// minWeightFraction drops negligible card components.
	minWeightFraction = 1e-6
	// heliumZAID absorbs mass from nuclides with no usable ZAID.
	heliumZAID = 2004
)

// sectionHeaders are the concentration tables read from the output, in
// the order they appear.
var sectionHeaders = []string{
	"Nuclide concentrations in grams, light elements",
	"Nuclide concentrations in grams, actinides",
	"Nuclide concentrations in grams, fission products",
}

// timeHeaderPattern matches a table header of time column labels.
var timeHeaderPattern = regexp.MustCompile(`^\s*\d+\.\d+E[+-]\d+min`)

// Nuclide is one significant entry of the final composition.
type Nuclide struct {
	Name      string
	ZAID      int
	MassGrams float64
}

// Result is the parsed composition of one output file.
type Result struct {
	TimeColumn     string
	Nuclides       []Nuclide
	TotalMassGrams float64
	DensityGPerCC  float64
	HeliumGrams    float64
	MaterialCard   string
}

// NuclideCount returns how many distinct nuclides survived filtering.
func (r Result) NuclideCount() int {
	return len(r.Nuclides)
}

// Parser extracts a composition result from one output file.
type Parser interface {
	Parse(outPath string, materialID int) (Result, error)
}

// OrigenParser reads ORIGEN fixed-format concentration tables.
type OrigenParser struct {
	// VolumeCC is the element volume for density, defaulted when zero.
	VolumeCC float64
}

// Parse reads the output file, verifies it ran to completion, extracts
// the final time column of every concentration table, and builds the
// material card.
func (p OrigenParser) Parse(outPath string, materialID int) (Result, error) {
	completeness, err := health.ScanArtifact(outPath)
	if err != nil {
		return Result{}, fmt.Errorf("scan output %s: %w", outPath, err)
	}
	if !completeness.Complete() {
		return Result{}, fmt.Errorf("output %s is incomplete, refusing to parse", outPath)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return Result{}, fmt.Errorf("read output %s: %w", outPath, err)
	}
	content := string(data)

	masses := make(map[string]float64)
	timeColumn := ""
	for _, header := range sectionHeaders {
		column, err := extractSection(content, header, masses)
		if err != nil {
			return Result{}, fmt.Errorf("parse output %s: %w", outPath, err)
		}
		if column != "" {
			timeColumn = column
		}
	}
	if len(masses) == 0 {
		return Result{}, fmt.Errorf("output %s holds no concentration tables", outPath)
	}

	volume := p.VolumeCC
	if volume <= 0 {
		volume = DefaultVolumeCC
	}
	return buildResult(masses, timeColumn, materialID, volume), nil
}

// extractSection accumulates final-column masses from one table into
// the shared map. A missing section is not an error; not every output
// carries all three tables.
func extractSection(content string, header string, masses map[string]float64) (string, error) {
	start := strings.Index(content, header)
	if start == -1 {
		return "", nil
	}
	section := content[start:]

	// Clip at the next table or separator so rows from a later section
	// never bleed in.
	end := len(section)
	for _, next := range sectionHeaders {
		if pos := strings.Index(section, next); pos > 0 {
			end = min(end, pos)
		}
	}
	if pos := strings.Index(section, "========================================="); pos > 0 {
		end = min(end, pos)
	}
	section = section[:end]

	lines := strings.Split(section, "\n")
	timeColumn := ""
	lastColIndex := 0
	dataStart := -1
	for i, line := range lines {
		if timeHeaderPattern.MatchString(line) {
			columns := strings.Fields(line)
			timeColumn = columns[len(columns)-1]
			lastColIndex = len(columns)
			dataStart = i + 1
			break
		}
	}
	if dataStart == -1 {
		return "", fmt.Errorf("section %q has no time column header", header)
	}

	for _, line := range lines[dataStart:] {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(strings.ToLower(line), "totals") ||
			strings.HasPrefix(line, "=") || strings.HasPrefix(line, "-") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < lastColIndex+1 {
			continue
		}
		mass, err := strconv.ParseFloat(parts[lastColIndex], 64)
		if err != nil {
			continue
		}
		if mass > minMassGrams {
			masses[parts[0]] += mass
		}
	}
	return timeColumn, nil
}

// buildResult filters and sorts the composition and renders the card.
func buildResult(masses map[string]float64, timeColumn string, materialID int, volume float64) Result {
	totalMass := 0.0
	for _, mass := range masses {
		totalMass += mass
	}

	fractions := make(map[int]float64)
	zaidNames := make(map[int]string)
	heliumMass := 0.0
	for name, mass := range masses {
		zaid, err := NuclideZAID(name)
		if err != nil {
			heliumMass += mass
			continue
		}
		fractions[zaid] += mass / totalMass
		if zaidNames[zaid] == "" {
			zaidNames[zaid] = name
		}
	}
	if heliumMass > 0 {
		fractions[heliumZAID] += heliumMass / totalMass
		if zaidNames[heliumZAID] == "" {
			zaidNames[heliumZAID] = "he4"
		}
	}

	zaids := make([]int, 0, len(fractions))
	for zaid, fraction := range fractions {
		if fraction < minWeightFraction {
			continue
		}
		zaids = append(zaids, zaid)
	}
	sort.Ints(zaids)

	nuclides := make([]Nuclide, 0, len(zaids))
	for _, zaid := range zaids {
		nuclides = append(nuclides, Nuclide{
			Name:      zaidNames[zaid],
			ZAID:      zaid,
			MassGrams: fractions[zaid] * totalMass,
		})
	}

	density := totalMass / volume

	var card strings.Builder
	card.WriteString("! MCNP Material Card from ORIGEN Output\n")
	fmt.Fprintf(&card, "! Time column: %s\n", timeColumn)
	fmt.Fprintf(&card, "! Total mass: %.6e g, Density: %.6e g/cm3\n", totalMass, density)
	fmt.Fprintf(&card, "! Isotopes converted to helium: %.6e g\n", heliumMass)
	fmt.Fprintf(&card, "M%d nlib=00c\n", materialID)
	for _, zaid := range zaids {
		fmt.Fprintf(&card, "     %d -%.6e\n", zaid, fractions[zaid])
	}

	return Result{
		TimeColumn:     timeColumn,
		Nuclides:       nuclides,
		TotalMassGrams: totalMass,
		DensityGPerCC:  density,
		HeliumGrams:    heliumMass,
		MaterialCard:   card.String(),
	}
}
