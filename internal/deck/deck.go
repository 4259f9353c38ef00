package deck

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nuketools/burnup/internal/element"
)

const (
	// deckFileMode is the file mode for generated decks.
	deckFileMode = 0o644
	// valuesPerLine is how many card values are written per line.
	valuesPerLine = 10
	// DefaultLibrary is the ORIGEN reaction library used when none is
	// configured.
	DefaultLibrary = "end7dec"
)

// Generator writes the input deck for one element into the inputs area.
type Generator interface {
	Generate(inputsDir string, el element.Element) error
}

// OrigenGenerator produces ORIGEN irradiation decks from the shared
// power history and the per-element flux.
type OrigenGenerator struct {
	History History
	Flux    FluxMap
	Library string
}

// NewOrigenGenerator validates its inputs and returns a generator.
func NewOrigenGenerator(history History, flux FluxMap, library string) (*OrigenGenerator, error) {
	if len(history.Entries) == 0 {
		return nil, errors.New("power history is required")
	}
	if len(flux) == 0 {
		return nil, errors.New("flux data is required")
	}
	if strings.TrimSpace(library) == "" {
		library = DefaultLibrary
	}
	return &OrigenGenerator{History: history, Flux: flux, Library: library}, nil
}

// Generate writes the element's deck. The case identifier embedded in
// the deck always equals the deck filename stem, so outputs can be
// matched back to their unit without consulting any side table.
func (g *OrigenGenerator) Generate(inputsDir string, el element.Element) error {
	flux, err := g.Flux.Lookup(el.Name)
	if err != nil {
		return err
	}

	fileName := el.DeckFile()
	caseID := strings.TrimSuffix(fileName, filepath.Ext(fileName))

	var b strings.Builder
	b.WriteString("=origen\n")
	fmt.Fprintf(&b, "' case %s\n", caseID)
	fmt.Fprintf(&b, "' element %s assembly %s\n", el.Name, el.Assembly)
	if g.History.DateRange != "" {
		fmt.Fprintf(&b, "' history %s\n", g.History.DateRange)
	}
	fmt.Fprintf(&b, "case(%s){\n", caseID)
	fmt.Fprintf(&b, "  lib{ file=\"%s\" }\n", g.Library)
	fmt.Fprintf(&b, "  flux=[%.6e]\n", flux)

	b.WriteString("  time{\n    t=[\n")
	writeValueBlock(&b, g.History.Entries, func(e HistoryEntry) string {
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.6f", e.DurationMinutes), "0"), ".")
	})
	b.WriteString("    ]\n    units=MINUTES\n  }\n")

	b.WriteString("  power=[\n")
	writeValueBlock(&b, g.History.Entries, func(e HistoryEntry) string {
		return fmt.Sprintf("%.8f", e.PowerMW)
	})
	b.WriteString("  ]\n")

	b.WriteString("  save{ file=\"" + caseID + ".f71\" }\n")
	b.WriteString("}\nend\n")

	path := filepath.Join(inputsDir, fileName)
	if err := os.WriteFile(path, []byte(b.String()), deckFileMode); err != nil {
		return fmt.Errorf("write deck %s: %w", path, err)
	}
	return nil
}

// writeValueBlock renders one value per history entry, wrapped for
// readability.
func writeValueBlock(b *strings.Builder, entries []HistoryEntry, format func(HistoryEntry) string) {
	for i, entry := range entries {
		if i%valuesPerLine == 0 {
			b.WriteString("    ")
		}
		b.WriteString(format(entry))
		if (i+1)%valuesPerLine == 0 || i == len(entries)-1 {
			b.WriteString("\n")
		} else {
			b.WriteString("  ")
		}
	}
}
