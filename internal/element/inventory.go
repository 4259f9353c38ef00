package element

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/nuketools/burnup/internal/naming"
)

// mappingFileName is the audit mapping written to the inputs area.
// Resume never trusts it; on-disk artifacts are authoritative.
const mappingFileName = "element_mapping.json"

// mappingFileMode is the file mode for the element mapping file.
const mappingFileMode = 0o644

// Source describes one element enumerated from the flux inventory,
// before a sequence number exists.
type Source struct {
	Assembly string
	Name     string
}

// Enumerate assigns every element its global sequence number in a single
// pass before any filename is produced, so the field embedded in each
// filename always matches the sequence referenced inside the deck.
// Elements are ordered by assembly then name for a deterministic
// assignment.
func Enumerate(sources []Source, counter *naming.Counter) []*Element {
	ordered := make([]Source, len(sources))
	copy(ordered, sources)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Assembly != ordered[j].Assembly {
			return ordered[i].Assembly < ordered[j].Assembly
		}
		return ordered[i].Name < ordered[j].Name
	})

	elements := make([]*Element, 0, len(ordered))
	for _, source := range ordered {
		elements = append(elements, &Element{
			Name:     source.Name,
			Assembly: source.Assembly,
			Seq:      counter.Next(),
			Token:    naming.Encode(source.Name),
			Status:   StatusPending,
		})
	}
	return elements
}

// SortBySeq orders elements by their sequence number in place. Stage
// results and aggregated artifacts use this ordering so output is
// deterministic regardless of worker scheduling.
func SortBySeq(elements []*Element) {
	sort.Slice(elements, func(i, j int) bool {
		return elements[i].Seq < elements[j].Seq
	})
}

// mappingEntry is the persisted form of one element in the mapping file.
type mappingEntry struct {
	Assembly string `json:"assembly"`
	Name     string `json:"name"`
	Sequence int    `json:"sequence"`
	DeckFile string `json:"deck_file"`
}

// WriteMapping persists the element-to-filename mapping into the inputs
// area for human inspection.
func WriteMapping(inputsDir string, elements []*Element) error {
	mapping := make(map[string]mappingEntry, len(elements))
	for _, el := range elements {
		mapping[el.DeckFile()] = mappingEntry{
			Assembly: el.Assembly,
			Name:     el.Name,
			Sequence: el.Seq,
			DeckFile: el.DeckFile(),
		}
	}
	data, err := json.MarshalIndent(mapping, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal element mapping: %w", err)
	}
	path := filepath.Join(inputsDir, mappingFileName)
	if err := os.WriteFile(path, data, mappingFileMode); err != nil {
		return fmt.Errorf("write element mapping %s: %w", path, err)
	}
	return nil
}

// FromDeckFiles reconstructs elements purely from deck filenames found
// in the inputs area, used by resume. The returned elements are ordered
// by sequence. Sequences are never reassigned on resume: the unit set
// and its correlation keys come solely from the filenames.
func FromDeckFiles(filenames []string) (elements []*Element, err error) {
	for _, filename := range filenames {
		name, seq, parseErr := naming.ParseDeckFileName(filename)
		if parseErr != nil {
			continue // Not an element deck.
		}
		elements = append(elements, &Element{
			Name:   name,
			Seq:    seq,
			Token:  naming.Encode(name),
			Status: StatusPending,
		})
	}
	SortBySeq(elements)
	for i := 1; i < len(elements); i++ {
		if elements[i].Seq == elements[i-1].Seq {
			return nil, fmt.Errorf("duplicate sequence %d in inputs area", elements[i].Seq)
		}
	}
	return elements, nil
}

// RestoreAssemblies fills each element's assembly from the audit
// mapping file when one is present. The mapping is advisory: a missing
// file is fine and only the assembly label is trusted from it, never
// the sequence or name, which remain filename-derived.
func RestoreAssemblies(inputsDir string, elements []*Element) error {
	data, err := os.ReadFile(filepath.Join(inputsDir, mappingFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read element mapping: %w", err)
	}
	var mapping map[string]mappingEntry
	if err := json.Unmarshal(data, &mapping); err != nil {
		return fmt.Errorf("parse element mapping: %w", err)
	}
	for _, el := range elements {
		if entry, ok := mapping[el.DeckFile()]; ok && el.Assembly == "" {
			el.Assembly = entry.Assembly
		}
	}
	return nil
}
