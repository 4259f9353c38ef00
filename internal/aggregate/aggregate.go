// Package aggregate turns raw SCALE outputs into the run's durable
// results: the combined MCNP material cards file, the queryable
// materials database, and the run summary document.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nuketools/burnup/internal/element"
	"github.com/nuketools/burnup/internal/parse"
	"github.com/nuketools/burnup/internal/pool"
	"github.com/nuketools/burnup/internal/rundir"
)

const (
	// CombinedCardsFileName is the consolidated material cards file in
	// the cards area.
	CombinedCardsFileName = "mcnp_materials_all.txt"
	// MaterialIDBase offsets MCNP material identifiers so they never
	// collide with hand-written geometry materials.
	MaterialIDBase = 200

	cardsFileMode = 0o644
)

// UnitResult pairs an element with its parsed composition.
type UnitResult struct {
	Element *element.Element
	Parsed  parse.Result
}

// Output is everything the aggregation stage produced.
type Output struct {
	Stage   pool.StageResult
	Results []UnitResult
}

// Input configures one aggregation pass.
type Input struct {
	Dir     rundir.Dir
	Units   []*element.Element
	Parser  parse.Parser
	Workers int
	OnDone  pool.UnitDoneFunc
}

// Run parses every unit's output in a bounded pool, then emits the
// combined cards file and materials database single-threaded in
// sequence order. One unit's parse failure is recorded on that unit and
// does not stop the rest.
func Run(ctx context.Context, input Input) (*Output, error) {
	if input.Parser == nil {
		return nil, errors.New("parser is required")
	}

	// Each worker owns one slot, so the slice needs no locking.
	slots := make([]*parse.Result, len(input.Units))
	slotOf := make(map[*element.Element]int, len(input.Units))
	for i, el := range input.Units {
		slotOf[el] = i
	}

	work := func(ctx context.Context, el *element.Element) error {
		outPath := filepath.Join(input.Dir.Inputs, el.OutputFile())
		parsed, err := input.Parser.Parse(outPath, MaterialIDBase+el.Seq)
		if err != nil {
			return fmt.Errorf("parse %s: %w", el.OutputFile(), err)
		}
		slots[slotOf[el]] = &parsed
		return nil
	}

	stage, err := pool.RunStage(ctx, "aggregation", input.Units, work, input.Workers, input.OnDone)
	if err != nil {
		return nil, err
	}

	output := &Output{Stage: stage}
	for i, el := range input.Units {
		if slots[i] != nil {
			output.Results = append(output.Results, UnitResult{Element: el, Parsed: *slots[i]})
		}
	}

	if err := writeCombinedCards(input.Dir, output); err != nil {
		return output, err
	}
	if err := writeDatabase(ctx, input.Dir, output); err != nil {
		return output, err
	}
	return output, nil
}

// writeCombinedCards emits every material card into one file in
// sequence order with a commented header.
func writeCombinedCards(dir rundir.Dir, output *Output) error {
	sort.Slice(output.Results, func(i, j int) bool {
		return output.Results[i].Element.Seq < output.Results[j].Element.Seq
	})

	var b strings.Builder
	b.WriteString("! Combined MCNP material cards\n")
	fmt.Fprintf(&b, "! Generated: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "! Elements: %d\n", len(output.Results))
	b.WriteString("!\n")
	for _, r := range output.Results {
		fmt.Fprintf(&b, "! ---- element %s (assembly %s, M%d) ----\n",
			r.Element.Name, r.Element.Assembly, MaterialIDBase+r.Element.Seq)
		b.WriteString(r.Parsed.MaterialCard)
		b.WriteString("\n")
	}

	path := filepath.Join(dir.Cards, CombinedCardsFileName)
	if err := os.WriteFile(path, []byte(b.String()), cardsFileMode); err != nil {
		return fmt.Errorf("write combined cards %s: %w", path, err)
	}
	return nil
}
