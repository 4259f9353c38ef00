// Package aggregate provides tests for result aggregation.
package aggregate

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nuketools/burnup/internal/element"
	"github.com/nuketools/burnup/internal/parse"
	"github.com/nuketools/burnup/internal/rundir"
)

// stubParser returns canned results keyed by output path and fails for
// paths in its failures set.
type stubParser struct {
	failures map[string]bool
}

func (p stubParser) Parse(outPath string, materialID int) (parse.Result, error) {
	base := filepath.Base(outPath)
	if p.failures[base] {
		return parse.Result{}, fmt.Errorf("composition tables missing in %s", base)
	}
	return parse.Result{
		TimeColumn:     "2.50E+05min",
		TotalMassGrams: 1000,
		DensityGPerCC:  102.6,
		Nuclides:       []parse.Nuclide{{Name: "u235", ZAID: 92235, MassGrams: 1000}},
		MaterialCard:   fmt.Sprintf("M%d nlib=00c\n     92235 -1.000000e+00\n", materialID),
	}, nil
}

// newTestUnits creates n pending elements with sequences from 1.
func newTestUnits(n int) []*element.Element {
	units := make([]*element.Element, n)
	for i := range units {
		units[i] = &element.Element{
			Name:     fmt.Sprintf("rod %d", i+1),
			Assembly: "core-1",
			Seq:      i + 1,
			Token:    fmt.Sprintf("rod_s_%d", i+1),
			Status:   element.StatusPending,
		}
	}
	return units
}

// TestRunEmitsCardsAndDatabase covers the happy path end to end.
func TestRunEmitsCardsAndDatabase(t *testing.T) {
	t.Parallel()

	dir, err := rundir.CreateLayout(t.TempDir(), "agg-test")
	if err != nil {
		t.Fatalf("CreateLayout failed: %v", err)
	}
	units := newTestUnits(4)

	output, err := Run(context.Background(), Input{
		Dir:     dir,
		Units:   units,
		Parser:  stubParser{},
		Workers: 2,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if output.Stage.Succeeded != 4 || output.Stage.Failed != 0 {
		t.Fatalf("stage = %+v, want 4 succeeded", output.Stage)
	}
	if len(output.Results) != 4 {
		t.Fatalf("results = %d, want 4", len(output.Results))
	}

	cardsPath := filepath.Join(dir.Cards, CombinedCardsFileName)
	data, err := os.ReadFile(cardsPath)
	if err != nil {
		t.Fatalf("read combined cards: %v", err)
	}
	content := string(data)
	for seq := 1; seq <= 4; seq++ {
		if !strings.Contains(content, fmt.Sprintf("M%d nlib=00c", MaterialIDBase+seq)) {
			t.Fatalf("combined cards missing material %d:\n%s", MaterialIDBase+seq, content)
		}
	}

	// Sections must appear in sequence order.
	if strings.Index(content, "M201 ") > strings.Index(content, "M204 ") {
		t.Fatalf("combined cards out of sequence order:\n%s", content)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir.Cards, DatabaseFileName))
	if err != nil {
		t.Fatalf("open materials db: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM materials").Scan(&count); err != nil {
		t.Fatalf("query materials: %v", err)
	}
	if count != 4 {
		t.Fatalf("materials rows = %d, want 4", count)
	}

	var mass float64
	var materialID int
	row := db.QueryRow("SELECT total_mass_g, material_id FROM materials WHERE seq = 2")
	if err := row.Scan(&mass, &materialID); err != nil {
		t.Fatalf("query material seq 2: %v", err)
	}
	if mass != 1000 || materialID != MaterialIDBase+2 {
		t.Fatalf("material seq 2 = (%g, %d)", mass, materialID)
	}
}

// TestRunIsolatesParseFailures records failures without stopping the
// rest and keeps the failed unit off the combined cards.
func TestRunIsolatesParseFailures(t *testing.T) {
	t.Parallel()

	dir, err := rundir.CreateLayout(t.TempDir(), "agg-fail")
	if err != nil {
		t.Fatalf("CreateLayout failed: %v", err)
	}
	units := newTestUnits(3)
	parser := stubParser{failures: map[string]bool{units[1].OutputFile(): true}}

	output, err := Run(context.Background(), Input{
		Dir:     dir,
		Units:   units,
		Parser:  parser,
		Workers: 3,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if output.Stage.Succeeded != 2 || output.Stage.Failed != 1 {
		t.Fatalf("stage = %+v, want 2 succeeded 1 failed", output.Stage)
	}
	if units[1].Status != element.StatusFailed {
		t.Fatalf("unit 2 status = %s, want failed", units[1].Status)
	}

	data, err := os.ReadFile(filepath.Join(dir.Cards, CombinedCardsFileName))
	if err != nil {
		t.Fatalf("read combined cards: %v", err)
	}
	if strings.Contains(string(data), fmt.Sprintf("M%d nlib", MaterialIDBase+2)) {
		t.Fatalf("failed unit should not appear on combined cards:\n%s", data)
	}
}

// TestRunRequiresParser validates inputs.
func TestRunRequiresParser(t *testing.T) {
	t.Parallel()

	if _, err := Run(context.Background(), Input{Workers: 1}); err == nil {
		t.Fatal("expected error for missing parser")
	}
}

// TestSummaryRoundTrip writes atomically and reads back.
func TestSummaryRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), rundir.SummaryFileName)
	summary := Summary{
		RunName:   "cycle-12",
		State:     "completed",
		StartedAt: time.Now().UTC().Truncate(time.Second),
		Workers:   map[string]int{"execution": 8, "aggregation": 4},
		Cleanup:   "moderate",
		Total:     252,
		Succeeded: 249,
		Failed:    3,
		Stages: []StageSummary{
			{Stage: "execution", Total: 252, Succeeded: 249, Failed: 3, HardFailures: 3},
		},
		Units: []UnitSummary{
			{Seq: 1, Name: "rod 1", Assembly: "core-1", Status: element.StatusSucceeded},
		},
	}

	if err := WriteSummary(path, summary); err != nil {
		t.Fatalf("WriteSummary failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temp summary file left behind")
	}

	loaded, err := ReadSummary(path)
	if err != nil {
		t.Fatalf("ReadSummary failed: %v", err)
	}
	if loaded.RunName != "cycle-12" || loaded.Total != 252 || loaded.Failed != 3 {
		t.Fatalf("loaded summary = %+v", loaded)
	}
	if loaded.Workers["execution"] != 8 {
		t.Fatalf("workers = %+v", loaded.Workers)
	}
	if len(loaded.Units) != 1 || loaded.Units[0].Status != element.StatusSucceeded {
		t.Fatalf("units = %+v", loaded.Units)
	}
}
