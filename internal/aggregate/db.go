package aggregate

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/nuketools/burnup/internal/rundir"
)

// DatabaseFileName is the queryable materials database in the cards
// area.
const DatabaseFileName = "materials.db"

// materialsSchema holds one row per element plus a run metadata table.
const materialsSchema = `
CREATE TABLE IF NOT EXISTS materials (
	seq INTEGER PRIMARY KEY,
	element_name TEXT NOT NULL,
	assembly TEXT NOT NULL,
	material_id INTEGER NOT NULL,
	total_mass_g REAL NOT NULL,
	density_g_cc REAL NOT NULL,
	nuclide_count INTEGER NOT NULL,
	time_column TEXT NOT NULL,
	material_card TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_materials_assembly ON materials(assembly);

CREATE TABLE IF NOT EXISTS run_info (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// writeDatabase stores every parsed material in the results database.
// The database is rebuilt from the output set on each aggregation pass,
// so a resumed run overwrites rather than duplicates.
func writeDatabase(ctx context.Context, dir rundir.Dir, output *Output) error {
	path := filepath.Join(dir.Cards, DatabaseFileName)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open materials database %s: %w", path, err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, materialsSchema); err != nil {
		return fmt.Errorf("initialize materials database: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin materials transaction: %w", err)
	}
	defer tx.Rollback()

	insert, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO materials
		(seq, element_name, assembly, material_id, total_mass_g, density_g_cc, nuclide_count, time_column, material_card)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare materials insert: %w", err)
	}
	defer insert.Close()

	for _, r := range output.Results {
		_, err := insert.ExecContext(ctx,
			r.Element.Seq,
			r.Element.Name,
			r.Element.Assembly,
			MaterialIDBase+r.Element.Seq,
			r.Parsed.TotalMassGrams,
			r.Parsed.DensityGPerCC,
			r.Parsed.NuclideCount(),
			r.Parsed.TimeColumn,
			r.Parsed.MaterialCard,
		)
		if err != nil {
			return fmt.Errorf("insert material for %s: %w", r.Element.Name, err)
		}
	}

	info := map[string]string{
		"elements_total":     fmt.Sprintf("%d", output.Stage.Total),
		"elements_succeeded": fmt.Sprintf("%d", output.Stage.Succeeded),
		"elements_failed":    fmt.Sprintf("%d", output.Stage.Failed),
	}
	for key, value := range info {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO run_info (key, value) VALUES (?, ?)", key, value); err != nil {
			return fmt.Errorf("insert run info %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit materials database: %w", err)
	}
	return nil
}
