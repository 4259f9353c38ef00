package deck

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/nuketools/burnup/internal/element"
)

// DefaultAssembly is used when the flux file does not group elements
// into assemblies.
const DefaultAssembly = "core"

// FluxMap holds the per-element thermal flux (n/cm2-s) keyed by the
// element's original (unescaped) name.
type FluxMap map[string]float64

// FluxData is the loaded flux inventory: the per-element flux values
// plus the element sources they imply.
type FluxData struct {
	Flux    FluxMap
	Sources []element.Source
}

// LoadFlux reads a flux JSON file. Three shapes are accepted: an
// "assemblies" object grouping elements per assembly, an "elements"
// object, or a flat object of name to flux. Elements not grouped into
// assemblies fall under DefaultAssembly.
func LoadFlux(path string) (FluxData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FluxData{}, fmt.Errorf("open flux data %s: %w", path, err)
	}

	var grouped struct {
		Assemblies map[string]map[string]float64 `json:"assemblies"`
		Elements   map[string]float64            `json:"elements"`
	}
	if err := json.Unmarshal(raw, &grouped); err == nil {
		if len(grouped.Assemblies) > 0 {
			return fromAssemblies(grouped.Assemblies), nil
		}
		if len(grouped.Elements) > 0 {
			return fromFlat(grouped.Elements), nil
		}
	}

	var flat map[string]float64
	if err := json.Unmarshal(raw, &flat); err != nil {
		return FluxData{}, fmt.Errorf("parse flux data %s: %w", path, err)
	}
	if len(flat) == 0 {
		return FluxData{}, fmt.Errorf("flux data %s holds no elements", path)
	}
	return fromFlat(flat), nil
}

// fromAssemblies flattens the grouped shape.
func fromAssemblies(assemblies map[string]map[string]float64) FluxData {
	data := FluxData{Flux: FluxMap{}}
	for assembly, elements := range assemblies {
		for name, flux := range elements {
			data.Flux[name] = flux
			data.Sources = append(data.Sources, element.Source{Assembly: assembly, Name: name})
		}
	}
	return data
}

// fromFlat wraps the ungrouped shape under the default assembly.
func fromFlat(elements map[string]float64) FluxData {
	data := FluxData{Flux: FluxMap{}}
	for name, flux := range elements {
		data.Flux[name] = flux
		data.Sources = append(data.Sources, element.Source{Assembly: DefaultAssembly, Name: name})
	}
	return data
}

// Lookup returns the flux for an element name.
func (f FluxMap) Lookup(name string) (float64, error) {
	flux, ok := f[name]
	if !ok {
		return 0, fmt.Errorf("no flux entry for element %q", name)
	}
	if flux <= 0 {
		return 0, fmt.Errorf("flux for element %q is %g, must be positive", name, flux)
	}
	return flux, nil
}
