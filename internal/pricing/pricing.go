package pricing

import (
	"math"
	"strings"

	"github.com/rhino-ai/billing-gateway/internal/usage"
)

// Unit scales. Prices are expressed in USD per UnitScale units, so token
// and character priced models carry per-1M prices while per-item models
// carry a flat per-item price.
const (
	// ScalePerMillion is the unit scale for token- and character-priced models.
	ScalePerMillion int64 = 1_000_000
	// ScalePerItem is the unit scale for flat per-item billing.
	ScalePerItem int64 = 1
)

// Entry is the static price configuration for one model.
type Entry struct {
	Model       string  `yaml:"model"`        // Model identifier.
	InputPrice  float64 `yaml:"input-price"`  // USD per UnitScale prompt units.
	OutputPrice float64 `yaml:"output-price"` // USD per UnitScale completion units.
	Margin      float64 `yaml:"margin"`       // Margin multiplier applied to raw cost.
	UnitScale   int64   `yaml:"unit-scale"`   // Units covered by one price step.
}

// Table resolves model identifiers to pricing entries. It is built once at
// process start and never mutated afterwards, so lookups need no locking.
type Table struct {
	entries map[string]Entry
}

// NewTable builds a pricing table from configured entries. Entries without
// a unit scale default to per-million pricing; entries without a margin
// default to 1.0.
func NewTable(entries []Entry) *Table {
	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		model := strings.TrimSpace(e.Model)
		if model == "" {
			continue
		}
		if e.UnitScale <= 0 {
			e.UnitScale = ScalePerMillion
		}
		if e.Margin <= 0 {
			e.Margin = 1.0
		}
		m[model] = e
	}
	return &Table{entries: m}
}

// Resolve returns the pricing entry for a model, if one is configured.
func (t *Table) Resolve(model string) (Entry, bool) {
	if t == nil {
		return Entry{}, false
	}
	e, ok := t.entries[strings.TrimSpace(model)]
	return e, ok
}

// CostMicros computes the charged cost in micros (1e-6 USD) for normalized
// usage under a pricing entry:
//
//	cost = (promptUnits/scale*inputPrice + completionUnits/scale*outputPrice) * margin
//
// An entry with a zero or negative unit scale yields zero cost.
func CostMicros(u usage.ProviderUsage, e Entry) int64 {
	if e.UnitScale <= 0 {
		return 0
	}
	raw := float64(u.PromptUnits)*e.InputPrice + float64(u.CompletionUnits)*e.OutputPrice
	micros := raw / float64(e.UnitScale) * 1_000_000 * e.Margin
	if micros <= 0 {
		return 0
	}
	return int64(math.Round(micros))
}
