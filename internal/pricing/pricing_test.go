package pricing

import (
	"testing"

	"github.com/rhino-ai/billing-gateway/internal/usage"
)

func TestResolveHitAndMiss(t *testing.T) {
	table := NewTable([]Entry{
		{Model: "gpt-4o-mini", InputPrice: 0.15, OutputPrice: 0.6, Margin: 1.4},
	})

	entry, ok := table.Resolve("gpt-4o-mini")
	if !ok {
		t.Fatal("expected pricing entry for gpt-4o-mini")
	}
	if entry.UnitScale != ScalePerMillion {
		t.Fatalf("expected default unit scale %d, got %d", ScalePerMillion, entry.UnitScale)
	}

	if _, ok := table.Resolve("nonexistent-model"); ok {
		t.Fatal("expected miss for unknown model")
	}
}

func TestCostMicrosTokenPricing(t *testing.T) {
	entry := Entry{
		Model:       "gpt-4o-mini",
		InputPrice:  0.15,
		OutputPrice: 0.6,
		Margin:      1.4,
		UnitScale:   ScalePerMillion,
	}
	u := usage.ProviderUsage{PromptUnits: 1000, CompletionUnits: 500}

	// (1000/1e6*0.15 + 500/1e6*0.6) * 1.4 = 0.00063 USD = 630 micros.
	if got := CostMicros(u, entry); got != 630 {
		t.Fatalf("expected 630 micros, got %d", got)
	}
}

func TestCostMicrosPerItemPricing(t *testing.T) {
	entry := Entry{
		Model:       "dall-e-3",
		OutputPrice: 0.04,
		Margin:      1.25,
		UnitScale:   ScalePerItem,
	}
	u := usage.Normalize(usage.PerItemUsage{Items: 2})

	// 2 items * 0.04 USD * 1.25 = 0.1 USD = 100000 micros.
	if got := CostMicros(u, entry); got != 100000 {
		t.Fatalf("expected 100000 micros, got %d", got)
	}
}

func TestCostMicrosDefaultMargin(t *testing.T) {
	table := NewTable([]Entry{{Model: "plain", InputPrice: 1.0}})
	entry, _ := table.Resolve("plain")
	if entry.Margin != 1.0 {
		t.Fatalf("expected default margin 1.0, got %v", entry.Margin)
	}
}

func TestCostMicrosZeroUsage(t *testing.T) {
	entry := Entry{Model: "gpt-4o-mini", InputPrice: 0.15, OutputPrice: 0.6, Margin: 1.4, UnitScale: ScalePerMillion}
	if got := CostMicros(usage.ProviderUsage{}, entry); got != 0 {
		t.Fatalf("expected zero cost for zero usage, got %d", got)
	}
}
