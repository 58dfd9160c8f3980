package usage

import "testing"

func TestNormalizeTokenUsage(t *testing.T) {
	got := Normalize(TokenUsage{PromptTokens: 1000, CompletionTokens: 500})
	if got.PromptUnits != 1000 || got.CompletionUnits != 500 {
		t.Fatalf("unexpected normalized usage: %+v", got)
	}
}

func TestNormalizeCharacterUsage(t *testing.T) {
	got := Normalize(CharacterUsage{Characters: 420})
	if got.PromptUnits != 420 || got.CompletionUnits != 0 {
		t.Fatalf("unexpected normalized usage: %+v", got)
	}
}

func TestNormalizePerItemUsage(t *testing.T) {
	got := Normalize(PerItemUsage{Items: 1})
	if got.PromptUnits != 0 || got.CompletionUnits != 1 {
		t.Fatalf("unexpected normalized usage: %+v", got)
	}
	// A zero item count still bills a single item.
	got = Normalize(PerItemUsage{})
	if got.CompletionUnits != 1 {
		t.Fatalf("expected one item for zero count, got %+v", got)
	}
}

func TestNormalizeUnknownShapeFailsClosed(t *testing.T) {
	if got := Normalize(nil); !got.IsZero() {
		t.Fatalf("expected zero usage for nil raw, got %+v", got)
	}
}
