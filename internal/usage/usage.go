package usage

// ProviderUsage is the canonical billable quantity for one request,
// regardless of how the upstream provider reported it.
type ProviderUsage struct {
	PromptUnits     int64 // Units consumed by the request side (tokens, characters).
	CompletionUnits int64 // Units produced by the response side (tokens, items).
}

// IsZero reports whether no billable usage was recorded.
func (u ProviderUsage) IsZero() bool {
	return u.PromptUnits == 0 && u.CompletionUnits == 0
}

// Raw is implemented by the provider-specific usage shapes. Adding a
// provider means adding one variant here and one case in Normalize.
type Raw interface {
	isRaw()
}

// TokenUsage is the OpenAI-style token report carried by chat completions.
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// CharacterUsage is the input-character count reported by speech synthesis.
type CharacterUsage struct {
	Characters int64 `json:"characters"`
}

// PerItemUsage is the synthetic per-item count for flat-priced operations
// such as image generation.
type PerItemUsage struct {
	Items int64 `json:"items"`
}

func (TokenUsage) isRaw()     {}
func (CharacterUsage) isRaw() {}
func (PerItemUsage) isRaw()   {}

// Normalize maps a provider-reported usage shape onto billable units.
//
// Unrecognized shapes (including nil) normalize to zero usage so the ledger
// skips the charge instead of guessing a cost; the bias is toward
// under-billing over over-billing.
func Normalize(raw Raw) ProviderUsage {
	switch u := raw.(type) {
	case TokenUsage:
		return ProviderUsage{PromptUnits: u.PromptTokens, CompletionUnits: u.CompletionTokens}
	case CharacterUsage:
		return ProviderUsage{PromptUnits: u.Characters}
	case PerItemUsage:
		items := u.Items
		if items <= 0 {
			items = 1
		}
		return ProviderUsage{CompletionUnits: items}
	default:
		return ProviderUsage{}
	}
}
