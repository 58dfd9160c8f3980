package provider

import (
	"context"
	"errors"

	"github.com/rhino-ai/billing-gateway/internal/usage"
)

// ErrUnknownProvider indicates no client is registered under a name.
var ErrUnknownProvider = errors.New("provider: unknown provider")

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the provider-agnostic completion request.
type Request struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
	Input     string    `json:"input,omitempty"` // Text input for speech synthesis.
	Prompt    string    `json:"prompt,omitempty"`
	Count     int       `json:"n,omitempty"` // Item count for per-item operations.
}

// Response is a completed non-streaming provider call together with the
// raw usage it reported.
type Response struct {
	Content string
	Usage   usage.Raw
}

// StreamChunk is one element of a streaming provider response. The terminal
// element may carry a usage sidecar; Done marks upstream completion.
type StreamChunk struct {
	Data  []byte            // Raw payload forwarded to the caller unmodified.
	Usage *usage.TokenUsage // Usage sidecar, present on at most one chunk.
	Done  bool
	Err   error
}

// Client is an upstream LLM provider. Implementations are opaque wire
// adapters; billing only sees the normalized usage they report.
type Client interface {
	Name() string
	Invoke(ctx context.Context, req Request) (*Response, error)
	Stream(ctx context.Context, req Request) (<-chan StreamChunk, error)
}

// Registry resolves provider names to clients.
type Registry struct {
	clients map[string]Client
}

// NewRegistry builds a registry from the given clients.
func NewRegistry(clients ...Client) *Registry {
	m := make(map[string]Client, len(clients))
	for _, c := range clients {
		if c == nil {
			continue
		}
		m[c.Name()] = c
	}
	return &Registry{clients: m}
}

// Get returns the client registered under name.
func (r *Registry) Get(name string) (Client, error) {
	if r == nil {
		return nil, ErrUnknownProvider
	}
	c, ok := r.clients[name]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return c, nil
}
