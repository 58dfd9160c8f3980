package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rhino-ai/billing-gateway/internal/usage"
)

// OpenAIClient speaks the OpenAI-compatible chat completions wire format.
// It also fronts OpenRouter and other compatible upstreams: only the base
// URL and key differ.
type OpenAIClient struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewOpenAIClient constructs a client for an OpenAI-compatible upstream.
func NewOpenAIClient(name, baseURL, apiKey string) *OpenAIClient {
	return &OpenAIClient{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *OpenAIClient) Name() string { return c.name }

type openAIRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIResponse struct {
	Choices []struct {
		Message Message `json:"message"`
		Delta   struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *usage.TokenUsage `json:"usage"`
}

// Invoke performs a non-streaming chat completion.
func (c *OpenAIClient) Invoke(ctx context.Context, req Request) (*Response, error) {
	body, errMarshal := json.Marshal(openAIRequest{
		Model:     req.Model,
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
	})
	if errMarshal != nil {
		return nil, errMarshal
	}

	resp, errDo := c.post(ctx, "/chat/completions", body)
	if errDo != nil {
		return nil, errDo
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("provider %s: status %d: %s", c.name, resp.StatusCode, string(respBody))
	}

	var parsed openAIResponse
	if errDecode := json.NewDecoder(resp.Body).Decode(&parsed); errDecode != nil {
		return nil, errDecode
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("provider %s: empty choices", c.name)
	}

	out := &Response{Content: parsed.Choices[0].Message.Content}
	if parsed.Usage != nil {
		out.Usage = *parsed.Usage
	}
	return out, nil
}

// Stream performs a streaming chat completion. Chunks carry the raw SSE
// data payloads; the usage sidecar is attached to the chunk that reported
// it (providers send it on the final data event when stream usage is
// requested).
func (c *OpenAIClient) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	body, errMarshal := json.Marshal(openAIRequest{
		Model:         req.Model,
		Messages:      req.Messages,
		MaxTokens:     req.MaxTokens,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	})
	if errMarshal != nil {
		return nil, errMarshal
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)

		resp, errDo := c.post(ctx, "/chat/completions", body)
		if errDo != nil {
			emit(ctx, ch, StreamChunk{Err: errDo})
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			emit(ctx, ch, StreamChunk{Err: fmt.Errorf("provider %s: status %d: %s", c.name, resp.StatusCode, string(respBody))})
			return
		}

		reader := bufio.NewReader(resp.Body)
		for {
			line, errRead := reader.ReadString('\n')
			if errRead != nil {
				if errRead == io.EOF {
					emit(ctx, ch, StreamChunk{Done: true})
					return
				}
				emit(ctx, ch, StreamChunk{Err: errRead})
				return
			}

			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				emit(ctx, ch, StreamChunk{Done: true})
				return
			}

			chunk := StreamChunk{Data: []byte(data)}
			var parsed openAIResponse
			if errUnmarshal := json.Unmarshal([]byte(data), &parsed); errUnmarshal == nil && parsed.Usage != nil {
				chunk.Usage = parsed.Usage
			}
			if !emit(ctx, ch, chunk) {
				return
			}
		}
	}()
	return ch, nil
}

func (c *OpenAIClient) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	httpReq, errReq := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if errReq != nil {
		return nil, errReq
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	return c.client.Do(httpReq)
}

// emit sends a chunk unless the consumer is gone. It reports false once the
// context is done so producers stop reading the upstream.
func emit(ctx context.Context, ch chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
