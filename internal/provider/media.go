package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Speech synthesizes audio for the given input text and returns the raw
// audio bytes. Billing for speech is character-based and computed by the
// caller from the input length, not from anything the provider reports.
func (c *OpenAIClient) Speech(ctx context.Context, model, voice, input string) ([]byte, error) {
	body, errMarshal := json.Marshal(map[string]string{
		"model": model,
		"voice": voice,
		"input": input,
	})
	if errMarshal != nil {
		return nil, errMarshal
	}

	resp, errDo := c.post(ctx, "/audio/speech", body)
	if errDo != nil {
		return nil, errDo
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("provider %s: status %d: %s", c.name, resp.StatusCode, string(respBody))
	}
	return io.ReadAll(resp.Body)
}

// GenerateImage produces n images for a prompt and returns their URLs.
func (c *OpenAIClient) GenerateImage(ctx context.Context, model, prompt string, n int) ([]string, error) {
	if n <= 0 {
		n = 1
	}
	body, errMarshal := json.Marshal(map[string]any{
		"model":  model,
		"prompt": prompt,
		"n":      n,
	})
	if errMarshal != nil {
		return nil, errMarshal
	}

	resp, errDo := c.post(ctx, "/images/generations", body)
	if errDo != nil {
		return nil, errDo
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("provider %s: status %d: %s", c.name, resp.StatusCode, string(respBody))
	}

	var parsed struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if errDecode := json.NewDecoder(resp.Body).Decode(&parsed); errDecode != nil {
		return nil, errDecode
	}
	urls := make([]string, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		urls = append(urls, d.URL)
	}
	return urls, nil
}
