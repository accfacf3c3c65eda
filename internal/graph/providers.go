package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Concrete completion providers behind the LLM capability. Selection
// checks the environment credentials first, then the OpenAI key passed
// in from the config file, and yields nil when nothing is configured.

// Environment variables holding completion credentials.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
)

// Default completion models. Descriptions and edge discovery are
// high-volume, low-stakes calls; the small tiers are the right fit.
const (
	defaultAnthropicModel = "claude-3-5-haiku-latest"
	defaultOpenAIModel    = "gpt-4o-mini"

	completionTimeout = 60 * time.Second
)

// NewLLMFromEnv builds a completion client from available credentials:
// ANTHROPIC_API_KEY first, then OPENAI_API_KEY, then the passed OpenAI
// key from the config file. Returns nil when none is set.
func NewLLMFromEnv(openAIKeyFallback string) LLM {
	if key := os.Getenv(EnvAnthropicAPIKey); key != "" {
		return NewAnthropicLLM(key, "")
	}
	if key := os.Getenv(EnvOpenAIAPIKey); key != "" {
		return NewOpenAILLM(key, "")
	}
	if openAIKeyFallback != "" {
		return NewOpenAILLM(openAIKeyFallback, "")
	}
	return nil
}

// anthropicLLM completes through the Anthropic messages API.
type anthropicLLM struct {
	apiKey string
	model  string
	client *http.Client
}

// NewAnthropicLLM creates an Anthropic completion client. An empty
// model selects the default.
func NewAnthropicLLM(apiKey, model string) LLM {
	if model == "" {
		model = defaultAnthropicModel
	}
	return &anthropicLLM{
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: completionTimeout},
	}
}

func (a *anthropicLLM) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model":      a.model,
		"max_tokens": maxTokens,
		"system":     system,
		"messages": []map[string]string{
			{"role": "user", "content": user},
		},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, "POST",
		"https://api.anthropic.com/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("completion error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	for _, c := range apiResp.Content {
		if c.Type == "text" {
			return c.Text, nil
		}
	}
	return "", fmt.Errorf("completion returned no text content")
}

// openaiLLM completes through the OpenAI chat completions API.
type openaiLLM struct {
	apiKey string
	model  string
	client *http.Client
}

// NewOpenAILLM creates an OpenAI completion client. An empty model
// selects the default.
func NewOpenAILLM(apiKey, model string) LLM {
	if model == "" {
		model = defaultOpenAIModel
	}
	return &openaiLLM{
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: completionTimeout},
	}
}

func (o *openaiLLM) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model":      o.model,
		"max_tokens": maxTokens,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, "POST",
		"https://api.openai.com/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("completion error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return apiResp.Choices[0].Message.Content, nil
}
