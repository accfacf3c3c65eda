package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Provider names accepted in provider:model strings.
const (
	ProviderVoyage = "voyage"
	ProviderJina   = "jina"
	ProviderGoogle = "google"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"
)

// Known model dimensions per provider. Unknown models fall back to the
// provider default.
var modelDims = map[string]int{
	"voyage:voyage-code-3":              1024,
	"voyage:voyage-3.5":                 1024,
	"voyage:voyage-3.5-lite":            512,
	"jina:jina-embeddings-v3":           1024,
	"jina:jina-embeddings-v2-base-code": 768,
	"google:text-embedding-004":         768,
	"openai:text-embedding-3-small":     1536,
	"openai:text-embedding-3-large":     3072,
}

var providerDefaultDim = map[string]int{
	ProviderVoyage: 1024,
	ProviderJina:   1024,
	ProviderGoogle: 768,
	ProviderOpenAI: 1536,
	ProviderLocal:  LocalDimension,
}

// httpProvider is the shared HTTP embedding client. Per-provider
// request/response shaping is parameterized through function fields,
// the same pattern the language adapters use.
type httpProvider struct {
	provider  string
	model     string
	apiKey    string
	dim       int
	maxTokens int
	client    *http.Client

	buildRequest func(p *httpProvider, texts []string, input InputType) (*http.Request, error)
	parseVectors func(body io.Reader) ([][]float32, error)
}

func (p *httpProvider) Embed(ctx context.Context, texts []string, input InputType) ([][]float32, error) {
	if err := validateBatch(texts); err != nil {
		return nil, err
	}
	config := DefaultRetryConfig()
	vectors, err := retryWithBackoff(ctx, config, func() ([][]float32, error) {
		return p.call(ctx, texts, input)
	})
	if err != nil {
		return nil, fmt.Errorf("%w after %d attempts: %v", ErrProviderFailed, MaxRetries, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrProviderFailed, len(vectors), len(texts))
	}
	for i := range vectors {
		vectors[i] = normalize(vectors[i])
	}
	return vectors, nil
}

func (p *httpProvider) call(ctx context.Context, texts []string, input InputType) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	req, err := p.buildRequest(p, texts, input)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req = req.WithContext(reqCtx)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("api error %d: %s", resp.StatusCode, string(bodyBytes))
	}
	return p.parseVectors(resp.Body)
}

func (p *httpProvider) Dim() int                 { return p.dim }
func (p *httpProvider) ModelID() string          { return p.provider + ":" + p.model }
func (p *httpProvider) MaxTokensPerRequest() int { return p.maxTokens }
func (p *httpProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: RequestTimeout}
}

// openAIStyleVectors parses the {"data":[{"embedding":[...]}]} shape
// Voyage, Jina and OpenAI share.
func openAIStyleVectors(body io.Reader) ([][]float32, error) {
	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	vectors := make([][]float32, len(apiResp.Data))
	for _, d := range apiResp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func jsonBody(v any) (io.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}

// newVoyageProvider builds a Voyage AI client. Voyage models take a
// native input_type marker for documents vs. queries.
func newVoyageProvider(model, apiKey string) Provider {
	return &httpProvider{
		provider:  ProviderVoyage,
		model:     model,
		apiKey:    apiKey,
		dim:       dimFor(ProviderVoyage, model),
		maxTokens: 120000,
		client:    newHTTPClient(),
		buildRequest: func(p *httpProvider, texts []string, input InputType) (*http.Request, error) {
			body, err := jsonBody(map[string]any{
				"input":      texts,
				"model":      p.model,
				"input_type": string(input),
			})
			if err != nil {
				return nil, err
			}
			req, err := http.NewRequest("POST", "https://api.voyageai.com/v1/embeddings", body)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", "Bearer "+p.apiKey)
			return req, nil
		},
		parseVectors: openAIStyleVectors,
	}
}

// newJinaProvider builds a Jina AI client. Jina v3 models distinguish
// passages from queries through the task field.
func newJinaProvider(model, apiKey string) Provider {
	return &httpProvider{
		provider:  ProviderJina,
		model:     model,
		apiKey:    apiKey,
		dim:       dimFor(ProviderJina, model),
		maxTokens: 100000,
		client:    newHTTPClient(),
		buildRequest: func(p *httpProvider, texts []string, input InputType) (*http.Request, error) {
			task := "retrieval.passage"
			if input == InputQuery {
				task = "retrieval.query"
			}
			body, err := jsonBody(map[string]any{
				"input": texts,
				"model": p.model,
				"task":  task,
			})
			if err != nil {
				return nil, err
			}
			req, err := http.NewRequest("POST", "https://api.jina.ai/v1/embeddings", body)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", "Bearer "+p.apiKey)
			return req, nil
		},
		parseVectors: openAIStyleVectors,
	}
}

// newOpenAIProvider builds an OpenAI client. The embeddings endpoint
// has no input-type marker.
func newOpenAIProvider(model, apiKey string) Provider {
	return &httpProvider{
		provider:  ProviderOpenAI,
		model:     model,
		apiKey:    apiKey,
		dim:       dimFor(ProviderOpenAI, model),
		maxTokens: 100000,
		client:    newHTTPClient(),
		buildRequest: func(p *httpProvider, texts []string, _ InputType) (*http.Request, error) {
			body, err := jsonBody(map[string]any{
				"input": texts,
				"model": p.model,
			})
			if err != nil {
				return nil, err
			}
			req, err := http.NewRequest("POST", "https://api.openai.com/v1/embeddings", body)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", "Bearer "+p.apiKey)
			return req, nil
		},
		parseVectors: openAIStyleVectors,
	}
}

// newGoogleProvider builds a Gemini embedContents client. Google tags
// inputs through taskType.
func newGoogleProvider(model, apiKey string) Provider {
	return &httpProvider{
		provider:  ProviderGoogle,
		model:     model,
		apiKey:    apiKey,
		dim:       dimFor(ProviderGoogle, model),
		maxTokens: 100000,
		client:    newHTTPClient(),
		buildRequest: func(p *httpProvider, texts []string, input InputType) (*http.Request, error) {
			taskType := "RETRIEVAL_DOCUMENT"
			if input == InputQuery {
				taskType = "RETRIEVAL_QUERY"
			}
			type part struct {
				Text string `json:"text"`
			}
			type content struct {
				Parts []part `json:"parts"`
			}
			type embedReq struct {
				Model    string  `json:"model"`
				Content  content `json:"content"`
				TaskType string  `json:"taskType"`
			}
			requests := make([]embedReq, len(texts))
			for i, t := range texts {
				requests[i] = embedReq{
					Model:    "models/" + p.model,
					Content:  content{Parts: []part{{Text: t}}},
					TaskType: taskType,
				}
			}
			body, err := jsonBody(map[string]any{"requests": requests})
			if err != nil {
				return nil, err
			}
			url := fmt.Sprintf(
				"https://generativelanguage.googleapis.com/v1beta/models/%s:batchEmbedContents?key=%s",
				p.model, p.apiKey)
			return http.NewRequest("POST", url, body)
		},
		parseVectors: func(body io.Reader) ([][]float32, error) {
			var apiResp struct {
				Embeddings []struct {
					Values []float32 `json:"values"`
				} `json:"embeddings"`
			}
			if err := json.NewDecoder(body).Decode(&apiResp); err != nil {
				return nil, fmt.Errorf("decode response: %w", err)
			}
			vectors := make([][]float32, len(apiResp.Embeddings))
			for i, e := range apiResp.Embeddings {
				vectors[i] = e.Values
			}
			return vectors, nil
		},
	}
}

func dimFor(provider, model string) int {
	if d, ok := modelDims[provider+":"+model]; ok {
		return d
	}
	return providerDefaultDim[provider]
}
