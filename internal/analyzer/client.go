package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Request is one structured-generation call.
type Request struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	Schema      map[string]interface{} // nil = plain JSON mode
}

// Provider is the interface for LLM analysis backends. Generate returns the
// raw response text; decoding is the caller's job.
type Provider interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// NewProvider creates a Provider from configuration.
// timeoutSec overrides the default HTTP timeout; 0 uses per-provider defaults.
func NewProvider(provider, apiKey, endpoint string, timeoutSec int) (Provider, error) {
	timeout := 120 * time.Second
	if provider == "ollama" {
		timeout = 300 * time.Second
	}
	if timeoutSec > 0 {
		timeout = time.Duration(timeoutSec) * time.Second
	}
	client := &http.Client{Timeout: timeout}

	switch provider {
	case "gemini":
		return NewGeminiProvider(context.Background(), apiKey, endpoint, client)
	case "anthropic":
		ep := "https://api.anthropic.com/v1"
		if endpoint != "" {
			ep = endpoint
		}
		return &AnthropicProvider{apiKey: apiKey, endpoint: ep, client: client}, nil
	case "openai":
		ep := "https://api.openai.com/v1"
		if endpoint != "" {
			ep = endpoint
		}
		return &OpenAIProvider{apiKey: apiKey, endpoint: ep, client: client}, nil
	case "ollama":
		ep := "http://localhost:11434"
		if endpoint != "" {
			ep = endpoint
		}
		return &OllamaProvider{endpoint: ep, client: client}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %q", provider)
	}
}

// --- Anthropic Provider ---

// AnthropicProvider implements Provider for Claude. A schema is enforced
// through a forced tool_use call.
type AnthropicProvider struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func (p *AnthropicProvider) Generate(ctx context.Context, req Request) (string, error) {
	body := map[string]interface{}{
		"model":       req.Model,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
		"system":      req.System,
		"messages": []map[string]interface{}{
			{"role": "user", "content": req.Prompt},
		},
	}

	if req.Schema != nil {
		body["tools"] = []map[string]interface{}{
			{
				"name":         "record_analysis",
				"description":  "Record the threat analysis result as structured JSON",
				"input_schema": req.Schema,
			},
		}
		body["tool_choice"] = map[string]string{"type": "tool", "name": "record_analysis"}
	}

	respBody, err := postJSON(ctx, p.client, p.endpoint+"/messages", body, map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": "2023-06-01",
	}, "anthropic")
	if err != nil {
		return "", err
	}

	var result struct {
		Content []struct {
			Type  string          `json:"type"`
			Text  string          `json:"text"`
			Input json.RawMessage `json:"input"`
		} `json:"content"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(result.Content) == 0 {
		return "", fmt.Errorf("empty response from anthropic")
	}

	// Prefer tool_use block (structured output) over text block.
	for _, block := range result.Content {
		if block.Type == "tool_use" && len(block.Input) > 0 {
			return string(block.Input), nil
		}
	}
	for _, block := range result.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}

	return "", fmt.Errorf("no usable content block in anthropic response")
}

// --- OpenAI Provider ---

// OpenAIProvider implements Provider for OpenAI and compatible APIs.
type OpenAIProvider struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (string, error) {
	body := map[string]interface{}{
		"model": req.Model,
		"messages": []map[string]string{
			{"role": "system", "content": req.System},
			{"role": "user", "content": req.Prompt},
		},
		"temperature": req.Temperature,
		"max_tokens":  req.MaxTokens,
	}
	if req.Schema != nil {
		body["response_format"] = map[string]interface{}{
			"type": "json_schema",
			"json_schema": map[string]interface{}{
				"name":   "threat_analysis",
				"schema": req.Schema,
			},
		}
	} else {
		body["response_format"] = map[string]string{"type": "json_object"}
	}

	respBody, err := postJSON(ctx, p.client, p.endpoint+"/chat/completions", body, map[string]string{
		"Authorization": "Bearer " + p.apiKey,
	}, "openai")
	if err != nil {
		return "", err
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("empty response from openai")
	}

	return result.Choices[0].Message.Content, nil
}

// --- Ollama Provider ---

// OllamaProvider implements Provider for a local Ollama server.
type OllamaProvider struct {
	endpoint string
	client   *http.Client
}

func (p *OllamaProvider) Generate(ctx context.Context, req Request) (string, error) {
	var format interface{} = "json"
	if req.Schema != nil {
		format = req.Schema
	}

	body := map[string]interface{}{
		"model": req.Model,
		"messages": []map[string]string{
			{"role": "system", "content": req.System},
			{"role": "user", "content": req.Prompt},
		},
		"stream": false,
		"format": format,
		"options": map[string]interface{}{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}

	respBody, err := postJSON(ctx, p.client, p.endpoint+"/api/chat", body, nil, "ollama")
	if err != nil {
		return "", err
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}

	return result.Message.Content, nil
}

// postJSON sends body as JSON and returns the response body of a 200 reply.
func postJSON(ctx context.Context, client *http.Client, url string, body interface{}, headers map[string]string, name string) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s API error %d: %s", name, resp.StatusCode, truncateAPIError(respBody))
	}
	return respBody, nil
}

// truncateAPIError limits API error response bodies to prevent sensitive information leakage.
// Returns at most 512 bytes of the response for diagnostic purposes.
func truncateAPIError(body []byte) string {
	const maxLen = 512
	if len(body) <= maxLen {
		return string(body)
	}
	return string(body[:maxLen]) + "... (truncated)"
}
