package analyzer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider implements Provider with the Google Gen AI SDK. The schema is
// passed as a native response schema so the model emits constrained JSON.
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider creates a Gemini API client. endpoint overrides the base
// URL (used with proxies and in tests).
func NewGeminiProvider(ctx context.Context, apiKey, endpoint string, httpClient *http.Client) (*GeminiProvider, error) {
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: endpoint}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

func (p *GeminiProvider) Generate(ctx context.Context, req Request) (string, error) {
	temperature := float32(req.Temperature)
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		},
		Temperature:      &temperature,
		MaxOutputTokens:  int32(req.MaxTokens),
		ResponseMIMEType: "application/json",
	}
	if req.Schema != nil {
		config.ResponseSchema = toGenaiSchema(req.Schema)
	}

	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: req.Prompt}},
	}}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return "", geminiError(err)
	}
	if len(resp.Candidates) == 0 {
		reason := "unknown"
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			reason = string(resp.PromptFeedback.BlockReason)
		}
		return "", fmt.Errorf("empty response from gemini (block reason: %s)", reason)
	}

	// A candidate with no text (or text cut at MAX_TOKENS) is returned as-is;
	// the decoder decides what is recoverable.
	var sb strings.Builder
	if c := resp.Candidates[0].Content; c != nil {
		for _, part := range c.Parts {
			if part != nil && !part.Thought {
				sb.WriteString(part.Text)
			}
		}
	}
	return sb.String(), nil
}

func geminiError(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("gemini: %w", err)
	}
	return fmt.Errorf("gemini API error %d: %s: %w", apiErr.Code, truncateAPIError([]byte(apiErr.Message)), err)
}

// toGenaiSchema converts a JSON Schema map (as in AnalysisSchema) to the
// SDK's schema type.
func toGenaiSchema(m map[string]interface{}) *genai.Schema {
	s := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		s.Type = genaiType(t)
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if p, ok := m["pattern"].(string); ok {
		s.Pattern = p
	}
	if v, ok := toFloat(m["minimum"]); ok {
		s.Minimum = &v
	}
	if v, ok := toFloat(m["maximum"]); ok {
		s.Maximum = &v
	}
	s.Enum = toStrings(m["enum"])
	s.Required = toStrings(m["required"])

	if props, ok := m["properties"].(map[string]interface{}); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if pm, ok := raw.(map[string]interface{}); ok {
				s.Properties[name] = toGenaiSchema(pm)
			}
		}
	}
	if items, ok := m["items"].(map[string]interface{}); ok {
		s.Items = toGenaiSchema(items)
	}
	return s
}

func genaiType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toStrings(v interface{}) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, x := range vals {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
