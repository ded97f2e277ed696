package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"deepscout/internal/logging"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiClient is a thin wrapper around the official genai client that
// requests JSON output and carries the response schema in the prompt.
// Schema conformance is validated locally: non-JSON output is rejected so
// callers can apply their retry-then-degrade policy.
type GeminiClient struct {
	cli   *genai.Client
	model string
}

// NewGemini constructs a Gemini-backed structured generation client.
func NewGemini(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiClient{cli: cli, model: model}, nil
}

// GenerateStructured implements Client.
func (g *GeminiClient) GenerateStructured(ctx context.Context, req Request) (Response, error) {
	log := logging.For(logging.CategoryLLM)

	prompt := req.Prompt
	if len(req.Schema) > 0 {
		schemaJSON, err := json.Marshal(req.Schema)
		if err != nil {
			return Response{}, fmt.Errorf("gemini: marshal schema: %w", err)
		}
		prompt = fmt.Sprintf("%s\n\nRespond with a single JSON object conforming to this JSON schema. Output only the JSON object, no prose and no code fences.\n%s", req.Prompt, schemaJSON)
	}

	cfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}

	log.Debug("generate_structured", zap.String("model", g.model), zap.Int("prompt_bytes", len(prompt)))

	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}},
		cfg,
	)
	if err != nil {
		return Response{}, fmt.Errorf("gemini: generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return Response{}, ErrEmptyResponse
	}

	text := strings.TrimSpace(resp.Candidates[0].Content.Parts[0].Text)
	text = stripCodeFences(text)
	if !json.Valid([]byte(text)) {
		return Response{}, fmt.Errorf("gemini: %w: output is not valid JSON", ErrEmptyResponse)
	}

	out := Response{Raw: json.RawMessage(text)}
	if resp.UsageMetadata != nil {
		out.Tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return out, nil
}

// stripCodeFences removes a markdown code fence wrapper some models emit
// even when asked for bare JSON.
func stripCodeFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
