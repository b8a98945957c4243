package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const refinePrompt = `You are a search refinement expert. The user will provide a search query, and you will correct any typos or suggest a better search query based on the user's intent. If the search query is good, return it unchanged. Do not respond in the form of a conversation.

Search query: %s`

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GenAIRefiner asks a Gemini model to fix the query.
type GenAIRefiner struct {
	models contentGenerator
	model  string
}

func NewGenAIRefiner(ctx context.Context, apiKey, model string) (*GenAIRefiner, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIRefiner{models: client.Models, model: model}, nil
}

type refineOutput struct {
	RefinedQuery string `json:"refinedQuery"`
}

func (r *GenAIRefiner) Refine(ctx context.Context, query string) (string, error) {
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"refinedQuery": {Type: genai.TypeString, Description: "The refined search query."},
			},
			Required: []string{"refinedQuery"},
		},
	}
	contents := []*genai.Content{
		genai.NewContentFromText(fmt.Sprintf(refinePrompt, query), genai.RoleUser),
	}

	resp, err := r.models.GenerateContent(ctx, r.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("refine query: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return query, nil
	}

	var out refineOutput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return "", fmt.Errorf("decode refined query: %w", err)
	}
	if strings.TrimSpace(out.RefinedQuery) == "" {
		return query, nil
	}
	return strings.TrimSpace(out.RefinedQuery), nil
}
