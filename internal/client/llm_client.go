package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mealsmith/api/internal/agent"
	"github.com/mealsmith/api/internal/config"
	"github.com/mealsmith/api/internal/model"
)

// RecipeGenerator defines the interface for the remote recipe generation step.
type RecipeGenerator interface {
	GenerateRecipes(ctx context.Context, concepts []model.RecipeConcept) ([]model.GeneratedRecipe, error)
	IsConfigured() bool
}

// LLMClient generates recipes through an OpenAI-compatible chat completions
// endpoint. When no API key is configured it serves deterministic mock
// recipes so the pipeline runs end to end in development.
type LLMClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// ChatMessage represents a message in the chat completion request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest represents the request body for chat completion
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// ChatCompletionResponse represents the response from chat completion
type ChatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// NewLLMClient creates a new recipe generation client
func NewLLMClient(cfg *config.LLMConfig) *LLMClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LLMClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
	}
}

// GenerateRecipes produces one recipe per concept. The concepts of one chunk
// go out as a single prompt; the response must come back as a JSON array
// aligned with the input order.
func (c *LLMClient) GenerateRecipes(ctx context.Context, concepts []model.RecipeConcept) ([]model.GeneratedRecipe, error) {
	if len(concepts) == 0 {
		return nil, nil
	}
	if !c.IsConfigured() {
		return c.generateMock(concepts), nil
	}

	content, err := c.chatCompletion(ctx, systemPrompt, buildRecipePrompt(concepts))
	if err != nil {
		return nil, err
	}

	recipes, err := parseRecipes(content)
	if err != nil {
		return nil, agent.NewFatalError(fmt.Errorf("failed to parse generation response: %w", err))
	}
	if len(recipes) != len(concepts) {
		return nil, agent.NewFatalError(fmt.Errorf("generation returned %d recipes for %d concepts", len(recipes), len(concepts)))
	}
	for i := range recipes {
		recipes[i].ConceptName = concepts[i].Name
	}
	return recipes, nil
}

const systemPrompt = `You are a professional recipe developer and nutritionist.
For each requested concept, create one complete recipe with realistic per-serving nutrition.
Always output your response as valid JSON in the exact format requested.
Do not include any text outside the JSON structure.`

func buildRecipePrompt(concepts []model.RecipeConcept) string {
	var b strings.Builder
	b.WriteString("Create one recipe for each of the following concepts, in order:\n")
	for i, concept := range concepts {
		fmt.Fprintf(&b, "%d. %s: %s %s, target %.0f kcal, %.0fg protein, %.0fg carbs, %.0fg fat\n",
			i+1, concept.Name, concept.Cuisine, concept.MealType,
			concept.Target.Calories, concept.Target.Protein, concept.Target.Carbs, concept.Target.Fat)
	}
	b.WriteString(`
Output as a JSON array, one object per concept, in the same order:
[{"name":"...","description":"...","ingredients":["..."],"instructions":["..."],"nutrition":{"calories":0,"protein":0,"carbs":0,"fat":0}}]`)
	return b.String()
}

func (c *LLMClient) chatCompletion(ctx context.Context, system, user string) (string, error) {
	reqBody := ChatCompletionRequest{
		Model: c.model,
		Messages: []ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.8,
		MaxTokens:   4096,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", agent.NewTransientError(fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", agent.NewTransientError(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("llm API error (status %d): %s", resp.StatusCode, string(respBody))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", agent.NewTransientError(err)
		}
		return "", agent.NewFatalError(err)
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return chatResp.Choices[0].Message.Content, nil
}

// parseRecipes decodes the model output, tolerating a markdown code fence
// around the JSON array.
func parseRecipes(content string) ([]model.GeneratedRecipe, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if idx := strings.LastIndex(content, "```"); idx >= 0 {
			content = content[:idx]
		}
		content = strings.TrimSpace(content)
	}

	var recipes []model.GeneratedRecipe
	if err := json.Unmarshal([]byte(content), &recipes); err != nil {
		return nil, err
	}
	return recipes, nil
}

// generateMock returns recipes that track each concept's targets exactly, so
// development batches pass validation deterministically.
func (c *LLMClient) generateMock(concepts []model.RecipeConcept) []model.GeneratedRecipe {
	recipes := make([]model.GeneratedRecipe, len(concepts))
	for i, concept := range concepts {
		recipes[i] = model.GeneratedRecipe{
			ConceptName: concept.Name,
			Name:        concept.Name,
			Description: concept.Description,
			Ingredients: []string{
				"2 cups base grain",
				"200g lean protein",
				"1 tbsp olive oil",
				"seasonal vegetables",
			},
			Instructions: []string{
				"Prepare the base grain.",
				"Cook the protein with seasoning.",
				"Combine and serve.",
			},
			Nutrition: model.Nutrition{
				Calories: concept.Target.Calories,
				Protein:  concept.Target.Protein,
				Carbs:    concept.Target.Carbs,
				Fat:      concept.Target.Fat,
			},
		}
	}
	return recipes
}

// IsConfigured returns true if the client has valid configuration
func (c *LLMClient) IsConfigured() bool {
	return c.apiKey != ""
}
