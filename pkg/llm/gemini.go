package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/storyloom/storyloom/pkg/models"
)

// GeminiClient generates stories, character sheets and image prompts via
// the Gemini API with JSON response mode.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini-backed Client.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

// GenerateStory implements Client.
func (g *GeminiClient) GenerateStory(ctx context.Context, req StoryRequest) (*models.StoryDraft, error) {
	var draft models.StoryDraft
	if err := g.generateJSON(ctx, buildStoryPrompt(req), 0.9, &draft); err != nil {
		return nil, err
	}
	return &draft, nil
}

// GenerateCharacterSheet implements Client.
func (g *GeminiClient) GenerateCharacterSheet(ctx context.Context, req CharacterRequest) (*models.CharacterSheet, error) {
	var sheet models.CharacterSheet
	if err := g.generateJSON(ctx, buildCharacterPrompt(req), 0.7, &sheet); err != nil {
		return nil, err
	}
	return &sheet, nil
}

// GenerateImagePrompts implements Client.
func (g *GeminiClient) GenerateImagePrompts(ctx context.Context, req PromptsRequest) (*models.ImagePrompts, error) {
	var prompts models.ImagePrompts
	if err := g.generateJSON(ctx, buildPromptsPrompt(req), 0.5, &prompts); err != nil {
		return nil, err
	}
	return &prompts, nil
}

// RewritePage implements Client.
func (g *GeminiClient) RewritePage(ctx context.Context, req RewriteRequest) (string, error) {
	text, err := g.generateText(ctx, buildRewritePrompt(req), 0.7)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// ClassifyContent implements Client.
func (g *GeminiClient) ClassifyContent(ctx context.Context, text string) (*models.ModerationResult, error) {
	var verdict models.ModerationResult
	if err := g.generateJSON(ctx, buildClassifyPrompt(text), 0.0, &verdict); err != nil {
		return nil, err
	}
	return &verdict, nil
}

func (g *GeminiClient) generateJSON(ctx context.Context, prompt string, temperature float32, out any) error {
	raw, err := g.generate(ctx, prompt, temperature, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(repairJSON(raw)), out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return nil
}

func (g *GeminiClient) generateText(ctx context.Context, prompt string, temperature float32) (string, error) {
	return g.generate(ctx, prompt, temperature, "")
}

func (g *GeminiClient) generate(ctx context.Context, prompt string, temperature float32, mimeType string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(temperature),
	}
	if mimeType != "" {
		cfg.ResponseMIMEType = mimeType
	}

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}
	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}
	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned empty response")
	}
	return text, nil
}

// repairJSON strips markdown code fences the model sometimes wraps JSON
// in despite the response MIME type.
func repairJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
