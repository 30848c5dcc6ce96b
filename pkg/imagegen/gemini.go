package imagegen

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/storyloom/storyloom/pkg/models"
)

// GeminiClient generates illustrations through the Gemini Imagen API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates an Imagen-backed Client.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "imagen-3.0-generate-002"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Generate implements Client.
func (g *GeminiClient) Generate(ctx context.Context, prompt models.ImagePrompt) (*Image, error) {
	cfg := &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		AspectRatio:    prompt.AspectRatio,
	}
	if prompt.NegativePrompt != "" {
		cfg.NegativePrompt = prompt.NegativePrompt
	}
	if prompt.Seed != 0 {
		cfg.Seed = genai.Ptr(int32(prompt.Seed))
	}

	resp, err := g.client.Models.GenerateImages(ctx, g.model, prompt.PositivePrompt, cfg)
	if err != nil {
		return nil, classifyError(err)
	}
	if len(resp.GeneratedImages) == 0 {
		// Imagen silently drops outputs its safety filter rejects.
		return nil, ErrUnsafeImage
	}

	img := resp.GeneratedImages[0].Image
	contentType := img.MIMEType
	if contentType == "" {
		contentType = "image/png"
	}
	return &Image{Data: img.ImageBytes, ContentType: contentType}, nil
}

func classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code == 429 {
		return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
	}
	return fmt.Errorf("image generation failed: %w", err)
}
