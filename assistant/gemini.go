package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"hsi-cores/utils"

	"google.golang.org/genai"
)

var ErrMissingAPIKey = errors.New("assistant: GEMINI_API_KEY environment variable is required")

const systemPrompt = `You are a core-logging assistant for a hyperspectral core scanning lab.
You help geologists with:
- Interpreting mineral classifications from SWIR and VNIR reflectance spectra
- Reading spectral indices (Al-OH, Fe-OH, Mg-OH, carbonate, iron oxide)
- Relating mineral assemblages to alteration zones and ore systems
- Judging whether a result is reliable given its confidence

Be technical and concise. Say when the evidence is weak.
Keep responses under 200 words unless more detail is specifically requested.`

// Generator produces text for a prompt.
type Generator interface {
	GenerateResponse(ctx context.Context, message string) (string, error)
}

type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient reads GEMINI_API_KEY and GEMINI_MODEL from the environment.
func NewGeminiClient(ctx context.Context) (*GeminiClient, error) {
	apiKey := utils.GetEnv("GEMINI_API_KEY", "")
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client: client,
		model:  utils.GetEnv("GEMINI_MODEL", "gemini-2.5-flash"),
	}, nil
}

func generationConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleModel),
		Temperature:       genai.Ptr(float32(0.4)),
		TopP:              genai.Ptr(float32(0.8)),
		TopK:              genai.Ptr(float32(40)),
		MaxOutputTokens:   int32(400),
	}
}

func (g *GeminiClient) GenerateResponse(ctx context.Context, message string) (string, error) {
	userContent := genai.NewContentFromText(message, genai.RoleUser)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, []*genai.Content{userContent}, generationConfig())
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "No interpretation could be generated for this result.", nil
	}
	return cleanText(text), nil
}

// GenerateResponseStream calls onChunk with each piece of the response.
func (g *GeminiClient) GenerateResponseStream(ctx context.Context, message string, onChunk func(string) error) error {
	userContent := genai.NewContentFromText(message, genai.RoleUser)

	stream := g.client.Models.GenerateContentStream(ctx, g.model, []*genai.Content{userContent}, generationConfig())
	for resp, err := range stream {
		if err != nil {
			return fmt.Errorf("stream error: %w", err)
		}
		text := resp.Text()
		if text == "" {
			continue
		}
		if err := onChunk(cleanText(text)); err != nil {
			return fmt.Errorf("chunk callback error: %w", err)
		}
	}
	return nil
}

func (g *GeminiClient) Close() error {
	return nil
}

// cleanText strips markdown emphasis.
func cleanText(text string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, "*", ""))
}
