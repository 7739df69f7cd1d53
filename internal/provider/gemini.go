package provider

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiComparer asks a Gemini model to compare two face images.
type GeminiComparer struct {
	client *genai.Client
	model  string
}

func NewGeminiComparer(ctx context.Context, apiKey, model string) (*GeminiComparer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiComparer{client: client, model: model}, nil
}

func (p *GeminiComparer) Name() string  { return NameGemini }
func (p *GeminiComparer) Model() string { return p.model }

func (p *GeminiComparer) DetectFace(ctx context.Context, image []byte) error {
	content, err := p.generate(ctx, detectPrompt, image)
	if err != nil {
		return err
	}
	return parseDetection(content)
}

func (p *GeminiComparer) Compare(ctx context.Context, reference, candidate []byte) (*Comparison, error) {
	content, err := p.generate(ctx, comparePrompt, reference, candidate)
	if err != nil {
		return nil, err
	}
	score, err := parseComparison(content)
	if err != nil {
		return nil, err
	}
	return &Comparison{Score: score, Provider: NameGemini, Model: p.model}, nil
}

func (p *GeminiComparer) generate(ctx context.Context, prompt string, images ...[]byte) (string, error) {
	parts := []*genai.Part{{Text: prompt}}
	for _, img := range images {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{Data: img, MIMEType: "image/jpeg"}})
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	temperature := float32(0)
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      &temperature,
	}

	result, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini API error: %w", err)
	}
	content := result.Text()
	if content == "" {
		return "", errors.New("no response from Gemini")
	}
	return content, nil
}
