package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const defaultOpenAIModel = openai.ChatModelGPT4_1Mini

// OpenAIComparer asks a vision chat model to compare two face images.
type OpenAIComparer struct {
	client *openai.Client
	model  string
}

func NewOpenAIComparer(apiKey, model string, opts ...option.RequestOption) *OpenAIComparer {
	if model == "" {
		model = string(defaultOpenAIModel)
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := openai.NewClient(opts...)
	return &OpenAIComparer{client: &client, model: model}
}

func (p *OpenAIComparer) Name() string  { return NameOpenAI }
func (p *OpenAIComparer) Model() string { return p.model }

func (p *OpenAIComparer) DetectFace(ctx context.Context, image []byte) error {
	content, err := p.complete(ctx, detectPrompt, image)
	if err != nil {
		return err
	}
	return parseDetection(content)
}

func (p *OpenAIComparer) Compare(ctx context.Context, reference, candidate []byte) (*Comparison, error) {
	content, err := p.complete(ctx, comparePrompt, reference, candidate)
	if err != nil {
		return nil, err
	}
	score, err := parseComparison(content)
	if err != nil {
		return nil, err
	}
	return &Comparison{Score: score, Provider: NameOpenAI, Model: p.model}, nil
}

func (p *OpenAIComparer) complete(ctx context.Context, prompt string, images ...[]byte) (string, error) {
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(images))
	for _, img := range images {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img),
			Detail: "high",
		}))
	}

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(prompt),
					},
				},
			},
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfArrayOfContentParts: parts,
					},
				},
			},
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		MaxTokens:   openai.Int(100),
		Temperature: openai.Float(0),
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no response from OpenAI")
	}
	return resp.Choices[0].Message.Content, nil
}
