package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAI generates text with the OpenAI Chat Completions API.
type OpenAI struct {
	client    openai.Client
	model     openai.ChatModel
	maxTokens int64
}

// NewOpenAI creates an OpenAI generator.
func NewOpenAI(cfg Config) *OpenAI {
	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAI{
		client:    openai.NewClient(opts...),
		model:     openai.ChatModel(model),
		maxTokens: int64(cfg.MaxTokens),
	}
}

func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	completion, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxCompletionTokens: openai.Int(o.maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("openai API call: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI")
	}
	return completion.Choices[0].Message.Content, nil
}
