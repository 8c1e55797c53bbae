package services

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/omnicomni/storyreel/internal/storyboard"
)

// OpenAIText backs storyboard generation with the OpenAI chat API.
type OpenAIText struct {
	client      *openai.Client
	model       string
	temperature float32
}

var _ storyboard.TextGenerator = (*OpenAIText)(nil)

// NewOpenAIText creates a text client. model must be a chat-capable model id.
func NewOpenAIText(apiKey, model string, temperature float64) *OpenAIText {
	return &OpenAIText{
		client:      openai.NewClient(apiKey),
		model:       model,
		temperature: float32(temperature),
	}
}

// Complete sends a system+user prompt pair and returns the raw completion.
func (s *OpenAIText) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userPrompt,
			},
		},
		Temperature: s.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}
	return resp.Choices[0].Message.Content, nil
}
