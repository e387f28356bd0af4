package collab

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIAPI is the subset of the OpenAI client the model collaborator uses.
// Defined as an interface so tests can substitute a scripted client.
type OpenAIAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIModel is a ModelClient backed by the OpenAI chat completion API.
type OpenAIModel struct {
	client       OpenAIAPI
	defaultModel string
}

// NewOpenAIModel creates an OpenAI-backed model client.
func NewOpenAIModel(apiKey string) *OpenAIModel {
	return &OpenAIModel{
		client:       openai.NewClient(apiKey),
		defaultModel: openai.GPT4oMini,
	}
}

// NewOpenAIModelWithClient creates an OpenAI-backed model client with a
// custom API client (used by tests).
func NewOpenAIModelWithClient(client OpenAIAPI, defaultModel string) *OpenAIModel {
	if defaultModel == "" {
		defaultModel = openai.GPT4oMini
	}
	return &OpenAIModel{client: client, defaultModel: defaultModel}
}

// Complete invokes the chat completion endpoint and maps the response onto
// the collaborator contract.
func (m *OpenAIModel) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	model := req.Model
	if model == "" {
		model = m.defaultModel
	}

	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai completion: empty response for model %s", model)
	}

	return &Completion{
		Content:  resp.Choices[0].Message.Content,
		Provider: "openai",
		Model:    model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}
