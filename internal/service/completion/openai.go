package completion

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"ai-voice-relay-service/internal/models"
)

const (
	toolEndCall      = "end_call"
	toolTransferCall = "transfer_call"
)

var tools = []openai.Tool{
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        toolEndCall,
			Description: "End the phone call once the caller says goodbye or the conversation is complete.",
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"reason": {Type: jsonschema.String, Description: "Why the call is ending."},
				},
			},
		},
	},
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        toolTransferCall,
			Description: "Transfer the caller to a human agent when asked or when the request cannot be handled.",
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"reason": {Type: jsonschema.String, Description: "Why the call is being transferred."},
				},
			},
		},
	},
}

// OpenAIBackend calls any OpenAI-compatible chat completions endpoint.
type OpenAIBackend struct {
	client *openai.Client
}

// NewOpenAIBackend creates a backend. An empty baseURL uses the public API.
func NewOpenAIBackend(apiKey, baseURL string) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIBackend{client: openai.NewClientWithConfig(cfg)}
}

// Complete implements Backend.
func (b *OpenAIBackend) Complete(ctx context.Context, p Prompt) (Reply, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(p.Messages)+1)
	if p.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: p.SystemPrompt})
	}
	for _, m := range p.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Text})
	}

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.Model,
		Messages:    msgs,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		Tools:       tools,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, errors.New("chat completion returned no choices")
	}

	msg := resp.Choices[0].Message
	reply := Reply{Text: msg.Content}
	for _, call := range msg.ToolCalls {
		switch call.Function.Name {
		case toolEndCall:
			reply.EndCall = true
		case toolTransferCall:
			reply.Transfer = true
		}
	}
	return reply, nil
}
