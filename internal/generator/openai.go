package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/xaenox/chatflow/internal/models"
)

type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

func NewOpenAIGenerator(apiKey, model string, maxTokens int, temperature float64, logger *zap.Logger) *OpenAIGenerator {
	return &OpenAIGenerator{
		client:      openai.NewClient(apiKey),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
	}
}

func (g *OpenAIGenerator) GenerateReply(ctx context.Context, tenant *models.Tenant, history []*models.Message, turnText string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: tenant.SystemPrompt,
	})
	for _, msg := range history {
		role := openai.ChatMessageRoleUser
		if msg.Role != models.RoleUser {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: turnText,
	})

	resp, err := g.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:       g.model,
			Messages:    messages,
			MaxTokens:   g.maxTokens,
			Temperature: float32(g.temperature),
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate reply: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

type followupResponse struct {
	Finished bool   `json:"finished"`
	Message  string `json:"message"`
}

func (g *OpenAIGenerator) DecideFollowup(ctx context.Context, tenant *models.Tenant, contextSummary, instruction string) (FollowupDecision, error) {
	prompt := fmt.Sprintf(`You are a customer service specialist. A contact stopped replying.

Recent conversation (may be truncated):
%s

Re-engagement instruction: %s

Decide:
1. If the contact already closed the conversation (thanked, said goodbye, asked to stop, showed irritation), the conversation is finished.
2. Otherwise write a short, natural re-engagement message following the instruction.

Return a JSON object with this structure:
{
    "finished": true_or_false,
    "message": "re-engagement text, empty when finished"
}`, tail(contextSummary, 2000), instruction)

	resp, err := g.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: g.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxTokens:   g.maxTokens,
			Temperature: float32(g.temperature),
		},
	)
	if err != nil {
		return FollowupDecision{}, fmt.Errorf("failed to evaluate followup: %w", err)
	}
	if len(resp.Choices) == 0 {
		return FollowupDecision{}, fmt.Errorf("empty completion response")
	}

	var parsed followupResponse
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		g.logger.Error("Failed to parse followup response",
			zap.Error(err),
			zap.String("response", content))
		// Unparseable judgment: skip this cycle rather than nudge blindly.
		return FollowupDecision{}, nil
	}

	if parsed.Finished {
		return FollowupDecision{Finished: true}, nil
	}
	if parsed.Message == "" {
		return FollowupDecision{}, nil
	}
	return FollowupDecision{Send: true, Text: parsed.Message}, nil
}

func tail(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
