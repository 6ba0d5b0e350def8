package generator

import (
	"context"
	"strings"

	"github.com/xaenox/chatflow/internal/models"
)

// StaticGenerator is a deterministic stand-in used when no model API
// key is configured (local development, tests). Replies echo a short
// acknowledgement; the follow-up gate applies a few keyword heuristics
// instead of model judgment.
type StaticGenerator struct{}

func NewStaticGenerator() *StaticGenerator {
	return &StaticGenerator{}
}

func (g *StaticGenerator) GenerateReply(ctx context.Context, tenant *models.Tenant, history []*models.Message, turnText string) (string, error) {
	return "Thanks for your message! A member of our team will get back to you shortly.", nil
}

var closingPhrases = []string{"thanks, bye", "goodbye", "no thanks", "stop", "not interested"}

func (g *StaticGenerator) DecideFollowup(ctx context.Context, tenant *models.Tenant, contextSummary, instruction string) (FollowupDecision, error) {
	lowered := strings.ToLower(contextSummary)
	for _, phrase := range closingPhrases {
		if strings.Contains(lowered, phrase) {
			return FollowupDecision{Finished: true}, nil
		}
	}
	return FollowupDecision{Send: true, Text: "Hi! Just checking in — is there anything else I can help you with?"}, nil
}
