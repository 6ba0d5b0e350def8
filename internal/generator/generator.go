// Package generator is the reply-generation collaborator: the only part
// of the pipeline that talks to a language model. The core calls it
// through the Generator interface and never constructs prompts itself.
package generator

import (
	"context"

	"github.com/xaenox/chatflow/internal/models"
)

// FollowupDecision is the outcome of the follow-up gate: either send
// the generated nudge, or mark the conversation finished because the
// contact already closed it.
type FollowupDecision struct {
	Send     bool
	Finished bool
	Text     string
}

type Generator interface {
	// GenerateReply produces the assistant's answer to a completed turn,
	// given the tenant's system prompt and recent history.
	GenerateReply(ctx context.Context, tenant *models.Tenant, history []*models.Message, turnText string) (string, error)

	// DecideFollowup judges a stale conversation: re-engage with a
	// generated message, or recognize that the contact already ended it.
	DecideFollowup(ctx context.Context, tenant *models.Tenant, contextSummary, instruction string) (FollowupDecision, error)
}
