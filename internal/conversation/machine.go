// Package conversation holds the authoritative per-conversation state,
// derived as a pure left-fold over the event log.
package conversation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xaenox/chatflow/internal/models"
	"github.com/xaenox/chatflow/internal/storage"
	"github.com/xaenox/chatflow/internal/syncutil"
)

// contextSummaryLimit bounds the inbound-text tail kept on the state row
// for the follow-up gate.
const contextSummaryLimit = 2000

// Machine is the single writer of ConversationState. Apply serializes
// per (tenant, conversation) key; different conversations proceed in
// parallel.
type Machine struct {
	store  storage.Store
	keys   *syncutil.KeyMutex
	logger *zap.Logger
}

func NewMachine(store storage.Store, logger *zap.Logger) *Machine {
	return &Machine{
		store:  store,
		keys:   syncutil.NewKeyMutex(),
		logger: logger,
	}
}

// Apply folds one event into the conversation's stored state and
// returns the new state. The fold derives everything from old state
// plus event — no counter is incremented in place — so applying the
// same logical event twice yields the same state as once.
func (m *Machine) Apply(ctx context.Context, event *models.ConversationEvent) (*models.ConversationState, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	key := event.TenantID + "|" + event.ConversationID
	m.keys.Lock(key)
	defer m.keys.Unlock(key)

	state, err := m.store.GetConversationState(ctx, event.TenantID, event.ConversationID)
	if errors.Is(err, storage.ErrNotFound) {
		state = models.NewConversationState(event.TenantID, event.ConversationID)
	} else if err != nil {
		return nil, fmt.Errorf("failed to load conversation state: %w", err)
	}

	next := Reduce(state, event)
	if err := m.store.PutConversationState(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to store conversation state: %w", err)
	}

	m.logger.Debug("Conversation state updated",
		zap.String("tenant_id", event.TenantID),
		zap.String("conversation_id", event.ConversationID),
		zap.String("event_type", string(event.Type)),
		zap.String("status", string(next.Status)),
		zap.Int("funnel_stage", next.FunnelStage))
	return next, nil
}

// Replay folds the conversation's full event history from the initial
// state. For any conversation the result must equal the stored state;
// anything else means an event bypassed Apply.
func (m *Machine) Replay(ctx context.Context, tenantID, conversationID string) (*models.ConversationState, error) {
	events, err := m.store.GetConversationEvents(ctx, tenantID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	state := models.NewConversationState(tenantID, conversationID)
	for _, event := range events {
		state = Reduce(state, event)
	}
	return state, nil
}

// Reduce computes the successor state for one event. It is pure: no
// clock reads, no stores, no mutation of the input.
func Reduce(state *models.ConversationState, event *models.ConversationEvent) *models.ConversationState {
	next := *state

	switch event.Type {
	case models.EventMsgReceived:
		// A new inbound message reopens a finished conversation; the
		// funnel stage persists across closure.
		next.Status = models.StatusActive
		next.LastRole = models.RoleUser
		next.LastMessageAt = event.CreatedAt
		if text := event.PayloadString("text"); text != "" {
			next.ContextSummary = appendBounded(state.ContextSummary, text)
		}

	case models.EventAIResponded:
		next.LastRole = models.RoleAssistant
		next.LastMessageAt = event.CreatedAt

	case models.EventHumanTakeover, models.EventHumanResponded:
		next.LastRole = models.RoleHuman
		next.LastMessageAt = event.CreatedAt

	case models.EventFollowupSent:
		next.LastRole = models.RoleAssistant
		next.LastMessageAt = event.CreatedAt
		// The scheduler stamps the stage it advanced to into the event,
		// so the fold assigns rather than increments: a duplicate of
		// the same event cannot double-advance the funnel.
		if stage, ok := event.PayloadInt("stage"); ok {
			next.FunnelStage = clampStage(int(stage))
		}

	case models.EventResolved:
		next.Status = models.StatusFinished
		next.FunnelStage = models.FunnelStageMax
		next.LastMessageAt = event.CreatedAt

	case models.EventToolUsed:
		// Tool invocations do not move the conversation.
	}

	return &next
}

func clampStage(stage int) int {
	if stage < 0 {
		return 0
	}
	if stage > models.FunnelStageMax {
		return models.FunnelStageMax
	}
	return stage
}

func appendBounded(summary, text string) string {
	if summary == "" {
		summary = text
	} else {
		summary = summary + "\n" + text
	}
	runes := []rune(summary)
	if len(runes) > contextSummaryLimit {
		runes = runes[len(runes)-contextSummaryLimit:]
	}
	return string(runes)
}
