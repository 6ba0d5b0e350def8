// Package pipeline is the hot path: inbound fragments flow through the
// debounce buffer into the state machine and the event log, completed
// turns flow out through reply generation and the channel sender.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/chatflow/internal/buffer"
	"github.com/xaenox/chatflow/internal/conversation"
	"github.com/xaenox/chatflow/internal/generator"
	"github.com/xaenox/chatflow/internal/models"
	"github.com/xaenox/chatflow/internal/registry"
	"github.com/xaenox/chatflow/internal/sender"
	"github.com/xaenox/chatflow/internal/storage"
)

const defaultHistoryLimit = 20

type Pipeline struct {
	store     storage.Store
	machine   *conversation.Machine
	registry  *registry.Registry
	generator generator.Generator
	sender    sender.Sender
	debouncer *buffer.Debouncer
	logger    *zap.Logger

	historyLimit int
}

func New(
	store storage.Store,
	machine *conversation.Machine,
	reg *registry.Registry,
	gen generator.Generator,
	snd sender.Sender,
	fragments buffer.FragmentStore,
	quietPeriod time.Duration,
	logger *zap.Logger,
) *Pipeline {
	p := &Pipeline{
		store:        store,
		machine:      machine,
		registry:     reg,
		generator:    gen,
		sender:       snd,
		logger:       logger,
		historyLimit: defaultHistoryLimit,
	}
	p.debouncer = buffer.NewDebouncer(fragments, quietPeriod, p.handleTurn, logger)
	return p
}

// Debouncer exposes the buffer for external drain triggers.
func (p *Pipeline) Debouncer() *buffer.Debouncer {
	return p.debouncer
}

// HandleInbound is the uniform entry point the transport layer calls
// after decoding a provider webhook. The event append happens before
// anything else permanent: if the log cannot record the message, the
// request aborts rather than leaving state ahead of the log.
func (p *Pipeline) HandleInbound(ctx context.Context, tenantID, conversationID string, role models.Role, text, mediaRef string, ts time.Time) error {
	if _, err := p.registry.GetTenant(ctx, tenantID); err != nil {
		return err
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	eventType := models.EventMsgReceived
	if role == models.RoleHuman {
		eventType = models.EventHumanResponded
	}

	event := &models.ConversationEvent{
		TenantID:       tenantID,
		ConversationID: conversationID,
		Type:           eventType,
		Payload:        map[string]any{"text": text},
		CreatedAt:      ts,
	}
	if mediaRef != "" {
		event.Payload["media_ref"] = mediaRef
	}
	if err := p.store.AppendEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to append %s event: %w", eventType, err)
	}

	if _, err := p.machine.Apply(ctx, event); err != nil {
		return err
	}

	msg := &models.Message{
		TenantID:       tenantID,
		ConversationID: conversationID,
		Role:           role,
		Content:        text,
		MediaRef:       mediaRef,
		CreatedAt:      ts,
	}
	if err := p.store.SaveMessage(ctx, msg); err != nil {
		p.logger.Error("Failed to save inbound message",
			zap.Error(err),
			zap.String("tenant_id", tenantID),
			zap.String("conversation_id", conversationID))
	}

	if role == models.RoleUser {
		return p.debouncer.Submit(ctx, tenantID, conversationID, text, ts)
	}
	return nil
}

// HandleOutbound records the assistant's turn: message row, an
// ai_responded event carrying the response time, and the state fold.
func (p *Pipeline) HandleOutbound(ctx context.Context, tenantID, conversationID, text string, ts time.Time) error {
	if ts.IsZero() {
		ts = time.Now()
	}

	var responseTime int64
	state, err := p.store.GetConversationState(ctx, tenantID, conversationID)
	if err == nil && state.LastRole == models.RoleUser && !state.LastMessageAt.IsZero() {
		responseTime = ts.Sub(state.LastMessageAt).Milliseconds()
		if responseTime < 0 {
			responseTime = 0
		}
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to load conversation state: %w", err)
	}

	event := &models.ConversationEvent{
		TenantID:       tenantID,
		ConversationID: conversationID,
		Type:           models.EventAIResponded,
		Payload:        map[string]any{"response_time_ms": responseTime},
		CreatedAt:      ts,
	}
	if err := p.store.AppendEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to append ai_responded event: %w", err)
	}

	if _, err := p.machine.Apply(ctx, event); err != nil {
		return err
	}

	msg := &models.Message{
		TenantID:       tenantID,
		ConversationID: conversationID,
		Role:           models.RoleAssistant,
		Content:        text,
		CreatedAt:      ts,
	}
	if err := p.store.SaveMessage(ctx, msg); err != nil {
		p.logger.Error("Failed to save outbound message",
			zap.Error(err),
			zap.String("tenant_id", tenantID),
			zap.String("conversation_id", conversationID))
	}
	return nil
}

// HandleTakeover records a human operator taking the conversation over.
func (p *Pipeline) HandleTakeover(ctx context.Context, tenantID, conversationID string, ts time.Time) error {
	return p.recordEvent(ctx, &models.ConversationEvent{
		TenantID:       tenantID,
		ConversationID: conversationID,
		Type:           models.EventHumanTakeover,
		CreatedAt:      ts,
	})
}

// HandleResolved closes the conversation. resolvedBy is "ai" or
// "human"; the funnel stage pins to its terminal value.
func (p *Pipeline) HandleResolved(ctx context.Context, tenantID, conversationID, resolvedBy string, ts time.Time) error {
	return p.recordEvent(ctx, &models.ConversationEvent{
		TenantID:       tenantID,
		ConversationID: conversationID,
		Type:           models.EventResolved,
		Payload:        map[string]any{"resolved_by": resolvedBy},
		CreatedAt:      ts,
	})
}

// RecordToolUse logs a tool invocation for per-tool usage metrics.
func (p *Pipeline) RecordToolUse(ctx context.Context, tenantID, conversationID, tool string, costUSD float64, ts time.Time) error {
	payload := map[string]any{"tool": tool}
	if costUSD > 0 {
		payload["cost_usd"] = costUSD
	}
	return p.recordEvent(ctx, &models.ConversationEvent{
		TenantID:       tenantID,
		ConversationID: conversationID,
		Type:           models.EventToolUsed,
		Payload:        payload,
		CreatedAt:      ts,
	})
}

func (p *Pipeline) recordEvent(ctx context.Context, event *models.ConversationEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if err := p.store.AppendEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to append %s event: %w", event.Type, err)
	}
	_, err := p.machine.Apply(ctx, event)
	return err
}

// handleTurn fires when the debouncer decides a turn is complete:
// generate a reply, send it on the tenant's channel, record the
// outbound side.
func (p *Pipeline) handleTurn(ctx context.Context, turn buffer.Turn) {
	logger := p.logger.With(
		zap.String("tenant_id", turn.TenantID),
		zap.String("conversation_id", turn.ConversationID))

	tenant, err := p.registry.GetTenant(ctx, turn.TenantID)
	if err != nil {
		logger.Error("Failed to load tenant for turn", zap.Error(err))
		return
	}

	reply := ""
	if ok, offMessage := tenant.Settings.BusinessHours(time.Now()); !ok {
		if offMessage == "" {
			logger.Debug("Outside business hours, no off message configured")
			return
		}
		reply = offMessage
	} else {
		history, err := p.store.GetMessages(ctx, turn.TenantID, turn.ConversationID, p.historyLimit)
		if err != nil {
			logger.Error("Failed to load history", zap.Error(err))
			return
		}
		reply, err = p.generator.GenerateReply(ctx, tenant, history, turn.Text())
		if err != nil {
			logger.Error("Failed to generate reply", zap.Error(err))
			return
		}
	}

	kind := models.ProviderKind(tenant.Settings.String("provider", string(models.ProviderUazapi)))
	if err := p.sender.SendText(ctx, turn.TenantID, kind, turn.ConversationID, reply); err != nil {
		if errors.Is(err, registry.ErrChannelNotConfigured) {
			logger.Warn("Channel not configured, reply dropped", zap.String("kind", string(kind)))
		} else {
			logger.Error("Failed to send reply", zap.Error(err))
		}
		return
	}

	if err := p.HandleOutbound(ctx, turn.TenantID, turn.ConversationID, reply, time.Now()); err != nil {
		logger.Error("Failed to record outbound turn", zap.Error(err))
	}
}

// Close flushes pending turns and stops the debouncer.
func (p *Pipeline) Close(ctx context.Context) error {
	return p.debouncer.Close(ctx)
}
