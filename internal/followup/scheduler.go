// Package followup re-engages conversations the contact walked away
// from: the assistant spoke last, the staleness threshold passed, and
// no recent follow-up already went out.
package followup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/chatflow/internal/conversation"
	"github.com/xaenox/chatflow/internal/generator"
	"github.com/xaenox/chatflow/internal/models"
	"github.com/xaenox/chatflow/internal/registry"
	"github.com/xaenox/chatflow/internal/sender"
	"github.com/xaenox/chatflow/internal/storage"
)

const (
	DefaultInterval  = time.Minute
	DefaultStaleness = time.Hour
	// DefaultGuardWindow is the minimum gap between two follow-ups to
	// the same conversation, checked against the latest followup_sent
	// event before anything goes out.
	DefaultGuardWindow = 24 * time.Hour

	reminderBatch = 50
)

type Config struct {
	Interval    time.Duration
	Staleness   time.Duration
	GuardWindow time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Staleness <= 0 {
		c.Staleness = DefaultStaleness
	}
	if c.GuardWindow <= 0 {
		c.GuardWindow = DefaultGuardWindow
	}
}

type Scheduler struct {
	store     storage.Store
	registry  *registry.Registry
	machine   *conversation.Machine
	generator generator.Generator
	sender    sender.Sender
	config    Config
	logger    *zap.Logger

	now func() time.Time
}

func NewScheduler(
	store storage.Store,
	reg *registry.Registry,
	machine *conversation.Machine,
	gen generator.Generator,
	snd sender.Sender,
	config Config,
	logger *zap.Logger,
) *Scheduler {
	config.applyDefaults()
	return &Scheduler{
		store:     store,
		registry:  reg,
		machine:   machine,
		generator: gen,
		sender:    snd,
		config:    config,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			s.logger.Info("Follow-up scheduler stopped")
			return
		}
	}
}

// RunOnce processes stale conversations and due reminders. Failures on
// one candidate never block the rest.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.processStaleConversations(ctx)
	s.processReminders(ctx)
}

func (s *Scheduler) processStaleConversations(ctx context.Context) {
	now := s.now()
	candidates, err := s.store.ListStaleConversations(ctx, now.Add(-s.config.Staleness))
	if err != nil {
		s.logger.Error("Failed to list stale conversations", zap.Error(err))
		return
	}

	for _, state := range candidates {
		if err := s.processCandidate(ctx, state, now); err != nil {
			s.logger.Error("Follow-up failed",
				zap.Error(err),
				zap.String("tenant_id", state.TenantID),
				zap.String("conversation_id", state.ConversationID))
		}
	}
}

func (s *Scheduler) processCandidate(ctx context.Context, state *models.ConversationState, now time.Time) error {
	tenant, err := s.registry.GetTenant(ctx, state.TenantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}

	enabled, stages := tenant.Settings.FollowUp()
	if !enabled {
		return nil
	}
	if state.FunnelStage >= len(stages) {
		// The ladder is exhausted for this conversation.
		return nil
	}
	stage := stages[state.FunnelStage]

	if now.Sub(state.LastMessageAt) < time.Duration(stage.DelayMinutes)*time.Minute {
		return nil
	}
	if !tenant.Settings.FollowupHoursOK(now) {
		return nil
	}

	// Double-send guard: one follow-up per guard window, judged by the
	// event log rather than mutable state.
	lastSent, err := s.store.LatestEventTime(ctx, state.TenantID, state.ConversationID, models.EventFollowupSent)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to check last follow-up: %w", err)
	}
	if err == nil && now.Sub(lastSent) < s.config.GuardWindow {
		return nil
	}

	decision, err := s.generator.DecideFollowup(ctx, tenant, state.ContextSummary, stage.Instruction)
	if err != nil {
		return fmt.Errorf("failed to evaluate follow-up: %w", err)
	}

	if decision.Finished {
		// The contact already closed the conversation; record the
		// resolution instead of nudging them again.
		return s.recordEvent(ctx, &models.ConversationEvent{
			TenantID:       state.TenantID,
			ConversationID: state.ConversationID,
			Type:           models.EventResolved,
			Payload:        map[string]any{"resolved_by": "ai", "reason": "followup_termination"},
			CreatedAt:      now,
		})
	}
	if !decision.Send {
		return nil
	}

	return s.send(ctx, tenant, state.ConversationID, decision.Text, state.FunnelStage+1, now)
}

func (s *Scheduler) send(ctx context.Context, tenant *models.Tenant, conversationID, text string, nextStage int, now time.Time) error {
	kind := models.ProviderKind(tenant.Settings.String("provider", string(models.ProviderUazapi)))
	if err := s.sender.SendText(ctx, tenant.ID, kind, conversationID, text); err != nil {
		if errors.Is(err, registry.ErrChannelNotConfigured) {
			s.logger.Warn("Channel not configured, follow-up skipped",
				zap.String("tenant_id", tenant.ID),
				zap.String("kind", string(kind)))
			return nil
		}
		return fmt.Errorf("failed to send follow-up: %w", err)
	}

	// The event carries the stage the conversation advanced to, so the
	// state fold assigns it instead of incrementing.
	return s.recordEvent(ctx, &models.ConversationEvent{
		TenantID:       tenant.ID,
		ConversationID: conversationID,
		Type:           models.EventFollowupSent,
		Payload:        map[string]any{"stage": nextStage, "text": text},
		CreatedAt:      now,
	})
}

func (s *Scheduler) recordEvent(ctx context.Context, event *models.ConversationEvent) error {
	if err := s.store.AppendEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to append %s event: %w", event.Type, err)
	}
	_, err := s.machine.Apply(ctx, event)
	return err
}

func (s *Scheduler) processReminders(ctx context.Context) {
	now := s.now()
	reminders, err := s.store.DuePendingReminders(ctx, now, reminderBatch)
	if err != nil {
		s.logger.Error("Failed to list due reminders", zap.Error(err))
		return
	}

	for _, reminder := range reminders {
		if err := s.processReminder(ctx, reminder, now); err != nil {
			s.logger.Error("Reminder processing failed",
				zap.Error(err),
				zap.String("reminder_id", reminder.ID))
			if statusErr := s.store.UpdateReminderStatus(ctx, reminder.ID, models.ReminderError, err.Error()); statusErr != nil {
				s.logger.Error("Failed to mark reminder errored",
					zap.Error(statusErr),
					zap.String("reminder_id", reminder.ID))
			}
		}
	}
}

func (s *Scheduler) processReminder(ctx context.Context, reminder *models.Reminder, now time.Time) error {
	tenant, err := s.registry.GetTenant(ctx, reminder.TenantID)
	if errors.Is(err, storage.ErrNotFound) {
		return s.store.UpdateReminderStatus(ctx, reminder.ID, models.ReminderCancelled, "tenant not found")
	}
	if err != nil {
		return err
	}

	summary := ""
	if state, err := s.store.GetConversationState(ctx, reminder.TenantID, reminder.ConversationID); err == nil {
		summary = state.ContextSummary
	}

	decision, err := s.generator.DecideFollowup(ctx, tenant, summary, reminder.Message)
	if err != nil {
		return fmt.Errorf("failed to evaluate reminder: %w", err)
	}
	if decision.Finished || !decision.Send {
		return s.store.UpdateReminderStatus(ctx, reminder.ID, models.ReminderCancelled, "conversation already concluded")
	}

	state, err := s.store.GetConversationState(ctx, reminder.TenantID, reminder.ConversationID)
	nextStage := 1
	if err == nil {
		nextStage = state.FunnelStage + 1
	}

	if err := s.send(ctx, tenant, reminder.ConversationID, decision.Text, nextStage, now); err != nil {
		return err
	}
	return s.store.UpdateReminderStatus(ctx, reminder.ID, models.ReminderSent, decision.Text)
}
