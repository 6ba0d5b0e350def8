package storage

import (
	"context"
	"time"

	"github.com/xaenox/chatflow/internal/models"
)

type TenantStore interface {
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	UpdateTenant(ctx context.Context, tenant *models.Tenant) error
	// DeleteTenant cascades: credentials, conversations, messages,
	// events, metrics and reminders of the tenant go with it.
	DeleteTenant(ctx context.Context, id string) error
	ListTenants(ctx context.Context) ([]*models.Tenant, error)
}

type CredentialStore interface {
	// UpsertCredential writes a credential keyed by (tenant, kind,
	// instance label). Flagging it default atomically clears the default
	// flag on the tenant's other credentials of the same kind.
	UpsertCredential(ctx context.Context, cred *models.ProviderCredential) error
	// GetActiveCredentials returns the tenant's active credentials of
	// the given kind, default-flagged rows first.
	GetActiveCredentials(ctx context.Context, tenantID string, kind models.ProviderKind) ([]*models.ProviderCredential, error)
	ListCredentials(ctx context.Context, tenantID string) ([]*models.ProviderCredential, error)
}

type ConversationStore interface {
	GetConversationState(ctx context.Context, tenantID, conversationID string) (*models.ConversationState, error)
	// PutConversationState upserts on the (tenant, conversation)
	// composite key; there is never more than one row per key.
	PutConversationState(ctx context.Context, state *models.ConversationState) error
	// ListStaleConversations returns active conversations whose last
	// speaker was the assistant and whose last message predates before.
	ListStaleConversations(ctx context.Context, before time.Time) ([]*models.ConversationState, error)
}

type MessageStore interface {
	SaveMessage(ctx context.Context, msg *models.Message) error
	GetMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]*models.Message, error)
}

type EventStore interface {
	// AppendEvent validates the event, assigns its sequence number and
	// appends it. An error here means the event is NOT in the log; the
	// caller must abort its state update.
	AppendEvent(ctx context.Context, event *models.ConversationEvent) error
	GetEventsAfter(ctx context.Context, tenantID string, afterSeq int64, limit int) ([]*models.ConversationEvent, error)
	GetConversationEvents(ctx context.Context, tenantID, conversationID string) ([]*models.ConversationEvent, error)
	// GetEventsForDate returns every event of the tenant whose creation
	// time falls on the given UTC calendar date, in sequence order.
	GetEventsForDate(ctx context.Context, tenantID string, date time.Time) ([]*models.ConversationEvent, error)
	// LatestEventTime returns the creation time of the conversation's
	// most recent event of the given type, or ErrNotFound.
	LatestEventTime(ctx context.Context, tenantID, conversationID string, eventType models.EventType) (time.Time, error)
	// DeleteEventsBefore trims the log for retention. Aggregated metrics
	// survive; only raw events older than cutoff are removed.
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type MetricsStore interface {
	// UpsertDailyMetrics replaces the whole row for (tenant, date).
	UpsertDailyMetrics(ctx context.Context, metrics *models.DailyMetrics) error
	GetDailyMetrics(ctx context.Context, tenantID string, from, to time.Time) ([]*models.DailyMetrics, error)
}

type ReminderStore interface {
	CreateReminder(ctx context.Context, reminder *models.Reminder) error
	DuePendingReminders(ctx context.Context, now time.Time, limit int) ([]*models.Reminder, error)
	UpdateReminderStatus(ctx context.Context, id string, status models.ReminderStatus, notes string) error
}

type WatermarkStore interface {
	// GetWatermark returns the highest event sequence already folded
	// into metrics for the tenant, zero if aggregation never ran.
	GetWatermark(ctx context.Context, tenantID string) (int64, error)
	SetWatermark(ctx context.Context, tenantID string, seq int64) error
}

type Store interface {
	TenantStore
	CredentialStore
	ConversationStore
	MessageStore
	EventStore
	MetricsStore
	ReminderStore
	WatermarkStore
	Close() error
}

// Day truncates t to its UTC calendar date, the grain every metrics row
// and event fold is keyed on.
func Day(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
