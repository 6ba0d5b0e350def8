package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaenox/chatflow/internal/models"
)

func TestTenantLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tenant := &models.Tenant{ID: "t1", Name: "Acme"}
	require.NoError(t, store.CreateTenant(ctx, tenant))

	err := store.CreateTenant(ctx, &models.Tenant{ID: "t1", Name: "Dup"})
	assert.ErrorIs(t, err, ErrDuplicate)

	got, err := store.GetTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Name)

	got.Name = "Acme Corp"
	require.NoError(t, store.UpdateTenant(ctx, got))
	got, err = store.GetTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", got.Name)

	require.NoError(t, store.DeleteTenant(ctx, "t1"))
	_, err = store.GetTenant(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteTenantCascades(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreateTenant(ctx, &models.Tenant{ID: "t1", Name: "A"}))
	require.NoError(t, store.CreateTenant(ctx, &models.Tenant{ID: "t2", Name: "B"}))
	for _, tenantID := range []string{"t1", "t2"} {
		require.NoError(t, store.AppendEvent(ctx, &models.ConversationEvent{
			TenantID: tenantID, ConversationID: "c1", Type: models.EventMsgReceived,
			Payload: map[string]any{"text": "hi"},
		}))
		require.NoError(t, store.PutConversationState(ctx,
			models.NewConversationState(tenantID, "c1")))
	}

	require.NoError(t, store.DeleteTenant(ctx, "t1"))

	_, err := store.GetConversationState(ctx, "t1", "c1")
	assert.ErrorIs(t, err, ErrNotFound)
	events, err := store.GetConversationEvents(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Empty(t, events)

	// The sibling tenant's data survives.
	_, err = store.GetConversationState(ctx, "t2", "c1")
	require.NoError(t, err)
}

func TestConversationStateScopedByTenant(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	// The same conversation ID under two tenants is two rows.
	stateA := models.NewConversationState("t1", "c1")
	stateA.FunnelStage = 1
	stateB := models.NewConversationState("t2", "c1")
	stateB.FunnelStage = 3
	require.NoError(t, store.PutConversationState(ctx, stateA))
	require.NoError(t, store.PutConversationState(ctx, stateB))

	gotA, err := store.GetConversationState(ctx, "t1", "c1")
	require.NoError(t, err)
	gotB, err := store.GetConversationState(ctx, "t2", "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, gotA.FunnelStage)
	assert.Equal(t, 3, gotB.FunnelStage)

	// Put is an upsert keyed on (tenant, conversation).
	stateA.FunnelStage = 2
	require.NoError(t, store.PutConversationState(ctx, stateA))
	gotA, err = store.GetConversationState(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, gotA.FunnelStage)
}

func TestUpsertCredentialKeepsSingleDefault(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.UpsertCredential(ctx, &models.ProviderCredential{
		TenantID: "t1", Kind: models.ProviderUazapi, InstanceLabel: "a",
		Active: true, Default: true,
	}))
	require.NoError(t, store.UpsertCredential(ctx, &models.ProviderCredential{
		TenantID: "t1", Kind: models.ProviderUazapi, InstanceLabel: "b",
		Active: true, Default: true,
	}))

	creds, err := store.GetActiveCredentials(ctx, "t1", models.ProviderUazapi)
	require.NoError(t, err)
	require.Len(t, creds, 2)

	defaults := 0
	for _, cred := range creds {
		if cred.Default {
			defaults++
			assert.Equal(t, "b", cred.InstanceLabel)
		}
	}
	assert.Equal(t, 1, defaults)
	// Default-first ordering.
	assert.Equal(t, "b", creds[0].InstanceLabel)
}

func TestUpsertCredentialUpdatesExistingLabel(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.UpsertCredential(ctx, &models.ProviderCredential{
		TenantID: "t1", Kind: models.ProviderMeta, InstanceLabel: "primary",
		Config: map[string]any{"phone_id": "111"}, Active: true,
	}))
	require.NoError(t, store.UpsertCredential(ctx, &models.ProviderCredential{
		TenantID: "t1", Kind: models.ProviderMeta, InstanceLabel: "primary",
		Config: map[string]any{"phone_id": "222"}, Active: true,
	}))

	creds, err := store.ListCredentials(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, "222", creds[0].Config["phone_id"])
}

func TestAppendEventAssignsMonotonicSeq(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var seqs []int64
	for i := 0; i < 5; i++ {
		ev := &models.ConversationEvent{
			TenantID: "t1", ConversationID: "c1", Type: models.EventMsgReceived,
			Payload: map[string]any{"text": "x"},
		}
		require.NoError(t, store.AppendEvent(ctx, ev))
		seqs = append(seqs, ev.Seq)
	}
	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1])
	}
}

func TestAppendEventRejectsInvalid(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.AppendEvent(ctx, &models.ConversationEvent{
		TenantID: "t1", ConversationID: "c1", Type: models.EventAIResponded,
	})
	assert.ErrorIs(t, err, models.ErrInvalidPayload)

	err = store.AppendEvent(ctx, &models.ConversationEvent{
		TenantID: "t1", ConversationID: "c1", Type: models.EventToolUsed,
		Payload: map[string]any{},
	})
	assert.ErrorIs(t, err, models.ErrInvalidPayload)

	events, getErr := store.GetConversationEvents(ctx, "t1", "c1")
	require.NoError(t, getErr)
	assert.Empty(t, events)
}

func TestGetEventsForDateUsesUTCBoundaries(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	before := time.Date(2026, 8, 29, 23, 59, 0, 0, time.UTC)
	inside := time.Date(2026, 8, 30, 0, 1, 0, 0, time.UTC)
	require.NoError(t, store.AppendEvent(ctx, &models.ConversationEvent{
		TenantID: "t1", ConversationID: "c1", Type: models.EventMsgReceived,
		Payload: map[string]any{"text": "before"}, CreatedAt: before,
	}))
	require.NoError(t, store.AppendEvent(ctx, &models.ConversationEvent{
		TenantID: "t1", ConversationID: "c1", Type: models.EventMsgReceived,
		Payload: map[string]any{"text": "inside"}, CreatedAt: inside,
	}))

	events, err := store.GetEventsForDate(ctx, "t1", inside)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "inside", events[0].PayloadString("text"))
}

func TestLatestEventTime(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)
	for _, at := range []time.Time{first, second} {
		require.NoError(t, store.AppendEvent(ctx, &models.ConversationEvent{
			TenantID: "t1", ConversationID: "c1", Type: models.EventFollowupSent,
			Payload: map[string]any{"stage": 1}, CreatedAt: at,
		}))
	}

	got, err := store.LatestEventTime(ctx, "t1", "c1", models.EventFollowupSent)
	require.NoError(t, err)
	assert.True(t, got.Equal(second))

	_, err = store.LatestEventTime(ctx, "t1", "c1", models.EventResolved)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListStaleConversations(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	stale := models.NewConversationState("t1", "stale")
	stale.LastRole = models.RoleAssistant
	stale.LastMessageAt = now.Add(-2 * time.Hour)
	require.NoError(t, store.PutConversationState(ctx, stale))

	fresh := models.NewConversationState("t1", "fresh")
	fresh.LastRole = models.RoleAssistant
	fresh.LastMessageAt = now.Add(-time.Minute)
	require.NoError(t, store.PutConversationState(ctx, fresh))

	waiting := models.NewConversationState("t1", "user-spoke-last")
	waiting.LastRole = models.RoleUser
	waiting.LastMessageAt = now.Add(-2 * time.Hour)
	require.NoError(t, store.PutConversationState(ctx, waiting))

	finished := models.NewConversationState("t1", "finished")
	finished.Status = models.StatusFinished
	finished.LastRole = models.RoleAssistant
	finished.LastMessageAt = now.Add(-2 * time.Hour)
	require.NoError(t, store.PutConversationState(ctx, finished))

	got, err := store.ListStaleConversations(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "stale", got[0].ConversationID)
}

func TestUpsertDailyMetricsReplacesRow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	date := time.Date(2026, 8, 30, 15, 30, 0, 0, time.UTC)

	require.NoError(t, store.UpsertDailyMetrics(ctx, &models.DailyMetrics{
		TenantID: "t1", Date: date, TotalMessagesIn: 5,
	}))
	require.NoError(t, store.UpsertDailyMetrics(ctx, &models.DailyMetrics{
		TenantID: "t1", Date: date, TotalMessagesIn: 8,
	}))

	rows, err := store.GetDailyMetrics(ctx, "t1", date, date)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 8, rows[0].TotalMessagesIn)
	assert.True(t, rows[0].Date.Equal(Day(date)))
}

func TestReminderTransitions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.CreateReminder(ctx, &models.Reminder{
		ID: "r1", TenantID: "t1", ConversationID: "c1",
		Message: "check in", ScheduledAt: now.Add(-time.Minute),
	}))
	require.NoError(t, store.CreateReminder(ctx, &models.Reminder{
		ID: "r2", TenantID: "t1", ConversationID: "c2",
		Message: "later", ScheduledAt: now.Add(time.Hour),
	}))

	due, err := store.DuePendingReminders(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "r1", due[0].ID)

	require.NoError(t, store.UpdateReminderStatus(ctx, "r1", models.ReminderSent, "delivered"))
	due, err = store.DuePendingReminders(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}
