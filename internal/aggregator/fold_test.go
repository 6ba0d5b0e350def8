package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xaenox/chatflow/internal/models"
)

func foldEvent(seq int64, convID string, typ models.EventType, payload map[string]any) *models.ConversationEvent {
	return &models.ConversationEvent{
		Seq:            seq,
		TenantID:       "t1",
		ConversationID: convID,
		Type:           typ,
		Payload:        payload,
		CreatedAt:      time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
}

func TestFoldCountsConversationsAndMessages(t *testing.T) {
	events := []*models.ConversationEvent{
		foldEvent(1, "c1", models.EventMsgReceived, map[string]any{"text": "hi"}),
		foldEvent(2, "c1", models.EventAIResponded, map[string]any{"response_time_ms": 1000}),
		foldEvent(3, "c1", models.EventMsgReceived, map[string]any{"text": "more"}),
		foldEvent(4, "c2", models.EventMsgReceived, map[string]any{"text": "hello"}),
		foldEvent(5, "c2", models.EventAIResponded, map[string]any{"response_time_ms": 3000}),
	}

	metrics := Fold("t1", time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC), events)

	assert.Equal(t, 2, metrics.TotalConversations)
	assert.Equal(t, 3, metrics.TotalMessagesIn)
	assert.Equal(t, 2, metrics.TotalMessagesOut)
	assert.Equal(t, 2000, metrics.AvgResponseTimeMs)
}

func TestFoldResolutionSplit(t *testing.T) {
	events := []*models.ConversationEvent{
		foldEvent(1, "c1", models.EventResolved, map[string]any{"resolved_by": "ai"}),
		foldEvent(2, "c2", models.EventResolved, map[string]any{"resolved_by": "human"}),
		foldEvent(3, "c3", models.EventResolved, nil),
		foldEvent(4, "c4", models.EventHumanTakeover, nil),
	}

	metrics := Fold("t1", time.Now(), events)

	// Missing resolved_by defaults to the AI side.
	assert.Equal(t, 2, metrics.ResolvedByAI)
	assert.Equal(t, 1, metrics.ResolvedByHuman)
	assert.Equal(t, 1, metrics.HumanTakeovers)
}

func TestFoldFollowupConversion(t *testing.T) {
	events := []*models.ConversationEvent{
		foldEvent(1, "c1", models.EventMsgReceived, map[string]any{"text": "hi"}),
		foldEvent(2, "c1", models.EventFollowupSent, map[string]any{"stage": 1}),
		// c1 replies after the nudge: converted.
		foldEvent(3, "c1", models.EventMsgReceived, map[string]any{"text": "yes!"}),
		// c2 gets a nudge but stays silent: sent, not converted.
		foldEvent(4, "c2", models.EventFollowupSent, map[string]any{"stage": 1}),
	}

	metrics := Fold("t1", time.Now(), events)

	assert.Equal(t, 2, metrics.FollowupsSent)
	assert.Equal(t, 1, metrics.FollowupsConverted)
}

func TestFoldToolUsageAndCost(t *testing.T) {
	events := []*models.ConversationEvent{
		foldEvent(1, "c1", models.EventToolUsed, map[string]any{"tool": "calendar", "cost_usd": 0.02}),
		foldEvent(2, "c1", models.EventToolUsed, map[string]any{"tool": "calendar"}),
		foldEvent(3, "c2", models.EventToolUsed, map[string]any{"tool": "crm_lookup", "cost_usd": 0.01}),
		foldEvent(4, "c2", models.EventAIResponded, map[string]any{"response_time_ms": 100, "cost_usd": 0.005}),
	}

	metrics := Fold("t1", time.Now(), events)

	assert.Equal(t, 2, metrics.ToolsUsed["calendar"])
	assert.Equal(t, 1, metrics.ToolsUsed["crm_lookup"])
	assert.InDelta(t, 0.035, metrics.TotalCostUSD, 1e-9)
}

func TestFoldEmptyDay(t *testing.T) {
	metrics := Fold("t1", time.Now(), nil)

	assert.Equal(t, 0, metrics.TotalConversations)
	assert.Equal(t, 0, metrics.AvgResponseTimeMs)
	assert.NotNil(t, metrics.ToolsUsed)
}

func TestFoldIsDeterministic(t *testing.T) {
	events := []*models.ConversationEvent{
		foldEvent(1, "c1", models.EventMsgReceived, map[string]any{"text": "hi"}),
		foldEvent(2, "c1", models.EventAIResponded, map[string]any{"response_time_ms": 1200}),
		foldEvent(3, "c1", models.EventResolved, map[string]any{"resolved_by": "ai"}),
	}
	date := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	first := Fold("t1", date, events)
	second := Fold("t1", date, events)

	assert.Equal(t, first, second)
}
