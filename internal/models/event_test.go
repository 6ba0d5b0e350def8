package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateClosedTypeSet(t *testing.T) {
	for _, typ := range []EventType{
		EventMsgReceived, EventHumanTakeover, EventHumanResponded,
		EventFollowupSent, EventResolved,
	} {
		ev := &ConversationEvent{TenantID: "t1", ConversationID: "c1", Type: typ}
		assert.NoError(t, ev.Validate(), "type %s", typ)
	}

	ev := &ConversationEvent{TenantID: "t1", ConversationID: "c1", Type: "message_deleted"}
	assert.ErrorIs(t, ev.Validate(), ErrInvalidPayload)
}

func TestValidateRequiredPayloadFields(t *testing.T) {
	ev := &ConversationEvent{TenantID: "t1", ConversationID: "c1", Type: EventAIResponded}
	assert.ErrorIs(t, ev.Validate(), ErrInvalidPayload)

	ev.Payload = map[string]any{"response_time_ms": -5}
	assert.ErrorIs(t, ev.Validate(), ErrInvalidPayload)

	ev.Payload = map[string]any{"response_time_ms": 0}
	assert.NoError(t, ev.Validate())

	tool := &ConversationEvent{TenantID: "t1", ConversationID: "c1", Type: EventToolUsed,
		Payload: map[string]any{"tool": ""}}
	assert.ErrorIs(t, tool.Validate(), ErrInvalidPayload)

	tool.Payload["tool"] = "calendar"
	assert.NoError(t, tool.Validate())
}

func TestValidateRequiresIdentity(t *testing.T) {
	ev := &ConversationEvent{Type: EventMsgReceived, ConversationID: "c1"}
	assert.ErrorIs(t, ev.Validate(), ErrInvalidPayload)

	ev = &ConversationEvent{Type: EventMsgReceived, TenantID: "t1"}
	assert.ErrorIs(t, ev.Validate(), ErrInvalidPayload)
}

func TestPayloadAccessorsTolerateJSONNumbers(t *testing.T) {
	ev := &ConversationEvent{Payload: map[string]any{
		"stage":    float64(2),
		"count":    int64(7),
		"cost_usd": 0.25,
		"text":     "hello",
	}}

	stage, ok := ev.PayloadInt("stage")
	assert.True(t, ok)
	assert.Equal(t, int64(2), stage)

	count, ok := ev.PayloadInt("count")
	assert.True(t, ok)
	assert.Equal(t, int64(7), count)

	cost, ok := ev.PayloadFloat("cost_usd")
	assert.True(t, ok)
	assert.InDelta(t, 0.25, cost, 1e-9)

	assert.Equal(t, "hello", ev.PayloadString("text"))
	assert.Equal(t, "", ev.PayloadString("missing"))

	_, ok = ev.PayloadInt("text")
	assert.False(t, ok)
}
