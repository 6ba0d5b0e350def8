package models

import (
	"errors"
	"fmt"
	"time"
)

// EventType enumerates every transition the pipeline records. The set is
// closed; Validate rejects anything else.
type EventType string

const (
	EventMsgReceived    EventType = "msg_received"
	EventAIResponded    EventType = "ai_responded"
	EventHumanTakeover  EventType = "human_takeover"
	EventHumanResponded EventType = "human_responded"
	EventFollowupSent   EventType = "followup_sent"
	EventResolved       EventType = "resolved"
	EventToolUsed       EventType = "tool_used"
)

// ErrInvalidPayload marks an event whose payload is missing a required
// field or carries the wrong type for one. Appends fail loudly on it:
// silently dropping the field would corrupt every metric derived later.
var ErrInvalidPayload = errors.New("invalid event payload")

// ConversationEvent is one immutable entry of the append-only log. The
// log is the system of record for all metrics; Seq is assigned by the
// store at append time and is strictly increasing per store.
type ConversationEvent struct {
	Seq            int64          `json:"seq"`
	TenantID       string         `json:"tenant_id"`
	ConversationID string         `json:"conversation_id"`
	Type           EventType      `json:"type"`
	Payload        map[string]any `json:"payload"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Validate checks the closed type set and the per-type required payload
// fields before the event reaches the store.
func (e *ConversationEvent) Validate() error {
	switch e.Type {
	case EventMsgReceived, EventHumanTakeover, EventHumanResponded,
		EventFollowupSent, EventResolved, EventToolUsed, EventAIResponded:
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidPayload, e.Type)
	}
	if e.TenantID == "" || e.ConversationID == "" {
		return fmt.Errorf("%w: tenant and conversation are required", ErrInvalidPayload)
	}

	switch e.Type {
	case EventAIResponded:
		ms, ok := e.PayloadInt("response_time_ms")
		if !ok || ms < 0 {
			return fmt.Errorf("%w: ai_responded requires response_time_ms >= 0", ErrInvalidPayload)
		}
	case EventToolUsed:
		if tool, ok := e.Payload["tool"].(string); !ok || tool == "" {
			return fmt.Errorf("%w: tool_used requires tool", ErrInvalidPayload)
		}
	}
	return nil
}

// PayloadInt reads an integer payload field, tolerating the float64 that
// JSON round-trips produce.
func (e *ConversationEvent) PayloadInt(key string) (int64, bool) {
	if e.Payload == nil {
		return 0, false
	}
	switch v := e.Payload[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// PayloadString reads a string payload field.
func (e *ConversationEvent) PayloadString(key string) string {
	if e.Payload == nil {
		return ""
	}
	s, _ := e.Payload[key].(string)
	return s
}

// PayloadFloat reads a numeric payload field as float64.
func (e *ConversationEvent) PayloadFloat(key string) (float64, bool) {
	if e.Payload == nil {
		return 0, false
	}
	switch v := e.Payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
