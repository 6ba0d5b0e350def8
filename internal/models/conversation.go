package models

import "time"

type ConversationStatus string

const (
	StatusActive   ConversationStatus = "active"
	StatusFinished ConversationStatus = "finished"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleHuman     Role = "human"
)

// FunnelStageMax is the terminal funnel stage; "resolved" pins a
// conversation here.
const FunnelStageMax = 5

// ConversationState is the authoritative current state of one
// conversation, keyed by (tenant, conversation). Exactly one row exists
// per key: two tenants may share an external conversation ID (the same
// phone number texting two businesses), so the composite key carries the
// uniqueness, never the conversation ID alone.
type ConversationState struct {
	TenantID       string             `json:"tenant_id"`
	ConversationID string             `json:"conversation_id"`
	Status         ConversationStatus `json:"status"`
	FunnelStage    int                `json:"funnel_stage"`
	LastRole       Role               `json:"last_role"`
	LastMessageAt  time.Time          `json:"last_message_at"`
	// ContextSummary is the bounded tail of recent inbound text, kept so
	// the follow-up gate can judge whether a conversation already ended.
	ContextSummary string    `json:"context_summary"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewConversationState returns the initial state a fold starts from.
func NewConversationState(tenantID, conversationID string) *ConversationState {
	return &ConversationState{
		TenantID:       tenantID,
		ConversationID: conversationID,
		Status:         StatusActive,
	}
}

// Message is one immutable chat turn, used for history reconstruction
// only; state is always derived from events, never from messages.
type Message struct {
	ID             int64     `json:"id"`
	TenantID       string    `json:"tenant_id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	MediaRef       string    `json:"media_ref,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
