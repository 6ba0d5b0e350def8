package models

import "time"

type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderSent      ReminderStatus = "sent"
	ReminderCancelled ReminderStatus = "cancelled"
	ReminderError     ReminderStatus = "error"
)

// Reminder is a scheduled re-engagement for one conversation. Tool logic
// creates them; the follow-up scheduler transitions them.
type Reminder struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	ConversationID string         `json:"conversation_id"`
	Message        string         `json:"message"`
	ScheduledAt    time.Time      `json:"scheduled_at"`
	Status         ReminderStatus `json:"status"`
	Notes          string         `json:"notes,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
