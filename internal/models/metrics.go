package models

import "time"

// DailyMetrics is the pre-aggregated dashboard row for one (tenant,
// calendar date). It is a cache over the event log: the aggregation
// worker can recompute any row by re-folding that date's events, and the
// stored values are never treated as a source of truth.
type DailyMetrics struct {
	TenantID string    `json:"tenant_id"`
	Date     time.Time `json:"date"`

	TotalConversations int `json:"total_conversations"`
	TotalMessagesIn    int `json:"total_messages_in"`
	TotalMessagesOut   int `json:"total_messages_out"`

	ResolvedByAI    int `json:"resolved_by_ai"`
	ResolvedByHuman int `json:"resolved_by_human"`
	HumanTakeovers  int `json:"human_takeovers"`

	AvgResponseTimeMs   int `json:"avg_response_time_ms"`
	AvgResolutionTimeMs int `json:"avg_resolution_time_ms"`

	FollowupsSent      int `json:"followups_sent"`
	FollowupsConverted int `json:"followups_converted"`

	ToolsUsed    map[string]int `json:"tools_used"`
	TotalCostUSD float64        `json:"total_cost_usd"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ResolutionRate is resolved-by-AI over total conversations.
func (m *DailyMetrics) ResolutionRate() float64 {
	if m.TotalConversations == 0 {
		return 0
	}
	return float64(m.ResolvedByAI) / float64(m.TotalConversations)
}

// HandoffRate is human takeovers over total conversations.
func (m *DailyMetrics) HandoffRate() float64 {
	if m.TotalConversations == 0 {
		return 0
	}
	return float64(m.HumanTakeovers) / float64(m.TotalConversations)
}

// FollowupEffectiveness is follow-ups that drew a reply over follow-ups
// sent.
func (m *DailyMetrics) FollowupEffectiveness() float64 {
	if m.FollowupsSent == 0 {
		return 0
	}
	return float64(m.FollowupsConverted) / float64(m.FollowupsSent)
}

// CostPerConversation is total cost over total conversations.
func (m *DailyMetrics) CostPerConversation() float64 {
	if m.TotalConversations == 0 {
		return 0
	}
	return m.TotalCostUSD / float64(m.TotalConversations)
}
