package aggregator

import (
	"time"

	"github.com/xaenox/chatflow/internal/models"
	"github.com/xaenox/chatflow/internal/storage"
)

// Fold computes the DailyMetrics row for one (tenant, date) from that
// date's complete event slice. It is a recomputation, not an
// incremental bump: folding the same range again produces the identical
// row, which is what makes a crash between upsert and watermark advance
// harmless.
func Fold(tenantID string, date time.Time, events []*models.ConversationEvent) *models.DailyMetrics {
	metrics := &models.DailyMetrics{
		TenantID:  tenantID,
		Date:      storage.Day(date),
		ToolsUsed: make(map[string]int),
	}

	conversations := make(map[string]struct{})
	// Highest followup_sent sequence per conversation, for conversion
	// attribution: a msg_received after a followup_sent means the nudge
	// drew a reply.
	lastFollowup := make(map[string]int64)
	converted := make(map[string]struct{})

	var responseTotal, responseCount int64
	var resolutionTotal, resolutionCount int64

	for _, event := range events {
		if cost, ok := event.PayloadFloat("cost_usd"); ok {
			metrics.TotalCostUSD += cost
		}

		switch event.Type {
		case models.EventMsgReceived:
			metrics.TotalMessagesIn++
			conversations[event.ConversationID] = struct{}{}
			if seq, ok := lastFollowup[event.ConversationID]; ok && event.Seq > seq {
				converted[event.ConversationID] = struct{}{}
			}

		case models.EventAIResponded:
			metrics.TotalMessagesOut++
			if ms, ok := event.PayloadInt("response_time_ms"); ok {
				responseTotal += ms
				responseCount++
			}

		case models.EventHumanTakeover:
			metrics.HumanTakeovers++

		case models.EventHumanResponded:
			metrics.TotalMessagesOut++

		case models.EventFollowupSent:
			metrics.FollowupsSent++
			lastFollowup[event.ConversationID] = event.Seq

		case models.EventResolved:
			switch event.PayloadString("resolved_by") {
			case "human":
				metrics.ResolvedByHuman++
			default:
				metrics.ResolvedByAI++
			}
			if ms, ok := event.PayloadInt("resolution_time_ms"); ok {
				resolutionTotal += ms
				resolutionCount++
			}

		case models.EventToolUsed:
			if tool := event.PayloadString("tool"); tool != "" {
				metrics.ToolsUsed[tool]++
			}
		}
	}

	metrics.TotalConversations = len(conversations)
	metrics.FollowupsConverted = len(converted)
	if responseCount > 0 {
		metrics.AvgResponseTimeMs = int(responseTotal / responseCount)
	}
	if resolutionCount > 0 {
		metrics.AvgResolutionTimeMs = int(resolutionTotal / resolutionCount)
	}
	return metrics
}
