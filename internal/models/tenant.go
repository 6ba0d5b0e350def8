package models

import "time"

// Tenant represents one customer organization using the platform.
// It is the unit of data isolation: every conversation, credential and
// metric row hangs off a tenant ID.
type Tenant struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	SystemPrompt string    `json:"system_prompt"`
	Settings     Settings  `json:"settings"`
	// Legacy channel fields, kept for tenants provisioned before the
	// provider_credentials table existed. The credential resolver falls
	// back to these when no credential row matches.
	LegacyAPIURL string    `json:"legacy_api_url,omitempty"`
	LegacyToken  string    `json:"legacy_token,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Settings is the per-tenant configuration blob. It is an opaque
// key->value map interpreted lazily by feature code; unknown keys are
// ignored and missing keys fall back to safe defaults, so adding a
// feature never requires a schema migration.
type Settings map[string]any

func (s Settings) section(key string) map[string]any {
	if s == nil {
		return nil
	}
	if m, ok := s[key].(map[string]any); ok {
		return m
	}
	return nil
}

func (s Settings) Bool(key string) bool {
	if s == nil {
		return false
	}
	switch v := s[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	case float64:
		return v != 0
	case int:
		return v != 0
	}
	return false
}

func (s Settings) String(key, fallback string) string {
	if s == nil {
		return fallback
	}
	if v, ok := s[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// FollowUpStage describes one step of a tenant's re-engagement ladder:
// wait DelayMinutes after the assistant's last message, then follow the
// Instruction when generating the nudge.
type FollowUpStage struct {
	DelayMinutes int
	Instruction  string
}

// FollowUp reads the follow-up configuration section. Disabled or
// malformed configuration yields enabled=false and no stages.
func (s Settings) FollowUp() (enabled bool, stages []FollowUpStage) {
	cfg := s.section("followup")
	if cfg == nil || !Settings(cfg).Bool("active") {
		return false, nil
	}
	raw, ok := cfg["stages"].([]any)
	if !ok {
		return false, nil
	}
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		stage := FollowUpStage{DelayMinutes: 60}
		if d, ok := asInt(m["delay_minutes"]); ok && d > 0 {
			stage.DelayMinutes = d
		}
		if p, ok := m["prompt"].(string); ok {
			stage.Instruction = p
		}
		stages = append(stages, stage)
	}
	return len(stages) > 0, stages
}

// FollowupHoursOK reports whether follow-ups may fire at the given
// time. Without an enabled allowed_hours window there is no
// restriction.
func (s Settings) FollowupHoursOK(now time.Time) bool {
	cfg := s.section("followup")
	if cfg == nil {
		return true
	}
	hours, _ := cfg["allowed_hours"].(map[string]any)
	if hours == nil || !Settings(hours).Bool("enabled") {
		return true
	}
	start := Settings(hours).String("start", "00:00")
	end := Settings(hours).String("end", "23:59")
	current := now.Format("15:04")
	return start <= current && current <= end
}

// BusinessHours reports whether the assistant should reply at the given
// time. Mode "inside" (default) answers within the configured window,
// mode "outside" answers only outside it (human team covers the window).
// Absent or inactive configuration means always answer.
func (s Settings) BusinessHours(now time.Time) (shouldReply bool, offMessage string) {
	cfg := s.section("business_hours")
	if cfg == nil || !Settings(cfg).Bool("active") {
		return true, ""
	}
	offMessage = Settings(cfg).String("off_message", "")

	schedule, _ := cfg["schedule"].(map[string]any)
	day, _ := schedule[weekdayKey(now.Weekday())].(map[string]any)

	inWindow := false
	if day != nil && Settings(day).Bool("on") {
		start := Settings(day).String("start", "00:00")
		end := Settings(day).String("end", "23:59")
		current := now.Format("15:04")
		inWindow = start <= current && current <= end
	}

	if Settings(cfg).String("mode", "inside") == "outside" {
		if inWindow {
			return false, offMessage
		}
		return true, ""
	}
	if inWindow {
		return true, ""
	}
	return false, offMessage
}

func weekdayKey(d time.Weekday) string {
	return [...]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}[d]
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
