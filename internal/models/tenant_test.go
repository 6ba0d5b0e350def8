package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsAccessorsTolerateMissingKeys(t *testing.T) {
	var s Settings

	assert.False(t, s.Bool("anything"))
	assert.Equal(t, "fallback", s.String("anything", "fallback"))

	enabled, stages := s.FollowUp()
	assert.False(t, enabled)
	assert.Empty(t, stages)

	shouldReply, offMessage := s.BusinessHours(time.Now())
	assert.True(t, shouldReply)
	assert.Empty(t, offMessage)
}

func TestSettingsBoolCoercion(t *testing.T) {
	s := Settings{
		"a": true,
		"b": "true",
		"c": "1",
		"d": float64(1), // JSON numbers decode as float64
		"e": "false",
		"f": float64(0),
	}
	assert.True(t, s.Bool("a"))
	assert.True(t, s.Bool("b"))
	assert.True(t, s.Bool("c"))
	assert.True(t, s.Bool("d"))
	assert.False(t, s.Bool("e"))
	assert.False(t, s.Bool("f"))
}

func TestFollowUpStagesParsed(t *testing.T) {
	s := Settings{
		"followup": map[string]any{
			"active": true,
			"stages": []any{
				map[string]any{"delay_minutes": float64(30), "prompt": "nudge"},
				map[string]any{"prompt": "last call"},
			},
		},
	}

	enabled, stages := s.FollowUp()
	require.True(t, enabled)
	require.Len(t, stages, 2)
	assert.Equal(t, 30, stages[0].DelayMinutes)
	assert.Equal(t, "nudge", stages[0].Instruction)
	// Missing delay falls back to an hour.
	assert.Equal(t, 60, stages[1].DelayMinutes)
}

func TestFollowUpDisabled(t *testing.T) {
	s := Settings{
		"followup": map[string]any{
			"active": false,
			"stages": []any{map[string]any{"prompt": "x"}},
		},
	}
	enabled, stages := s.FollowUp()
	assert.False(t, enabled)
	assert.Empty(t, stages)
}

func TestFollowupHoursWindow(t *testing.T) {
	s := Settings{
		"followup": map[string]any{
			"active": true,
			"allowed_hours": map[string]any{
				"enabled": true, "start": "09:00", "end": "18:00",
			},
		},
	}

	inside := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	outside := time.Date(2026, 8, 30, 22, 0, 0, 0, time.UTC)
	assert.True(t, s.FollowupHoursOK(inside))
	assert.False(t, s.FollowupHoursOK(outside))
}

func TestBusinessHoursInsideMode(t *testing.T) {
	// 2026-08-31 is a Monday.
	s := Settings{
		"business_hours": map[string]any{
			"active":      true,
			"off_message": "closed, sorry",
			"schedule": map[string]any{
				"mon": map[string]any{"on": true, "start": "09:00", "end": "17:00"},
			},
		},
	}

	open := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	closed := time.Date(2026, 8, 31, 20, 0, 0, 0, time.UTC)
	sunday := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	shouldReply, _ := s.BusinessHours(open)
	assert.True(t, shouldReply)

	shouldReply, offMessage := s.BusinessHours(closed)
	assert.False(t, shouldReply)
	assert.Equal(t, "closed, sorry", offMessage)

	shouldReply, _ = s.BusinessHours(sunday)
	assert.False(t, shouldReply)
}

func TestBusinessHoursOutsideMode(t *testing.T) {
	// Outside mode: the human team covers the window, the assistant
	// answers only beyond it.
	s := Settings{
		"business_hours": map[string]any{
			"active":      true,
			"mode":        "outside",
			"off_message": "team is in",
			"schedule": map[string]any{
				"mon": map[string]any{"on": true, "start": "09:00", "end": "17:00"},
			},
		},
	}

	duringShift := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	afterShift := time.Date(2026, 8, 31, 20, 0, 0, 0, time.UTC)

	shouldReply, offMessage := s.BusinessHours(duringShift)
	assert.False(t, shouldReply)
	assert.Equal(t, "team is in", offMessage)

	shouldReply, _ = s.BusinessHours(afterShift)
	assert.True(t, shouldReply)
}
