package content

import (
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/questbridge/bot/pkg/entity"
	"github.com/questbridge/bot/pkg/entry"
)

func TestCustomIDRoundTrip(t *testing.T) {
	id := EntryCustomID(entity.KindTask, "conn-123")
	assert.Equal(t, "qb:enter:task:conn-123", id)

	action, kind, connID, ok := ParseCustomID(id)
	require.True(t, ok)
	assert.Equal(t, "enter", action)
	assert.Equal(t, entity.KindTask, kind)
	assert.Equal(t, "conn-123", connID)
}

func TestParseCustomID_Foreign(t *testing.T) {
	for _, id := range []string{"", "other:enter:task:x", "qb:enter", "plainstring"} {
		_, _, _, ok := ParseCustomID(id)
		assert.False(t, ok, "id %q must be rejected", id)
	}
}

func firstRow(t *testing.T, components []discordgo.MessageComponent) discordgo.ActionsRow {
	t.Helper()
	require.NotEmpty(t, components)
	row, ok := components[0].(discordgo.ActionsRow)
	require.True(t, ok)
	return row
}

func TestPostMessage_TaskControls(t *testing.T) {
	e := &entity.Entity{
		Kind:   entity.KindTask,
		Title:  "Write a review",
		State:  entity.StateActive,
		Points: 25,
		Requirements: []entity.Requirement{
			{ID: "r1", Kind: entity.ReqGuildMembership, Label: "Member"},
		},
	}

	msg := PostMessage("conn-1", e)
	require.Len(t, msg.Embeds, 1)
	assert.Equal(t, "Write a review", msg.Embeds[0].Title)

	row := firstRow(t, msg.Components)
	require.Len(t, row.Components, 2)

	enter := row.Components[0].(discordgo.Button)
	assert.Equal(t, "Complete", enter.Label)
	assert.False(t, enter.Disabled)

	detail := row.Components[1].(discordgo.Button)
	assert.Equal(t, "Requirements", detail.Label)
}

func TestPostMessage_AllowlistWithoutRequirements(t *testing.T) {
	e := &entity.Entity{
		Kind:        entity.KindAllowlist,
		Title:       "WL raffle",
		State:       entity.StateActive,
		WinnerCount: 10,
	}

	msg := PostMessage("conn-1", e)
	row := firstRow(t, msg.Components)
	require.Len(t, row.Components, 1)
	assert.Equal(t, "Enter", row.Components[0].(discordgo.Button).Label)
}

func TestEditMessage_TerminalDisablesControls(t *testing.T) {
	e := &entity.Entity{
		Kind:  entity.KindTask,
		Title: "Over",
		State: entity.StateEnded,
	}

	edit := EditMessage("chan-1", "msg-1", "conn-1", e)
	assert.Equal(t, "chan-1", edit.Channel)
	assert.Equal(t, "msg-1", edit.ID)

	require.NotNil(t, edit.Components)
	row := firstRow(t, *edit.Components)
	assert.True(t, row.Components[0].(discordgo.Button).Disabled)

	require.NotNil(t, edit.Embeds)
	require.NotNil(t, (*edit.Embeds)[0].Footer)
}

func TestUnboundEdit_StripsComponents(t *testing.T) {
	edit := UnboundEdit("chan-1", "msg-1", &entity.Entity{Title: "Gone", State: entity.StateActive})
	require.NotNil(t, edit.Components)
	assert.Empty(t, *edit.Components)
}

func TestBuildEmbed_CapacityAndEndTime(t *testing.T) {
	end := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	e := &entity.Entity{
		Kind:       entity.KindAllowlist,
		Title:      "WL",
		State:      entity.StateActive,
		EntryCount: 42,
		Capacity:   100,
		EndTime:    &end,
	}

	embed := buildEmbed(e)
	var values []string
	for _, f := range embed.Fields {
		values = append(values, f.Value)
	}
	assert.Contains(t, values, "42 / 100")
	assert.Contains(t, values, fmt.Sprintf("<t:%d:R>", end.Unix()))
}

func TestEndNotification(t *testing.T) {
	al := &entity.Entity{Kind: entity.KindAllowlist, Title: "WL", WinnerCount: 5, EntryCount: 200}
	assert.Contains(t, EndNotification(al), "5 winners")

	task := &entity.Entity{Kind: entity.KindTask, Title: "Quest", EntryCount: 31}
	assert.Contains(t, EndNotification(task), "31 members completed")
}

func TestOutcomeMessage(t *testing.T) {
	tests := []struct {
		name     string
		kind     entity.Kind
		result   entry.Result
		contains string
	}{
		{"task accepted with points", entity.KindTask, entry.Result{Outcome: entry.OutcomeAccepted, Points: 25}, "+25 points"},
		{"allowlist accepted", entity.KindAllowlist, entry.Result{Outcome: entry.OutcomeAccepted}, "You're in"},
		{"already entered", entity.KindTask, entry.Result{Outcome: entry.OutcomeAlreadyEntered}, "already completed"},
		{"pending review", entity.KindTask, entry.Result{Outcome: entry.OutcomePendingReview}, "review"},
		{"rate limited", entity.KindTask, entry.Result{Outcome: entry.OutcomeRateLimited}, "Too many attempts"},
		{"not linked", entity.KindTask, entry.Result{Outcome: entry.OutcomeAccountNotLinked, GuidanceURL: "https://link.example"}, "https://link.example"},
		{"requirements unmet", entity.KindTask, entry.Result{Outcome: entry.OutcomeRequirementsUnmet, Reasons: []string{"Member: not-a-member"}}, "not-a-member"},
		{"timeout", entity.KindTask, entry.Result{Outcome: entry.OutcomeTimeout}, "Nothing was recorded"},
		{"internal", entity.KindTask, entry.Result{Outcome: entry.OutcomeInternal}, "went wrong"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, OutcomeMessage(tt.kind, &tt.result), tt.contains)
		})
	}
}

func TestDetailMessage(t *testing.T) {
	e := &entity.Entity{Title: "Quest"}
	rows := []RequirementStatus{
		{Requirement: entity.Requirement{Label: "Be a member"}, Checked: true, Met: true},
		{Requirement: entity.Requirement{Label: "Follow us", Optional: true}, Checked: true, Met: false, Reason: "not-following"},
		{Requirement: entity.Requirement{Label: "Submit proof"}, Checked: true, Pending: true},
	}

	msg := DetailMessage(e, rows, true, "")
	assert.Contains(t, msg, "✅ Be a member")
	assert.Contains(t, msg, "(optional)")
	assert.Contains(t, msg, "not-following")
	assert.Contains(t, msg, "⏳ Submit proof")
	assert.NotContains(t, msg, "not linked")
}

func TestDetailMessage_Unlinked(t *testing.T) {
	msg := DetailMessage(&entity.Entity{Title: "Quest"}, nil, false, "https://link.example")
	assert.Contains(t, msg, "No requirements")
	assert.Contains(t, msg, "https://link.example")
}
