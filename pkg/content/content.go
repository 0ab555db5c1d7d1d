// Package content builds the rich messages the bot posts and edits. All
// rendering lives here so the engine and the reconciler produce identical
// output for the same projection.
package content

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/questbridge/bot/pkg/entity"
)

const (
	colorActive = 0x5865F2
	colorEnded  = 0x99AAB5

	// CustomIDPrefix namespaces every component this bot owns.
	CustomIDPrefix = "qb"
)

// EntryCustomID encodes the entry-button custom id for a connection.
func EntryCustomID(kind entity.Kind, connectionID string) string {
	return fmt.Sprintf("%s:enter:%s:%s", CustomIDPrefix, kind, connectionID)
}

// DetailCustomID encodes the requirements-detail button custom id.
func DetailCustomID(kind entity.Kind, connectionID string) string {
	return fmt.Sprintf("%s:detail:%s:%s", CustomIDPrefix, kind, connectionID)
}

// ParseCustomID splits a component custom id into action, kind and
// connection id. Returns ok=false for ids this bot does not own.
func ParseCustomID(customID string) (action string, kind entity.Kind, connectionID string, ok bool) {
	parts := strings.SplitN(customID, ":", 4)
	if len(parts) != 4 || parts[0] != CustomIDPrefix {
		return "", "", "", false
	}
	return parts[1], entity.Kind(parts[2]), parts[3], true
}

// PostMessage renders the initial interactive post for an entity.
func PostMessage(connectionID string, e *entity.Entity) *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{buildEmbed(e)},
		Components: buildComponents(connectionID, e, false),
	}
}

// EditMessage renders an edit that syncs the post with a fresh projection.
// Entry controls are disabled once the entity is terminal.
func EditMessage(channelID, messageID, connectionID string, e *entity.Entity) *discordgo.MessageEdit {
	embeds := []*discordgo.MessageEmbed{buildEmbed(e)}
	components := buildComponents(connectionID, e, e.State.Terminal())
	edit := discordgo.NewMessageEdit(channelID, messageID)
	edit.Embeds = &embeds
	edit.Components = &components
	return edit
}

// UnboundEdit renders the terminal form shown when an operator unbinds a
// connection.
func UnboundEdit(channelID, messageID string, e *entity.Entity) *discordgo.MessageEdit {
	embed := buildEmbed(e)
	embed.Color = colorEnded
	embed.Footer = &discordgo.MessageEmbedFooter{Text: "This post is no longer active."}
	embeds := []*discordgo.MessageEmbed{embed}
	components := []discordgo.MessageComponent{}
	edit := discordgo.NewMessageEdit(channelID, messageID)
	edit.Embeds = &embeds
	edit.Components = &components
	return edit
}

// EndNotification is the one-shot channel message posted when an entity ends.
func EndNotification(e *entity.Entity) string {
	switch e.Kind {
	case entity.KindAllowlist:
		msg := fmt.Sprintf("**%s** has closed.", e.Title)
		if e.WinnerCount > 0 {
			msg += fmt.Sprintf(" %d winners will be drawn from %d entries.", e.WinnerCount, e.EntryCount)
		}
		return msg
	default:
		return fmt.Sprintf("**%s** has ended. %d members completed it.", e.Title, e.EntryCount)
	}
}

func buildEmbed(e *entity.Entity) *discordgo.MessageEmbed {
	color := colorActive
	if e.State.Terminal() {
		color = colorEnded
	}

	embed := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       color,
	}

	if e.Kind == entity.KindTask && e.Points > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "Reward", Value: fmt.Sprintf("%d points", e.Points), Inline: true,
		})
	}

	entries := fmt.Sprintf("%d", e.EntryCount)
	if e.Capacity > 0 {
		entries = fmt.Sprintf("%d / %d", e.EntryCount, e.Capacity)
	}
	label := "Completions"
	if e.Kind == entity.KindAllowlist {
		label = "Entries"
	}
	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
		Name: label, Value: entries, Inline: true,
	})

	if e.Kind == entity.KindAllowlist && e.WinnerCount > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "Winners", Value: fmt.Sprintf("%d", e.WinnerCount), Inline: true,
		})
	}

	if e.EndTime != nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "Ends", Value: fmt.Sprintf("<t:%d:R>", e.EndTime.Unix()), Inline: true,
		})
	}

	if e.State.Terminal() {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: "Ended"}
	}

	return embed
}

func buildComponents(connectionID string, e *entity.Entity, disabled bool) []discordgo.MessageComponent {
	enterLabel := "Complete"
	if e.Kind == entity.KindAllowlist {
		enterLabel = "Enter"
	}

	row := discordgo.ActionsRow{
		Components: []discordgo.MessageComponent{
			discordgo.Button{
				Label:    enterLabel,
				Style:    discordgo.PrimaryButton,
				CustomID: EntryCustomID(e.Kind, connectionID),
				Disabled: disabled,
			},
		},
	}
	if len(e.Requirements) > 0 {
		row.Components = append(row.Components, discordgo.Button{
			Label:    "Requirements",
			Style:    discordgo.SecondaryButton,
			CustomID: DetailCustomID(e.Kind, connectionID),
			Disabled: false,
		})
	}
	return []discordgo.MessageComponent{row}
}

// TimestampShort renders a Discord-native short timestamp.
func TimestampShort(t time.Time) string {
	return fmt.Sprintf("<t:%d:f>", t.Unix())
}
