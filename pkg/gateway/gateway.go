// Package gateway is the single component allowed to talk to the chat
// platform. It enforces per-destination rate limits and a uniform error
// taxonomy; no other package performs platform I/O.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/questbridge/bot/internal/metrics"
)

// Gateway wraps the platform session behind rate-limited, context-aware
// operations.
type Gateway struct {
	session *discordgo.Session
	logger  *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates the gateway adapter around an opened session.
func New(session *discordgo.Session, logger *zap.Logger) *Gateway {
	return &Gateway{
		session:  session,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// limiter returns the token bucket for a destination scope: one refill per
// second with a burst of 5, which stays inside the platform's per-channel
// message limit.
func (g *Gateway) limiter(scope string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	lim, ok := g.limiters[scope]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Second), 5)
		g.limiters[scope] = lim
	}
	return lim
}

func (g *Gateway) throttle(ctx context.Context, scope string) error {
	start := time.Now()
	if err := g.limiter(scope).Wait(ctx); err != nil {
		return &Error{Kind: KindTransient, Op: "throttle", Err: err}
	}
	metrics.GatewayThrottle.Observe(time.Since(start).Seconds())
	return nil
}

func (g *Gateway) observe(op string, err error) {
	result := "ok"
	if err != nil {
		var gwErr *Error
		if e, ok := err.(*Error); ok {
			gwErr = e
		}
		if gwErr != nil {
			result = gwErr.Kind.String()
		} else {
			result = "error"
		}
	}
	metrics.GatewayRequests.WithLabelValues(op, result).Inc()
}

// PostMessage posts a rich message to a channel.
func (g *Gateway) PostMessage(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	if err := g.throttle(ctx, channelID); err != nil {
		return nil, err
	}
	posted, err := g.session.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx))
	err = normalize("post_message", err)
	g.observe("post_message", err)
	if err != nil {
		return nil, err
	}
	return posted, nil
}

// EditMessage edits an existing message in place. An edit against a deleted
// message surfaces as a NotFound gateway error.
func (g *Gateway) EditMessage(ctx context.Context, edit *discordgo.MessageEdit) error {
	if err := g.throttle(ctx, edit.Channel); err != nil {
		return err
	}
	_, err := g.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	err = normalize("edit_message", err)
	g.observe("edit_message", err)
	return err
}

// SendText posts a plain text message to a channel.
func (g *Gateway) SendText(ctx context.Context, channelID, content string) error {
	if err := g.throttle(ctx, channelID); err != nil {
		return err
	}
	_, err := g.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	err = normalize("send_text", err)
	g.observe("send_text", err)
	return err
}

// Guild fetches a guild.
func (g *Gateway) Guild(ctx context.Context, guildID string) (*discordgo.Guild, error) {
	if err := g.throttle(ctx, guildID); err != nil {
		return nil, err
	}
	guild, err := g.session.Guild(guildID, discordgo.WithContext(ctx))
	err = normalize("guild", err)
	g.observe("guild", err)
	if err != nil {
		return nil, err
	}
	return guild, nil
}

// GuildMember fetches a member of a guild.
func (g *Gateway) GuildMember(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	if err := g.throttle(ctx, guildID); err != nil {
		return nil, err
	}
	member, err := g.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	err = normalize("guild_member", err)
	g.observe("guild_member", err)
	if err != nil {
		return nil, err
	}
	return member, nil
}

// GuildRoles fetches the role list for a guild, for id-or-name matching.
func (g *Gateway) GuildRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	if err := g.throttle(ctx, guildID); err != nil {
		return nil, err
	}
	roles, err := g.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	err = normalize("guild_roles", err)
	g.observe("guild_roles", err)
	if err != nil {
		return nil, err
	}
	return roles, nil
}

// DeleteMessage removes a message. Deleting an already-gone message is
// reported as NotFound.
func (g *Gateway) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := g.throttle(ctx, channelID); err != nil {
		return err
	}
	err := g.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
	err = normalize("delete_message", err)
	g.observe("delete_message", err)
	return err
}

// ChannelPermissions resolves the effective permission bits a user holds in
// a channel.
func (g *Gateway) ChannelPermissions(ctx context.Context, channelID, userID string) (int64, error) {
	if err := g.throttle(ctx, channelID); err != nil {
		return 0, err
	}
	perms, err := g.session.UserChannelPermissions(userID, channelID, discordgo.WithContext(ctx))
	err = normalize("channel_permissions", err)
	g.observe("channel_permissions", err)
	if err != nil {
		return 0, err
	}
	return perms, nil
}

// DeferInteraction acknowledges an interaction within the platform's
// deferral window. It deliberately skips the token bucket: the ack budget
// is 3 seconds and an interaction ack has its own allowance.
func (g *Gateway) DeferInteraction(ctx context.Context, i *discordgo.Interaction, ephemeral bool) error {
	data := &discordgo.InteractionResponseData{}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := g.session.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: data,
	}, discordgo.WithContext(ctx))
	err = normalize("defer_interaction", err)
	g.observe("defer_interaction", err)
	return err
}

// FollowUp sends the deferred reply for an interaction.
func (g *Gateway) FollowUp(ctx context.Context, i *discordgo.Interaction, params *discordgo.WebhookParams) error {
	if err := g.throttle(ctx, i.ChannelID); err != nil {
		return err
	}
	_, err := g.session.FollowupMessageCreate(i, true, params, discordgo.WithContext(ctx))
	err = normalize("follow_up", err)
	g.observe("follow_up", err)
	return err
}
