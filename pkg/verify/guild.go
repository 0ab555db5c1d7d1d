package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/questbridge/bot/pkg/entity"
	"github.com/questbridge/bot/pkg/gateway"
)

// MemberFetcher is the narrow gateway surface the guild verifier needs.
type MemberFetcher interface {
	GuildMember(ctx context.Context, guildID, userID string) (*discordgo.Member, error)
	GuildRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error)
}

// GuildVerifier checks chat-server membership and, when the requirement
// names roles, that the member holds at least one of them. Role entries
// match by id or by name; id wins on conflict.
type GuildVerifier struct {
	gw MemberFetcher
}

// NewGuildVerifier builds a guild-membership verifier over the gateway.
func NewGuildVerifier(gw MemberFetcher) *GuildVerifier {
	return &GuildVerifier{gw: gw}
}

func (v *GuildVerifier) Verify(ctx context.Context, req entity.Requirement, subject Subject) (*Outcome, error) {
	guildID := req.Target
	if guildID == "" {
		guildID = subject.GuildID
	}

	member, err := v.gw.GuildMember(ctx, guildID, subject.ChatUserID)
	if err != nil {
		if gateway.IsKind(err, gateway.KindNotFound) {
			return &Outcome{
				OK:       false,
				Reason:   "not-a-member",
				Guidance: "Join the required server and try again.",
			}, nil
		}
		if gateway.IsKind(err, gateway.KindForbidden) || gateway.IsKind(err, gateway.KindUnreachable) {
			return &Outcome{
				OK:     false,
				Reason: "guild-unreachable",
			}, nil
		}
		return nil, fmt.Errorf("failed to fetch member: %w", err)
	}

	if len(req.Roles) == 0 {
		return &Outcome{OK: true, Evidence: map[string]any{"memberSince": member.JoinedAt}}, nil
	}

	roles, err := v.gw.GuildRoles(ctx, guildID)
	if err != nil {
		return &Outcome{OK: false, Reason: "guild-unreachable"}, nil
	}

	wanted := resolveRoleIDs(req.Roles, roles)
	for _, held := range member.Roles {
		if _, ok := wanted[held]; ok {
			return &Outcome{OK: true, Evidence: map[string]any{"roleId": held}}, nil
		}
	}

	return &Outcome{
		OK:       false,
		Reason:   "role-missing",
		Guidance: fmt.Sprintf("You need one of the roles: %s", strings.Join(req.Roles, ", ")),
	}, nil
}

// resolveRoleIDs turns a mixed list of role ids and names into a set of ids.
// An entry matching an existing role id is taken as an id even if some role
// shares it as a name.
func resolveRoleIDs(entries []string, roles []*discordgo.Role) map[string]struct{} {
	byID := make(map[string]struct{}, len(roles))
	byName := make(map[string]string, len(roles))
	for _, r := range roles {
		byID[r.ID] = struct{}{}
		byName[strings.ToLower(r.Name)] = r.ID
	}

	wanted := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, ok := byID[e]; ok {
			wanted[e] = struct{}{}
			continue
		}
		if id, ok := byName[strings.ToLower(e)]; ok {
			wanted[id] = struct{}{}
		}
	}
	return wanted
}
