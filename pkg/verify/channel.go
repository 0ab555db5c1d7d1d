package verify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/questbridge/bot/pkg/entity"
	"github.com/questbridge/bot/pkg/gateway"
)

// PermissionResolver is the narrow gateway surface the channel verifier needs.
type PermissionResolver interface {
	ChannelPermissions(ctx context.Context, channelID, userID string) (int64, error)
}

// ChannelVerifier checks that the user can see the requirement's channel.
// Membership in a channel is modelled as holding the view permission.
type ChannelVerifier struct {
	gw PermissionResolver
}

// NewChannelVerifier builds a channel-membership verifier over the gateway.
func NewChannelVerifier(gw PermissionResolver) *ChannelVerifier {
	return &ChannelVerifier{gw: gw}
}

func (v *ChannelVerifier) Verify(ctx context.Context, req entity.Requirement, subject Subject) (*Outcome, error) {
	if req.Target == "" {
		return nil, fmt.Errorf("channel requirement %q has no target channel", req.ID)
	}

	perms, err := v.gw.ChannelPermissions(ctx, req.Target, subject.ChatUserID)
	if err != nil {
		if gateway.IsKind(err, gateway.KindNotFound) {
			return &Outcome{
				OK:       false,
				Reason:   "not-in-channel",
				Guidance: "Join the required channel and try again.",
			}, nil
		}
		if gateway.IsKind(err, gateway.KindForbidden) || gateway.IsKind(err, gateway.KindUnreachable) {
			return &Outcome{OK: false, Reason: "channel-unreachable"}, nil
		}
		return nil, fmt.Errorf("failed to resolve channel permissions: %w", err)
	}

	if perms&discordgo.PermissionViewChannel == 0 {
		return &Outcome{
			OK:       false,
			Reason:   "not-in-channel",
			Guidance: "Join the required channel and try again.",
		}, nil
	}
	return &Outcome{OK: true}, nil
}
