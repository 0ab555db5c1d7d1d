// Package engine is the operator-facing facade: it binds entities to chat
// messages, tears bindings down and routes component interactions to the
// entry pipeline.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/questbridge/bot/pkg/app/errors"
	"github.com/questbridge/bot/pkg/backend"
	"github.com/questbridge/bot/pkg/content"
	"github.com/questbridge/bot/pkg/entity"
	"github.com/questbridge/bot/pkg/entry"
	"github.com/questbridge/bot/pkg/gateway"
	"github.com/questbridge/bot/pkg/kv"
	"github.com/questbridge/bot/pkg/store"
	"github.com/questbridge/bot/pkg/verify"
)

// Store is the repository surface the engine needs.
type Store interface {
	CreateConnection(ctx context.Context, conn *store.Connection) error
	GetConnection(ctx context.Context, id string) (*store.Connection, error)
	GetActiveConnectionByEntity(ctx context.Context, guildID, entityID string) (*store.Connection, error)
	SetConnectionState(ctx context.Context, id string, state store.ConnState) error
	GetActiveLink(ctx context.Context, chatUserID string) (*store.AccountLink, error)
	InsertInteractionLog(ctx context.Context, log *store.InteractionLog) error
}

// Backend is the web-service surface the engine needs.
type Backend interface {
	GetEntity(ctx context.Context, kind entity.Kind, id string) (*entity.Entity, error)
	NotifyBinding(ctx context.Context, n *backend.BindingNotification) error
	NotifyUnbinding(ctx context.Context, entityID, guildID string) error
}

// Messenger is the gateway surface the engine needs.
type Messenger interface {
	Guild(ctx context.Context, guildID string) (*discordgo.Guild, error)
	PostMessage(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error)
	EditMessage(ctx context.Context, edit *discordgo.MessageEdit) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	DeferInteraction(ctx context.Context, i *discordgo.Interaction, ephemeral bool) error
	FollowUp(ctx context.Context, i *discordgo.Interaction, params *discordgo.WebhookParams) error
}

// EntryRunner runs the staged entry flow for one interaction.
type EntryRunner interface {
	Run(ctx context.Context, req entry.Request) *entry.Result
}

// Sessions caches short-lived per-interaction state. A nil Sessions
// disables caching.
type Sessions interface {
	PutSession(ctx context.Context, key string, value any, ttl time.Duration) error
	GetSession(ctx context.Context, key string, out any) (bool, error)
}

// Engine wires bindings, interactions and the pipeline together.
type Engine struct {
	store     Store
	backend   Backend
	gw        Messenger
	pipeline  EntryRunner
	verifiers *verify.Registry
	sessions  Sessions
	refresh   func(connectionID string)
	linkURL   string
	logger    *zap.Logger
}

// New creates an Engine.
func New(st Store, be Backend, gw Messenger, pipeline EntryRunner, verifiers *verify.Registry, sessions Sessions, refresh func(string), linkURL string, logger *zap.Logger) *Engine {
	return &Engine{
		store:     st,
		backend:   be,
		gw:        gw,
		pipeline:  pipeline,
		verifiers: verifiers,
		sessions:  sessions,
		refresh:   refresh,
		linkURL:   linkURL,
		logger:    logger,
	}
}

// Bind posts an interactive message for the entity and persists the
// connection. At most one non-archived connection may exist per
// (guild, entity); the unique index backs that up if two operators race.
func (e *Engine) Bind(ctx context.Context, kind entity.Kind, entityID, guildID, channelID, operatorID string) (*store.Connection, error) {
	if _, err := e.store.GetActiveConnectionByEntity(ctx, guildID, entityID); err == nil {
		return nil, apperrors.New(apperrors.CategoryConflict, "entity is already bound in this server")
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.Internal(err)
	}

	if _, err := e.gw.Guild(ctx, guildID); err != nil {
		if gateway.IsKind(err, gateway.KindNotFound) || gateway.IsKind(err, gateway.KindForbidden) {
			return nil, apperrors.New(apperrors.CategoryInputValidation, "bot is not installed in that server")
		}
		return nil, apperrors.Transport(err)
	}

	ent, err := e.backend.GetEntity(ctx, kind, entityID)
	if errors.Is(err, backend.ErrNotFound) {
		return nil, apperrors.NotFound("entity not found")
	}
	if errors.Is(err, backend.ErrNotAuthorized) {
		return nil, apperrors.New(apperrors.CategoryNotAuthorized, "not authorized for this entity")
	}
	if err != nil {
		return nil, apperrors.Transport(err)
	}
	if ent.State.Terminal() {
		return nil, apperrors.New(apperrors.CategoryInputValidation, "entity has already ended")
	}

	conn := &store.Connection{
		ID:         uuid.NewString(),
		Kind:       kind,
		EntityID:   entityID,
		GuildID:    guildID,
		ChannelID:  channelID,
		Projection: ent,
		State:      store.ConnActive,
		CreatedBy:  operatorID,
		CreatedAt:  time.Now().UTC(),
	}

	msg, err := e.gw.PostMessage(ctx, channelID, content.PostMessage(conn.ID, ent))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryTransport, "failed to post message", err)
	}
	conn.MessageID = msg.ID

	if err := e.store.CreateConnection(ctx, conn); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Lost the race; take our orphan message back down.
			e.cleanupOrphan(ctx, channelID, msg.ID)
			return nil, apperrors.New(apperrors.CategoryConflict, "entity is already bound in this server")
		}
		return nil, apperrors.Internal(err)
	}

	// The notification carries the guild id; the backend checks it against
	// the entity's community and a rejection means the bind must not stand.
	// Transport failures stay best effort, the reconciler converges those.
	if err := e.backend.NotifyBinding(ctx, &backend.BindingNotification{
		EntityID:  entityID,
		Kind:      kind,
		GuildID:   guildID,
		ChannelID: channelID,
		MessageID: msg.ID,
		BoundBy:   operatorID,
	}); err != nil {
		if errors.Is(err, backend.ErrNotAuthorized) {
			e.rollbackBind(ctx, conn)
			return nil, apperrors.New(apperrors.CategoryNotAuthorized, "entity does not belong to this server's community")
		}
		e.logger.Warn("Failed to notify backend of binding",
			zap.String("connection_id", conn.ID), zap.Error(err))
	}

	e.logger.Info("Entity bound",
		zap.String("connection_id", conn.ID),
		zap.String("entity_id", entityID),
		zap.String("guild_id", guildID),
		zap.String("kind", string(kind)))
	return conn, nil
}

// rollbackBind undoes a bind the backend refused: the connection is
// archived and the posted message taken down.
func (e *Engine) rollbackBind(ctx context.Context, conn *store.Connection) {
	if err := e.store.SetConnectionState(ctx, conn.ID, store.ConnArchived); err != nil {
		e.logger.Error("Failed to archive refused binding",
			zap.String("connection_id", conn.ID), zap.Error(err))
	}
	e.cleanupOrphan(ctx, conn.ChannelID, conn.MessageID)
}

func (e *Engine) cleanupOrphan(ctx context.Context, channelID, messageID string) {
	if err := e.gw.DeleteMessage(ctx, channelID, messageID); err != nil {
		e.logger.Warn("Failed to remove orphan message",
			zap.String("message_id", messageID), zap.Error(err))
	}
}

// Unbind archives the connection and disables the posted message. The
// message itself stays behind as a record.
func (e *Engine) Unbind(ctx context.Context, guildID, entityID string) error {
	conn, err := e.store.GetActiveConnectionByEntity(ctx, guildID, entityID)
	if errors.Is(err, store.ErrNotFound) {
		return apperrors.NotFound("entity is not bound in this server")
	}
	if err != nil {
		return apperrors.Internal(err)
	}

	if err := e.store.SetConnectionState(ctx, conn.ID, store.ConnArchived); err != nil {
		return apperrors.Internal(err)
	}

	if err := e.gw.EditMessage(ctx, content.UnboundEdit(conn.ChannelID, conn.MessageID, conn.Projection)); err != nil {
		if !gateway.IsKind(err, gateway.KindNotFound) {
			e.logger.Warn("Failed to disable message on unbind",
				zap.String("connection_id", conn.ID), zap.Error(err))
		}
	}

	if err := e.backend.NotifyUnbinding(ctx, entityID, guildID); err != nil {
		e.logger.Warn("Failed to notify backend of unbinding",
			zap.String("connection_id", conn.ID), zap.Error(err))
	}

	e.logger.Info("Entity unbound",
		zap.String("connection_id", conn.ID),
		zap.String("entity_id", entityID),
		zap.String("guild_id", guildID))
	return nil
}

// RouteInteraction dispatches a component interaction. It acknowledges
// within the platform deadline, runs the matching flow and follows up
// with an ephemeral reply.
func (e *Engine) RouteInteraction(ctx context.Context, i *discordgo.Interaction) {
	data, ok := componentData(i)
	if !ok {
		return
	}
	action, kind, connID, ok := content.ParseCustomID(data.CustomID)
	if !ok {
		return
	}

	if err := e.gw.DeferInteraction(ctx, i, true); err != nil {
		e.logger.Warn("Failed to acknowledge interaction",
			zap.String("custom_id", data.CustomID), zap.Error(err))
		return
	}

	userID := interactionUserID(i)
	var reply string
	switch action {
	case "enter":
		res := e.pipeline.Run(ctx, entry.Request{
			ConnectionID: connID,
			ChatUserID:   userID,
			GuildID:      i.GuildID,
			Kind:         kind,
			StartedAt:    time.Now().UTC(),
		})
		reply = content.OutcomeMessage(kind, res)
		e.audit(i, connID, data.CustomID, action, string(res.Outcome))
	case "detail":
		reply = e.detailView(ctx, connID, userID, i.GuildID)
		e.audit(i, connID, data.CustomID, action, "shown")
	default:
		return
	}

	if err := e.gw.FollowUp(ctx, i, &discordgo.WebhookParams{
		Content: reply,
		Flags:   discordgo.MessageFlagsEphemeral,
	}); err != nil {
		e.logger.Warn("Failed to deliver follow-up",
			zap.String("connection_id", connID), zap.Error(err))
	}
}

// detailView renders the per-user requirements checklist. Checks here are
// informational; the pipeline re-verifies on entry.
func (e *Engine) detailView(ctx context.Context, connID, chatUserID, guildID string) string {
	// The checklist runs the whole verifier fan-out; repeated clicks
	// within the cache window reuse the rendered result.
	sessKey := kv.SessionKey("detail:" + connID + ":" + chatUserID)
	if e.sessions != nil {
		var cached string
		if ok, err := e.sessions.GetSession(ctx, sessKey, &cached); err == nil && ok {
			return cached
		}
	}

	conn, err := e.store.GetConnection(ctx, connID)
	if err != nil {
		return "This post is no longer available."
	}
	ent := conn.Projection

	linked := true
	subject := verify.Subject{ChatUserID: chatUserID, GuildID: guildID}
	link, err := e.store.GetActiveLink(ctx, chatUserID)
	if err != nil {
		linked = false
	} else {
		subject.RemoteUserID = link.RemoteUserID
	}

	vctx := verify.WithEntityID(ctx, ent.ID)
	rows := make([]content.RequirementStatus, 0, len(ent.Requirements))
	for _, req := range ent.Requirements {
		row := content.RequirementStatus{Requirement: req}
		if linked {
			out, verr := e.verifiers.Verify(vctx, req, subject)
			if verr == nil {
				row.Checked = true
				row.Met = out.OK
				row.Pending = out.PendingReview
				row.Reason = out.Reason
			}
		}
		rows = append(rows, row)
	}

	msg := content.DetailMessage(ent, rows, linked, e.linkURL)
	if e.sessions != nil {
		if err := e.sessions.PutSession(ctx, sessKey, msg, 30*time.Second); err != nil {
			e.logger.Debug("Failed to cache detail view", zap.Error(err))
		}
	}
	return msg
}

func (e *Engine) audit(i *discordgo.Interaction, connID, customID, action, outcome string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := e.store.InsertInteractionLog(ctx, &store.InteractionLog{
		ID:           uuid.NewString(),
		GuildID:      i.GuildID,
		ConnectionID: connID,
		ChatUserID:   interactionUserID(i),
		CustomID:     customID,
		Action:       action,
		Outcome:      outcome,
	})
	if err != nil {
		e.logger.Warn("Failed to record interaction log",
			zap.String("connection_id", connID), zap.Error(err))
	}
}

func componentData(i *discordgo.Interaction) (discordgo.MessageComponentInteractionData, bool) {
	if i.Type != discordgo.InteractionMessageComponent {
		return discordgo.MessageComponentInteractionData{}, false
	}
	return i.MessageComponentData(), true
}

func interactionUserID(i *discordgo.Interaction) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
