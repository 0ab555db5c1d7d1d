package engine

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/questbridge/bot/pkg/backend"
	"github.com/questbridge/bot/pkg/entity"
	"github.com/questbridge/bot/pkg/entry"
	"github.com/questbridge/bot/pkg/store"
)

// MockStore is a func-field mock of the engine's Store interface.
type MockStore struct {
	CreateConnectionFunc            func(ctx context.Context, conn *store.Connection) error
	GetConnectionFunc               func(ctx context.Context, id string) (*store.Connection, error)
	GetActiveConnectionByEntityFunc func(ctx context.Context, guildID, entityID string) (*store.Connection, error)
	SetConnectionStateFunc          func(ctx context.Context, id string, state store.ConnState) error
	GetActiveLinkFunc               func(ctx context.Context, chatUserID string) (*store.AccountLink, error)
	InsertInteractionLogFunc        func(ctx context.Context, log *store.InteractionLog) error
}

func (m *MockStore) CreateConnection(ctx context.Context, conn *store.Connection) error {
	if m.CreateConnectionFunc != nil {
		return m.CreateConnectionFunc(ctx, conn)
	}
	return nil
}

func (m *MockStore) GetConnection(ctx context.Context, id string) (*store.Connection, error) {
	if m.GetConnectionFunc != nil {
		return m.GetConnectionFunc(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) GetActiveConnectionByEntity(ctx context.Context, guildID, entityID string) (*store.Connection, error) {
	if m.GetActiveConnectionByEntityFunc != nil {
		return m.GetActiveConnectionByEntityFunc(ctx, guildID, entityID)
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) SetConnectionState(ctx context.Context, id string, state store.ConnState) error {
	if m.SetConnectionStateFunc != nil {
		return m.SetConnectionStateFunc(ctx, id, state)
	}
	return nil
}

func (m *MockStore) GetActiveLink(ctx context.Context, chatUserID string) (*store.AccountLink, error) {
	if m.GetActiveLinkFunc != nil {
		return m.GetActiveLinkFunc(ctx, chatUserID)
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) InsertInteractionLog(ctx context.Context, log *store.InteractionLog) error {
	if m.InsertInteractionLogFunc != nil {
		return m.InsertInteractionLogFunc(ctx, log)
	}
	return nil
}

// MockBackend is a func-field mock of the engine's Backend interface.
type MockBackend struct {
	GetEntityFunc       func(ctx context.Context, kind entity.Kind, id string) (*entity.Entity, error)
	NotifyBindingFunc   func(ctx context.Context, n *backend.BindingNotification) error
	NotifyUnbindingFunc func(ctx context.Context, entityID, guildID string) error
}

func (m *MockBackend) GetEntity(ctx context.Context, kind entity.Kind, id string) (*entity.Entity, error) {
	if m.GetEntityFunc != nil {
		return m.GetEntityFunc(ctx, kind, id)
	}
	return &entity.Entity{ID: id, Kind: kind, State: entity.StateActive}, nil
}

func (m *MockBackend) NotifyBinding(ctx context.Context, n *backend.BindingNotification) error {
	if m.NotifyBindingFunc != nil {
		return m.NotifyBindingFunc(ctx, n)
	}
	return nil
}

func (m *MockBackend) NotifyUnbinding(ctx context.Context, entityID, guildID string) error {
	if m.NotifyUnbindingFunc != nil {
		return m.NotifyUnbindingFunc(ctx, entityID, guildID)
	}
	return nil
}

// MockMessenger is a func-field mock of the engine's Messenger interface.
type MockMessenger struct {
	GuildFunc            func(ctx context.Context, guildID string) (*discordgo.Guild, error)
	PostMessageFunc      func(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error)
	EditMessageFunc      func(ctx context.Context, edit *discordgo.MessageEdit) error
	DeleteMessageFunc    func(ctx context.Context, channelID, messageID string) error
	DeferInteractionFunc func(ctx context.Context, i *discordgo.Interaction, ephemeral bool) error
	FollowUpFunc         func(ctx context.Context, i *discordgo.Interaction, params *discordgo.WebhookParams) error
}

func (m *MockMessenger) Guild(ctx context.Context, guildID string) (*discordgo.Guild, error) {
	if m.GuildFunc != nil {
		return m.GuildFunc(ctx, guildID)
	}
	return &discordgo.Guild{ID: guildID}, nil
}

func (m *MockMessenger) PostMessage(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	if m.PostMessageFunc != nil {
		return m.PostMessageFunc(ctx, channelID, msg)
	}
	return &discordgo.Message{ID: "msg-1", ChannelID: channelID}, nil
}

func (m *MockMessenger) EditMessage(ctx context.Context, edit *discordgo.MessageEdit) error {
	if m.EditMessageFunc != nil {
		return m.EditMessageFunc(ctx, edit)
	}
	return nil
}

func (m *MockMessenger) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if m.DeleteMessageFunc != nil {
		return m.DeleteMessageFunc(ctx, channelID, messageID)
	}
	return nil
}

func (m *MockMessenger) DeferInteraction(ctx context.Context, i *discordgo.Interaction, ephemeral bool) error {
	if m.DeferInteractionFunc != nil {
		return m.DeferInteractionFunc(ctx, i, ephemeral)
	}
	return nil
}

func (m *MockMessenger) FollowUp(ctx context.Context, i *discordgo.Interaction, params *discordgo.WebhookParams) error {
	if m.FollowUpFunc != nil {
		return m.FollowUpFunc(ctx, i, params)
	}
	return nil
}

// MockEntryRunner is a func-field mock of the EntryRunner interface.
type MockEntryRunner struct {
	RunFunc func(ctx context.Context, req entry.Request) *entry.Result
}

func (m *MockEntryRunner) Run(ctx context.Context, req entry.Request) *entry.Result {
	if m.RunFunc != nil {
		return m.RunFunc(ctx, req)
	}
	return &entry.Result{Outcome: entry.OutcomeAccepted, Stage: entry.StagePostActions}
}

// MockSessions is a func-field mock of the Sessions interface.
type MockSessions struct {
	PutSessionFunc func(ctx context.Context, key string, value any, ttl time.Duration) error
	GetSessionFunc func(ctx context.Context, key string, out any) (bool, error)
}

func (m *MockSessions) PutSession(ctx context.Context, key string, value any, ttl time.Duration) error {
	if m.PutSessionFunc != nil {
		return m.PutSessionFunc(ctx, key, value, ttl)
	}
	return nil
}

func (m *MockSessions) GetSession(ctx context.Context, key string, out any) (bool, error) {
	if m.GetSessionFunc != nil {
		return m.GetSessionFunc(ctx, key, out)
	}
	return false, nil
}
