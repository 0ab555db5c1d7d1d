package reconcile

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/questbridge/bot/pkg/entity"
	"github.com/questbridge/bot/pkg/store"
)

// MockStore is a func-field mock of the reconciler's Store interface.
type MockStore struct {
	ListActiveConnectionsFunc   func(ctx context.Context) ([]*store.Connection, error)
	ListEndedBeforeFunc         func(ctx context.Context, cutoff time.Time) ([]*store.Connection, error)
	ListConnectionsByEntityFunc func(ctx context.Context, entityID string) ([]*store.Connection, error)
	GetConnectionFunc           func(ctx context.Context, id string) (*store.Connection, error)
	UpdateProjectionFunc        func(ctx context.Context, id string, proj *entity.Entity, reconciledAt time.Time) error
	TouchReconciledFunc         func(ctx context.Context, id string, reconciledAt time.Time) error
	SetConnectionStateFunc      func(ctx context.Context, id string, state store.ConnState) error
	ClaimEndNotificationFunc    func(ctx context.Context, id string, at time.Time) (bool, error)
	CountAcceptedAttemptsFunc   func(ctx context.Context, connectionID string) (int64, error)
}

func (m *MockStore) ListActiveConnections(ctx context.Context) ([]*store.Connection, error) {
	if m.ListActiveConnectionsFunc != nil {
		return m.ListActiveConnectionsFunc(ctx)
	}
	return nil, nil
}

func (m *MockStore) ListEndedBefore(ctx context.Context, cutoff time.Time) ([]*store.Connection, error) {
	if m.ListEndedBeforeFunc != nil {
		return m.ListEndedBeforeFunc(ctx, cutoff)
	}
	return nil, nil
}

func (m *MockStore) ListConnectionsByEntity(ctx context.Context, entityID string) ([]*store.Connection, error) {
	if m.ListConnectionsByEntityFunc != nil {
		return m.ListConnectionsByEntityFunc(ctx, entityID)
	}
	return nil, nil
}

func (m *MockStore) GetConnection(ctx context.Context, id string) (*store.Connection, error) {
	if m.GetConnectionFunc != nil {
		return m.GetConnectionFunc(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) UpdateProjection(ctx context.Context, id string, proj *entity.Entity, reconciledAt time.Time) error {
	if m.UpdateProjectionFunc != nil {
		return m.UpdateProjectionFunc(ctx, id, proj, reconciledAt)
	}
	return nil
}

func (m *MockStore) TouchReconciled(ctx context.Context, id string, reconciledAt time.Time) error {
	if m.TouchReconciledFunc != nil {
		return m.TouchReconciledFunc(ctx, id, reconciledAt)
	}
	return nil
}

func (m *MockStore) SetConnectionState(ctx context.Context, id string, state store.ConnState) error {
	if m.SetConnectionStateFunc != nil {
		return m.SetConnectionStateFunc(ctx, id, state)
	}
	return nil
}

func (m *MockStore) ClaimEndNotification(ctx context.Context, id string, at time.Time) (bool, error) {
	if m.ClaimEndNotificationFunc != nil {
		return m.ClaimEndNotificationFunc(ctx, id, at)
	}
	return true, nil
}

func (m *MockStore) CountAcceptedAttempts(ctx context.Context, connectionID string) (int64, error) {
	if m.CountAcceptedAttemptsFunc != nil {
		return m.CountAcceptedAttemptsFunc(ctx, connectionID)
	}
	return 0, nil
}

// MockBackend is a func-field mock of the reconciler's Backend interface.
type MockBackend struct {
	GetEntityFunc func(ctx context.Context, kind entity.Kind, id string) (*entity.Entity, error)
}

func (m *MockBackend) GetEntity(ctx context.Context, kind entity.Kind, id string) (*entity.Entity, error) {
	if m.GetEntityFunc != nil {
		return m.GetEntityFunc(ctx, kind, id)
	}
	return nil, nil
}

// MockMessenger is a func-field mock of the reconciler's Messenger interface.
type MockMessenger struct {
	EditMessageFunc func(ctx context.Context, edit *discordgo.MessageEdit) error
	SendTextFunc    func(ctx context.Context, channelID, content string) error
}

func (m *MockMessenger) EditMessage(ctx context.Context, edit *discordgo.MessageEdit) error {
	if m.EditMessageFunc != nil {
		return m.EditMessageFunc(ctx, edit)
	}
	return nil
}

func (m *MockMessenger) SendText(ctx context.Context, channelID, content string) error {
	if m.SendTextFunc != nil {
		return m.SendTextFunc(ctx, channelID, content)
	}
	return nil
}
