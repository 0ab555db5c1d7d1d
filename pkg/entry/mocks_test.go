package entry

import (
	"context"
	"time"

	"github.com/questbridge/bot/pkg/backend"
	"github.com/questbridge/bot/pkg/entity"
	"github.com/questbridge/bot/pkg/store"
	"github.com/questbridge/bot/pkg/verify"
)

// MockStore is a func-field mock of the pipeline's Store interface.
type MockStore struct {
	GetConnectionFunc      func(ctx context.Context, id string) (*store.Connection, error)
	GetActiveLinkFunc      func(ctx context.Context, chatUserID string) (*store.AccountLink, error)
	TouchLinkFunc          func(ctx context.Context, chatUserID string, at time.Time) error
	GetAcceptedAttemptFunc func(ctx context.Context, connectionID, chatUserID string) (*store.EntryAttempt, error)
	CreateAttemptFunc      func(ctx context.Context, attempt *store.EntryAttempt) error
	IncEntryCountFunc      func(ctx context.Context, id string) error
}

func (m *MockStore) GetConnection(ctx context.Context, id string) (*store.Connection, error) {
	if m.GetConnectionFunc != nil {
		return m.GetConnectionFunc(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) GetActiveLink(ctx context.Context, chatUserID string) (*store.AccountLink, error) {
	if m.GetActiveLinkFunc != nil {
		return m.GetActiveLinkFunc(ctx, chatUserID)
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) TouchLink(ctx context.Context, chatUserID string, at time.Time) error {
	if m.TouchLinkFunc != nil {
		return m.TouchLinkFunc(ctx, chatUserID, at)
	}
	return nil
}

func (m *MockStore) GetAcceptedAttempt(ctx context.Context, connectionID, chatUserID string) (*store.EntryAttempt, error) {
	if m.GetAcceptedAttemptFunc != nil {
		return m.GetAcceptedAttemptFunc(ctx, connectionID, chatUserID)
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) CreateAttempt(ctx context.Context, attempt *store.EntryAttempt) error {
	if m.CreateAttemptFunc != nil {
		return m.CreateAttemptFunc(ctx, attempt)
	}
	return nil
}

func (m *MockStore) IncEntryCount(ctx context.Context, id string) error {
	if m.IncEntryCountFunc != nil {
		return m.IncEntryCountFunc(ctx, id)
	}
	return nil
}

// MockLocker is a func-field mock of the Locker interface.
type MockLocker struct {
	AcquireLockFunc func(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLockFunc func(ctx context.Context, key, token string) error
	BucketCountFunc func(ctx context.Context, key string) (int64, error)
	BucketIncrFunc  func(ctx context.Context, key string, window time.Duration) (int64, error)
}

func (m *MockLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if m.AcquireLockFunc != nil {
		return m.AcquireLockFunc(ctx, key, ttl)
	}
	return "token", true, nil
}

func (m *MockLocker) ReleaseLock(ctx context.Context, key, token string) error {
	if m.ReleaseLockFunc != nil {
		return m.ReleaseLockFunc(ctx, key, token)
	}
	return nil
}

func (m *MockLocker) BucketCount(ctx context.Context, key string) (int64, error) {
	if m.BucketCountFunc != nil {
		return m.BucketCountFunc(ctx, key)
	}
	return 0, nil
}

func (m *MockLocker) BucketIncr(ctx context.Context, key string, window time.Duration) (int64, error) {
	if m.BucketIncrFunc != nil {
		return m.BucketIncrFunc(ctx, key, window)
	}
	return 1, nil
}

// MockBackend is a func-field mock of the Backend interface.
type MockBackend struct {
	GetUserFunc       func(ctx context.Context, remoteUserID string) (*backend.User, error)
	GetPriorEntryFunc func(ctx context.Context, entityID, remoteUserID string) (*backend.PriorEntry, error)
	SubmitEntryFunc   func(ctx context.Context, req *backend.SubmitEntryRequest) (*backend.SubmitResult, error)
}

func (m *MockBackend) GetUser(ctx context.Context, remoteUserID string) (*backend.User, error) {
	if m.GetUserFunc != nil {
		return m.GetUserFunc(ctx, remoteUserID)
	}
	return &backend.User{ID: remoteUserID}, nil
}

func (m *MockBackend) GetPriorEntry(ctx context.Context, entityID, remoteUserID string) (*backend.PriorEntry, error) {
	if m.GetPriorEntryFunc != nil {
		return m.GetPriorEntryFunc(ctx, entityID, remoteUserID)
	}
	return nil, nil
}

func (m *MockBackend) SubmitEntry(ctx context.Context, req *backend.SubmitEntryRequest) (*backend.SubmitResult, error) {
	if m.SubmitEntryFunc != nil {
		return m.SubmitEntryFunc(ctx, req)
	}
	return &backend.SubmitResult{Status: "accepted"}, nil
}

// MockVerifiers is a func-field mock of the Verifiers interface.
type MockVerifiers struct {
	VerifyFunc func(ctx context.Context, req entity.Requirement, subject verify.Subject) (*verify.Outcome, error)
}

func (m *MockVerifiers) Verify(ctx context.Context, req entity.Requirement, subject verify.Subject) (*verify.Outcome, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, req, subject)
	}
	return &verify.Outcome{OK: true}, nil
}
