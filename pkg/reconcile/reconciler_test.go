package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/questbridge/bot/pkg/backend"
	"github.com/questbridge/bot/pkg/config"
	"github.com/questbridge/bot/pkg/entity"
	"github.com/questbridge/bot/pkg/gateway"
	"github.com/questbridge/bot/pkg/store"
)

func activeConnection(points int) *store.Connection {
	return &store.Connection{
		ID:        "conn-1",
		Kind:      entity.KindAllowlist,
		EntityID:  "al-1",
		GuildID:   "guild-1",
		ChannelID: "chan-1",
		MessageID: "msg-1",
		State:     store.ConnActive,
		Projection: &entity.Entity{
			ID:     "al-1",
			Kind:   entity.KindAllowlist,
			Title:  "Allowlist",
			State:  entity.StateActive,
			Points: points,
		},
	}
}

func testReconciler(st Store, be Backend, gw Messenger) *Reconciler {
	return New(config.ReconcilerConfig{
		Interval:    30 * time.Second,
		Concurrency: 4,
		BackoffBase: 30 * time.Second,
		BackoffCap:  10 * time.Minute,
		FailureCap:  time.Hour,
	}, st, be, gw, zap.NewNop())
}

func TestReconcileOne_UnchangedAdvancesWatermark(t *testing.T) {
	conn := activeConnection(10)

	var touched, edited atomic.Int32
	st := &MockStore{
		TouchReconciledFunc: func(ctx context.Context, id string, at time.Time) error {
			touched.Add(1)
			return nil
		},
	}
	be := &MockBackend{
		GetEntityFunc: func(ctx context.Context, kind entity.Kind, id string) (*entity.Entity, error) {
			proj := *conn.Projection
			return &proj, nil
		},
	}
	gw := &MockMessenger{
		EditMessageFunc: func(ctx context.Context, edit *discordgo.MessageEdit) error {
			edited.Add(1)
			return nil
		},
	}

	r := testReconciler(st, be, gw)
	r.reconcileOne(context.Background(), conn)

	assert.Equal(t, int32(1), touched.Load())
	assert.Equal(t, int32(0), edited.Load(), "an unchanged projection must not emit an edit")
}

func TestReconcileOne_ChangedFieldEmitsEdit(t *testing.T) {
	conn := activeConnection(10)

	var stored *entity.Entity
	st := &MockStore{
		UpdateProjectionFunc: func(ctx context.Context, id string, proj *entity.Entity, at time.Time) error {
			stored = proj
			return nil
		},
	}
	fresh := *conn.Projection
	fresh.Points = 25
	be := &MockBackend{
		GetEntityFunc: func(ctx context.Context, kind entity.Kind, id string) (*entity.Entity, error) {
			return &fresh, nil
		},
	}

	var edits []*discordgo.MessageEdit
	gw := &MockMessenger{
		EditMessageFunc: func(ctx context.Context, edit *discordgo.MessageEdit) error {
			edits = append(edits, edit)
			return nil
		},
	}

	r := testReconciler(st, be, gw)
	r.reconcileOne(context.Background(), conn)

	require.Len(t, edits, 1)
	assert.Equal(t, "chan-1", edits[0].Channel)
	assert.Equal(t, "msg-1", edits[0].ID)
	require.NotNil(t, stored)
	assert.Equal(t, 25, stored.Points)
}

func TestReconcileOne_EditBeforeProjectionWrite(t *testing.T) {
	// A failed edit must leave the stored projection untouched so the next
	// sweep retries the same diff.
	conn := activeConnection(10)

	st := &MockStore{
		UpdateProjectionFunc: func(ctx context.Context, id string, proj *entity.Entity, at time.Time) error {
			t.Error("projection must not be stored when the edit failed")
			return nil
		},
	}
	fresh := *conn.Projection
	fresh.Points = 25
	be := &MockBackend{
		GetEntityFunc: func(ctx context.Context, kind entity.Kind, id string) (*entity.Entity, error) {
			return &fresh, nil
		},
	}
	gw := &MockMessenger{
		EditMessageFunc: func(ctx context.Context, edit *discordgo.MessageEdit) error {
			return &gateway.Error{Kind: gateway.KindTransient, Op: "edit_message", Err: fmt.Errorf("boom")}
		},
	}

	r := testReconciler(st, be, gw)
	r.reconcileOne(context.Background(), conn)
}

func TestReconcileOne_EndedTransitionNotifiesOnce(t *testing.T) {
	conn := activeConnection(10)

	claims := 0
	var states []store.ConnState
	st := &MockStore{
		SetConnectionStateFunc: func(ctx context.Context, id string, state store.ConnState) error {
			states = append(states, state)
			return nil
		},
		ClaimEndNotificationFunc: func(ctx context.Context, id string, at time.Time) (bool, error) {
			claims++
			return claims == 1, nil
		},
	}
	ended := *conn.Projection
	ended.State = entity.StateEnded
	be := &MockBackend{
		GetEntityFunc: func(ctx context.Context, kind entity.Kind, id string) (*entity.Entity, error) {
			e := ended
			return &e, nil
		},
	}

	var notices atomic.Int32
	gw := &MockMessenger{
		SendTextFunc: func(ctx context.Context, channelID, content string) error {
			notices.Add(1)
			assert.Equal(t, "chan-1", channelID)
			return nil
		},
	}

	r := testReconciler(st, be, gw)
	r.reconcileOne(context.Background(), conn)

	// A second pass over a connection whose stored projection still says
	// active (a racing instance) must not notify again.
	r.reconcileOne(context.Background(), conn)

	assert.Equal(t, int32(1), notices.Load(), "end notification fires exactly once")
	assert.Contains(t, states, store.ConnEnded)
}

func TestReconcileOne_EntityGoneArchives(t *testing.T) {
	conn := activeConnection(10)

	var archived atomic.Bool
	st := &MockStore{
		SetConnectionStateFunc: func(ctx context.Context, id string, state store.ConnState) error {
			if state == store.ConnArchived {
				archived.Store(true)
			}
			return nil
		},
	}
	be := &MockBackend{
		GetEntityFunc: func(ctx context.Context, kind entity.Kind, id string) (*entity.Entity, error) {
			return nil, backend.ErrNotFound
		},
	}

	r := testReconciler(st, be, &MockMessenger{})
	r.reconcileOne(context.Background(), conn)

	assert.True(t, archived.Load())
}

func TestReconcileOne_DeletedMessageArchives(t *testing.T) {
	conn := activeConnection(10)

	var states []store.ConnState
	st := &MockStore{
		SetConnectionStateFunc: func(ctx context.Context, id string, state store.ConnState) error {
			states = append(states, state)
			return nil
		},
		UpdateProjectionFunc: func(ctx context.Context, id string, proj *entity.Entity, at time.Time) error {
			t.Error("projection must not advance for a broken binding")
			return nil
		},
	}
	fresh := *conn.Projection
	fresh.Points = 99
	be := &MockBackend{
		GetEntityFunc: func(ctx context.Context, kind entity.Kind, id string) (*entity.Entity, error) {
			return &fresh, nil
		},
	}
	gw := &MockMessenger{
		EditMessageFunc: func(ctx context.Context, edit *discordgo.MessageEdit) error {
			return &gateway.Error{Kind: gateway.KindNotFound, Op: "edit_message", Err: fmt.Errorf("unknown message")}
		},
	}

	r := testReconciler(st, be, gw)
	r.reconcileOne(context.Background(), conn)

	assert.Equal(t, []store.ConnState{store.ConnArchived}, states)
}

func TestBackoff_FailingConnectionSkipsSweep(t *testing.T) {
	r := testReconciler(&MockStore{}, &MockBackend{}, &MockMessenger{})

	now := time.Now()
	assert.True(t, r.due("conn-1", now))

	r.recordFailure("conn-1")
	assert.False(t, r.due("conn-1", now), "a fresh failure backs the connection off")
	assert.True(t, r.due("conn-1", now.Add(31*time.Second)))

	r.recordFailure("conn-1")
	assert.False(t, r.due("conn-1", now.Add(31*time.Second)), "backoff doubles")

	r.recordSuccess("conn-1")
	assert.True(t, r.due("conn-1", now), "success clears the backoff")
}

func TestBackoff_DelayIsCapped(t *testing.T) {
	r := testReconciler(&MockStore{}, &MockBackend{}, &MockMessenger{})

	for i := 0; i < 40; i++ {
		r.recordFailure("conn-1")
	}

	r.mu.Lock()
	h := r.health["conn-1"]
	r.mu.Unlock()
	require.NotNil(t, h)
	assert.LessOrEqual(t, time.Until(h.nextAttempt), 10*time.Minute+time.Second)
}

func TestHandleEntityEvent_QueuesAllBoundConnections(t *testing.T) {
	st := &MockStore{
		ListConnectionsByEntityFunc: func(ctx context.Context, entityID string) ([]*store.Connection, error) {
			return []*store.Connection{{ID: "conn-1"}, {ID: "conn-2"}}, nil
		},
	}

	r := testReconciler(st, &MockBackend{}, &MockMessenger{})
	require.NoError(t, r.HandleEntityEvent(context.Background(), "al-1"))

	assert.Equal(t, "conn-1", <-r.refreshCh)
	assert.Equal(t, "conn-2", <-r.refreshCh)
}

func TestRequestRefresh_FullQueueDoesNotBlock(t *testing.T) {
	r := testReconciler(&MockStore{}, &MockBackend{}, &MockMessenger{})
	for i := 0; i < cap(r.refreshCh)+10; i++ {
		r.RequestRefresh("conn-1")
	}
}

func TestSweep_ArchivesEndedPastGrace(t *testing.T) {
	endedAt := time.Now().Add(-48 * time.Hour)
	var cutoff time.Time
	var archived []string
	st := &MockStore{
		ListEndedBeforeFunc: func(ctx context.Context, c time.Time) ([]*store.Connection, error) {
			cutoff = c
			return []*store.Connection{
				{ID: "conn-old", EntityID: "task-1", State: store.ConnEnded, EndedAt: &endedAt},
			}, nil
		},
		SetConnectionStateFunc: func(ctx context.Context, id string, state store.ConnState) error {
			if state == store.ConnArchived {
				archived = append(archived, id)
			}
			return nil
		},
	}

	r := testReconciler(st, &MockBackend{}, &MockMessenger{})
	r.cfg.EndedGrace = 24 * time.Hour
	r.sweep(context.Background())

	assert.Equal(t, []string{"conn-old"}, archived)
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), cutoff, 5*time.Second,
		"cutoff trails the sweep by the grace window")
}

func TestSweep_ListFailureIsNonFatal(t *testing.T) {
	st := &MockStore{
		ListActiveConnectionsFunc: func(ctx context.Context) ([]*store.Connection, error) {
			return nil, errors.New("down")
		},
	}
	r := testReconciler(st, &MockBackend{}, &MockMessenger{})
	r.sweep(context.Background())
}
