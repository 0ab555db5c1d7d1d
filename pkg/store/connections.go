package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/questbridge/bot/pkg/entity"
)

// CreateConnection inserts a new connection. Returns ErrDuplicate when an
// active connection for the same (guild, entity) already exists.
func (s *Store) CreateConnection(ctx context.Context, conn *Connection) error {
	if _, err := s.db.Collection(collConnections).InsertOne(ctx, conn); err != nil {
		if translated := translateErr(err); translated == ErrDuplicate {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create connection: %w", err)
	}
	return nil
}

// GetConnection retrieves a connection by id.
func (s *Store) GetConnection(ctx context.Context, id string) (*Connection, error) {
	var conn Connection
	err := s.db.Collection(collConnections).
		FindOne(ctx, bson.M{"_id": id}).
		Decode(&conn)
	if err != nil {
		if translated := translateErr(err); translated == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return &conn, nil
}

// GetActiveConnectionByEntity finds the one non-archived connection for a
// (guild, entity) pair, if any.
func (s *Store) GetActiveConnectionByEntity(ctx context.Context, guildID, entityID string) (*Connection, error) {
	var conn Connection
	err := s.db.Collection(collConnections).
		FindOne(ctx, bson.M{
			"guild_id":  guildID,
			"entity_id": entityID,
			"state":     bson.M{"$ne": string(ConnArchived)},
		}).
		Decode(&conn)
	if err != nil {
		if translated := translateErr(err); translated == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get connection by entity: %w", err)
	}
	return &conn, nil
}

// ListActiveConnections returns every connection the reconciler should sweep.
func (s *Store) ListActiveConnections(ctx context.Context) ([]*Connection, error) {
	cur, err := s.db.Collection(collConnections).
		Find(ctx, bson.M{"state": string(ConnActive)})
	if err != nil {
		return nil, fmt.Errorf("failed to list active connections: %w", err)
	}
	defer cur.Close(ctx)

	var conns []*Connection
	if err := cur.All(ctx, &conns); err != nil {
		return nil, fmt.Errorf("failed to decode connections: %w", err)
	}
	return conns, nil
}

// ListConnectionsByEntity returns all non-archived connections bound to a
// remote entity, across guilds. Used by the event-driven reconcile path.
func (s *Store) ListConnectionsByEntity(ctx context.Context, entityID string) ([]*Connection, error) {
	cur, err := s.db.Collection(collConnections).
		Find(ctx, bson.M{
			"entity_id": entityID,
			"state":     bson.M{"$ne": string(ConnArchived)},
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list connections by entity: %w", err)
	}
	defer cur.Close(ctx)

	var conns []*Connection
	if err := cur.All(ctx, &conns); err != nil {
		return nil, fmt.Errorf("failed to decode connections: %w", err)
	}
	return conns, nil
}

// ListEndedBefore returns ended connections whose end transition is older
// than the cutoff. These are past their grace window and due for archival.
func (s *Store) ListEndedBefore(ctx context.Context, cutoff time.Time) ([]*Connection, error) {
	cur, err := s.db.Collection(collConnections).
		Find(ctx, bson.M{
			"state":    string(ConnEnded),
			"ended_at": bson.M{"$lte": cutoff},
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list ended connections: %w", err)
	}
	defer cur.Close(ctx)

	var conns []*Connection
	if err := cur.All(ctx, &conns); err != nil {
		return nil, fmt.Errorf("failed to decode connections: %w", err)
	}
	return conns, nil
}

// UpdateProjection stores a fresh projection snapshot and advances the
// reconcile watermark in one update.
func (s *Store) UpdateProjection(ctx context.Context, id string, proj *entity.Entity, reconciledAt time.Time) error {
	res, err := s.db.Collection(collConnections).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"projection":         proj,
			"last_reconciled_at": reconciledAt,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to update projection: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchReconciled advances the watermark without changing the projection.
func (s *Store) TouchReconciled(ctx context.Context, id string, reconciledAt time.Time) error {
	res, err := s.db.Collection(collConnections).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"last_reconciled_at": reconciledAt}},
	)
	if err != nil {
		return fmt.Errorf("failed to touch connection: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SetConnectionState transitions a connection's lifecycle state. Ending and
// archiving also record their transition times; ended_at anchors the grace
// window after which the sweep archives the connection.
func (s *Store) SetConnectionState(ctx context.Context, id string, state ConnState) error {
	set := bson.M{"state": string(state)}
	switch state {
	case ConnEnded:
		set["ended_at"] = time.Now().UTC()
	case ConnArchived:
		set["archived_at"] = time.Now().UTC()
	}
	res, err := s.db.Collection(collConnections).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": set},
	)
	if err != nil {
		return fmt.Errorf("failed to set connection state: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimEndNotification atomically sets end_notified_at if it is not set yet.
// Returns true when this caller won the claim; false means another pass (or
// instance) already notified.
func (s *Store) ClaimEndNotification(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.Collection(collConnections).UpdateOne(ctx,
		bson.M{
			"_id":             id,
			"end_notified_at": bson.M{"$exists": false},
		},
		bson.M{"$set": bson.M{"end_notified_at": at}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim end notification: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

// IncEntryCount bumps the local accepted-entry counter.
func (s *Store) IncEntryCount(ctx context.Context, id string) error {
	res, err := s.db.Collection(collConnections).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{"entry_count": 1}},
	)
	if err != nil {
		return fmt.Errorf("failed to increment entry count: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
