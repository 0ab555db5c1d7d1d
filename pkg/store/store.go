// Package store provides typed repositories over the document store.
// Each method performs a single-document operation; invariants that need
// atomicity are enforced by unique indexes, not transactions.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/questbridge/bot/pkg/config"
)

const (
	collConnections     = "connections"
	collAccountLinks    = "account_links"
	collEntryAttempts   = "entry_attempts"
	collInteractionLogs = "interaction_logs"

	// attemptRetention bounds how long non-accepted attempts are kept.
	attemptRetention = 7 * 24 * time.Hour
	// logRetention bounds how long interaction logs are kept.
	logRetention = 30 * 24 * time.Hour
)

var (
	ErrNotFound  = errors.New("document not found")
	ErrDuplicate = errors.New("duplicate document")
)

// Store provides database operations for the bot
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

// Connect opens the Mongo client, verifies connectivity and returns a Store.
func Connect(ctx context.Context, cfg config.MongoConfig, logger *zap.Logger) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Store{
		client: client,
		db:     client.Database(cfg.Database),
		logger: logger,
	}, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes the engine's invariants rely on:
// at most one non-archived connection per (guild, entity), at most one
// accepted attempt per (connection, user), and TTL cleanup for ephemeral
// collections.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	connIdx := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "guild_id", Value: 1}, {Key: "entity_id", Value: 1}},
			// Partial filter expressions reject $ne; enumerating the
			// non-archived states expresses the same constraint.
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.D{
					{Key: "state", Value: bson.D{{Key: "$in", Value: bson.A{
						string(ConnActive), string(ConnEnded),
					}}}},
				}),
		},
		{Keys: bson.D{{Key: "state", Value: 1}}},
		{Keys: bson.D{{Key: "entity_id", Value: 1}}},
	}
	if _, err := s.db.Collection(collConnections).Indexes().CreateMany(ctx, connIdx); err != nil {
		return fmt.Errorf("failed to create connection indexes: %w", err)
	}

	attemptIdx := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "connection_id", Value: 1}, {Key: "chat_user_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.D{
					{Key: "outcome", Value: "accepted"},
				}),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}
	if _, err := s.db.Collection(collEntryAttempts).Indexes().CreateMany(ctx, attemptIdx); err != nil {
		return fmt.Errorf("failed to create attempt indexes: %w", err)
	}

	linkIdx := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "chat_user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := s.db.Collection(collAccountLinks).Indexes().CreateMany(ctx, linkIdx); err != nil {
		return fmt.Errorf("failed to create link indexes: %w", err)
	}

	logIdx := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(logRetention / time.Second)),
		},
		{Keys: bson.D{{Key: "connection_id", Value: 1}}},
	}
	if _, err := s.db.Collection(collInteractionLogs).Indexes().CreateMany(ctx, logIdx); err != nil {
		return fmt.Errorf("failed to create interaction log indexes: %w", err)
	}

	s.logger.Info("Document store indexes ensured")
	return nil
}

// translateErr maps driver errors onto the store's sentinel errors.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}
