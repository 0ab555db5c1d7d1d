package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// CreateAttempt persists a finished pipeline run. For non-accepted outcomes
// an expiry is stamped so the TTL index reaps the record. An accepted
// attempt that collides with an existing accepted attempt for the same
// (connection, user) returns ErrDuplicate; the unique index is the final
// arbiter of the at-most-once invariant.
func (s *Store) CreateAttempt(ctx context.Context, attempt *EntryAttempt) error {
	if attempt.Outcome != "accepted" && attempt.ExpiresAt == nil {
		exp := attempt.FinishedAt.Add(attemptRetention)
		attempt.ExpiresAt = &exp
	}
	if _, err := s.db.Collection(collEntryAttempts).InsertOne(ctx, attempt); err != nil {
		if translated := translateErr(err); translated == ErrDuplicate {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create entry attempt: %w", err)
	}
	return nil
}

// GetAcceptedAttempt finds the accepted attempt for a (connection, user)
// pair, if one exists.
func (s *Store) GetAcceptedAttempt(ctx context.Context, connectionID, chatUserID string) (*EntryAttempt, error) {
	var attempt EntryAttempt
	err := s.db.Collection(collEntryAttempts).
		FindOne(ctx, bson.M{
			"connection_id": connectionID,
			"chat_user_id":  chatUserID,
			"outcome":       "accepted",
		}).
		Decode(&attempt)
	if err != nil {
		if translated := translateErr(err); translated == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get accepted attempt: %w", err)
	}
	return &attempt, nil
}

// CountAcceptedAttempts returns the number of accepted attempts on a
// connection. Used for the post-entry counter cross-check.
func (s *Store) CountAcceptedAttempts(ctx context.Context, connectionID string) (int64, error) {
	n, err := s.db.Collection(collEntryAttempts).CountDocuments(ctx, bson.M{
		"connection_id": connectionID,
		"outcome":       "accepted",
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count accepted attempts: %w", err)
	}
	return n, nil
}

// InsertInteractionLog records an audit entry for a routed interaction.
func (s *Store) InsertInteractionLog(ctx context.Context, log *InteractionLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.Collection(collInteractionLogs).InsertOne(ctx, log); err != nil {
		return fmt.Errorf("failed to insert interaction log: %w", err)
	}
	return nil
}
