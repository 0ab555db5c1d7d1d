package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// GetActiveLink loads the active account link for a chat user. Returns
// ErrNotFound for both missing and deactivated links; the caller treats the
// two identically.
func (s *Store) GetActiveLink(ctx context.Context, chatUserID string) (*AccountLink, error) {
	var link AccountLink
	err := s.db.Collection(collAccountLinks).
		FindOne(ctx, bson.M{"chat_user_id": chatUserID, "active": true}).
		Decode(&link)
	if err != nil {
		if translated := translateErr(err); translated == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account link: %w", err)
	}
	return &link, nil
}

// TouchLink bumps last_seen_at on an active link. Identity fields belong to
// the OAuth subsystem and are never written here.
func (s *Store) TouchLink(ctx context.Context, chatUserID string, at time.Time) error {
	_, err := s.db.Collection(collAccountLinks).UpdateOne(ctx,
		bson.M{"chat_user_id": chatUserID, "active": true},
		bson.M{"$set": bson.M{"last_seen_at": at}},
	)
	if err != nil {
		return fmt.Errorf("failed to touch account link: %w", err)
	}
	return nil
}
