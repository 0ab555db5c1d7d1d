package store

import (
	"time"

	"github.com/questbridge/bot/pkg/entity"
)

// ConnState is the durable lifecycle state of a Connection.
type ConnState string

const (
	ConnActive   ConnState = "active"
	ConnEnded    ConnState = "ended"
	ConnArchived ConnState = "archived"
)

// Connection binds one remote entity to one posted chat message.
type Connection struct {
	ID        string      `bson:"_id" json:"id"`
	Kind      entity.Kind `bson:"kind" json:"kind"`
	EntityID  string      `bson:"entity_id" json:"entityId"`
	GuildID   string      `bson:"guild_id" json:"guildId"`
	ChannelID string      `bson:"channel_id" json:"channelId"`
	MessageID string      `bson:"message_id" json:"messageId"`

	Projection *entity.Entity `bson:"projection" json:"projection"`
	State      ConnState      `bson:"state" json:"state"`

	// EntryCount is the locally observed accepted-entry counter; the
	// projection's count remains the authoritative display value.
	EntryCount int `bson:"entry_count" json:"entryCount"`

	CreatedBy        string     `bson:"created_by" json:"createdBy"`
	CreatedAt        time.Time  `bson:"created_at" json:"createdAt"`
	LastReconciledAt time.Time  `bson:"last_reconciled_at" json:"lastReconciledAt"`
	EndedAt          *time.Time `bson:"ended_at,omitempty" json:"endedAt,omitempty"`
	EndNotifiedAt    *time.Time `bson:"end_notified_at,omitempty" json:"endNotifiedAt,omitempty"`
	ArchivedAt       *time.Time `bson:"archived_at,omitempty" json:"archivedAt,omitempty"`
}

// AccountLink maps a chat user to a remote platform user. Identity fields
// are written by the OAuth subsystem; the engine only reads links and bumps
// LastSeenAt.
type AccountLink struct {
	ChatUserID   string     `bson:"chat_user_id" json:"chatUserId"`
	RemoteUserID string     `bson:"remote_user_id" json:"remoteUserId"`
	VerifiedAt   time.Time  `bson:"verified_at" json:"verifiedAt"`
	Active       bool       `bson:"active" json:"active"`
	LastSeenAt   *time.Time `bson:"last_seen_at,omitempty" json:"lastSeenAt,omitempty"`
}

// EntryAttempt is one pipeline run for a (connection, user) pair. Accepted
// attempts are retained; everything else expires via the TTL index.
type EntryAttempt struct {
	ID           string `bson:"_id" json:"id"`
	ConnectionID string `bson:"connection_id" json:"connectionId"`
	ChatUserID   string `bson:"chat_user_id" json:"chatUserId"`
	RemoteUserID string `bson:"remote_user_id,omitempty" json:"remoteUserId,omitempty"`

	StartedAt  time.Time `bson:"started_at" json:"startedAt"`
	FinishedAt time.Time `bson:"finished_at" json:"finishedAt"`
	Stage      string    `bson:"stage" json:"stage"`
	Outcome    string    `bson:"outcome" json:"outcome"`
	Reason     string    `bson:"reason,omitempty" json:"reason,omitempty"`

	// ExpiresAt is set only on non-accepted attempts so the TTL index
	// never reaps the accepted record.
	ExpiresAt *time.Time `bson:"expires_at,omitempty" json:"-"`
}

// InteractionLog is an audit record for a routed interaction.
type InteractionLog struct {
	ID           string    `bson:"_id" json:"id"`
	GuildID      string    `bson:"guild_id" json:"guildId"`
	ConnectionID string    `bson:"connection_id,omitempty" json:"connectionId,omitempty"`
	ChatUserID   string    `bson:"chat_user_id" json:"chatUserId"`
	CustomID     string    `bson:"custom_id" json:"customId"`
	Action       string    `bson:"action" json:"action"`
	Outcome      string    `bson:"outcome,omitempty" json:"outcome,omitempty"`
	CreatedAt    time.Time `bson:"created_at" json:"createdAt"`
}
