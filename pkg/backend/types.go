package backend

import (
	"time"

	"github.com/questbridge/bot/pkg/entity"
)

// User is the remote platform user an account link points at.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	CommunityID string `json:"communityId,omitempty"`
	Points      int    `json:"points,omitempty"`
}

// PriorEntry describes an existing entry/completion the backend knows about.
type PriorEntry struct {
	EntityID  string    `json:"entityId"`
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	EnteredAt time.Time `json:"enteredAt"`
}

// SubmitEntryRequest records an entry or completion for a user.
type SubmitEntryRequest struct {
	EntityID     string      `json:"entityId"`
	Kind         entity.Kind `json:"kind"`
	RemoteUserID string      `json:"userId"`
	GuildID      string      `json:"guildId"`
	// AttemptID makes the submission traceable; the backend treats a
	// duplicate (entity, user) as a conflict regardless of attempt id.
	AttemptID string `json:"attemptId"`
}

// SubmitResult is the backend's answer to a submission.
type SubmitResult struct {
	Status        string `json:"status"` // accepted | pending_review
	PointsAwarded int    `json:"pointsAwarded,omitempty"`
}

// PendingReview reports whether the submission awaits manual review.
func (r *SubmitResult) PendingReview() bool {
	return r.Status == "pending_review"
}

// VerifyRequest asks the backend to judge a remote-side requirement.
type VerifyRequest struct {
	RequirementID string                 `json:"requirementId"`
	Kind          entity.RequirementKind `json:"kind"`
	EntityID      string                 `json:"entityId"`
	RemoteUserID  string                 `json:"userId"`
	Target        string                 `json:"target,omitempty"`
}

// VerifyResult is the backend's judgement of one requirement.
type VerifyResult struct {
	OK            bool           `json:"ok"`
	Reason        string         `json:"reason,omitempty"`
	Guidance      string         `json:"guidance,omitempty"`
	PendingReview bool           `json:"pendingReview,omitempty"`
	Evidence      map[string]any `json:"evidence,omitempty"`
}

// BindingNotification tells the backend a guild channel now displays an entity.
type BindingNotification struct {
	EntityID  string      `json:"entityId"`
	Kind      entity.Kind `json:"kind"`
	GuildID   string      `json:"guildId"`
	ChannelID string      `json:"channelId"`
	MessageID string      `json:"messageId"`
	BoundBy   string      `json:"boundBy,omitempty"`
}

// Analytics is the per-entity counters surface exposed by the backend.
type Analytics struct {
	EntityID    string `json:"entityId"`
	EntryCount  int    `json:"entryCount"`
	Completions int    `json:"completions"`
	UniqueUsers int    `json:"uniqueUsers"`
}

// apiError is the backend's error envelope. Unknown fields are ignored.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
