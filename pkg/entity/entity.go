// Package entity holds the projected shape of remote quest-platform entities.
// The projection is the bot's cached view; the backend remains authoritative.
package entity

import "time"

// Kind discriminates the two entity families the bot can post.
type Kind string

const (
	KindTask      Kind = "task"
	KindAllowlist Kind = "allowlist"
)

// State is the remote lifecycle state of an entity.
type State string

const (
	StateActive  State = "active"
	StateEnded   State = "ended"
	StateExpired State = "expired"
	StateDraft   State = "draft"
)

// Terminal reports whether no further entries are possible.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateExpired
}

// RequirementKind identifies which verifier judges a requirement.
type RequirementKind string

const (
	ReqExternalFollow    RequirementKind = "external-follow"
	ReqGuildMembership   RequirementKind = "guild-membership"
	ReqChannelMembership RequirementKind = "channel-membership"
	ReqCustom            RequirementKind = "custom"
)

// Requirement is a single gate a user must pass before an entry is submitted.
type Requirement struct {
	ID       string          `json:"id" bson:"id"`
	Kind     RequirementKind `json:"kind" bson:"kind"`
	Label    string          `json:"label" bson:"label"`
	Optional bool            `json:"optional,omitempty" bson:"optional,omitempty"`

	// Kind-specific parameters. Target is the followed account, required
	// guild, or required channel depending on Kind. Roles apply only to
	// guild-membership; each entry matches by role id or, failing that, name.
	Target string   `json:"target,omitempty" bson:"target,omitempty"`
	Roles  []string `json:"roles,omitempty" bson:"roles,omitempty"`
}

// Entity is the projection of a remote Task or Allowlist.
type Entity struct {
	ID          string `json:"id" bson:"id"`
	CommunityID string `json:"communityId" bson:"community_id"`
	Kind        Kind   `json:"kind" bson:"kind"`
	Title       string `json:"title" bson:"title"`
	Description string `json:"description,omitempty" bson:"description,omitempty"`
	State       State  `json:"state" bson:"state"`

	Points       int           `json:"points,omitempty" bson:"points,omitempty"`
	EntryCount   int           `json:"entryCount" bson:"entry_count"`
	Capacity     int           `json:"capacity,omitempty" bson:"capacity,omitempty"`
	WinnerCount  int           `json:"winnerCount,omitempty" bson:"winner_count,omitempty"`
	StartTime    *time.Time    `json:"startTime,omitempty" bson:"start_time,omitempty"`
	EndTime      *time.Time    `json:"endTime,omitempty" bson:"end_time,omitempty"`
	Requirements []Requirement `json:"requirements,omitempty" bson:"requirements,omitempty"`
}

// Open reports whether the entity accepts entries at the given instant,
// judged only from the projection. The backend's clock wins on the boundary;
// this check exists to fail fast, not to decide.
func (e *Entity) Open(now time.Time) bool {
	if e.State != StateActive {
		return false
	}
	if e.StartTime != nil && now.Before(*e.StartTime) {
		return false
	}
	if e.EndTime != nil && !now.Before(*e.EndTime) {
		return false
	}
	if e.Capacity > 0 && e.EntryCount >= e.Capacity {
		return false
	}
	return true
}

// RequiredRequirements returns the non-optional requirements in declared order.
func (e *Entity) RequiredRequirements() []Requirement {
	out := make([]Requirement, 0, len(e.Requirements))
	for _, r := range e.Requirements {
		if !r.Optional {
			out = append(out, r)
		}
	}
	return out
}
