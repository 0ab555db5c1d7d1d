// Package verify judges whether a subject satisfies a single requirement.
// Verifiers are pure with respect to engine state: every external effect
// goes through the gateway adapter or the backend client.
package verify

import (
	"context"
	"fmt"

	"github.com/questbridge/bot/pkg/entity"
)

// Subject identifies who is being verified.
type Subject struct {
	ChatUserID   string
	RemoteUserID string
	GuildID      string
}

// Outcome is the uniform result of one verification.
type Outcome struct {
	OK            bool
	Reason        string
	Guidance      string
	PendingReview bool
	Evidence      map[string]any
}

// Verifier judges one requirement kind.
type Verifier interface {
	Verify(ctx context.Context, req entity.Requirement, subject Subject) (*Outcome, error)
}

// Registry selects a verifier by requirement kind.
type Registry struct {
	verifiers map[entity.RequirementKind]Verifier
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{verifiers: make(map[entity.RequirementKind]Verifier)}
}

// Register binds a verifier to a requirement kind, replacing any previous one.
func (r *Registry) Register(kind entity.RequirementKind, v Verifier) {
	r.verifiers[kind] = v
}

// Verify dispatches a requirement to its verifier. An unknown kind is an
// error: refusing to verify is safer than silently passing.
func (r *Registry) Verify(ctx context.Context, req entity.Requirement, subject Subject) (*Outcome, error) {
	v, ok := r.verifiers[req.Kind]
	if !ok {
		return nil, fmt.Errorf("no verifier registered for kind %q", req.Kind)
	}
	return v.Verify(ctx, req, subject)
}

// Kinds returns the registered requirement kinds.
func (r *Registry) Kinds() []entity.RequirementKind {
	kinds := make([]entity.RequirementKind, 0, len(r.verifiers))
	for k := range r.verifiers {
		kinds = append(kinds, k)
	}
	return kinds
}
