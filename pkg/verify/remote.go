package verify

import (
	"context"
	"fmt"

	"github.com/questbridge/bot/pkg/backend"
	"github.com/questbridge/bot/pkg/entity"
)

// RemoteChecker is the backend surface remote verifiers delegate to. The
// bot never holds third-party credentials; the backend performs the checks.
type RemoteChecker interface {
	VerifyRequirement(ctx context.Context, req *backend.VerifyRequest) (*backend.VerifyResult, error)
}

// RemoteVerifier delegates external-follow checks to the backend.
type RemoteVerifier struct {
	checker RemoteChecker
}

// NewRemoteVerifier builds a backend-delegating verifier. The entity under
// verification travels in the context via WithEntityID.
func NewRemoteVerifier(checker RemoteChecker) *RemoteVerifier {
	return &RemoteVerifier{checker: checker}
}

func (v *RemoteVerifier) Verify(ctx context.Context, req entity.Requirement, subject Subject) (*Outcome, error) {
	result, err := v.checker.VerifyRequirement(ctx, &backend.VerifyRequest{
		RequirementID: req.ID,
		Kind:          req.Kind,
		EntityID:      EntityIDFromContext(ctx),
		RemoteUserID:  subject.RemoteUserID,
		Target:        req.Target,
	})
	if err != nil {
		return nil, fmt.Errorf("remote verification failed: %w", err)
	}
	return &Outcome{
		OK:            result.OK,
		Reason:        result.Reason,
		Guidance:      result.Guidance,
		PendingReview: result.PendingReview,
		Evidence:      result.Evidence,
	}, nil
}

// CustomVerifier delegates manual/custom requirements to the backend. A
// pendingReview result is a pass from the pipeline's point of view; the
// submission stage reports "submitted for review" to the user.
type CustomVerifier struct {
	checker RemoteChecker
}

// NewCustomVerifier builds a custom-requirement verifier.
func NewCustomVerifier(checker RemoteChecker) *CustomVerifier {
	return &CustomVerifier{checker: checker}
}

func (v *CustomVerifier) Verify(ctx context.Context, req entity.Requirement, subject Subject) (*Outcome, error) {
	result, err := v.checker.VerifyRequirement(ctx, &backend.VerifyRequest{
		RequirementID: req.ID,
		Kind:          entity.ReqCustom,
		EntityID:      EntityIDFromContext(ctx),
		RemoteUserID:  subject.RemoteUserID,
		Target:        req.Target,
	})
	if err != nil {
		return nil, fmt.Errorf("custom verification failed: %w", err)
	}
	out := &Outcome{
		OK:            result.OK || result.PendingReview,
		Reason:        result.Reason,
		Guidance:      result.Guidance,
		PendingReview: result.PendingReview,
		Evidence:      result.Evidence,
	}
	return out, nil
}

type entityIDKey struct{}

// WithEntityID stores the entity under verification in the context so
// verifiers can reference it without widening the Verifier interface.
func WithEntityID(ctx context.Context, entityID string) context.Context {
	return context.WithValue(ctx, entityIDKey{}, entityID)
}

// EntityIDFromContext extracts the entity id placed by WithEntityID.
func EntityIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(entityIDKey{}).(string); ok {
		return v
	}
	return ""
}
