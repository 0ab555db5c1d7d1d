package entry

// Stage names the pipeline stage an attempt reached. Persisted on the
// EntryAttempt for audit.
type Stage string

const (
	StageIngress      Stage = "ingress"
	StageRateLimit    Stage = "rate_limit"
	StageIdentity     Stage = "identity"
	StageConnection   Stage = "connection"
	StagePriorOutcome Stage = "prior_outcome"
	StageEligibility  Stage = "eligibility"
	StageVerification Stage = "verification"
	StageSubmission   Stage = "submission"
	StagePostActions  Stage = "post_actions"
)

// Outcome is the terminal result of one pipeline run.
type Outcome string

const (
	OutcomeAccepted           Outcome = "accepted"
	OutcomePendingReview      Outcome = "pending_review"
	OutcomeAlreadyEntered     Outcome = "already_entered"
	OutcomeRateLimited        Outcome = "rate_limited"
	OutcomeAccountNotLinked   Outcome = "account_not_linked"
	OutcomeConnectionInactive Outcome = "connection_inactive"
	OutcomeNotEligible        Outcome = "not_eligible"
	OutcomeRequirementsUnmet  Outcome = "requirements_unmet"
	OutcomeTransportError     Outcome = "transport_error"
	OutcomeTimeout            Outcome = "timeout"
	OutcomeInternal           Outcome = "internal"
)

// Success reports whether the user should be shown a success message.
// AlreadyEntered is deliberately a success: the user's goal is achieved.
func (o Outcome) Success() bool {
	switch o {
	case OutcomeAccepted, OutcomePendingReview, OutcomeAlreadyEntered:
		return true
	default:
		return false
	}
}

// Persistable reports whether the run is recorded as an EntryAttempt.
// Timed-out and rate-limited runs leave no trace beyond metrics.
func (o Outcome) Persistable() bool {
	switch o {
	case OutcomeTimeout, OutcomeRateLimited:
		return false
	default:
		return true
	}
}

// Result is what the pipeline hands back to the interaction router.
type Result struct {
	Outcome Outcome
	Stage   Stage
	// Reasons carries per-requirement detail for NotEligible and
	// RequirementsUnmet.
	Reasons []string
	// Points awarded on acceptance, when the backend reports them.
	Points int
	// GuidanceURL points the user at account linking when the outcome is
	// AccountNotLinked.
	GuidanceURL string
}
