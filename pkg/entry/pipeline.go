// Package entry implements the staged pipeline that turns a user click on
// an interactive post into an at-most-once recorded entry or completion.
//
// Stages run in a fixed order on a single goroutine per interaction; each
// stage may short-circuit with a terminal outcome. Runs for the same
// (connection, user) pair are serialized by an in-process keyed mutex plus
// a short-TTL key-value lock covering multi-instance deployments.
package entry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/questbridge/bot/internal/metrics"
	"github.com/questbridge/bot/pkg/backend"
	"github.com/questbridge/bot/pkg/entity"
	"github.com/questbridge/bot/pkg/kv"
	"github.com/questbridge/bot/pkg/store"
	"github.com/questbridge/bot/pkg/verify"
)

// Store is the repository surface the pipeline needs.
type Store interface {
	GetConnection(ctx context.Context, id string) (*store.Connection, error)
	GetActiveLink(ctx context.Context, chatUserID string) (*store.AccountLink, error)
	TouchLink(ctx context.Context, chatUserID string, at time.Time) error
	GetAcceptedAttempt(ctx context.Context, connectionID, chatUserID string) (*store.EntryAttempt, error)
	CreateAttempt(ctx context.Context, attempt *store.EntryAttempt) error
	IncEntryCount(ctx context.Context, id string) error
}

// Locker is the key-value surface for rate limiting and cross-instance
// serialization.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
	BucketCount(ctx context.Context, key string) (int64, error)
	BucketIncr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Backend is the authoritative-service surface the pipeline needs.
type Backend interface {
	GetUser(ctx context.Context, remoteUserID string) (*backend.User, error)
	GetPriorEntry(ctx context.Context, entityID, remoteUserID string) (*backend.PriorEntry, error)
	SubmitEntry(ctx context.Context, req *backend.SubmitEntryRequest) (*backend.SubmitResult, error)
}

// Verifiers dispatches requirement checks.
type Verifiers interface {
	Verify(ctx context.Context, req entity.Requirement, subject verify.Subject) (*verify.Outcome, error)
}

// RefreshFunc schedules a priority projection refresh for a connection.
type RefreshFunc func(connectionID string)

// Options tune the pipeline's budgets.
type Options struct {
	Budget          time.Duration
	RateLimitMax    int
	RateLimitWindow time.Duration
	LockTTL         time.Duration
	LinkURL         string
}

func (o *Options) fillDefaults() {
	if o.Budget <= 0 {
		o.Budget = 8 * time.Second
	}
	if o.RateLimitMax <= 0 {
		o.RateLimitMax = 3
	}
	if o.RateLimitWindow <= 0 {
		o.RateLimitWindow = 5 * time.Minute
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 15 * time.Second
	}
}

// Request identifies one user action on an interactive post.
type Request struct {
	ConnectionID string
	ChatUserID   string
	GuildID      string
	Kind         entity.Kind
	StartedAt    time.Time
}

// Pipeline executes the staged entry flow.
type Pipeline struct {
	store     Store
	locker    Locker
	backend   Backend
	verifiers Verifiers
	refresh   RefreshFunc
	opts      Options
	logger    *zap.Logger

	local *keyedMutex
}

// New creates a pipeline.
func New(st Store, locker Locker, be Backend, verifiers Verifiers, refresh RefreshFunc, opts Options, logger *zap.Logger) *Pipeline {
	opts.fillDefaults()
	return &Pipeline{
		store:     st,
		locker:    locker,
		backend:   be,
		verifiers: verifiers,
		refresh:   refresh,
		opts:      opts,
		logger:    logger,
		local:     newKeyedMutex(),
	}
}

// Run executes the pipeline for one interaction and always returns a
// terminal Result. The caller has already acknowledged the interaction.
func (p *Pipeline) Run(ctx context.Context, req Request) *Result {
	start := time.Now()
	if req.StartedAt.IsZero() {
		req.StartedAt = start
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.Budget)
	defer cancel()

	result := p.run(ctx, req)

	metrics.EntryAttempts.WithLabelValues(string(req.Kind), string(result.Outcome)).Inc()
	metrics.EntryDuration.WithLabelValues(string(req.Kind)).Observe(time.Since(start).Seconds())

	p.logger.Info("Entry pipeline finished",
		zap.String("connection_id", req.ConnectionID),
		zap.String("chat_user_id", req.ChatUserID),
		zap.String("outcome", string(result.Outcome)),
		zap.String("stage", string(result.Stage)),
		zap.Duration("duration", time.Since(start)))

	return result
}

func (p *Pipeline) run(ctx context.Context, req Request) *Result {
	pairKey := req.ConnectionID + ":" + req.ChatUserID

	// Serialize with any in-flight run for the same pair. A run that
	// arrives while another holds the lock waits, then proceeds; the
	// prior-outcome stage collapses it to AlreadyEntered if the first
	// run succeeded.
	unlock := p.local.Lock(pairKey)
	defer unlock()

	token, err := p.acquireRemoteLock(ctx, req)
	if err != nil {
		return p.failure(ctx, req, StageIngress, err)
	}
	defer func() {
		releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer releaseCancel()
		if relErr := p.locker.ReleaseLock(releaseCtx, lockKey(req), token); relErr != nil && !errors.Is(relErr, kv.ErrNotHeld) {
			p.logger.Warn("Failed to release entry lock", zap.Error(relErr))
		}
	}()

	// Stage 2: rate limiting. The check does not consume budget; the
	// bucket is incremented only when the attempt proceeds and does not
	// time out (see post-actions).
	rlKey := rateKey(req)
	count, err := p.locker.BucketCount(ctx, rlKey)
	if err != nil {
		return p.failure(ctx, req, StageRateLimit, err)
	}
	if count >= int64(p.opts.RateLimitMax) {
		return &Result{Outcome: OutcomeRateLimited, Stage: StageRateLimit}
	}

	// Stage 3: identity resolution.
	link, err := p.store.GetActiveLink(ctx, req.ChatUserID)
	if errors.Is(err, store.ErrNotFound) {
		p.bumpBucket(ctx, rlKey)
		return &Result{
			Outcome:     OutcomeAccountNotLinked,
			Stage:       StageIdentity,
			GuidanceURL: p.opts.LinkURL,
		}
	}
	if err != nil {
		return p.failure(ctx, req, StageIdentity, err)
	}
	// A link whose remote account no longer exists is stale and reads
	// as not linked.
	if _, err := p.backend.GetUser(ctx, link.RemoteUserID); err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			p.bumpBucket(ctx, rlKey)
			return &Result{
				Outcome:     OutcomeAccountNotLinked,
				Stage:       StageIdentity,
				GuidanceURL: p.opts.LinkURL,
			}
		}
		return p.failure(ctx, req, StageIdentity, err)
	}

	// Stage 4: connection and projection load.
	conn, err := p.store.GetConnection(ctx, req.ConnectionID)
	if errors.Is(err, store.ErrNotFound) {
		p.bumpBucket(ctx, rlKey)
		return &Result{Outcome: OutcomeConnectionInactive, Stage: StageConnection}
	}
	if err != nil {
		return p.failure(ctx, req, StageConnection, err)
	}
	if conn.State != store.ConnActive || conn.Projection == nil || conn.Projection.State.Terminal() {
		p.bumpBucket(ctx, rlKey)
		return &Result{Outcome: OutcomeConnectionInactive, Stage: StageConnection}
	}

	// Stage 5: prior-outcome check. The backend is authoritative; the
	// local index is consulted as well so a backend outage after a
	// recorded success still reads as success.
	prior, err := p.backend.GetPriorEntry(ctx, conn.EntityID, link.RemoteUserID)
	if err != nil {
		return p.failure(ctx, req, StagePriorOutcome, err)
	}
	if prior == nil {
		if _, localErr := p.store.GetAcceptedAttempt(ctx, req.ConnectionID, req.ChatUserID); localErr == nil {
			prior = &backend.PriorEntry{EntityID: conn.EntityID, UserID: link.RemoteUserID}
		} else if !errors.Is(localErr, store.ErrNotFound) {
			return p.failure(ctx, req, StagePriorOutcome, localErr)
		}
	}
	if prior != nil {
		p.bumpBucket(ctx, rlKey)
		p.recordLateAccepted(ctx, req, link.RemoteUserID)
		return &Result{Outcome: OutcomeAlreadyEntered, Stage: StagePriorOutcome}
	}

	// Stage 6: eligibility.
	if reasons := eligibilityReasons(conn.Projection, time.Now()); len(reasons) > 0 {
		p.bumpBucket(ctx, rlKey)
		p.persistAttempt(ctx, req, link.RemoteUserID, StageEligibility, OutcomeNotEligible, joinReasons(reasons))
		return &Result{Outcome: OutcomeNotEligible, Stage: StageEligibility, Reasons: reasons}
	}

	// Stage 7: verification fan-out. Required requirements all run;
	// optional ones are best-effort and never block submission.
	subject := verify.Subject{
		ChatUserID:   req.ChatUserID,
		RemoteUserID: link.RemoteUserID,
		GuildID:      req.GuildID,
	}
	vctx := verify.WithEntityID(ctx, conn.EntityID)

	var failed []string
	pendingReview := false
	for _, requirement := range conn.Projection.Requirements {
		out, verr := p.verifiers.Verify(vctx, requirement, subject)
		if requirement.Optional {
			if verr != nil {
				p.logger.Debug("Optional verification errored",
					zap.String("requirement", requirement.ID), zap.Error(verr))
			}
			continue
		}
		if verr != nil {
			return p.failure(ctx, req, StageVerification, verr)
		}
		if out.PendingReview {
			pendingReview = true
		}
		if !out.OK {
			reason := requirement.Label
			if out.Reason != "" {
				reason = fmt.Sprintf("%s: %s", requirement.Label, out.Reason)
			}
			failed = append(failed, reason)
		}
	}
	if len(failed) > 0 {
		p.bumpBucket(ctx, rlKey)
		p.persistAttempt(ctx, req, link.RemoteUserID, StageVerification, OutcomeRequirementsUnmet, joinReasons(failed))
		return &Result{Outcome: OutcomeRequirementsUnmet, Stage: StageVerification, Reasons: failed}
	}

	// Timed out before committing anything? Stop here: no submission, no
	// attempt record, no rate-limit charge.
	if ctx.Err() != nil {
		return &Result{Outcome: OutcomeTimeout, Stage: StageVerification}
	}

	// Stage 8: submission. Runs on a detached context: once the write to
	// the backend is in flight, the budget must not abandon it. The call
	// is never retried; 409 collapses to success.
	submitCtx := context.WithoutCancel(ctx)
	result, err := p.backend.SubmitEntry(submitCtx, &backend.SubmitEntryRequest{
		EntityID:     conn.EntityID,
		Kind:         conn.Kind,
		RemoteUserID: link.RemoteUserID,
		GuildID:      req.GuildID,
		AttemptID:    uuid.NewString(),
	})

	switch {
	case errors.Is(err, backend.ErrAlreadyEntered):
		p.bumpBucket(ctx, rlKey)
		p.recordLateAccepted(ctx, req, link.RemoteUserID)
		return &Result{Outcome: OutcomeAlreadyEntered, Stage: StageSubmission}
	case errors.Is(err, backend.ErrEntityEnded):
		p.bumpBucket(ctx, rlKey)
		p.persistAttempt(ctx, req, link.RemoteUserID, StageSubmission, OutcomeConnectionInactive, "entity ended")
		return &Result{Outcome: OutcomeConnectionInactive, Stage: StageSubmission}
	case err != nil:
		p.bumpBucket(ctx, rlKey)
		p.persistAttempt(ctx, req, link.RemoteUserID, StageSubmission, OutcomeTransportError, err.Error())
		p.logger.Error("Entry submission failed",
			zap.String("connection_id", req.ConnectionID),
			zap.String("chat_user_id", req.ChatUserID),
			zap.Error(err))
		return &Result{Outcome: OutcomeTransportError, Stage: StageSubmission}
	}

	outcome := OutcomeAccepted
	if pendingReview || result.PendingReview() {
		outcome = OutcomePendingReview
	}

	// Stage 9: post-actions.
	p.bumpBucket(ctx, rlKey)
	p.finishAccepted(ctx, req, link.RemoteUserID, outcome)

	return &Result{Outcome: outcome, Stage: StagePostActions, Points: result.PointsAwarded}
}

// acquireRemoteLock spins on the cross-instance lock until held or the
// budget expires.
func (p *Pipeline) acquireRemoteLock(ctx context.Context, req Request) (string, error) {
	for {
		token, ok, err := p.locker.AcquireLock(ctx, lockKey(req), p.opts.LockTTL)
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// failure classifies an unexpected stage error: a blown budget is a
// Timeout (no state change), everything else a transport-level failure.
func (p *Pipeline) failure(ctx context.Context, req Request, stage Stage, err error) *Result {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Result{Outcome: OutcomeTimeout, Stage: stage}
	}
	p.logger.Error("Entry stage failed",
		zap.String("connection_id", req.ConnectionID),
		zap.String("stage", string(stage)),
		zap.Error(err))
	metrics.ErrorsTotal.WithLabelValues("entry", string(stage)).Inc()
	return &Result{Outcome: OutcomeTransportError, Stage: stage}
}

// bumpBucket charges the rate-limit window. Failures here never affect the
// outcome; an uncharged attempt is the cheaper failure mode.
func (p *Pipeline) bumpBucket(ctx context.Context, key string) {
	chargeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if _, err := p.locker.BucketIncr(chargeCtx, key, p.opts.RateLimitWindow); err != nil {
		p.logger.Warn("Failed to charge rate-limit bucket", zap.Error(err))
	}
}

// persistAttempt records a terminal non-accepted attempt.
func (p *Pipeline) persistAttempt(ctx context.Context, req Request, remoteUserID string, stage Stage, outcome Outcome, reason string) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	attempt := &store.EntryAttempt{
		ID:           uuid.NewString(),
		ConnectionID: req.ConnectionID,
		ChatUserID:   req.ChatUserID,
		RemoteUserID: remoteUserID,
		StartedAt:    req.StartedAt,
		FinishedAt:   time.Now().UTC(),
		Stage:        string(stage),
		Outcome:      string(outcome),
		Reason:       reason,
	}
	if err := p.store.CreateAttempt(writeCtx, attempt); err != nil {
		p.logger.Warn("Failed to persist entry attempt",
			zap.String("connection_id", req.ConnectionID),
			zap.Error(err))
	}
}

// recordLateAccepted persists the accepted attempt discovered through the
// backend (stale local index) so the local index converges. A duplicate
// insert just means the index already converged.
func (p *Pipeline) recordLateAccepted(ctx context.Context, req Request, remoteUserID string) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	attempt := &store.EntryAttempt{
		ID:           uuid.NewString(),
		ConnectionID: req.ConnectionID,
		ChatUserID:   req.ChatUserID,
		RemoteUserID: remoteUserID,
		StartedAt:    req.StartedAt,
		FinishedAt:   time.Now().UTC(),
		Stage:        string(StagePriorOutcome),
		Outcome:      string(OutcomeAccepted),
	}
	if err := p.store.CreateAttempt(writeCtx, attempt); err != nil && !errors.Is(err, store.ErrDuplicate) {
		p.logger.Warn("Failed to record late-discovered entry", zap.Error(err))
	}
}

// finishAccepted runs the accepted-path post-actions: persist the attempt,
// bump counters, touch the link, schedule a projection refresh.
func (p *Pipeline) finishAccepted(ctx context.Context, req Request, remoteUserID string, outcome Outcome) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()

	attempt := &store.EntryAttempt{
		ID:           uuid.NewString(),
		ConnectionID: req.ConnectionID,
		ChatUserID:   req.ChatUserID,
		RemoteUserID: remoteUserID,
		StartedAt:    req.StartedAt,
		FinishedAt:   time.Now().UTC(),
		Stage:        string(StageSubmission),
		Outcome:      string(OutcomeAccepted),
	}
	if outcome == OutcomePendingReview {
		attempt.Reason = "pending review"
	}
	if err := p.store.CreateAttempt(writeCtx, attempt); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// The backend accepted twice for the same pair: the unique
			// index caught what the conflict detection should have.
			metrics.InvariantViolations.WithLabelValues("duplicate_accepted_attempt").Inc()
			p.logger.Error("Duplicate accepted attempt detected",
				zap.String("connection_id", req.ConnectionID),
				zap.String("chat_user_id", req.ChatUserID))
		} else {
			p.logger.Error("Failed to persist accepted attempt", zap.Error(err))
		}
	}

	if err := p.store.IncEntryCount(writeCtx, req.ConnectionID); err != nil {
		p.logger.Warn("Failed to bump connection entry count", zap.Error(err))
	}
	if err := p.store.TouchLink(writeCtx, req.ChatUserID, time.Now().UTC()); err != nil {
		p.logger.Warn("Failed to touch account link", zap.Error(err))
	}
	if p.refresh != nil {
		p.refresh(req.ConnectionID)
	}
}

// eligibilityReasons evaluates the entity's static gates against the
// projection. The backend re-checks all of these at submission; this pass
// exists to fail fast with a useful reason list.
func eligibilityReasons(e *entity.Entity, now time.Time) []string {
	var reasons []string
	if e.StartTime != nil && now.Before(*e.StartTime) {
		reasons = append(reasons, "not started yet")
	}
	if e.EndTime != nil && !now.Before(*e.EndTime) {
		reasons = append(reasons, "entry window closed")
	}
	if e.Capacity > 0 && e.EntryCount >= e.Capacity {
		reasons = append(reasons, "no spots remaining")
	}
	return reasons
}

func lockKey(req Request) string {
	return kv.LockKey(req.ConnectionID, req.ChatUserID)
}

func rateKey(req Request) string {
	return kv.RateKey(string(req.Kind), req.ChatUserID+":"+req.ConnectionID)
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out
}
