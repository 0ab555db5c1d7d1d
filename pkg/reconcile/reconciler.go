// Package reconcile drives every active connection's projection toward the
// backend's authoritative state and keeps the posted messages in sync.
package reconcile

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/questbridge/bot/internal/metrics"
	"github.com/questbridge/bot/pkg/backend"
	"github.com/questbridge/bot/pkg/config"
	"github.com/questbridge/bot/pkg/content"
	"github.com/questbridge/bot/pkg/entity"
	"github.com/questbridge/bot/pkg/gateway"
	"github.com/questbridge/bot/pkg/store"
)

// Store is the repository surface the reconciler needs.
type Store interface {
	ListActiveConnections(ctx context.Context) ([]*store.Connection, error)
	ListEndedBefore(ctx context.Context, cutoff time.Time) ([]*store.Connection, error)
	ListConnectionsByEntity(ctx context.Context, entityID string) ([]*store.Connection, error)
	GetConnection(ctx context.Context, id string) (*store.Connection, error)
	UpdateProjection(ctx context.Context, id string, proj *entity.Entity, reconciledAt time.Time) error
	TouchReconciled(ctx context.Context, id string, reconciledAt time.Time) error
	SetConnectionState(ctx context.Context, id string, state store.ConnState) error
	ClaimEndNotification(ctx context.Context, id string, at time.Time) (bool, error)
	CountAcceptedAttempts(ctx context.Context, connectionID string) (int64, error)
}

// Backend fetches authoritative entities.
type Backend interface {
	GetEntity(ctx context.Context, kind entity.Kind, id string) (*entity.Entity, error)
}

// Messenger is the gateway surface the reconciler needs.
type Messenger interface {
	EditMessage(ctx context.Context, edit *discordgo.MessageEdit) error
	SendText(ctx context.Context, channelID, content string) error
}

// connHealth tracks per-connection failure back-off.
type connHealth struct {
	failures     int
	nextAttempt  time.Time
	failingSince time.Time
}

// Reconciler periodically sweeps active connections and also serves
// priority refresh requests from webhooks and the entry pipeline.
type Reconciler struct {
	cfg     config.ReconcilerConfig
	store   Store
	backend Backend
	gw      Messenger
	logger  *zap.Logger

	sem       *semaphore.Weighted
	refreshCh chan string

	mu     sync.Mutex
	health map[string]*connHealth
	ready  bool
	// locks serializes reconcile passes per connection.
	locks map[string]*sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Reconciler.
func New(cfg config.ReconcilerConfig, st Store, be Backend, gw Messenger, logger *zap.Logger) *Reconciler {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Reconciler{
		cfg:       cfg,
		store:     st,
		backend:   be,
		gw:        gw,
		logger:    logger,
		sem:       semaphore.NewWeighted(int64(concurrency)),
		refreshCh: make(chan string, 256),
		health:    make(map[string]*connHealth),
		locks:     make(map[string]*sync.Mutex),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the sweep loop and the priority refresh worker.
func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)
	r.logger.Info("Reconciler started",
		zap.Duration("interval", r.cfg.Interval),
		zap.Int("concurrency", r.cfg.Concurrency))
}

// Stop stops the reconciler and waits for in-flight passes.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	r.wg.Wait()
	r.logger.Info("Reconciler stopped")
}

// IsReady reports whether the initial sweep has completed.
func (r *Reconciler) IsReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// RequestRefresh schedules a priority refresh for one connection. Never
// blocks; a full queue falls back to the next periodic sweep.
func (r *Reconciler) RequestRefresh(connectionID string) {
	select {
	case r.refreshCh <- connectionID:
	default:
		r.logger.Warn("Refresh queue full, deferring to next sweep",
			zap.String("connection_id", connectionID))
	}
}

// HandleEntityEvent is the event-driven path: a backend webhook reports an
// entity changed, and every connection bound to it is refreshed with
// priority.
func (r *Reconciler) HandleEntityEvent(ctx context.Context, entityID string) error {
	conns, err := r.store.ListConnectionsByEntity(ctx, entityID)
	if err != nil {
		return err
	}
	for _, conn := range conns {
		r.RequestRefresh(conn.ID)
	}
	return nil
}

func (r *Reconciler) loop(ctx context.Context) {
	defer r.wg.Done()

	// First sweep runs immediately so /ready can go green without
	// waiting a full interval.
	r.sweep(ctx)
	r.mu.Lock()
	r.ready = true
	r.mu.Unlock()

	timer := time.NewTimer(r.jitteredInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-timer.C:
			r.sweep(ctx)
			timer.Reset(r.jitteredInterval())
		case id := <-r.refreshCh:
			r.reconcileByID(ctx, id)
		}
	}
}

func (r *Reconciler) jitteredInterval() time.Duration {
	interval := r.cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	jitter := r.cfg.Jitter
	if jitter <= 0 {
		jitter = interval / 6
	}
	return interval + time.Duration(rand.Int63n(int64(jitter)))
}

// sweep reconciles every active connection that is not backing off.
func (r *Reconciler) sweep(ctx context.Context) {
	start := time.Now()

	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conns, err := r.store.ListActiveConnections(listCtx)
	cancel()
	if err != nil {
		r.logger.Error("Failed to list active connections", zap.Error(err))
		metrics.ReconcileSweeps.WithLabelValues("error").Inc()
		return
	}

	r.updateLagMetrics(conns, start)

	var wg sync.WaitGroup
	for _, conn := range conns {
		if !r.due(conn.ID, start) {
			continue
		}
		if err := r.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(c *store.Connection) {
			defer wg.Done()
			defer r.sem.Release(1)
			r.reconcileOne(ctx, c)
		}(conn)
	}
	wg.Wait()

	r.archiveExpired(ctx, start)

	metrics.ReconcileSweeps.WithLabelValues("ok").Inc()
	r.logger.Debug("Reconcile sweep finished",
		zap.Int("connections", len(conns)),
		zap.Duration("duration", time.Since(start)))
}

func (r *Reconciler) reconcileByID(ctx context.Context, id string) {
	loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, err := r.store.GetConnection(loadCtx, id)
	cancel()
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("Failed to load connection for refresh",
				zap.String("connection_id", id), zap.Error(err))
		}
		return
	}
	if conn.State == store.ConnArchived {
		return
	}
	r.reconcileOne(ctx, conn)
}

// reconcileOne fetches the authoritative entity, diffs it against the
// cached projection and emits a message edit when they differ. Passes for
// the same connection are serialized.
func (r *Reconciler) reconcileOne(ctx context.Context, conn *store.Connection) {
	unlock := r.lockConn(conn.ID)
	defer unlock()

	opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	fresh, err := r.backend.GetEntity(opCtx, conn.Kind, conn.EntityID)
	if errors.Is(err, backend.ErrNotFound) {
		// Entity deleted remotely: the post can never sync again.
		r.logger.Warn("Entity gone, archiving connection",
			zap.String("connection_id", conn.ID),
			zap.String("entity_id", conn.EntityID))
		r.archive(opCtx, conn)
		metrics.ReconcileConnections.WithLabelValues("archived").Inc()
		return
	}
	if err != nil {
		r.recordFailure(conn.ID)
		metrics.ReconcileConnections.WithLabelValues("fetch_error").Inc()
		r.logger.Warn("Failed to fetch entity",
			zap.String("connection_id", conn.ID), zap.Error(err))
		return
	}

	// The backend counter can run ahead of the local accepted index but
	// never behind it.
	if n, cntErr := r.store.CountAcceptedAttempts(opCtx, conn.ID); cntErr == nil && n > int64(fresh.EntryCount) {
		metrics.InvariantViolations.WithLabelValues("local_accepted_exceeds_backend").Inc()
		r.logger.Warn("Local accepted attempts exceed backend entry count",
			zap.String("connection_id", conn.ID),
			zap.Int64("local", n),
			zap.Int("backend", fresh.EntryCount))
	}

	now := time.Now().UTC()
	changed := entity.Diff(conn.Projection, fresh)
	if len(changed) == 0 {
		r.recordSuccess(conn.ID)
		if err := r.store.TouchReconciled(opCtx, conn.ID, now); err != nil {
			r.logger.Warn("Failed to advance watermark",
				zap.String("connection_id", conn.ID), zap.Error(err))
		}
		metrics.ReconcileConnections.WithLabelValues("unchanged").Inc()
		return
	}

	edit := content.EditMessage(conn.ChannelID, conn.MessageID, conn.ID, fresh)
	if err := r.gw.EditMessage(opCtx, edit); err != nil {
		if gateway.IsKind(err, gateway.KindNotFound) {
			// The message was deleted externally; the binding is broken
			// and is never silently recreated.
			r.logger.Warn("Posted message gone, archiving connection",
				zap.String("connection_id", conn.ID))
			r.archive(opCtx, conn)
			metrics.ReconcileConnections.WithLabelValues("archived").Inc()
			return
		}
		r.recordFailure(conn.ID)
		metrics.ReconcileConnections.WithLabelValues("edit_error").Inc()
		r.logger.Warn("Failed to edit message",
			zap.String("connection_id", conn.ID), zap.Error(err))
		return
	}

	if err := r.store.UpdateProjection(opCtx, conn.ID, fresh, now); err != nil {
		r.recordFailure(conn.ID)
		r.logger.Error("Failed to store projection",
			zap.String("connection_id", conn.ID), zap.Error(err))
		return
	}

	if entity.EndedTransition(conn.Projection, fresh) {
		r.handleEnded(opCtx, conn, fresh)
	}

	r.recordSuccess(conn.ID)
	metrics.ReconcileConnections.WithLabelValues("updated").Inc()
	r.logger.Info("Connection reconciled",
		zap.String("connection_id", conn.ID),
		zap.Strings("changed", changed))
}

// handleEnded performs the one-shot end-of-life actions. The notification
// claim is a single-document conditional update, so concurrent passes and
// other instances cannot double-post.
func (r *Reconciler) handleEnded(ctx context.Context, conn *store.Connection, fresh *entity.Entity) {
	if err := r.store.SetConnectionState(ctx, conn.ID, store.ConnEnded); err != nil {
		r.logger.Warn("Failed to mark connection ended",
			zap.String("connection_id", conn.ID), zap.Error(err))
	}

	claimed, err := r.store.ClaimEndNotification(ctx, conn.ID, time.Now().UTC())
	if err != nil {
		r.logger.Warn("Failed to claim end notification",
			zap.String("connection_id", conn.ID), zap.Error(err))
		return
	}
	if !claimed {
		return
	}
	if err := r.gw.SendText(ctx, conn.ChannelID, content.EndNotification(fresh)); err != nil {
		r.logger.Warn("Failed to post end notification",
			zap.String("connection_id", conn.ID), zap.Error(err))
	}
}

// archiveExpired retires ended connections whose grace window has elapsed.
// Archiving frees the (guild, entity) uniqueness slot so the entity can be
// bound again later.
func (r *Reconciler) archiveExpired(ctx context.Context, now time.Time) {
	grace := r.cfg.EndedGrace
	if grace <= 0 {
		grace = 24 * time.Hour
	}

	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	expired, err := r.store.ListEndedBefore(listCtx, now.Add(-grace))
	if err != nil {
		r.logger.Error("Failed to list ended connections", zap.Error(err))
		return
	}
	for _, conn := range expired {
		r.archive(listCtx, conn)
		metrics.ReconcileConnections.WithLabelValues("archived").Inc()
		r.logger.Info("Archived ended connection past grace window",
			zap.String("connection_id", conn.ID),
			zap.String("entity_id", conn.EntityID))
	}
}

func (r *Reconciler) archive(ctx context.Context, conn *store.Connection) {
	if err := r.store.SetConnectionState(ctx, conn.ID, store.ConnArchived); err != nil {
		r.logger.Error("Failed to archive connection",
			zap.String("connection_id", conn.ID), zap.Error(err))
		return
	}
	r.forget(conn.ID)
}

// due applies the per-connection back-off window.
func (r *Reconciler) due(id string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.health[id]
	if !ok {
		return true
	}
	return !now.Before(h.nextAttempt)
}

func (r *Reconciler) recordFailure(id string) {
	base := r.cfg.BackoffBase
	if base <= 0 {
		base = 30 * time.Second
	}
	cap := r.cfg.BackoffCap
	if cap <= 0 {
		cap = 10 * time.Minute
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.health[id]
	if !ok {
		h = &connHealth{failingSince: time.Now()}
		r.health[id] = h
	}
	h.failures++
	delay := cap
	if shift := h.failures - 1; shift < 16 {
		if d := base << shift; d < cap {
			delay = d
		}
	}
	h.nextAttempt = time.Now().Add(delay)
	r.refreshStaleGauge()
}

func (r *Reconciler) recordSuccess(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.health, id)
	r.refreshStaleGauge()
}

func (r *Reconciler) forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.health, id)
	delete(r.locks, id)
	r.refreshStaleGauge()
}

// refreshStaleGauge recounts connections failing past the failure cap.
// Caller holds r.mu.
func (r *Reconciler) refreshStaleGauge() {
	failureCap := r.cfg.FailureCap
	if failureCap <= 0 {
		failureCap = time.Hour
	}
	stale := 0
	now := time.Now()
	for _, h := range r.health {
		if now.Sub(h.failingSince) >= failureCap {
			stale++
		}
	}
	metrics.StaleConnections.Set(float64(stale))
}

func (r *Reconciler) updateLagMetrics(conns []*store.Connection, now time.Time) {
	var worst time.Duration
	for _, conn := range conns {
		if conn.LastReconciledAt.IsZero() {
			continue
		}
		if lag := now.Sub(conn.LastReconciledAt); lag > worst {
			worst = lag
		}
	}
	metrics.ReconcileLag.Set(worst.Seconds())
}

func (r *Reconciler) lockConn(id string) func() {
	r.mu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	r.mu.Unlock()
	l.Lock()
	return l.Unlock
}
