// Package webhook receives entity-change events from the quest platform and
// turns them into priority reconcile refreshes.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Refresher is the reconciler surface the handler needs.
type Refresher interface {
	HandleEntityEvent(ctx context.Context, entityID string) error
}

// EntityEvent is the webhook payload.
type EntityEvent struct {
	EntityID string `json:"entityId"`
	Kind     string `json:"kind"`
}

// Handler authenticates and dispatches entity-change webhooks.
type Handler struct {
	secret    []byte
	refresher Refresher
	logger    *zap.Logger
}

// NewHandler creates a webhook handler verifying HS256 tokens signed with
// the shared secret.
func NewHandler(secret string, refresher Refresher, logger *zap.Logger) *Handler {
	return &Handler{
		secret:    []byte(secret),
		refresher: refresher,
		logger:    logger,
	}
}

// HandleEntityEvent is the handler for POST /webhooks/entity.
func (h *Handler) HandleEntityEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.authenticate(r); err != nil {
		h.logger.Warn("Rejected webhook", zap.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var event EntityEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	if event.EntityID == "" {
		http.Error(w, "entityId is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.refresher.HandleEntityEvent(ctx, event.EntityID); err != nil {
		h.logger.Error("Failed to schedule refresh from webhook",
			zap.String("entity_id", event.EntityID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.logger.Debug("Webhook accepted",
		zap.String("entity_id", event.EntityID),
		zap.String("kind", event.Kind))
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) authenticate(r *http.Request) error {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" {
		return fmt.Errorf("missing bearer token")
	}
	_, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return h.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	return nil
}
