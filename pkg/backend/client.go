// Package backend is the typed client for the quest-platform HTTP API.
// Idempotent calls retry with jittered exponential backoff; entry submission
// never retries.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/questbridge/bot/internal/metrics"
	"github.com/questbridge/bot/pkg/config"
	"github.com/questbridge/bot/pkg/entity"
)

var (
	ErrNotFound       = errors.New("backend: not found")
	ErrAlreadyEntered = errors.New("backend: entry already exists")
	ErrEntityEnded    = errors.New("backend: entity no longer accepts entries")
	ErrNotAuthorized  = errors.New("backend: not authorized")
)

// retryableError marks a failure worth another attempt.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Client talks to the quest-platform API with bearer auth.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	logger     *zap.Logger
}

// NewClient creates a backend API client from configuration.
func NewClient(cfg config.BackendConfig, logger *zap.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}
}

// GetEntity fetches the authoritative entity by kind and id.
func (c *Client) GetEntity(ctx context.Context, kind entity.Kind, id string) (*entity.Entity, error) {
	var out entity.Entity
	path := fmt.Sprintf("/v1/%ss/%s", kind, id)
	if err := c.doRetry(ctx, http.MethodGet, path, nil, &out, "get_entity"); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetUser fetches a remote platform user.
func (c *Client) GetUser(ctx context.Context, remoteUserID string) (*User, error) {
	var out User
	path := fmt.Sprintf("/v1/users/%s", remoteUserID)
	if err := c.doRetry(ctx, http.MethodGet, path, nil, &out, "get_user"); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPriorEntry asks whether a user already has an entry for the entity.
// A nil result with nil error means no prior entry exists.
func (c *Client) GetPriorEntry(ctx context.Context, entityID, remoteUserID string) (*PriorEntry, error) {
	var out PriorEntry
	path := fmt.Sprintf("/v1/entities/%s/entries/%s", entityID, remoteUserID)
	err := c.doRetry(ctx, http.MethodGet, path, nil, &out, "get_prior_entry")
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitEntry records an entry/completion. This call is deliberately never
// retried: a duplicate submission after an ambiguous failure would race the
// backend's conflict detection, and the prior-outcome check on the next
// attempt recovers cheaper.
func (c *Client) SubmitEntry(ctx context.Context, req *SubmitEntryRequest) (*SubmitResult, error) {
	var out SubmitResult
	path := fmt.Sprintf("/v1/entities/%s/entries", req.EntityID)
	if err := c.do(ctx, http.MethodPost, path, req, &out, "submit_entry"); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyRequirement delegates a remote-side requirement check.
func (c *Client) VerifyRequirement(ctx context.Context, req *VerifyRequest) (*VerifyResult, error) {
	var out VerifyResult
	if err := c.doRetry(ctx, http.MethodPost, "/v1/verifications", req, &out, "verify"); err != nil {
		return nil, err
	}
	return &out, nil
}

// NotifyBinding tells the backend a new connection exists.
func (c *Client) NotifyBinding(ctx context.Context, n *BindingNotification) error {
	return c.doRetry(ctx, http.MethodPost, "/v1/bindings", n, nil, "notify_binding")
}

// NotifyUnbinding tells the backend a connection was removed.
func (c *Client) NotifyUnbinding(ctx context.Context, entityID, guildID string) error {
	path := fmt.Sprintf("/v1/bindings/%s/%s", entityID, guildID)
	return c.doRetry(ctx, http.MethodDelete, path, nil, nil, "notify_unbinding")
}

// GetAnalytics fetches per-entity counters.
func (c *Client) GetAnalytics(ctx context.Context, entityID string) (*Analytics, error) {
	var out Analytics
	path := fmt.Sprintf("/v1/entities/%s/analytics", entityID)
	if err := c.doRetry(ctx, http.MethodGet, path, nil, &out, "get_analytics"); err != nil {
		return nil, err
	}
	return &out, nil
}

// doRetry performs a request with up to maxRetries extra attempts on
// transport errors and 5xx responses.
func (c *Client) doRetry(ctx context.Context, method, path string, body, out any, endpoint string) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(250*time.Millisecond),
			backoff.WithMaxInterval(2*time.Second),
		), uint64(c.maxRetries)),
		ctx,
	)

	return backoff.Retry(func() error {
		err := c.do(ctx, method, path, body, out, endpoint)
		var retryable *retryableError
		if errors.As(err, &retryable) {
			c.logger.Warn("Backend call failed, will retry",
				zap.String("endpoint", endpoint),
				zap.Error(err))
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, policy)
}

// do performs one request attempt and decodes the response.
func (c *Client) do(ctx context.Context, method, path string, body, out any, endpoint string) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.BackendRequests.WithLabelValues(endpoint, "transport").Inc()
		return &retryableError{fmt.Errorf("backend %s %s: %w", method, path, err)}
	}
	defer resp.Body.Close()

	metrics.BackendRequests.WithLabelValues(endpoint, statusClass(resp.StatusCode)).Inc()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	case resp.StatusCode >= 500:
		return &retryableError{fmt.Errorf("backend %s %s: status %d", method, path, resp.StatusCode)}
	default:
		return c.statusError(resp, method, path)
	}
}

// statusError maps non-5xx failure statuses onto sentinel errors.
func (c *Client) statusError(resp *http.Response, method, path string) error {
	var envelope apiError
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&envelope)

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	case http.StatusConflict:
		return ErrAlreadyEntered
	case http.StatusGone:
		return ErrEntityEnded
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrNotAuthorized, envelope.Message)
	case http.StatusUnprocessableEntity:
		if envelope.Code == "entity_ended" {
			return ErrEntityEnded
		}
		fallthrough
	default:
		return fmt.Errorf("backend %s %s: status %d code=%s %s",
			method, path, resp.StatusCode, envelope.Code, envelope.Message)
	}
}

func statusClass(code int) string {
	switch {
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
