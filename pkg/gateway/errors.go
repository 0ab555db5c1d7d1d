package gateway

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// Kind is the uniform error taxonomy every gateway caller sees. Callers
// never inspect platform SDK errors directly.
type Kind int

const (
	KindUnreachable Kind = iota
	KindForbidden
	KindNotFound
	KindRateLimited
	KindTransient
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	default:
		return "permanent"
	}
}

// Error is a normalized chat-platform failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a gateway error of the given kind.
func IsKind(err error, kind Kind) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Kind == kind
}

// normalize maps SDK and transport errors onto the taxonomy. Message edits
// against a deleted message come back as NotFound so the reconciler can
// archive the connection.
func normalize(op string, err error) error {
	if err == nil {
		return nil
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return &Error{Kind: kindForStatus(restErr.Response.StatusCode), Op: op, Err: err}
	}

	var rlErr *discordgo.RateLimitError
	if errors.As(err, &rlErr) {
		return &Error{Kind: KindRateLimited, Op: op, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &Error{Kind: KindUnreachable, Op: op, Err: err}
	}

	return &Error{Kind: KindTransient, Op: op, Err: err}
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}
