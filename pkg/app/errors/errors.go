// Package errors contains helper functions and types to work with errors
// produced by the interactive-post engine. Every user-facing failure is a
// ServiceError carrying a Category; the category decides what the user sees,
// what gets logged, and whether the attempt consumed any budget.
package errors

import (
	"errors"
	"net/http"
)

// Category defines error category
type Category int

const (
	// CategoryNone marks the absence of an error for metric labelling.
	CategoryNone Category = iota
	// CategoryInputValidation The interaction carried malformed or missing data.
	CategoryInputValidation
	// CategoryNotAuthorized The operator lacks permission for the operation.
	CategoryNotAuthorized
	// CategoryAccountNotLinked The chat user has no active account link.
	CategoryAccountNotLinked
	// CategoryRateLimited The per-user attempt budget is exhausted.
	CategoryRateLimited
	// CategoryNotEligible The user fails the entity's static eligibility gates.
	CategoryNotEligible
	// CategoryRequirementsUnmet One or more required verifications failed.
	CategoryRequirementsUnmet
	// CategoryAlreadyEntered A successful entry already exists; presented as success.
	CategoryAlreadyEntered
	// CategoryConnectionInactive The connection is archived or its entity has ended.
	CategoryConnectionInactive
	// CategoryNotFound The referenced resource does not exist.
	CategoryNotFound
	// CategoryConflict The operation conflicts with existing state.
	CategoryConflict
	// CategoryTransport A dependent service failed or was unreachable.
	CategoryTransport
	// CategoryTimeout The operation exceeded its wall-clock budget.
	CategoryTimeout
	// CategoryInternal The service failed in an unexpected way.
	CategoryInternal
)

func (c Category) String() string {
	switch c {
	case CategoryNone:
		return "None"
	case CategoryInputValidation:
		return "InputValidation"
	case CategoryNotAuthorized:
		return "NotAuthorized"
	case CategoryAccountNotLinked:
		return "AccountNotLinked"
	case CategoryRateLimited:
		return "RateLimited"
	case CategoryNotEligible:
		return "NotEligible"
	case CategoryRequirementsUnmet:
		return "RequirementsUnmet"
	case CategoryAlreadyEntered:
		return "AlreadyEntered"
	case CategoryConnectionInactive:
		return "ConnectionInactive"
	case CategoryNotFound:
		return "NotFound"
	case CategoryConflict:
		return "Conflict"
	case CategoryTransport:
		return "Transport"
	case CategoryTimeout:
		return "Timeout"
	default:
		return "Internal"
	}
}

// ServiceError represents a categorized error used across the engine.
// Message is safe to show to the end user; Err carries the cause for logs.
type ServiceError struct {
	Category Category
	Message  string
	// Reasons holds per-requirement detail for NotEligible and
	// RequirementsUnmet; empty otherwise.
	Reasons []string
	Err     error
}

// Error method to comply with error interface
func (err *ServiceError) Error() string {
	if err.Err != nil {
		return err.Err.Error()
	}
	return err.Message
}

// Unwrap returns the underlying error
func (err *ServiceError) Unwrap() error {
	return err.Err
}

// Is checks that provided error is a ServiceError with desired Category
func Is(err error, cat Category) bool {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) && svcErr.Category == cat {
		return true
	}
	return false
}

// CategoryOf extracts the category from an error, defaulting to Internal for
// anything that is not a ServiceError.
func CategoryOf(err error) Category {
	if err == nil {
		return CategoryNone
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Category
	}
	return CategoryInternal
}

// ReasonsOf returns the per-requirement reasons attached to an error, if any.
func ReasonsOf(err error) []string {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Reasons
	}
	return nil
}

// IsUserVisible reports whether the error's message may be shown verbatim.
// Transport and internal failures get the generic wording instead.
func IsUserVisible(err error) bool {
	switch CategoryOf(err) {
	case CategoryTransport, CategoryInternal:
		return false
	default:
		return true
	}
}

// New builds a ServiceError with the given category and user-visible message.
func New(cat Category, message string) error {
	return &ServiceError{Category: cat, Message: message}
}

// Wrap builds a ServiceError around a cause.
func Wrap(cat Category, message string, err error) error {
	return &ServiceError{Category: cat, Message: message, Err: err}
}

// WithReasons builds a ServiceError carrying per-requirement reasons.
func WithReasons(cat Category, message string, reasons []string) error {
	return &ServiceError{Category: cat, Message: message, Reasons: reasons}
}

// Internal returns a generic internal error; the cause is logged, the user
// sees only a generic message.
func Internal(err error) error {
	if err == nil {
		err = errors.New("internal error")
	}
	return &ServiceError{
		Category: CategoryInternal,
		Message:  "Something went wrong. Please try again later.",
		Err:      err,
	}
}

// Transport returns a dependency-failure error with the standard retry hint.
func Transport(err error) error {
	return &ServiceError{
		Category: CategoryTransport,
		Message:  "A service we depend on is having trouble. Please try again.",
		Err:      err,
	}
}

// NotFound returns an error with category NotFound.
func NotFound(message string) error {
	return &ServiceError{Category: CategoryNotFound, Message: message}
}

// Conflict returns an error with category Conflict.
func Conflict(message string) error {
	return &ServiceError{Category: CategoryConflict, Message: message}
}

// StatusCode returns the HTTP status code for the error category. Used by
// the operational HTTP surface; interaction flows never see HTTP codes.
func (err *ServiceError) StatusCode() int {
	switch err.Category {
	case CategoryInputValidation:
		return http.StatusBadRequest
	case CategoryNotAuthorized:
		return http.StatusForbidden
	case CategoryAccountNotLinked:
		return http.StatusPreconditionFailed
	case CategoryRateLimited:
		return http.StatusTooManyRequests
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryConflict, CategoryAlreadyEntered:
		return http.StatusConflict
	case CategoryConnectionInactive:
		return http.StatusGone
	case CategoryTransport:
		return http.StatusBadGateway
	case CategoryTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
