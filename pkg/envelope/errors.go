package envelope

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// DefaultMessage is used when the backend gives no message.
const DefaultMessage = "operation failed"

// Kind is the error taxonomy of gateway calls.
type Kind int

const (
	// KindTransport covers unreachable hosts and malformed responses.
	KindTransport Kind = iota
	// KindApplication covers success=false and 4xx/5xx responses.
	KindApplication
	// KindAuth covers 401/403 responses about the session token.
	KindAuth
)

// String returns the metrics label of the kind.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindApplication:
		return "application"
	case KindAuth:
		return "auth"
	default:
		return "unknown"
	}
}

var errEmptyBody = errors.New("empty response body")

// TokenKeywords are the message fragments that mark a 401/403 as a session problem.
// Matching is case-insensitive.
var TokenKeywords = []string{
	"token",
	"jwt",
	"expirado",
	"expirada",
	"expired",
	"inválido",
	"invalido",
	"invalid signature",
	"sessão",
	"sessao",
	"unauthenticated",
}

// APIError is the typed error of every gateway call.
type APIError struct {
	Kind    Kind
	Status  int
	Message string
	cause   error
}

// NewTransportError wraps a network level failure.
func NewTransportError(cause error) *APIError {
	return &APIError{Kind: KindTransport, Message: DefaultMessage, cause: cause}
}

// NewAuthError reports a session failure detected before any request was sent.
func NewAuthError(msg string, cause error) *APIError {
	if msg == "" {
		msg = DefaultMessage
	}
	return &APIError{Kind: KindAuth, Status: http.StatusUnauthorized, Message: msg, cause: cause}
}

func newStatusError(status int, msg string) *APIError {
	kind := KindApplication
	if IsTokenFailure(status, msg) {
		kind = KindAuth
	}
	if msg == "" {
		msg = DefaultMessage
	}
	return &APIError{Kind: kind, Status: status, Message: msg}
}

// Error implements error.
func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("api %s error (%d): %s", e.Kind, e.Status, e.Message)
	}
	if e.cause != nil {
		return fmt.Sprintf("api %s error: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("api %s error: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying transport cause, if any.
func (e *APIError) Unwrap() error {
	return e.cause
}

// Classification implements cache.Classifier.
func (e *APIError) Classification() string {
	return e.Kind.String()
}

// UserMessage returns the backend message, or fallback when the backend
// gave none or the failure happened below the API.
func (e *APIError) UserMessage(fallback string) string {
	if e.Kind == KindTransport || e.Message == "" || e.Message == DefaultMessage {
		if fallback != "" {
			return fallback
		}
		return DefaultMessage
	}
	return e.Message
}

// IsTokenFailure reports whether a status/message pair describes an
// expired or invalid session token.
func IsTokenFailure(status int, msg string) bool {
	if status != http.StatusUnauthorized && status != http.StatusForbidden {
		return false
	}
	lower := strings.ToLower(msg)
	for _, kw := range TokenKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// AsAPIError extracts an *APIError from err.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsAuth reports whether err is a session failure.
func IsAuth(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Kind == KindAuth
}

// MessageOf returns the user-facing message of any error with a fallback.
func MessageOf(err error, fallback string) string {
	if err == nil {
		return ""
	}
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr.UserMessage(fallback)
	}
	if fallback != "" {
		return fallback
	}
	return err.Error()
}
