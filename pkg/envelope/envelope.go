package envelope

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
)

// Envelope is the wire-level response of every endpoint.
type Envelope[T any] struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message,omitempty"`
	Data       T           `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// Pagination describes one page of a list response.
type Pagination struct {
	CurrentPage  int `json:"currentPage"`
	TotalPages   int `json:"totalPages"`
	TotalItems   int `json:"totalItems"`
	ItemsPerPage int `json:"itemsPerPage"`
}

// Normalize enforces a 1-based current page and at least one page.
func (p *Pagination) Normalize() {
	if p.CurrentPage < 1 {
		p.CurrentPage = 1
	}
	if p.TotalPages < 1 {
		p.TotalPages = 1
	}
}

// HasNext reports whether a page follows the current one.
func (p Pagination) HasNext() bool {
	return p.CurrentPage < p.TotalPages
}

// MessageResponse is the data of a delete response.
type MessageResponse struct {
	Message string `json:"message"`
}

// Result is either a decoded envelope or an API error.
type Result[T any] struct {
	env *Envelope[T]
	err *APIError
}

// Ok wraps a successful envelope.
func Ok[T any](env Envelope[T]) Result[T] {
	return Result[T]{env: &env}
}

// Fail wraps an error.
func Fail[T any](err *APIError) Result[T] {
	return Result[T]{err: err}
}

// Ok reports whether the result holds an envelope.
func (r Result[T]) Ok() bool {
	return r.err == nil && r.env != nil
}

// Envelope returns the decoded envelope; zero when the result failed.
func (r Result[T]) Envelope() Envelope[T] {
	if r.env == nil {
		return Envelope[T]{}
	}
	return *r.env
}

// Err returns the API error, or nil when the result is Ok.
func (r Result[T]) Err() *APIError {
	if r.err == nil && r.env == nil {
		return &APIError{Kind: KindTransport, Message: DefaultMessage}
	}
	return r.err
}

// Unwrap converts the result to Go's (value, error) form.
func (r Result[T]) Unwrap() (Envelope[T], error) {
	if !r.Ok() {
		return Envelope[T]{}, r.Err()
	}
	return *r.env, nil
}

// Parse decodes a response body into an envelope.
//
// Rules:
// - an undecodable or empty body is a transport error
// - a non-2xx status is an application error carrying the backend message when present
// - a 2xx status with success=false is an application error as well
// - 401/403 with a token related message is an auth error
// - pagination, when present, is normalized
func Parse[T any](status int, body []byte) Result[T] {
	body = bytes.TrimSpace(body)
	ok := status >= http.StatusOK && status < http.StatusMultipleChoices

	if len(body) == 0 {
		if ok {
			return Fail[T](&APIError{Kind: KindTransport, Status: status, Message: DefaultMessage, cause: errEmptyBody})
		}
		return Fail[T](newStatusError(status, ""))
	}

	if !ok {
		var probe struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal(body, &probe); err != nil {
			return Fail[T](newStatusError(status, ""))
		}
		msg := probe.Message
		if msg == "" {
			msg = probe.Error
		}
		return Fail[T](newStatusError(status, msg))
	}

	var env Envelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		return Fail[T](&APIError{
			Kind:    KindTransport,
			Status:  status,
			Message: DefaultMessage,
			cause:   fmt.Errorf("decode envelope: %w", err),
		})
	}

	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = DefaultMessage
		}
		return Fail[T](&APIError{Kind: KindApplication, Status: status, Message: msg})
	}

	if env.Pagination != nil {
		env.Pagination.Normalize()
	}

	return Ok(env)
}
