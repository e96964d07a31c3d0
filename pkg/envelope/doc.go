// Package envelope decodes the {success, message, data, pagination} response
// shape returned by every backend endpoint.
//
// Parse is the only place the shape is checked. It returns a Result that is
// either a decoded Envelope or an *APIError; callers branch on Ok instead of
// inspecting status codes and flags themselves.
package envelope
