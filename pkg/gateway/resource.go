package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"escola-client/pkg/envelope"
)

// ResourceConfig describes one REST collection.
type ResourceConfig struct {
	// Name is the entity name used in logs, spans and metrics, e.g. "turmas"
	Name string

	// Path is the collection path, e.g. /api/academic-management/turmas
	Path string

	// CompletePath serves the unpaginated list (default: Path + "/all")
	CompletePath string
}

// Resource performs the standard operations against one collection.
type Resource[T any] struct {
	client *Client
	config ResourceConfig
}

// NewResource binds a collection to a client.
func NewResource[T any](client *Client, config ResourceConfig) *Resource[T] {
	config.Path = "/" + strings.Trim(config.Path, "/")
	if config.CompletePath == "" {
		config.CompletePath = config.Path + "/all"
	}
	if config.Name == "" {
		config.Name = config.Path[strings.LastIndex(config.Path, "/")+1:]
	}
	return &Resource[T]{client: client, config: config}
}

// Name returns the entity name.
func (r *Resource[T]) Name() string {
	return r.config.Name
}

// Client returns the client the resource is bound to.
func (r *Resource[T]) Client() *Client {
	return r.client
}

// List fetches one page.
func (r *Resource[T]) List(ctx context.Context, params ListParams) envelope.Result[[]T] {
	return Call[[]T](ctx, r.client, Request{
		Method: http.MethodGet,
		Path:   r.config.Path,
		Query:  params.Values(),
		Entity: r.config.Name,
	})
}

// ListAll fetches the unpaginated variant. Only search and filters apply.
func (r *Resource[T]) ListAll(ctx context.Context, params ListParams) envelope.Result[[]T] {
	return Call[[]T](ctx, r.client, Request{
		Method: http.MethodGet,
		Path:   r.config.CompletePath,
		Query:  params.FilterValues(),
		Entity: r.config.Name,
	})
}

// Get fetches one item.
func (r *Resource[T]) Get(ctx context.Context, id string) envelope.Result[T] {
	return Call[T](ctx, r.client, Request{
		Method: http.MethodGet,
		Path:   r.itemPath(id),
		Entity: r.config.Name,
	})
}

// Create posts a new item.
func (r *Resource[T]) Create(ctx context.Context, payload any) envelope.Result[T] {
	return Call[T](ctx, r.client, Request{
		Method: http.MethodPost,
		Path:   r.config.Path,
		Body:   payload,
		Entity: r.config.Name,
	})
}

// Update replaces the fields of one item.
func (r *Resource[T]) Update(ctx context.Context, id string, payload any) envelope.Result[T] {
	return Call[T](ctx, r.client, Request{
		Method: http.MethodPut,
		Path:   r.itemPath(id),
		Body:   payload,
		Entity: r.config.Name,
	})
}

// Delete removes one item. The response data carries only a message.
func (r *Resource[T]) Delete(ctx context.Context, id string) envelope.Result[envelope.MessageResponse] {
	return Call[envelope.MessageResponse](ctx, r.client, Request{
		Method: http.MethodDelete,
		Path:   r.itemPath(id),
		Entity: r.config.Name,
	})
}

// Patch performs a status-only transition such as /{id}/approve.
func (r *Resource[T]) Patch(ctx context.Context, id, action string, payload any) envelope.Result[T] {
	return Call[T](ctx, r.client, Request{
		Method: http.MethodPatch,
		Path:   r.itemPath(id) + "/" + url.PathEscape(action),
		Body:   payload,
		Entity: r.config.Name,
	})
}

// SubPath returns the path of a nested collection, e.g. /turmas/{id}/alunos.
func (r *Resource[T]) SubPath(id, sub string) string {
	return r.itemPath(id) + "/" + strings.Trim(sub, "/")
}

func (r *Resource[T]) itemPath(id string) string {
	return r.config.Path + "/" + url.PathEscape(id)
}

// ListSub fetches one page of a nested collection whose rows are of type S.
func ListSub[S, T any](ctx context.Context, r *Resource[T], id, sub string, params ListParams) envelope.Result[[]S] {
	if id == "" {
		return envelope.Fail[[]S](envelope.NewTransportError(fmt.Errorf("gateway: %s/%s: empty id", r.config.Name, sub)))
	}
	return Call[[]S](ctx, r.client, Request{
		Method: http.MethodGet,
		Path:   r.SubPath(id, sub),
		Query:  params.Values(),
		Entity: r.config.Name,
	})
}
