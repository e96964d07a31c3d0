// Package resource binds one backend collection to the query store and the
// mutation controller, so each entity is a single configuration value.
package resource

import (
	"context"
	"fmt"

	"escola-client/pkg/cache"
	"escola-client/pkg/envelope"
	"escola-client/pkg/gateway"
	"escola-client/pkg/mutation"
	"escola-client/pkg/policy"
	"escola-client/pkg/query"
)

// Deps are the shared components every resource is built on.
type Deps struct {
	Client     *gateway.Client
	Store      *query.Store
	Controller *mutation.Controller
}

// Messages override the default failure messages of each mutation.
type Messages struct {
	Create string
	Update string
	Delete string
	Status string
}

// Config describes one entity.
type Config struct {
	// Name is the cache namespace and policy entity, e.g. "turmas"
	Name string

	// Path is the collection path
	Path string

	// CompletePath serves the unpaginated list (default: Path + "/all")
	CompletePath string

	// Options apply to list, detail and sub-collection reads
	Options query.Options

	// CompleteOptions apply to unpaginated reads (default: low priority)
	CompleteOptions query.Options

	// Messages are the failure messages shown when the backend gives none
	Messages Messages
}

// Page is one decoded page of a list.
type Page[T any] struct {
	Items      []T                 `json:"items"`
	Pagination envelope.Pagination `json:"pagination"`
}

// View is a typed read result.
type View[V any] struct {
	Value V
	query.Result
}

// Update is the input of an update mutation.
type Update[In any] struct {
	ID   string
	Data In
}

// StatusChange is the input of a status-only transition.
type StatusChange struct {
	ID      string
	Action  string
	Payload any
}

// Resource is the typed access point of one entity: cached reads plus
// create, update, delete and status mutations.
type Resource[T, In any] struct {
	api    *gateway.Resource[T]
	store  *query.Store
	config Config

	create *mutation.Mutation[In, T]
	update *mutation.Mutation[Update[In], T]
	remove *mutation.Mutation[string, envelope.MessageResponse]
	status *mutation.Mutation[StatusChange, T]
}

// New builds the resource described by config.
func New[T, In any](deps Deps, config Config) *Resource[T, In] {
	if config.Options == (query.Options{}) {
		config.Options = query.DefaultOptions()
	}
	if config.CompleteOptions == (query.Options{}) {
		config.CompleteOptions = query.LowPriorityOptions()
	}

	api := gateway.NewResource[T](deps.Client, gateway.ResourceConfig{
		Name:         config.Name,
		Path:         config.Path,
		CompletePath: config.CompletePath,
	})
	config.Name = api.Name()

	r := &Resource[T, In]{
		api:    api,
		store:  deps.Store,
		config: config,
	}

	r.create = mutation.New(deps.Controller, mutation.Spec[In, T]{
		Entity:         config.Name,
		Kind:           policy.KindCreate,
		FailureMessage: config.Messages.Create,
		Do: func(ctx context.Context, in In) envelope.Result[T] {
			return api.Create(ctx, in)
		},
	})
	r.update = mutation.New(deps.Controller, mutation.Spec[Update[In], T]{
		Entity:         config.Name,
		Kind:           policy.KindUpdate,
		FailureMessage: config.Messages.Update,
		ID:             func(in Update[In]) string { return in.ID },
		Payload:        func(in Update[In]) any { return in.Data },
		Do: func(ctx context.Context, in Update[In]) envelope.Result[T] {
			return api.Update(ctx, in.ID, in.Data)
		},
	})
	r.remove = mutation.New(deps.Controller, mutation.Spec[string, envelope.MessageResponse]{
		Entity:         config.Name,
		Kind:           policy.KindDelete,
		FailureMessage: config.Messages.Delete,
		ID:             func(id string) string { return id },
		Do: func(ctx context.Context, id string) envelope.Result[envelope.MessageResponse] {
			return api.Delete(ctx, id)
		},
	})
	r.status = mutation.New(deps.Controller, mutation.Spec[StatusChange, T]{
		Entity:         config.Name,
		Kind:           policy.KindUpdate,
		Operation:      "status",
		FailureMessage: config.Messages.Status,
		ID:             func(in StatusChange) string { return in.ID },
		Payload:        func(in StatusChange) any { return in.Payload },
		Do: func(ctx context.Context, in StatusChange) envelope.Result[T] {
			return api.Patch(ctx, in.ID, in.Action, in.Payload)
		},
	})

	return r
}

// Name returns the entity name.
func (r *Resource[T, In]) Name() string {
	return r.config.Name
}

// API returns the underlying gateway resource.
func (r *Resource[T, In]) API() *gateway.Resource[T] {
	return r.api
}

// ListKey returns the cache key of a list page.
func (r *Resource[T, In]) ListKey(params gateway.ListParams) cache.Key {
	return cache.ListKey(r.config.Name, params.CacheParams())
}

// CompleteKey returns the cache key of the unpaginated list.
func (r *Resource[T, In]) CompleteKey(params gateway.ListParams) cache.Key {
	if fp := params.FilterParams(); fp != nil {
		return cache.CompleteKey(r.config.Name, fp)
	}
	return cache.CompleteKey(r.config.Name, nil)
}

// DetailKey returns the cache key of one item.
func (r *Resource[T, In]) DetailKey(id string) cache.Key {
	return cache.DetailKey(r.config.Name, id)
}

// SubKey returns the cache key of a nested collection page, e.g.
// {"turmas", "alunos", "7", params}.
func (r *Resource[T, In]) SubKey(id, sub string, params gateway.ListParams) cache.Key {
	return cache.Key{r.config.Name, sub, id, params.CacheParams()}
}

// List reads one page without blocking.
func (r *Resource[T, In]) List(ctx context.Context, params gateway.ListParams) View[Page[T]] {
	res := r.store.Read(ctx, r.ListKey(params), r.fetchList(params), r.config.Options)
	return view[Page[T]](res)
}

// Complete reads the unpaginated list without blocking.
func (r *Resource[T, In]) Complete(ctx context.Context, params gateway.ListParams) View[[]T] {
	res := r.store.Read(ctx, r.CompleteKey(params), r.fetchComplete(params), r.config.CompleteOptions)
	return view[[]T](res)
}

// Detail reads one item without blocking. An empty id disables the read.
func (r *Resource[T, In]) Detail(ctx context.Context, id string) View[T] {
	opts := r.config.Options.WithDisabled(id == "" || r.config.Options.Disabled)
	res := r.store.Read(ctx, r.DetailKey(id), r.fetchDetail(id), opts)
	return view[T](res)
}

// FetchList reads one page, waiting for the backend when the cache is not fresh.
func (r *Resource[T, In]) FetchList(ctx context.Context, params gateway.ListParams) (Page[T], error) {
	v, err := r.store.Fetch(ctx, r.ListKey(params), r.fetchList(params), r.config.Options)
	if err != nil {
		return Page[T]{}, err
	}
	return query.Decode[Page[T]](v)
}

// FetchComplete reads the unpaginated list, waiting when needed.
func (r *Resource[T, In]) FetchComplete(ctx context.Context, params gateway.ListParams) ([]T, error) {
	v, err := r.store.Fetch(ctx, r.CompleteKey(params), r.fetchComplete(params), r.config.CompleteOptions)
	if err != nil {
		return nil, err
	}
	return query.Decode[[]T](v)
}

// FetchDetail reads one item, waiting when needed.
func (r *Resource[T, In]) FetchDetail(ctx context.Context, id string) (T, error) {
	var zero T
	if id == "" {
		return zero, fmt.Errorf("%w: empty id", cache.ErrInvalidKey)
	}
	v, err := r.store.Fetch(ctx, r.DetailKey(id), r.fetchDetail(id), r.config.Options)
	if err != nil {
		return zero, err
	}
	return query.Decode[T](v)
}

// Create runs the create mutation.
func (r *Resource[T, In]) Create(ctx context.Context, in In) (T, error) {
	return r.create.Mutate(ctx, in)
}

// Update runs the optimistic update mutation on id.
func (r *Resource[T, In]) Update(ctx context.Context, id string, in In) (T, error) {
	return r.update.Mutate(ctx, Update[In]{ID: id, Data: in})
}

// Delete runs the delete mutation and returns the server message.
func (r *Resource[T, In]) Delete(ctx context.Context, id string) (string, error) {
	out, err := r.remove.Mutate(ctx, id)
	if err != nil {
		return "", err
	}
	if out.Message != "" {
		return out.Message, nil
	}
	return r.remove.State().Message, nil
}

// PatchStatus runs a status-only transition such as approve or cancel.
// The payload is applied optimistically to the cached detail.
func (r *Resource[T, In]) PatchStatus(ctx context.Context, id, action string, payload any) (T, error) {
	return r.status.Mutate(ctx, StatusChange{ID: id, Action: action, Payload: payload})
}

// CreateState returns the state of the last create.
func (r *Resource[T, In]) CreateState() mutation.State[T] { return r.create.State() }

// UpdateState returns the state of the last update.
func (r *Resource[T, In]) UpdateState() mutation.State[T] { return r.update.State() }

// DeleteState returns the state of the last delete.
func (r *Resource[T, In]) DeleteState() mutation.State[envelope.MessageResponse] {
	return r.remove.State()
}

// StatusState returns the state of the last status transition.
func (r *Resource[T, In]) StatusState() mutation.State[T] { return r.status.State() }

func (r *Resource[T, In]) fetchList(params gateway.ListParams) query.Fetcher {
	return func(ctx context.Context) (any, error) {
		env, err := r.api.List(ctx, params).Unwrap()
		if err != nil {
			return nil, err
		}
		return pageOf(env), nil
	}
}

func (r *Resource[T, In]) fetchComplete(params gateway.ListParams) query.Fetcher {
	return func(ctx context.Context) (any, error) {
		env, err := r.api.ListAll(ctx, params).Unwrap()
		if err != nil {
			return nil, err
		}
		if env.Data == nil {
			return []T{}, nil
		}
		return env.Data, nil
	}
}

func (r *Resource[T, In]) fetchDetail(id string) query.Fetcher {
	return func(ctx context.Context) (any, error) {
		env, err := r.api.Get(ctx, id).Unwrap()
		if err != nil {
			return nil, err
		}
		return env.Data, nil
	}
}

// Sub reads one page of a nested collection without blocking.
func Sub[S, T, In any](ctx context.Context, r *Resource[T, In], id, sub string, params gateway.ListParams) View[Page[S]] {
	opts := r.config.Options.WithDisabled(id == "" || r.config.Options.Disabled)
	res := r.store.Read(ctx, r.SubKey(id, sub, params), fetchSub[S](r, id, sub, params), opts)
	return view[Page[S]](res)
}

// FetchSub reads one page of a nested collection, waiting when needed.
func FetchSub[S, T, In any](ctx context.Context, r *Resource[T, In], id, sub string, params gateway.ListParams) (Page[S], error) {
	if id == "" {
		return Page[S]{}, fmt.Errorf("%w: empty id", cache.ErrInvalidKey)
	}
	v, err := r.store.Fetch(ctx, r.SubKey(id, sub, params), fetchSub[S](r, id, sub, params), r.config.Options)
	if err != nil {
		return Page[S]{}, err
	}
	return query.Decode[Page[S]](v)
}

func fetchSub[S, T, In any](r *Resource[T, In], id, sub string, params gateway.ListParams) query.Fetcher {
	return func(ctx context.Context) (any, error) {
		env, err := gateway.ListSub[S](ctx, r.api, id, sub, params).Unwrap()
		if err != nil {
			return nil, err
		}
		return pageOf(env), nil
	}
}

func pageOf[T any](env envelope.Envelope[[]T]) Page[T] {
	page := Page[T]{Items: env.Data}
	if page.Items == nil {
		page.Items = []T{}
	}
	if env.Pagination != nil {
		page.Pagination = *env.Pagination
	} else {
		page.Pagination = envelope.Pagination{CurrentPage: 1, TotalPages: 1, TotalItems: len(page.Items), ItemsPerPage: len(page.Items)}
	}
	return page
}

func view[V any](res query.Result) View[V] {
	v := View[V]{Result: res}
	if !res.HasData {
		return v
	}
	value, err := query.Decode[V](res.Data)
	if err != nil {
		v.Err = err
		v.Status = query.StatusError
		return v
	}
	v.Value = value
	return v
}
