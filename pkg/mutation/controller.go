// Package mutation runs create, update and delete operations against the
// backend and keeps the query store coherent with them.
//
// An update patches the cached detail value before the request is sent,
// restores the snapshot when the request fails and replaces the patch with
// the server's data when it succeeds. Every mutation invalidates the cache
// groups its policy names and publishes one outcome. Mutations never retry
// and never panic: failures are returned as errors and recorded in the
// mutation's state.
package mutation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"escola-client/pkg/logging"
	"escola-client/pkg/metrics"
	"escola-client/pkg/notify"
	"escola-client/pkg/policy"
	"escola-client/pkg/query"

	"github.com/go-playground/validator/v10"
)

// ErrValidation is wrapped by errors for inputs rejected before any request.
var ErrValidation = errors.New("mutation: invalid input")

// Controller holds what every mutation shares: the store it patches, the
// invalidation policy and the outcome publisher.
type Controller struct {
	store     *query.Store
	policy    policy.Policy
	publisher notify.Publisher
	validate  *validator.Validate
	queue     *keyedQueue
	metrics   metrics.MetricsCollector
	logger    *logging.Logger
}

// Option customizes a Controller.
type Option func(*Controller)

// WithPublisher sets where outcomes are published.
func WithPublisher(p notify.Publisher) Option {
	return func(c *Controller) { c.publisher = p }
}

// WithValidator replaces the input validator.
func WithValidator(v *validator.Validate) Option {
	return func(c *Controller) { c.validate = v }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) { c.logger = l.Named("mutation") }
}

// NewController creates a controller over store. A nil policy invalidates
// only the baseline groups of each entity.
func NewController(store *query.Store, pol policy.Policy, opts ...Option) *Controller {
	if pol == nil {
		pol = policy.New()
	}
	c := &Controller{
		store:     store,
		policy:    pol,
		publisher: notify.Discard{},
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		queue:     newKeyedQueue(),
		metrics:   metrics.NoOpCollector{},
		logger:    logging.Global().Named("mutation"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the query store the controller patches.
func (c *Controller) Store() *query.Store {
	return c.store
}

// Policy returns the invalidation policy.
func (c *Controller) Policy() policy.Policy {
	return c.policy
}

// Pending returns how many mutations are queued or running on the detail
// key of entity/id.
func (c *Controller) Pending(entity, id string) int {
	return c.queue.depth(detailKey(entity, id).String())
}

// Validate checks the struct tags of in when it is a struct or a pointer
// to one. Other values are accepted as they are.
func (c *Controller) Validate(in any) error {
	if in == nil {
		return nil
	}
	v := reflect.ValueOf(in)
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}

	err := c.validate.Struct(v.Interface())
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
		}
	}
	return &ValidationError{Fields: fieldErrs, msg: strings.Join(parts, "; ")}
}

// ValidationError lists the fields an input failed on.
type ValidationError struct {
	Fields validator.ValidationErrors
	msg    string
}

func (e *ValidationError) Error() string {
	return "mutation: invalid input: " + e.msg
}

// Unwrap makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
