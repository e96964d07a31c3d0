package mutation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"escola-client/pkg/cache"
	"escola-client/pkg/envelope"
	"escola-client/pkg/notify"
	"escola-client/pkg/policy"

	"go.uber.org/zap"
)

// Status is the lifecycle state of a mutation.
type Status int

const (
	StatusIdle Status = iota
	StatusPending
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// DefaultSuccessMessage is published when the server returns no message.
const DefaultSuccessMessage = "Operação realizada com sucesso"

// DefaultFailureMessage returns the failure message used when neither the
// server nor the mutation provides one.
func DefaultFailureMessage(entity string, kind policy.Kind) string {
	verb := "processar"
	switch kind {
	case policy.KindCreate:
		verb = "criar"
	case policy.KindUpdate:
		verb = "actualizar"
	case policy.KindDelete:
		verb = "eliminar"
	}
	return fmt.Sprintf("Erro ao %s %s", verb, entity)
}

// Spec describes one mutation.
type Spec[In, Out any] struct {
	// Entity is the cache namespace and the policy entry, e.g. "turmas"
	Entity string

	// Kind selects the lifecycle and the invalidation rules
	Kind policy.Kind

	// Operation labels outcomes and metrics (default: Kind)
	Operation string

	// ID extracts the target id. Required for update and delete.
	ID func(In) string

	// Payload extracts the fields merged over the cached value by the
	// optimistic patch (default: the input itself)
	Payload func(In) any

	// Do performs the request
	Do func(ctx context.Context, in In) envelope.Result[Out]

	// SuccessMessage is used when the server returns no message
	SuccessMessage string

	// FailureMessage is used when the error carries no server message
	// (default: DefaultFailureMessage)
	FailureMessage string

	// Pessimistic skips the optimistic patch of an update
	Pessimistic bool

	// SkipValidation disables struct tag validation of the input
	SkipValidation bool
}

// State is the observable state of a mutation.
type State[Out any] struct {
	Status  Status
	Data    Out
	Err     error
	Message string
}

// Mutation runs one Spec. It is safe for concurrent use; State reports the
// last settled or currently pending run.
type Mutation[In, Out any] struct {
	ctrl *Controller
	spec Spec[In, Out]

	mu    sync.RWMutex
	state State[Out]
}

// New creates a mutation bound to ctrl.
func New[In, Out any](ctrl *Controller, spec Spec[In, Out]) *Mutation[In, Out] {
	if spec.Operation == "" {
		spec.Operation = string(spec.Kind)
	}
	if spec.FailureMessage == "" {
		spec.FailureMessage = DefaultFailureMessage(spec.Entity, spec.Kind)
	}
	if spec.SuccessMessage == "" {
		spec.SuccessMessage = DefaultSuccessMessage
	}
	return &Mutation[In, Out]{ctrl: ctrl, spec: spec}
}

// State returns the current state.
func (m *Mutation[In, Out]) State() State[Out] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Reset returns the mutation to idle.
func (m *Mutation[In, Out]) Reset() {
	m.mu.Lock()
	m.state = State[Out]{}
	m.mu.Unlock()
}

func (m *Mutation[In, Out]) setState(s State[Out]) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Mutate runs the mutation and returns the server data. Failures are
// published, recorded in State and returned; the cache is left as it was
// before the call.
func (m *Mutation[In, Out]) Mutate(ctx context.Context, in In) (Out, error) {
	var zero Out
	start := time.Now()
	m.setState(State[Out]{Status: StatusPending})

	if m.spec.Do == nil {
		return zero, m.fail(nil, fmt.Errorf("mutation: %s %s has no request", m.spec.Entity, m.spec.Operation), start)
	}

	if !m.spec.SkipValidation {
		if err := m.ctrl.Validate(in); err != nil {
			return zero, m.fail(nil, err, start)
		}
	}

	var key cache.Key
	id := ""
	if m.spec.ID != nil {
		id = m.spec.ID(in)
	}
	if id == "" && (m.spec.Kind == policy.KindUpdate || m.spec.Kind == policy.KindDelete) {
		return zero, m.fail(nil, fmt.Errorf("%w: missing id", ErrValidation), start)
	}
	if id != "" {
		key = detailKey(m.spec.Entity, id)
		release, err := m.ctrl.queue.acquire(ctx, key.String())
		if err != nil {
			return zero, m.fail(nil, err, start)
		}
		defer release()
	}

	mctx := m.onStart(key, in)

	env, err := m.spec.Do(ctx, in).Unwrap()
	if err != nil {
		err = m.fail(mctx, err, start)
		m.onSettled(key)
		return zero, err
	}

	m.onSuccess(key, env, start)
	m.onSettled(key)
	return env.Data, nil
}

// onStart applies the optimistic patch of an update and returns the
// context needed to roll it back.
func (m *Mutation[In, Out]) onStart(key cache.Key, in In) *Context {
	if key == nil || m.spec.Kind != policy.KindUpdate {
		return nil
	}
	store := m.ctrl.store
	mctx := &Context{Key: key}

	store.Cancel(key)
	if m.spec.Pessimistic {
		return mctx
	}

	current, ok := store.GetData(key)
	if !ok {
		return mctx
	}

	snapshot, err := deepCopy(current)
	if err != nil {
		m.ctrl.logger.Warn("optimistic patch skipped", zap.Stringer("key", key), zap.Error(err))
		return mctx
	}

	var payload any = in
	if m.spec.Payload != nil {
		payload = m.spec.Payload(in)
	}
	patched, err := merge(current, payload)
	if err != nil {
		m.ctrl.logger.Warn("optimistic patch skipped", zap.Stringer("key", key), zap.Error(err))
		return mctx
	}
	if err := store.SetData(key, patched); err != nil {
		m.ctrl.logger.Warn("optimistic patch not written", zap.Stringer("key", key), zap.Error(err))
		return mctx
	}

	mctx.Snapshot = snapshot
	mctx.HasSnapshot = true
	mctx.Patched = patched
	return mctx
}

func (m *Mutation[In, Out]) onSuccess(key cache.Key, env envelope.Envelope[Out], start time.Time) {
	store := m.ctrl.store

	if key != nil {
		switch m.spec.Kind {
		case policy.KindUpdate:
			if err := store.SetData(key, env.Data); err != nil {
				m.ctrl.logger.Warn("server data not written", zap.Stringer("key", key), zap.Error(err))
			}
		case policy.KindDelete:
			store.Remove(key)
		}
	}

	for _, prefix := range m.ctrl.policy.Prefixes(m.spec.Entity, m.spec.Kind) {
		store.Invalidate(prefix)
	}

	message := env.Message
	if message == "" {
		message = m.spec.SuccessMessage
	}

	m.ctrl.metrics.RecordMutation(m.spec.Entity, m.spec.Operation, true, time.Since(start))
	m.ctrl.logger.Debug("mutation succeeded",
		zap.String("entity", m.spec.Entity),
		zap.String("operation", m.spec.Operation),
		zap.Duration("duration", time.Since(start)))

	m.setState(State[Out]{Status: StatusSuccess, Data: env.Data, Message: message})
	m.ctrl.publisher.Publish(notify.Success(m.spec.Entity, m.spec.Operation, message))
}

// fail rolls back the optimistic patch, if any, publishes the failure and
// returns err.
func (m *Mutation[In, Out]) fail(mctx *Context, err error, start time.Time) error {
	if mctx != nil && mctx.HasSnapshot {
		if setErr := m.ctrl.store.SetData(mctx.Key, mctx.Snapshot); setErr != nil {
			m.ctrl.logger.Error("rollback failed", zap.Stringer("key", mctx.Key), zap.Error(setErr))
		} else {
			m.ctrl.metrics.RecordRollback(m.spec.Entity)
		}
	}

	message := envelope.MessageOf(err, m.spec.FailureMessage)
	var verr *ValidationError
	if errors.As(err, &verr) {
		message = m.spec.FailureMessage + ": " + verr.msg
	}

	m.ctrl.metrics.RecordMutation(m.spec.Entity, m.spec.Operation, false, time.Since(start))
	m.ctrl.logger.Error("mutation failed",
		zap.String("entity", m.spec.Entity),
		zap.String("operation", m.spec.Operation),
		zap.Bool("rolled_back", mctx != nil && mctx.HasSnapshot),
		zap.Error(err))

	m.setState(State[Out]{Status: StatusError, Err: err, Message: message})
	m.ctrl.publisher.Publish(notify.Failure(m.spec.Entity, m.spec.Operation, message, err))
	return err
}

// onSettled marks the detail key stale so the next read reconciles with
// the server whichever value is shown.
func (m *Mutation[In, Out]) onSettled(key cache.Key) {
	if key == nil {
		return
	}
	m.ctrl.store.Invalidate(key)
}

func detailKey(entity, id string) cache.Key {
	return cache.DetailKey(entity, id)
}
