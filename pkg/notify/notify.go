// Package notify carries user-facing outcomes (mutation results, session
// expiry) from the components that produce them to whatever displays them.
package notify

import (
	"fmt"
	"sync"
	"time"

	"escola-client/pkg/logging"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Level is the severity of an outcome.
type Level int

const (
	LevelSuccess Level = iota
	LevelError
	LevelWarning
	LevelInfo
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelInfo:
		return "info"
	default:
		return "unknown"
	}
}

// MarshalText encodes the level by name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Outcome is one notification.
type Outcome struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Source    string    `json:"source"`
	Entity    string    `json:"entity,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Message   string    `json:"message"`
	Err       error     `json:"-"`
	At        time.Time `json:"at"`
}

// Sources of outcomes.
const (
	SourceMutation = "mutation"
	SourceSession  = "session"
	SourceQuery    = "query"
)

// Success builds a successful mutation outcome.
func Success(entity, operation, message string) Outcome {
	return Outcome{Level: LevelSuccess, Source: SourceMutation, Entity: entity, Operation: operation, Message: message}
}

// Failure builds a failed mutation outcome.
func Failure(entity, operation, message string, err error) Outcome {
	return Outcome{Level: LevelError, Source: SourceMutation, Entity: entity, Operation: operation, Message: message, Err: err}
}

// String formats the outcome for terminals.
func (o Outcome) String() string {
	if o.Entity == "" {
		return fmt.Sprintf("[%s] %s", o.Level, o.Message)
	}
	return fmt.Sprintf("[%s] %s %s: %s", o.Level, o.Entity, o.Operation, o.Message)
}

// Publisher accepts outcomes.
type Publisher interface {
	Publish(o Outcome)
}

// Subscriber receives outcomes.
type Subscriber interface {
	Notify(o Outcome)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(o Outcome)

// Notify calls f(o).
func (f SubscriberFunc) Notify(o Outcome) { f(o) }

// Bus delivers every published outcome to every subscriber, synchronously
// and in subscription order. A panicking subscriber is logged and skipped.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID int
	now    func() time.Time
	logger *logging.Logger
}

type subscription struct {
	id  int
	sub Subscriber
}

// NewBus creates a bus without subscribers.
func NewBus() *Bus {
	return &Bus{
		now:    time.Now,
		logger: logging.Global().Named("notify"),
	}
}

// Subscribe adds s and returns a function that removes it.
func (b *Bus) Subscribe(s Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, sub: s})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish stamps o with an id and time when missing and delivers it.
func (b *Bus) Publish(o Outcome) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.At.IsZero() {
		o.At = b.now()
	}

	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s.sub, o)
	}
}

func (b *Bus) deliver(s Subscriber, o Outcome) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				zap.String("outcome", o.ID),
				zap.Any("panic", r))
		}
	}()
	s.Notify(o)
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Discard is a Publisher that drops every outcome.
type Discard struct{}

// Publish does nothing.
func (Discard) Publish(Outcome) {}
