package notify

import (
	"sync"

	"escola-client/pkg/logging"

	"go.uber.org/zap"
)

// LogSubscriber writes outcomes to a logger, the terminal counterpart of a toast.
type LogSubscriber struct {
	logger *logging.Logger
}

// NewLogSubscriber creates a subscriber logging to l (the global logger when nil).
func NewLogSubscriber(l *logging.Logger) *LogSubscriber {
	return &LogSubscriber{logger: logging.Component(l, "outcome")}
}

// Notify logs o at a level matching its severity.
func (s *LogSubscriber) Notify(o Outcome) {
	fields := []zap.Field{
		zap.String("id", o.ID),
		zap.String("source", o.Source),
	}
	if o.Entity != "" {
		fields = append(fields, zap.String("entity", o.Entity), zap.String("operation", o.Operation))
	}

	switch o.Level {
	case LevelError:
		if o.Err != nil {
			fields = append(fields, zap.Error(o.Err))
		}
		s.logger.Error(o.Message, fields...)
	case LevelWarning:
		s.logger.Warn(o.Message, fields...)
	default:
		s.logger.Info(o.Message, fields...)
	}
}

// Recorder keeps every outcome it receives.
type Recorder struct {
	mu       sync.Mutex
	outcomes []Outcome
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Notify records o.
func (r *Recorder) Notify(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

// Publish records o, so a Recorder can stand in for a Bus.
func (r *Recorder) Publish(o Outcome) {
	r.Notify(o)
}

// Outcomes returns a copy of everything recorded.
func (r *Recorder) Outcomes() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Outcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

// Last returns the most recent outcome.
func (r *Recorder) Last() (Outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.outcomes) == 0 {
		return Outcome{}, false
	}
	return r.outcomes[len(r.outcomes)-1], true
}

// Count returns how many outcomes of the given level were recorded.
func (r *Recorder) Count(level Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, o := range r.outcomes {
		if o.Level == level {
			n++
		}
	}
	return n
}

// Reset forgets everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = nil
}
