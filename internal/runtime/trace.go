package runtime

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/value"
)

// Event describes the outcome of one rule in one pass.
type Event struct {
	PassID    string                 `json:"pass_id"`
	RuleID    string                 `json:"rule_id"`
	Layer     int                    `json:"layer"`
	Fired     bool                   `json:"fired"`
	Condition string                 `json:"condition"`
	Writes    map[string]value.Value `json:"writes,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// TraceSink receives events. Events of a pass are delivered from the pass
// goroutine in execution order; a sink shared by concurrent passes must be
// safe for concurrent use.
type TraceSink interface {
	Emit(Event)
}

// SinkFunc adapts a function to TraceSink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Collector keeps every event in memory.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *Collector) Emit(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

// Events returns a copy of the collected events.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// Reset discards collected events.
func (c *Collector) Reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}

// LogSink writes events to a zerolog logger at debug level.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Emit(e Event) {
	ev := s.Logger.Debug().
		Str("pass_id", e.PassID).
		Str("rule", e.RuleID).
		Int("layer", e.Layer).
		Bool("fired", e.Fired).
		Str("condition", e.Condition)
	if len(e.Writes) > 0 {
		writes := zerolog.Dict()
		for _, k := range value.SortedKeys(e.Writes) {
			writes = writes.Str(k, e.Writes[k].String())
		}
		ev = ev.Dict("writes", writes)
	}
	if e.Error != "" {
		ev = ev.Str("error", e.Error)
	}
	ev.Msg("Rule evaluated")
}

type multiSink []TraceSink

func (m multiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// MultiSink fans events out to several sinks.
func MultiSink(sinks ...TraceSink) TraceSink {
	return multiSink(sinks)
}
