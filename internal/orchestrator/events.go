package orchestrator

import (
	"sync"
	"time"
)

// Event names.
const (
	EventTransition      = "transition"
	EventProcessLaunched = "process_launched"
	EventProcessExited   = "process_exited"
	EventProcessStopped  = "process_stopped"
)

// Event represents an orchestrator lifecycle event.
// Minimal and stable: name + state plus optional fields via key/values.
type Event struct {
	Name   string
	State  State
	At     time.Time
	Fields map[string]any
}

// EventPublisher receives events from the orchestrator. Implementations
// should be lightweight; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// Publishers fans an event out to each publisher in order.
type Publishers []EventPublisher

func (ps Publishers) Publish(e Event) {
	for _, p := range ps {
		if p != nil {
			p.Publish(e)
		}
	}
}

// MemoryPublisher stores events in memory.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Transitions returns the target states of recorded transition events.
func (p *MemoryPublisher) Transitions() []State {
	var out []State
	for _, e := range p.Events() {
		if e.Name == EventTransition {
			out = append(out, e.State)
		}
	}
	return out
}
