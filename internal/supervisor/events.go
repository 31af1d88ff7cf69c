package supervisor

import "sync"

// Event is a backend lifecycle event: a name plus optional key/values.
type Event struct {
	Name   string
	Model  string
	Fields map[string]any
}

// Event names published by the supervisor.
const (
	EventSpawnStart = "spawn_start"
	EventSpawnExit  = "spawn_exit"
	EventSpawnStop  = "spawn_stop"
	EventLoadStart  = "load_start"
	EventLoadDone   = "load_done"
	EventLoadFailed = "load_failed"
)

// EventPublisher receives supervisor events. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

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

// Names returns just the event names, in publish order.
func (p *MemoryPublisher) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Name
	}
	return out
}
