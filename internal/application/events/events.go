package events

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Type names an event
type Type string

const (
	HealthChange         Type = "healthChange"
	ItemQueued           Type = "itemQueued"
	ItemCompleted        Type = "itemCompleted"
	ItemFailed           Type = "itemFailed"
	Error                Type = "error"
	TransactionProcessed Type = "transactionProcessed"
)

// Event is a notification published by a component
type Event struct {
	Type      Type
	Component string
	Timestamp time.Time
	Payload   any
}

// Listener handles an event
type Listener func(Event)

type registration struct {
	id       uint64
	listener Listener
}

// Bus is a listener registry. A panicking listener is logged and does not
// keep the remaining listeners from running.
type Bus struct {
	component string
	logger    *zap.Logger

	mu        sync.RWMutex
	nextID    uint64
	listeners map[Type][]registration
}

// NewBus creates a registry for a component
func NewBus(component string, logger *zap.Logger) *Bus {
	return &Bus{
		component: component,
		logger:    logger,
		listeners: make(map[Type][]registration),
	}
}

// Subscribe registers l for events of type t and returns a function removing it
func (b *Bus) Subscribe(t Type, l Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.listeners[t] = append(b.listeners[t], registration{id: id, listener: l})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		regs := b.listeners[t]
		for i, r := range regs {
			if r.id == id {
				b.listeners[t] = append(regs[:i:i], regs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers an event synchronously to every listener of its type
func (b *Bus) Publish(t Type, payload any) {
	b.mu.RLock()
	regs := make([]registration, len(b.listeners[t]))
	copy(regs, b.listeners[t])
	b.mu.RUnlock()

	evt := Event{
		Type:      t,
		Component: b.component,
		Timestamp: time.Now(),
		Payload:   payload,
	}
	for _, r := range regs {
		b.deliver(r.listener, evt)
	}
}

// ListenerCount returns the number of listeners for t
func (b *Bus) ListenerCount(t Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[t])
}

func (b *Bus) deliver(l Listener, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event listener panicked",
				zap.String("component", b.component),
				zap.String("event", string(evt.Type)),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	l(evt)
}
