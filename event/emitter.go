package event

import "sync"

// Emitter is a Source that dispatches events synchronously, in handler
// registration order. Delivery of one event completes before the next
// starts, matching the cooperative single-page model the observer
// assumes. Drivers and test fakes embed it to fan events out.
type Emitter struct {
	mu       sync.Mutex
	nextID   int
	handlers map[string][]registration
}

type registration struct {
	id int
	fn func(data any)
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[string][]registration)}
}

// On registers a handler for the named event. The returned function
// removes the registration; calling it more than once is harmless.
func (e *Emitter) On(event string, handler func(data any)) (off func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.handlers[event] = append(e.handlers[event], registration{id: id, fn: handler})

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		regs := e.handlers[event]
		for i, r := range regs {
			if r.id == id {
				e.handlers[event] = append(regs[:i:i], regs[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers data to every handler registered for event, in
// registration order. Handlers registered or removed while Emit runs
// take effect from the next Emit.
func (e *Emitter) Emit(event string, data any) {
	e.mu.Lock()
	regs := make([]registration, len(e.handlers[event]))
	copy(regs, e.handlers[event])
	e.mu.Unlock()

	for _, r := range regs {
		r.fn(data)
	}
}
