package core

import "sync"

// System internal event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT SystemEventCode = 0x01
	// Keyboard key pressed. Data: KeyEvent.
	EVENT_CODE_KEY_PRESSED SystemEventCode = 0x02
	// Keyboard key released. Data: KeyEvent.
	EVENT_CODE_KEY_RELEASED SystemEventCode = 0x03
	// Resized/resolution changed from the OS. Data: ResizeEvent.
	EVENT_CODE_RESIZED SystemEventCode = 0x08
	// Switch between the raster and ray-trace backends.
	EVENT_CODE_TOGGLE_RENDER_MODE SystemEventCode = 0x09

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

type KeyEvent struct {
	KeyCode Key
}

type ResizeEvent struct {
	Width  uint32
	Height uint32
}

type EventContext struct {
	Type SystemEventCode
	Data interface{}
}

// Should return true if handled.
type FnOnEvent func(ctx EventContext) bool

// EventBus dispatches events synchronously to the listeners registered for
// a code, in registration order, until one of them reports it handled.
type EventBus struct {
	mu         sync.Mutex
	registered map[SystemEventCode][]FnOnEvent
}

func NewEventBus() *EventBus {
	return &EventBus{registered: make(map[SystemEventCode][]FnOnEvent)}
}

func (b *EventBus) Register(code SystemEventCode, onEvent FnOnEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registered[code] = append(b.registered[code], onEvent)
}

// Fire returns true if one of the listeners handled the event.
func (b *EventBus) Fire(ctx EventContext) bool {
	b.mu.Lock()
	listeners := append([]FnOnEvent(nil), b.registered[ctx.Type]...)
	b.mu.Unlock()

	for _, l := range listeners {
		if l(ctx) {
			return true
		}
	}
	return false
}

func (b *EventBus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registered = make(map[SystemEventCode][]FnOnEvent)
}
