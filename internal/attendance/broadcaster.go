package attendance

import (
	"sync"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// Event is published after an attendance event is recorded.
type Event struct {
	Type  string                    `json:"type"`
	Event *database.AttendanceEvent `json:"event"`
}

// Broadcaster provides listener management and event fan-out for recorded
// attendance events.
type Broadcaster struct {
	listeners []chan Event
	mu        sync.RWMutex
}

// NewBroadcaster creates a broadcaster with no listeners.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// AddListener adds an event listener.
func (b *Broadcaster) AddListener() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener and closes its channel.
func (b *Broadcaster) RemoveListener(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// Listeners returns the number of attached listeners.
func (b *Broadcaster) Listeners() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// SendEvent sends an event to all listeners.
func (b *Broadcaster) SendEvent(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}
