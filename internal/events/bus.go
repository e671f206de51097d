package events

import (
	"github.com/visualtesting/engine/internal/models"
)

// StatusEvent announces that a build reached a status worth telling the
// outside world about. Comment carries the rendered failure summary and is
// empty otherwise.
type StatusEvent struct {
	Project string
	Sha     string
	Build   string
	Status  models.BuildStatus
	Comment string
}

// Bus is a buffered in-process channel between the diff orchestrator and the
// notification relay. Publishing never blocks; events are dropped when the
// consumer falls too far behind.
type Bus struct {
	ch chan StatusEvent
}

func NewBus() *Bus {
	return &Bus{ch: make(chan StatusEvent, 100)}
}

func (b *Bus) Publish(event StatusEvent) {
	select {
	case b.ch <- event:
	default:
		// drop event if buffer full
	}
}

func (b *Bus) Subscribe() <-chan StatusEvent {
	return b.ch
}

// Close releases the channel; pending events remain readable until drained.
func (b *Bus) Close() {
	close(b.ch)
}
