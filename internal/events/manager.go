package events

import (
	"time"

	"github.com/rs/zerolog"
)

// Manager wraps a Bus with structured logging of every emission, the way
// the teacher's events.Manager logs alongside publishing.
type Manager struct {
	bus *Bus
	log zerolog.Logger
}

// NewManager builds a Manager over bus, tagging log lines with the events
// service.
func NewManager(bus *Bus, log zerolog.Logger) *Manager {
	return &Manager{
		bus: bus,
		log: log.With().Str("service", "events").Logger(),
	}
}

// Emit publishes data on the bus under module's name and logs the
// emission at debug level (event volume from the market data stream is
// too high for info).
func (m *Manager) Emit(module string, data EventData) {
	event := Event{
		Type:      data.EventType(),
		Module:    module,
		Timestamp: time.Now(),
		Data:      data,
	}
	m.bus.Publish(event)

	m.log.Debug().
		Str("event_type", string(event.Type)).
		Str("module", module).
		Msg("event emitted")
}

// EmitError is a convenience wrapper for ErrorEventData, logged at warn
// level since an emitted error always means a component gave up locally.
func (m *Manager) EmitError(module string, err error, context map[string]string) {
	data := &ErrorEventData{Error: err.Error(), Context: context}
	m.Emit(module, data)
	m.log.Warn().Str("module", module).Err(err).Msg("error event emitted")
}

// Bus returns the underlying bus so callers can subscribe directly.
func (m *Manager) Bus() *Bus {
	return m.bus
}
